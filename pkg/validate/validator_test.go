package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeDoc() map[string]interface{} {
	return map[string]interface{}{
		"contact": map[string]interface{}{
			"full_name": "Jane Doe",
			"email":     "jane@example.com",
			"phone":     "+1 555 0100",
		},
		"summary": "Seasoned engineer.",
		"experience": []interface{}{
			map[string]interface{}{
				"title":      "Engineer",
				"company":    "Acme",
				"start_date": "2019-03",
				"end_date":   "2022-11",
			},
		},
		"skills": []interface{}{"Go", "SQL"},
	}
}

func TestValidator_Validate_CompleteDocumentIsReady(t *testing.T) {
	v := New(nil)

	result := v.Validate(completeDoc())

	assert.Empty(t, result.Errors)
	assert.True(t, result.Ready)
}

func TestValidator_Validate_MissingRequiredSection(t *testing.T) {
	v := New(nil)
	doc := completeDoc()
	delete(doc, "experience")

	result := v.Validate(doc)

	require.NotEmpty(t, result.Errors)
	assert.False(t, result.Ready)
	assert.Equal(t, "experience", result.Errors[0].Section)
}

func TestValidator_Validate_MissingRequiredField(t *testing.T) {
	v := New(nil)
	doc := completeDoc()
	delete(doc["contact"].(map[string]interface{}), "email")

	result := v.Validate(doc)

	assert.False(t, result.Ready)
	found := false
	for _, e := range result.Errors {
		if e.Section == "contact" && e.Field == "email" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidator_Validate_MaxItems(t *testing.T) {
	v := New([]Rule{{Section: "skills", MaxItems: 2}})

	result := v.Validate(map[string]interface{}{
		"skills": []interface{}{"a", "b", "c"},
	})

	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "maximum is 2")
}

func TestValidator_Validate_MaxFieldLen(t *testing.T) {
	v := New(nil)
	doc := completeDoc()
	doc["summary"] = strings.Repeat("x", 2001)

	result := v.Validate(doc)

	found := false
	for _, e := range result.Errors {
		if e.Section == "summary" {
			found = true
		}
	}
	assert.True(t, found)
	// Summary is not generation-required, so readiness is unaffected.
	assert.True(t, result.Ready)
}

func TestValidator_Validate_DateRangeOrdering(t *testing.T) {
	v := New(nil)
	doc := completeDoc()
	doc["experience"] = []interface{}{
		map[string]interface{}{
			"title":      "Engineer",
			"start_date": "2022-01",
			"end_date":   "2019-06",
		},
	}

	result := v.Validate(doc)

	assert.False(t, result.Ready)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0].Message, "before it starts")
}

func TestValidator_Validate_OpenEndedRangeAccepted(t *testing.T) {
	v := New(nil)
	doc := completeDoc()
	doc["experience"] = []interface{}{
		map[string]interface{}{
			"title":      "Engineer",
			"start_date": "2022-01",
			"end_date":   "present",
		},
	}

	result := v.Validate(doc)

	assert.True(t, result.Ready)
}

func TestValidator_Validate_Idempotent(t *testing.T) {
	v := New(nil)
	doc := completeDoc()
	delete(doc["contact"].(map[string]interface{}), "phone")

	first := v.Validate(doc)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, v.Validate(doc))
	}
}

func TestValidator_Validate_EmptyDocument(t *testing.T) {
	v := New(nil)

	result := v.Validate(map[string]interface{}{})

	assert.False(t, result.Ready)
	// Both required sections reported.
	sections := map[string]bool{}
	for _, e := range result.Errors {
		sections[e.Section] = true
	}
	assert.True(t, sections["contact"])
	assert.True(t, sections["experience"])
}
