package sessionstore

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nestedDoc() map[string]interface{} {
	return map[string]interface{}{
		"contact": map[string]interface{}{
			"full_name": "Jane Doe",
			"email":     "jane@example.com",
		},
		"experience": []interface{}{
			map[string]interface{}{"title": "Engineer", "company": "Acme"},
			map[string]interface{}{"title": "Lead", "company": "Globex"},
		},
		"years": float64(7),
	}
}

func TestApplyOp_SetNestedKey(t *testing.T) {
	doc := nestedDoc()

	err := applyOp(doc, PatchOp{Path: "contact.full_name", Op: OpSet, Value: "Janet Doe"}, 0)

	require.NoError(t, err)
	assert.Equal(t, "Janet Doe", doc["contact"].(map[string]interface{})["full_name"])
}

func TestApplyOp_SetArrayElementField(t *testing.T) {
	doc := nestedDoc()

	err := applyOp(doc, PatchOp{Path: "experience.1.title", Op: OpSet, Value: "Staff Engineer"}, 0)

	require.NoError(t, err)
	exp := doc["experience"].([]interface{})
	assert.Equal(t, "Staff Engineer", exp[1].(map[string]interface{})["title"])
}

func TestApplyOp_SetMissingKeyWithoutCreate(t *testing.T) {
	doc := nestedDoc()

	err := applyOp(doc, PatchOp{Path: "contact.phone", Op: OpSet, Value: "555"}, 0)

	require.ErrorIs(t, err, ErrPathNotFound)
}

func TestApplyOp_SetMissingKeyWithCreate(t *testing.T) {
	doc := nestedDoc()

	err := applyOp(doc, PatchOp{Path: "contact.phone", Op: OpSet, Value: "555", CreateMissing: true}, 0)

	require.NoError(t, err)
	assert.Equal(t, "555", doc["contact"].(map[string]interface{})["phone"])
}

func TestApplyOp_PrimitiveCoercionAllowed(t *testing.T) {
	doc := nestedDoc()

	// number -> string is a primitive-to-primitive replacement.
	err := applyOp(doc, PatchOp{Path: "years", Op: OpSet, Value: "seven"}, 0)

	require.NoError(t, err)
	assert.Equal(t, "seven", doc["years"])
}

func TestApplyOp_StructuralReplacementRejected(t *testing.T) {
	doc := nestedDoc()

	err := applyOp(doc, PatchOp{Path: "experience", Op: OpSet, Value: "gone"}, 0)

	require.ErrorIs(t, err, ErrPatchRejected)
}

func TestApplyOp_AppendToArray(t *testing.T) {
	doc := nestedDoc()

	err := applyOp(doc, PatchOp{Path: "experience", Op: OpAppend,
		Value: map[string]interface{}{"title": "Principal"}}, 0)

	require.NoError(t, err)
	assert.Len(t, doc["experience"], 3)
}

func TestApplyOp_AppendCreatesArray(t *testing.T) {
	doc := nestedDoc()

	err := applyOp(doc, PatchOp{Path: "skills", Op: OpAppend, Value: "Go", CreateMissing: true}, 0)

	require.NoError(t, err)
	assert.Equal(t, []interface{}{"Go"}, doc["skills"])
}

func TestApplyOp_AppendToNonArray(t *testing.T) {
	doc := nestedDoc()

	err := applyOp(doc, PatchOp{Path: "years", Op: OpAppend, Value: 1}, 0)

	require.ErrorIs(t, err, ErrPatchRejected)
}

func TestApplyOp_Delete(t *testing.T) {
	doc := nestedDoc()

	err := applyOp(doc, PatchOp{Path: "contact.email", Op: OpDelete}, 0)

	require.NoError(t, err)
	_, exists := doc["contact"].(map[string]interface{})["email"]
	assert.False(t, exists)
}

func TestApplyOp_DeleteMissing(t *testing.T) {
	doc := nestedDoc()

	err := applyOp(doc, PatchOp{Path: "contact.fax", Op: OpDelete}, 0)

	require.ErrorIs(t, err, ErrPathNotFound)
}

func TestApplyOp_IndexBeyondLength(t *testing.T) {
	doc := nestedDoc()

	err := applyOp(doc, PatchOp{Path: "experience.2", Op: OpSet,
		Value: map[string]interface{}{"title": "x"}}, 0)

	require.ErrorIs(t, err, ErrPathNotFound)
}

func TestApplyOp_IndexIntoObject(t *testing.T) {
	doc := nestedDoc()

	err := applyOp(doc, PatchOp{Path: "contact.0", Op: OpSet, Value: "x"}, 0)

	require.ErrorIs(t, err, ErrPathNotFound)
}

func TestParsePath(t *testing.T) {
	segs, err := parsePath("experience.0.title")
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, "experience", segs[0].key)
	assert.True(t, segs[1].isIdx)
	assert.Equal(t, 0, segs[1].index)
	assert.Equal(t, "title", segs[2].key)
}

func TestParsePath_Invalid(t *testing.T) {
	_, err := parsePath("")
	require.Error(t, err)

	_, err = parsePath("a..b")
	require.Error(t, err)
}

func TestCapValue_TruncatesNestedStrings(t *testing.T) {
	v := capValue(map[string]interface{}{
		"photo": "0123456789",
		"list":  []interface{}{"abcdefghij"},
	}, 4)

	m := v.(map[string]interface{})
	assert.Equal(t, "0123", m["photo"])
	assert.Equal(t, "abcd", m["list"].([]interface{})[0])
}

func TestCapValue_BacksUpToRuneBoundary(t *testing.T) {
	// "héllo" is 6 bytes; cutting at 2 would split the é.
	v := capValue("héllo", 2)
	s := v.(string)
	assert.Equal(t, "h", s)
	assert.True(t, utf8.ValidString(s))

	v = capValue("héllo", 3)
	s = v.(string)
	assert.Equal(t, "hé", s)
	assert.True(t, utf8.ValidString(s))
}

func TestFieldPatcher_Translate(t *testing.T) {
	fp := NewFieldPatcher()

	ops, err := fp.Translate([]Edit{
		{Path: "contact.full_name", Action: "set", Value: "Janet"},
		{Path: "skills", Action: "append", Value: "Go"},
		{Path: "contact.fax", Action: "delete"},
		{Path: "summary", Action: "set-new", Value: "Engineer."},
	})

	require.NoError(t, err)
	require.Len(t, ops, 4)
	assert.Equal(t, OpSet, ops[0].Op)
	assert.False(t, ops[0].CreateMissing)
	assert.Equal(t, OpAppend, ops[1].Op)
	assert.Equal(t, OpDelete, ops[2].Op)
	assert.True(t, ops[3].CreateMissing)
}

func TestFieldPatcher_Translate_UnknownAction(t *testing.T) {
	fp := NewFieldPatcher()

	_, err := fp.Translate([]Edit{{Path: "x", Action: "merge"}})

	require.ErrorIs(t, err, ErrPatchRejected)
}

func TestFieldPatcher_Translate_NormalizesIntegers(t *testing.T) {
	fp := NewFieldPatcher()

	ops, err := fp.Translate([]Edit{{Path: "years", Action: "set", Value: 7}})

	require.NoError(t, err)
	assert.Equal(t, float64(7), ops[0].Value)
}

func TestCoerceTo(t *testing.T) {
	v, err := CoerceTo("a", float64(3))
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	v, err = CoerceTo(float64(1), "2.5")
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	v, err = CoerceTo(true, "false")
	require.NoError(t, err)
	assert.Equal(t, false, v)

	_, err = CoerceTo(float64(1), "not-a-number")
	require.Error(t, err)
}
