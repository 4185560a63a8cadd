package contextpack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvpilot/cvpilot/pkg/fsm"
)

func sampleDocument() map[string]interface{} {
	return map[string]interface{}{
		"contact": map[string]interface{}{
			"full_name": "Jane Doe",
			"email":     "jane@example.com",
		},
		"summary": "Engineer with ten years of experience.",
		"experience": []interface{}{
			map[string]interface{}{"title": "Engineer", "company": "Acme"},
		},
	}
}

func TestBuilder_Build_FirstPackIncludesEverything(t *testing.T) {
	b := NewBuilder(0)

	pack, hashes, err := b.Build("s1", fsm.StageReview, sampleDocument(), nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "s1", pack.SessionID)
	assert.Equal(t, fsm.StageReview, pack.Stage)
	require.Len(t, pack.Sections, 3)
	for _, sec := range pack.Sections {
		assert.True(t, sec.Changed, sec.Name)
		assert.NotNil(t, sec.Content, sec.Name)
		assert.NotEmpty(t, sec.Hash)
	}
	assert.Len(t, hashes, 3)
}

func TestBuilder_Build_UnchangedSectionsSentHashOnly(t *testing.T) {
	b := NewBuilder(0)
	doc := sampleDocument()

	_, hashes, err := b.Build("s1", fsm.StageReview, doc, nil, nil)
	require.NoError(t, err)

	doc["summary"] = "Rewritten summary."
	pack, _, err := b.Build("s1", fsm.StageReview, doc, nil, hashes)
	require.NoError(t, err)

	for _, sec := range pack.Sections {
		if sec.Name == "summary" {
			assert.True(t, sec.Changed)
			assert.NotNil(t, sec.Content)
		} else {
			assert.False(t, sec.Changed, sec.Name)
			assert.Nil(t, sec.Content, sec.Name)
		}
	}
}

func TestBuilder_Build_Deterministic(t *testing.T) {
	b := NewBuilder(0)
	doc := sampleDocument()

	first, firstHashes, err := b.Build("s1", fsm.StageConfirm, doc, nil, nil)
	require.NoError(t, err)
	second, secondHashes, err := b.Build("s1", fsm.StageConfirm, doc, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstHashes, secondHashes)
}

func TestBuilder_Build_SizeBound(t *testing.T) {
	b := NewBuilder(64)
	doc := map[string]interface{}{
		"summary": strings.Repeat("long text ", 100),
		"contact": map[string]interface{}{"full_name": "Jane"},
	}

	pack, _, err := b.Build("s1", fsm.StageReview, doc, nil, nil)

	require.NoError(t, err)
	assert.True(t, pack.Truncated)
	for _, sec := range pack.Sections {
		if sec.Name == "summary" {
			// Changed but withheld: the hash stands in for the content.
			assert.True(t, sec.Changed)
			assert.Nil(t, sec.Content)
			assert.NotEmpty(t, sec.Hash)
		}
	}
}

func TestBuilder_Build_WorkflowFlagsOnly(t *testing.T) {
	b := NewBuilder(0)
	meta := map[string]interface{}{
		"pdf_generated":    true,
		"job_fetch_status": "fetched",
		"pack_hashes":      map[string]interface{}{"x": "y"},
		"review_turns":     3,
	}

	pack, _, err := b.Build("s1", fsm.StageDone, sampleDocument(), meta, nil)

	require.NoError(t, err)
	assert.Equal(t, true, pack.Workflow["pdf_generated"])
	assert.Equal(t, "fetched", pack.Workflow["job_fetch_status"])
	_, hasLedger := pack.Workflow["pack_hashes"]
	assert.False(t, hasLedger)
	_, hasTurns := pack.Workflow["review_turns"]
	assert.False(t, hasTurns)
}
