package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvpilot/cvpilot/pkg/fsm"
)

func echoTool() Definition {
	return Definition{
		Name:        "echo",
		Description: "Echoes the given text",
		Params: []Param{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args["text"], nil
		},
	}
}

func TestRegisterAndExecute(t *testing.T) {
	e := New(5 * time.Second)
	require.NoError(t, e.Register(echoTool()))

	res := e.Execute(context.Background(), "echo",
		map[string]interface{}{"text": "hello"}, []string{"echo"})
	require.True(t, res.Success)
	assert.Equal(t, "hello", res.Output)
}

func TestRegisterRejectsBadDefinition(t *testing.T) {
	e := New(time.Second)

	err := e.Register(Definition{Description: "no name", Handler: func(context.Context, map[string]interface{}) (interface{}, error) { return nil, nil }})
	assert.Error(t, err)

	err = e.Register(Definition{Name: "x", Description: "no handler"})
	assert.Error(t, err)

	err = e.Register(Definition{
		Name:        "x",
		Description: "bad param type",
		Params:      []Param{{Name: "p", Type: "blob"}},
		Handler:     func(context.Context, map[string]interface{}) (interface{}, error) { return nil, nil },
	})
	assert.Error(t, err)
}

func TestExecuteRejectsOutsideAllowList(t *testing.T) {
	e := New(time.Second)
	require.NoError(t, e.Register(echoTool()))

	res := e.Execute(context.Background(), "echo",
		map[string]interface{}{"text": "hi"}, []string{"read_session"})
	assert.True(t, res.Rejected)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not available")
}

func TestExecuteUnknownTool(t *testing.T) {
	e := New(time.Second)

	res := e.Execute(context.Background(), "missing", nil, []string{"missing"})
	assert.True(t, res.Rejected)
	assert.Contains(t, res.Error, "unknown tool")
}

func TestExecuteValidatesArguments(t *testing.T) {
	e := New(time.Second)
	require.NoError(t, e.Register(echoTool()))

	// Missing required field.
	res := e.Execute(context.Background(), "echo", map[string]interface{}{}, []string{"echo"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "argument validation failed")

	// Wrong type.
	res = e.Execute(context.Background(), "echo",
		map[string]interface{}{"text": 42}, []string{"echo"})
	assert.False(t, res.Success)

	// Unknown property rejected by additionalProperties: false.
	res = e.Execute(context.Background(), "echo",
		map[string]interface{}{"text": "hi", "extra": true}, []string{"echo"})
	assert.False(t, res.Success)
}

func TestExecuteHandlerError(t *testing.T) {
	e := New(time.Second)
	require.NoError(t, e.Register(Definition{
		Name:        "fail",
		Description: "Always fails",
		Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			return nil, fmt.Errorf("boom")
		},
	}))

	res := e.Execute(context.Background(), "fail", nil, []string{"fail"})
	assert.False(t, res.Success)
	assert.False(t, res.Rejected)
	assert.Equal(t, "boom", res.Error)
}

func TestExecutePreservesHandlerError(t *testing.T) {
	sentinel := errors.New("stale session")
	e := New(time.Second)
	require.NoError(t, e.Register(Definition{
		Name:        "fail",
		Description: "Always fails",
		Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			return nil, fmt.Errorf("write lost: %w", sentinel)
		},
	}))

	res := e.Execute(context.Background(), "fail", nil, []string{"fail"})
	assert.ErrorIs(t, res.Err, sentinel)
}

func TestExecuteTimeout(t *testing.T) {
	e := New(50 * time.Millisecond)
	require.NoError(t, e.Register(Definition{
		Name:        "slow",
		Description: "Sleeps past the deadline",
		Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			select {
			case <-time.After(2 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	res := e.Execute(context.Background(), "slow", nil, []string{"slow"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timeout")
}

func TestSpecs(t *testing.T) {
	e := New(time.Second)
	require.NoError(t, e.Register(echoTool()))

	specs := e.Specs([]string{"echo", "nonexistent"})
	require.Len(t, specs, 1)
	assert.Equal(t, "echo", specs[0].Name)

	schema := specs[0].InputSchema
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "text")
	assert.Equal(t, []string{"text"}, schema["required"])
}

func TestStagePolicyBudgets(t *testing.T) {
	p := DefaultStagePolicy()

	assert.Equal(t, 1, p.Budget(fsm.StageExecute))
	assert.Equal(t, DefaultBudget, p.Budget(fsm.StageReview))
	assert.Equal(t, 3, p.Budget(fsm.StageConfirm))

	// EXECUTE budget cannot be raised by configuration.
	custom := NewStagePolicy(nil, map[fsm.Stage]int{fsm.StageExecute: 10})
	assert.Equal(t, 1, custom.Budget(fsm.StageExecute))
}

func TestStagePolicyAllowLists(t *testing.T) {
	p := DefaultStagePolicy()

	assert.Contains(t, p.Allowed(fsm.StageReview), "apply_edits")
	assert.NotContains(t, p.Allowed(fsm.StageConfirm), "apply_edits")
	assert.Equal(t, []string{"generate_artifact"}, p.Allowed(fsm.StageExecute))
	assert.NotContains(t, p.Allowed(fsm.StageDone), "generate_artifact")
}
