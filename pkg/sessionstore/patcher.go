package sessionstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Edit is a single user- or agent-approved change as it arrives at the
// external interface, before translation into a PatchOp.
type Edit struct {
	Path   string      `json:"path"`
	Action string      `json:"action"` // set, set-new, append, delete
	Value  interface{} `json:"value,omitempty"`
}

// FieldPatcher translates edit batches into patch operations. It
// restricts type coercion to string/number/bool primitives; structural
// values pass through untouched and are shape-checked at apply time.
type FieldPatcher struct{}

// NewFieldPatcher creates a FieldPatcher.
func NewFieldPatcher() *FieldPatcher {
	return &FieldPatcher{}
}

// Translate converts a batch of edits into patch ops. The translation
// itself is all-or-nothing: one bad edit rejects the whole batch before
// anything reaches the store.
func (fp *FieldPatcher) Translate(edits []Edit) ([]PatchOp, error) {
	if len(edits) == 0 {
		return nil, fmt.Errorf("%w: empty edit batch", ErrPatchRejected)
	}
	ops := make([]PatchOp, 0, len(edits))
	for i, edit := range edits {
		op, err := fp.translateOne(edit)
		if err != nil {
			return nil, fmt.Errorf("edit %d (%s): %w", i, edit.Path, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (fp *FieldPatcher) translateOne(edit Edit) (PatchOp, error) {
	if strings.TrimSpace(edit.Path) == "" {
		return PatchOp{}, fmt.Errorf("%w: path is required", ErrPatchRejected)
	}

	switch edit.Action {
	case "set":
		return PatchOp{Path: edit.Path, Op: OpSet, Value: coercePrimitive(edit.Value)}, nil
	case "set-new":
		return PatchOp{Path: edit.Path, Op: OpSet, Value: coercePrimitive(edit.Value), CreateMissing: true}, nil
	case "append":
		return PatchOp{Path: edit.Path, Op: OpAppend, Value: coercePrimitive(edit.Value), CreateMissing: true}, nil
	case "delete":
		return PatchOp{Path: edit.Path, Op: OpDelete}, nil
	default:
		return PatchOp{}, fmt.Errorf("%w: unknown action %q", ErrPatchRejected, edit.Action)
	}
}

// coercePrimitive normalizes primitive values: numeric strings stay
// strings, but JSON-decoded numbers collapse to float64 and booleans
// arriving as "true"/"false" strings stay strings. Only genuine
// primitives are touched; objects and arrays pass through for the shape
// check in the apply path.
func coercePrimitive(v interface{}) interface{} {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

// CoerceTo converts a primitive value to match the kind of an existing
// primitive, used by callers that validate an edit against the current
// document before submitting it.
func CoerceTo(existing, value interface{}) (interface{}, error) {
	switch existing.(type) {
	case string:
		switch v := value.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		}
	case float64:
		switch v := value.(type) {
		case float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not numeric", ErrPatchRejected, v)
			}
			return f, nil
		}
	case bool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not boolean", ErrPatchRejected, v)
			}
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported coercion", ErrPatchRejected)
}
