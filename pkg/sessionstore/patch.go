package sessionstore

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// OpKind is the kind of a patch operation.
type OpKind string

const (
	OpSet    OpKind = "set"
	OpAppend OpKind = "append"
	OpDelete OpKind = "delete"
)

// PatchOp is a single edit against the nested document. Path segments
// are dot-separated; all-digit segments address array indices
// ("experience.0.title"). Unknown paths fail with ErrPathNotFound
// unless CreateMissing allows the final segment to be created.
type PatchOp struct {
	Path          string      `json:"path"`
	Op            OpKind      `json:"op"`
	Value         interface{} `json:"value,omitempty"`
	CreateMissing bool        `json:"create_missing,omitempty"`
}

type segment struct {
	key   string
	index int
	isIdx bool
}

func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrPatchRejected)
	}
	parts := strings.Split(path, ".")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: empty segment in path %q", ErrPatchRejected, path)
		}
		if idx, err := strconv.Atoi(p); err == nil {
			if idx < 0 {
				return nil, fmt.Errorf("%w: negative index in path %q", ErrPatchRejected, path)
			}
			segs = append(segs, segment{index: idx, isIdx: true})
			continue
		}
		segs = append(segs, segment{key: p})
	}
	return segs, nil
}

// applyOps applies an ordered batch to root. The caller passes a deep
// copy; any error aborts the whole batch. maxPropertyBytes caps
// oversized string values before they are written (PropertyTooLarge is
// not a hard failure).
func applyOps(root map[string]interface{}, ops []PatchOp, maxPropertyBytes int) error {
	for i, op := range ops {
		if err := applyOp(root, op, maxPropertyBytes); err != nil {
			return fmt.Errorf("op %d (%s %s): %w", i, op.Op, op.Path, err)
		}
	}
	return nil
}

func applyOp(root map[string]interface{}, op PatchOp, maxPropertyBytes int) error {
	segs, err := parsePath(op.Path)
	if err != nil {
		return err
	}

	value := capValue(op.Value, maxPropertyBytes)

	parent, last, err := resolveParent(root, segs)
	if err != nil {
		return err
	}

	switch op.Op {
	case OpSet:
		return applySet(parent, last, value, op.CreateMissing)
	case OpAppend:
		return applyAppend(parent, last, value, op.CreateMissing)
	case OpDelete:
		return applyDelete(parent, last)
	default:
		return fmt.Errorf("%w: unknown op %q", ErrPatchRejected, op.Op)
	}
}

// resolveParent walks all but the last segment. Intermediate containers
// must already exist; creation only ever applies to the final segment.
func resolveParent(root map[string]interface{}, segs []segment) (interface{}, segment, error) {
	var current interface{} = root
	for _, seg := range segs[:len(segs)-1] {
		next, err := descend(current, seg)
		if err != nil {
			return nil, segment{}, err
		}
		current = next
	}
	return current, segs[len(segs)-1], nil
}

func descend(node interface{}, seg segment) (interface{}, error) {
	if seg.isIdx {
		arr, ok := node.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: index into non-array", ErrPathNotFound)
		}
		if seg.index >= len(arr) {
			return nil, fmt.Errorf("%w: index %d out of range (len %d)", ErrPathNotFound, seg.index, len(arr))
		}
		return arr[seg.index], nil
	}
	obj, ok := node.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: key %q into non-object", ErrPathNotFound, seg.key)
	}
	child, ok := obj[seg.key]
	if !ok {
		return nil, fmt.Errorf("%w: key %q", ErrPathNotFound, seg.key)
	}
	return child, nil
}

func applySet(parent interface{}, seg segment, value interface{}, createMissing bool) error {
	if seg.isIdx {
		arr, ok := parent.([]interface{})
		if !ok {
			return fmt.Errorf("%w: index into non-array", ErrPathNotFound)
		}
		// No implicit padding: the slot must already exist.
		if seg.index >= len(arr) {
			return fmt.Errorf("%w: index %d out of range (len %d)", ErrPathNotFound, seg.index, len(arr))
		}
		if err := checkShape(arr[seg.index], value, createMissing); err != nil {
			return err
		}
		arr[seg.index] = value
		return nil
	}

	obj, ok := parent.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: key %q into non-object", ErrPathNotFound, seg.key)
	}
	existing, exists := obj[seg.key]
	if !exists && !createMissing {
		return fmt.Errorf("%w: key %q", ErrPathNotFound, seg.key)
	}
	if exists {
		if err := checkShape(existing, value, createMissing); err != nil {
			return err
		}
	}
	obj[seg.key] = value
	return nil
}

func applyAppend(parent interface{}, seg segment, value interface{}, createMissing bool) error {
	if seg.isIdx {
		return fmt.Errorf("%w: append target must be a named field", ErrPatchRejected)
	}
	obj, ok := parent.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: key %q into non-object", ErrPathNotFound, seg.key)
	}
	existing, exists := obj[seg.key]
	if !exists {
		if !createMissing {
			return fmt.Errorf("%w: key %q", ErrPathNotFound, seg.key)
		}
		obj[seg.key] = []interface{}{value}
		return nil
	}
	arr, ok := existing.([]interface{})
	if !ok {
		return fmt.Errorf("%w: append to non-array %q", ErrPatchRejected, seg.key)
	}
	obj[seg.key] = append(arr, value)
	return nil
}

func applyDelete(parent interface{}, seg segment) error {
	if seg.isIdx {
		return fmt.Errorf("%w: delete by index requires addressing the parent field", ErrPatchRejected)
	}
	obj, ok := parent.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: key %q into non-object", ErrPathNotFound, seg.key)
	}
	if _, exists := obj[seg.key]; !exists {
		return fmt.Errorf("%w: key %q", ErrPathNotFound, seg.key)
	}
	delete(obj, seg.key)
	return nil
}

// checkShape enforces the coercion contract: primitives may replace
// primitives, but structural replacement (object/array) requires the
// existing value to be of matching shape unless the op explicitly
// creates the target.
func checkShape(existing, value interface{}, createAllowed bool) error {
	if existing == nil || value == nil {
		return nil
	}
	es, vs := shapeOf(existing), shapeOf(value)
	if es == vs {
		return nil
	}
	if es == shapePrimitive && vs == shapePrimitive {
		return nil
	}
	if createAllowed {
		return nil
	}
	return fmt.Errorf("%w: cannot replace %s with %s", ErrPatchRejected, es, vs)
}

type shape string

const (
	shapePrimitive shape = "primitive"
	shapeObject    shape = "object"
	shapeArray     shape = "array"
)

func shapeOf(v interface{}) shape {
	switch v.(type) {
	case map[string]interface{}:
		return shapeObject
	case []interface{}:
		return shapeArray
	default:
		return shapePrimitive
	}
}

// capValue truncates oversized string payloads (e.g. an embedded photo
// from extraction) to max bytes before persistence. Non-string values
// pass through; nested containers are capped element-wise.
func capValue(v interface{}, max int) interface{} {
	if max <= 0 {
		return v
	}
	switch val := v.(type) {
	case string:
		if len(val) > max {
			cut := max
			for cut > 0 && !utf8.RuneStart(val[cut]) {
				cut--
			}
			return val[:cut]
		}
		return val
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = capValue(item, max)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = capValue(item, max)
		}
		return out
	default:
		return v
	}
}
