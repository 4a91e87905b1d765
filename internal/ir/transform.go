package ir

import "fmt"

// LeafFunc maps one scalar (Bool, Int, String or Handle) to a replacement.
type LeafFunc func(Value) (Value, error)

// TransformLeaves rebuilds v with every scalar leaf replaced by fn(leaf).
// Map keys and set members are leaves too; containers are re-canonicalized,
// so a transform that makes two keys collide fails with conflicting values.
//
// Used by the reactor to resolve identifiers into handles and by the
// validator to project handles back into identifiers.
func TransformLeaves(v Value, fn LeafFunc) (Value, error) {
	switch val := v.(type) {
	case Bool, Int, String, Handle:
		return fn(val)
	case Seq:
		elems := make([]Value, len(val.elems))
		for i, e := range val.elems {
			te, err := TransformLeaves(e, fn)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			elems[i] = te
		}
		return Seq{elems: elems}, nil
	case Set:
		elems := make([]Value, len(val.elems))
		for i, e := range val.elems {
			te, err := TransformLeaves(e, fn)
			if err != nil {
				return nil, fmt.Errorf("{%s}: %w", Format(e), err)
			}
			elems[i] = te
		}
		return NewSet(elems...), nil
	case Record:
		fields := make(map[string]Value, len(val.fields))
		for k, e := range val.fields {
			te, err := TransformLeaves(e, fn)
			if err != nil {
				return nil, fmt.Errorf(".%s: %w", k, err)
			}
			fields[k] = te
		}
		return Record{fields: fields}, nil
	case Map:
		entries := make([]MapEntry, len(val.entries))
		for i, e := range val.entries {
			tk, err := TransformLeaves(e.Key, fn)
			if err != nil {
				return nil, fmt.Errorf("[%s] key: %w", Format(e.Key), err)
			}
			tv, err := TransformLeaves(e.Value, fn)
			if err != nil {
				return nil, fmt.Errorf("[%s]: %w", Format(e.Key), err)
			}
			entries[i] = MapEntry{Key: tk, Value: tv}
		}
		return NewMap(entries...)
	case nil:
		return nil, fmt.Errorf("transform: nil value")
	default:
		return nil, fmt.Errorf("transform: unsupported value %T", v)
	}
}

// Handles collects every Handle leaf in v, in canonical traversal order.
func Handles(v Value) []Handle {
	var out []Handle
	_, _ = TransformLeaves(v, func(leaf Value) (Value, error) {
		if h, ok := leaf.(Handle); ok {
			out = append(out, h)
		}
		return leaf, nil
	})
	return out
}
