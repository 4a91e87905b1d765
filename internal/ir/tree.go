package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
)

// Tags used by the tagged tree encoding (ITF-compatible).
//
// Plain JSON objects are records and plain JSON arrays are sequences.
// Everything else that JSON cannot express directly is wrapped in a
// single-key object whose key is one of these tags.
const (
	TagBigInt = "#bigint"
	TagSet    = "#set"
	TagSeq    = "#tup"
	TagMap    = "#map"
	TagHandle = "#handle"
)

var knownTags = map[string]bool{
	TagBigInt: true,
	TagSet:    true,
	TagSeq:    true,
	TagMap:    true,
	TagHandle: true,
}

// UnknownTagError is returned when a tagged object uses a tag this package
// does not understand (for example ITF's "#unserializable").
type UnknownTagError struct {
	Tag string
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown value tag %q", e.Tag)
}

// ToTree converts a value to a generic tree of map[string]any, []any,
// string, bool and int64 suitable for encoding/json or yaml.v3.
//
// Integers that fit in int64 are emitted as numbers; larger ones use
// {"#bigint": "<decimal>"} so that no decoder can lose precision.
func ToTree(v Value) any {
	switch val := v.(type) {
	case Bool:
		return bool(val)
	case Int:
		if n, ok := val.Int64(); ok && n >= -maxSafeJSONInt && n <= maxSafeJSONInt {
			return n
		}
		return map[string]any{TagBigInt: val.String()}
	case String:
		return string(val)
	case Handle:
		return map[string]any{TagHandle: string(val)}
	case Seq:
		out := make([]any, len(val.elems))
		for i, e := range val.elems {
			out[i] = ToTree(e)
		}
		return out
	case Set:
		out := make([]any, len(val.elems))
		for i, e := range val.elems {
			out[i] = ToTree(e)
		}
		return map[string]any{TagSet: out}
	case Record:
		out := make(map[string]any, len(val.fields))
		for k, e := range val.fields {
			out[k] = ToTree(e)
		}
		return out
	case Map:
		out := make([]any, len(val.entries))
		for i, e := range val.entries {
			out[i] = []any{ToTree(e.Key), ToTree(e.Value)}
		}
		return map[string]any{TagMap: out}
	default:
		return nil
	}
}

// maxSafeJSONInt is 2^53-1. Larger integers are emitted as #bigint so that
// consumers that decode numbers as float64 stay lossless.
const maxSafeJSONInt = 1<<53 - 1

// FromTree converts a decoded JSON or YAML tree into a Value.
//
// Accepted leaves: bool, string, json.Number, int, int64, uint64 and
// integral float64 (YAML decoders may produce those). Null and
// non-integral numbers are rejected.
func FromTree(t any) (Value, error) {
	switch val := t.(type) {
	case nil:
		return nil, fmt.Errorf("null is not a value")
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		return parseNumber(string(val))
	case int:
		return NewInt(int64(val)), nil
	case int64:
		return NewInt(val), nil
	case uint64:
		return NewBigInt(new(big.Int).SetUint64(val)), nil
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) || math.IsNaN(val) {
			return nil, fmt.Errorf("floats are not values: %v", val)
		}
		if math.Abs(val) > maxSafeJSONInt {
			return nil, fmt.Errorf("integer %v exceeds float precision, use %s", val, TagBigInt)
		}
		return NewInt(int64(val)), nil
	case []any:
		elems, err := fromTreeSlice(val)
		if err != nil {
			return nil, err
		}
		return Seq{elems: elems}, nil
	case map[string]any:
		return fromTreeObject(val)
	default:
		return nil, fmt.Errorf("unsupported tree node %T", t)
	}
}

func parseNumber(s string) (Value, error) {
	if strings.ContainsAny(s, ".eE") {
		return nil, fmt.Errorf("floats are not values: %s", s)
	}
	return ParseInt(s)
}

func fromTreeSlice(items []any) ([]Value, error) {
	out := make([]Value, len(items))
	for i, item := range items {
		v, err := FromTree(item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func fromTreeObject(obj map[string]any) (Value, error) {
	if len(obj) == 1 {
		for tag, inner := range obj {
			if strings.HasPrefix(tag, "#") {
				return fromTagged(tag, inner)
			}
		}
	}

	fields := make(map[string]Value, len(obj))
	for k, item := range obj {
		if strings.HasPrefix(k, "#") {
			return nil, fmt.Errorf("record field %q: reserved prefix '#'", k)
		}
		v, err := FromTree(item)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		fields[k] = v
	}
	return Record{fields: fields}, nil
}

func fromTagged(tag string, inner any) (Value, error) {
	if !knownTags[tag] {
		return nil, &UnknownTagError{Tag: tag}
	}

	switch tag {
	case TagBigInt:
		s, ok := inner.(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected decimal string, got %T", tag, inner)
		}
		return ParseInt(s)

	case TagHandle:
		s, ok := inner.(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected string, got %T", tag, inner)
		}
		return Handle(s), nil

	case TagSet, TagSeq:
		items, ok := inner.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected array, got %T", tag, inner)
		}
		elems, err := fromTreeSlice(items)
		if err != nil {
			return nil, fmt.Errorf("%s%w", tag, err)
		}
		if tag == TagSet {
			return NewSet(elems...), nil
		}
		return Seq{elems: elems}, nil

	case TagMap:
		items, ok := inner.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected array of pairs, got %T", tag, inner)
		}
		entries := make([]MapEntry, 0, len(items))
		for i, item := range items {
			pair, ok := item.([]any)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("%s[%d]: expected [key, value] pair", tag, i)
			}
			k, err := FromTree(pair[0])
			if err != nil {
				return nil, fmt.Errorf("%s[%d] key: %w", tag, i, err)
			}
			v, err := FromTree(pair[1])
			if err != nil {
				return nil, fmt.Errorf("%s[%d] value: %w", tag, i, err)
			}
			entries = append(entries, MapEntry{Key: k, Value: v})
		}
		return NewMap(entries...)
	}
	return nil, &UnknownTagError{Tag: tag}
}

// MarshalJSON encodes a value as tagged JSON. Output is deterministic but
// not canonical; use MarshalCanonical for hashing.
func MarshalJSON(v Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("marshal: nil value")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ToTree(v)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON decodes tagged JSON into a value. Numbers are decoded
// losslessly via json.Number.
func UnmarshalJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromTree(raw)
}
