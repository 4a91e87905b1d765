package store

import (
	"fmt"
	"strings"

	"github.com/roach88/kraft/internal/ir"
)

// marshalValue converts a value to canonical JSON TEXT for storage.
func marshalValue(v ir.Value) (string, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses stored TEXT back into a value. Large integers
// survive through the #bigint tag.
func unmarshalValue(data string) (ir.Value, error) {
	v, err := ir.UnmarshalJSON([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// joinNames stores a variable list; names never contain a newline.
func joinNames(names []string) string {
	return strings.Join(names, "\n")
}

func splitNames(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}
