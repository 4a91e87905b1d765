package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalJSONTaggedValues(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Value
	}{
		{"int", `42`, NewInt(42)},
		{"negative", `-7`, NewInt(-7)},
		{"bigint", `{"#bigint":"100000000000000000000"}`, mustParseInt(t, "100000000000000000000")},
		{"large plain number", `18446744073709551616`, mustParseInt(t, "18446744073709551616")},
		{"string", `"alice"`, String("alice")},
		{"bool", `true`, Bool(true)},
		{"plain array is seq", `[1,2]`, NewSeq(NewInt(1), NewInt(2))},
		{"tup is seq", `{"#tup":[1,"a"]}`, NewSeq(NewInt(1), String("a"))},
		{"set", `{"#set":[2,1,2]}`, NewSet(NewInt(1), NewInt(2))},
		{"map", `{"#map":[[1,100],[2,0]]}`, MustMap(E(NewInt(1), NewInt(100)), E(NewInt(2), NewInt(0)))},
		{"record", `{"from":1,"to":2}`, RecordOf(F("from", NewInt(1)), F("to", NewInt(2)))},
		{"handle", `{"#handle":"acct-1"}`, Handle("acct-1")},
		{"nested", `{"#map":[[{"#set":[1]},[true]]]}`, MustMap(E(NewSet(NewInt(1)), NewSeq(Bool(true))))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UnmarshalJSON([]byte(tt.input))
			require.NoError(t, err)
			assert.True(t, Equal(tt.want, got), "want %s, got %s", Format(tt.want), Format(got))
		})
	}
}

func TestUnmarshalJSONRejects(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		message string
	}{
		{"null", `null`, "null"},
		{"float", `1.5`, "floats"},
		{"exponent", `1e3`, "floats"},
		{"reserved field", `{"#meta":{"index":0},"x":1}`, "reserved prefix"},
		{"bad bigint", `{"#bigint":12}`, "decimal string"},
		{"bad map pair", `{"#map":[[1]]}`, "pair"},
		{"conflicting map keys", `{"#map":[[1,1],[1,2]]}`, "duplicate map key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalJSON([]byte(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestUnmarshalJSONUnknownTag(t *testing.T) {
	_, err := UnmarshalJSON([]byte(`{"#unserializable":"x"}`))
	require.Error(t, err)

	var tagErr *UnknownTagError
	require.ErrorAs(t, err, &tagErr)
	assert.Equal(t, "#unserializable", tagErr.Tag)
}

func TestToTreeUsesBigIntBeyondSafeRange(t *testing.T) {
	assert.Equal(t, int64(1<<53-1), ToTree(NewInt(1<<53-1)))
	assert.Equal(t, map[string]any{TagBigInt: "9007199254740992"}, ToTree(NewInt(1<<53)))
}

func TestMarshalJSONRoundTripPreservesContent(t *testing.T) {
	v := RecordOf(
		F("balances", MustMap(E(NewInt(1), NewInt(70)), E(NewInt(2), NewInt(30)))),
		F("supply", mustParseInt(t, "340282366920938463463374607431768211456")),
		F("members", NewSet(String("b"), String("a"))),
		F("owner", Handle("acct-9")),
	)

	data, err := MarshalJSON(v)
	require.NoError(t, err)

	back, err := UnmarshalJSON(data)
	require.NoError(t, err)
	assert.True(t, Equal(v, back), "round trip changed %s into %s", Format(v), Format(back))
}

func TestFromTreeAcceptsYAMLNumbers(t *testing.T) {
	v, err := FromTree(map[string]any{"a": 3, "b": float64(4), "c": uint64(1 << 63)})
	require.NoError(t, err)

	r := v.(Record)
	a, _ := r.Get("a")
	b, _ := r.Get("b")
	c, _ := r.Get("c")
	assert.True(t, Equal(NewInt(3), a))
	assert.True(t, Equal(NewInt(4), b))
	assert.Equal(t, "9223372036854775808", c.(Int).String())

	_, err = FromTree(map[string]any{"a": 3.25})
	require.Error(t, err)
}

func TestFromTreeJSONNumber(t *testing.T) {
	v, err := FromTree(json.Number("12"))
	require.NoError(t, err)
	assert.True(t, Equal(NewInt(12), v))
}

func mustParseInt(t *testing.T, s string) Int {
	t.Helper()
	i, err := ParseInt(s)
	require.NoError(t, err)
	return i
}
