package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"sorted record keys", RecordOf(F("zebra", NewInt(1)), F("alpha", NewInt(2))), `{"alpha":2,"zebra":1}`},
		{"set members sorted", NewSet(NewInt(3), NewInt(1), NewInt(1)), `{"#set":[1,3]}`},
		{"map entries sorted", MustMap(E(NewInt(2), NewInt(0)), E(NewInt(1), NewInt(100))), `{"#map":[[1,100],[2,0]]}`},
		{"big integer", mustParseInt(t, "18446744073709551616"), `{"#bigint":"18446744073709551616"}`},
		{"no html escaping", String("a<b>&"), `"a<b>&"`},
		{"control chars", String("\x01\n"), `"\u0001\n"`},
		{"line separator literal", String("\u2028"), "\"\u2028\""},
		{"handle", Handle("acct-1"), `{"#handle":"acct-1"}`},
		{"empty seq", NewSeq(), `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonicalRejectsNil(t *testing.T) {
	_, err := MarshalCanonical(nil)
	require.Error(t, err)
}

func TestMarshalCanonicalTreeRejectsFloats(t *testing.T) {
	_, err := MarshalCanonicalTree(map[string]any{"a": 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats")
}

func TestKeyDistinguishesKinds(t *testing.T) {
	assert.NotEqual(t, Key(NewInt(1)), Key(String("1")))
	assert.NotEqual(t, Key(String("acct-1")), Key(Handle("acct-1")))
	assert.NotEqual(t, Key(NewSeq(NewInt(1))), Key(NewSet(NewInt(1))))
}

func TestHashIsDomainSeparated(t *testing.T) {
	v := NewInt(7)
	a := MustHash(DomainTrace, v)
	b := MustHash(DomainOperation, v)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
	assert.Equal(t, a, MustHash(DomainTrace, NewInt(7)))
}
