package ir

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Compare defines a total order over values.
// Values of different kinds order by Kind; same-kind values order by content.
// Strings compare in NFC form so that Compare agrees with canonical encoding.
func Compare(a, b Value) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if ka, kb := a.Kind(), b.Kind(); ka != kb {
		if ka < kb {
			return -1
		}
		return 1
	}

	switch x := a.(type) {
	case Bool:
		y := b.(Bool)
		switch {
		case x == y:
			return 0
		case !bool(x):
			return -1
		default:
			return 1
		}
	case Int:
		return x.cmp(b.(Int))
	case String:
		return strings.Compare(norm.NFC.String(string(x)), norm.NFC.String(string(b.(String))))
	case Handle:
		return strings.Compare(string(x), string(b.(Handle)))
	case Seq:
		return compareSlices(x.elems, b.(Seq).elems)
	case Set:
		return compareSlices(x.elems, b.(Set).elems)
	case Record:
		return compareRecords(x, b.(Record))
	case Map:
		return compareEntries(x.entries, b.(Map).entries)
	}
	return 0
}

// Equal reports whether two values have the same content.
// Sets and maps compare as containers, independent of construction order.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

func compareSlices(a, b []Value) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return compareLen(len(a), len(b))
}

func compareRecords(a, b Record) int {
	an, bn := a.Names(), b.Names()
	for i := 0; i < len(an) && i < len(bn); i++ {
		if c := compareKeysRFC8785(an[i], bn[i]); c != 0 {
			return c
		}
		if c := Compare(a.fields[an[i]], b.fields[bn[i]]); c != 0 {
			return c
		}
	}
	return compareLen(len(an), len(bn))
}

func compareEntries(a, b []MapEntry) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i].Key, b[i].Key); c != 0 {
			return c
		}
		if c := Compare(a[i].Value, b[i].Value); c != 0 {
			return c
		}
	}
	return compareLen(len(a), len(b))
}

func compareLen(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
