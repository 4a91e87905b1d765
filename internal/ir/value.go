package ir

import (
	"fmt"
	"math/big"
	"slices"
	"strings"
)

// Kind identifies the variant of a Value.
// The numeric order is the cross-kind order used by Compare.
type Kind int

const (
	KindBool Kind = iota + 1
	KindInt
	KindString
	KindHandle
	KindSeq
	KindSet
	KindRecord
	KindMap
)

var kindNames = map[Kind]string{
	KindBool:   "bool",
	KindInt:    "int",
	KindString: "string",
	KindHandle: "handle",
	KindSeq:    "seq",
	KindSet:    "set",
	KindRecord: "record",
	KindMap:    "map",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is a sealed interface over the trace value language.
// Only the types in this file implement it.
type Value interface {
	Kind() Kind
	value() // Sealed
}

// Bool is a boolean value.
type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (Bool) value()     {}

// String is a string value.
type String string

func (String) Kind() Kind { return KindString }
func (String) value()     {}

// Handle is an opaque concrete resource token issued by a target system.
type Handle string

func (Handle) Kind() Kind { return KindHandle }
func (Handle) value()     {}

// Int is an arbitrary-precision integer.
// The zero Int is 0.
type Int struct {
	n *big.Int
}

func (Int) Kind() Kind { return KindInt }
func (Int) value()     {}

// NewInt creates an Int from an int64.
func NewInt(n int64) Int {
	return Int{n: big.NewInt(n)}
}

// NewBigInt creates an Int from a big.Int. The argument is copied.
func NewBigInt(n *big.Int) Int {
	if n == nil {
		return Int{}
	}
	return Int{n: new(big.Int).Set(n)}
}

// ParseInt parses a base-10 integer literal without loss of precision.
func ParseInt(s string) (Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Int{}, fmt.Errorf("invalid integer literal %q", s)
	}
	return Int{n: n}, nil
}

// Big returns a copy of the integer as a big.Int.
func (i Int) Big() *big.Int {
	if i.n == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(i.n)
}

// Int64 returns the integer as int64 and whether it fits.
func (i Int) Int64() (int64, bool) {
	if i.n == nil {
		return 0, true
	}
	if !i.n.IsInt64() {
		return 0, false
	}
	return i.n.Int64(), true
}

func (i Int) String() string {
	if i.n == nil {
		return "0"
	}
	return i.n.String()
}

func (i Int) cmp(o Int) int {
	return i.bigRef().Cmp(o.bigRef())
}

func (i Int) bigRef() *big.Int {
	if i.n == nil {
		return new(big.Int)
	}
	return i.n
}

// Seq is an ordered sequence of values.
type Seq struct {
	elems []Value
}

func (Seq) Kind() Kind { return KindSeq }
func (Seq) value()     {}

// NewSeq creates a sequence. The argument slice is copied.
func NewSeq(elems ...Value) Seq {
	return Seq{elems: slices.Clone(elems)}
}

// Len returns the number of elements.
func (s Seq) Len() int { return len(s.elems) }

// At returns the element at index i.
func (s Seq) At(i int) Value { return s.elems[i] }

// Elems returns a copy of the elements.
func (s Seq) Elems() []Value { return slices.Clone(s.elems) }

// Set is an unordered collection of unique values.
// Elements are kept sorted by Compare.
type Set struct {
	elems []Value
}

func (Set) Kind() Kind { return KindSet }
func (Set) value()     {}

// NewSet creates a set. Duplicates (by Equal) are folded.
func NewSet(elems ...Value) Set {
	sorted := slices.Clone(elems)
	slices.SortFunc(sorted, Compare)
	sorted = slices.CompactFunc(sorted, Equal)
	return Set{elems: sorted}
}

// Len returns the number of elements.
func (s Set) Len() int { return len(s.elems) }

// Contains reports whether v is a member of the set.
func (s Set) Contains(v Value) bool {
	_, found := slices.BinarySearchFunc(s.elems, v, Compare)
	return found
}

// Elems returns a copy of the elements in canonical order.
func (s Set) Elems() []Value { return slices.Clone(s.elems) }

// Record maps field names to values.
type Record struct {
	fields map[string]Value
}

func (Record) Kind() Kind { return KindRecord }
func (Record) value()     {}

// NewRecord creates a record. The argument map is copied.
func NewRecord(fields map[string]Value) Record {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Record{fields: cp}
}

// Field is a name/value pair for ordered record construction.
type Field struct {
	Name  string
	Value Value
}

// F is a shorthand for Field.
// Example: RecordOf(F("from", NewInt(1)), F("amount", NewInt(30)))
func F(name string, v Value) Field {
	return Field{Name: name, Value: v}
}

// RecordOf creates a record from fields. Later fields win on duplicate names.
func RecordOf(fields ...Field) Record {
	m := make(map[string]Value, len(fields))
	for _, f := range fields {
		m[f.Name] = f.Value
	}
	return Record{fields: m}
}

// Get returns the named field.
func (r Record) Get(name string) (Value, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.fields) }

// Names returns the field names in canonical (RFC 8785) order.
func (r Record) Names() []string {
	names := make([]string, 0, len(r.fields))
	for k := range r.fields {
		names = append(names, k)
	}
	slices.SortFunc(names, compareKeysRFC8785)
	return names
}

// Fields returns a copy of the underlying field map.
func (r Record) Fields() map[string]Value {
	cp := make(map[string]Value, len(r.fields))
	for k, v := range r.fields {
		cp[k] = v
	}
	return cp
}

// MapEntry is one key/value pair of a Map.
type MapEntry struct {
	Key   Value
	Value Value
}

// E is a shorthand for MapEntry.
func E(k, v Value) MapEntry {
	return MapEntry{Key: k, Value: v}
}

// Map associates unique keys with values.
// Entries are kept sorted by key.
type Map struct {
	entries []MapEntry
}

func (Map) Kind() Kind { return KindMap }
func (Map) value()     {}

// NewMap creates a map. A key repeated with an equal value is folded;
// a key repeated with a different value is an error.
func NewMap(entries ...MapEntry) (Map, error) {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b MapEntry) int { return Compare(a.Key, b.Key) })
	out := sorted[:0]
	for _, e := range sorted {
		if n := len(out); n > 0 && Equal(out[n-1].Key, e.Key) {
			if !Equal(out[n-1].Value, e.Value) {
				return Map{}, fmt.Errorf("duplicate map key %s with conflicting values", Format(e.Key))
			}
			continue
		}
		out = append(out, e)
	}
	return Map{entries: out}, nil
}

// MustMap is like NewMap but panics on error.
// Use only in tests or when keys are known to be unique.
func MustMap(entries ...MapEntry) Map {
	m, err := NewMap(entries...)
	if err != nil {
		panic(err)
	}
	return m
}

// Len returns the number of entries.
func (m Map) Len() int { return len(m.entries) }

// Get returns the value stored under key.
func (m Map) Get(key Value) (Value, bool) {
	i, found := slices.BinarySearchFunc(m.entries, key, func(e MapEntry, k Value) int {
		return Compare(e.Key, k)
	})
	if !found {
		return nil, false
	}
	return m.entries[i].Value, true
}

// Entries returns a copy of the entries in key order.
func (m Map) Entries() []MapEntry { return slices.Clone(m.entries) }

// Format renders a value in a compact human-readable notation for
// diagnostics. It is not a serialization format; use MarshalCanonical
// or ToTree for that.
func Format(v Value) string {
	var b strings.Builder
	formatTo(&b, v)
	return b.String()
}

func formatTo(b *strings.Builder, v Value) {
	switch val := v.(type) {
	case nil:
		b.WriteString("<absent>")
	case Bool:
		fmt.Fprintf(b, "%t", bool(val))
	case Int:
		b.WriteString(val.String())
	case String:
		fmt.Fprintf(b, "%q", string(val))
	case Handle:
		fmt.Fprintf(b, "@%s", string(val))
	case Seq:
		b.WriteString("<<")
		for i, e := range val.elems {
			if i > 0 {
				b.WriteString(", ")
			}
			formatTo(b, e)
		}
		b.WriteString(">>")
	case Set:
		b.WriteString("{")
		for i, e := range val.elems {
			if i > 0 {
				b.WriteString(", ")
			}
			formatTo(b, e)
		}
		b.WriteString("}")
	case Record:
		b.WriteString("[")
		for i, name := range val.Names() {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(name)
			b.WriteString(" |-> ")
			formatTo(b, val.fields[name])
		}
		b.WriteString("]")
	case Map:
		b.WriteString("(")
		for i, e := range val.entries {
			if i > 0 {
				b.WriteString(", ")
			}
			formatTo(b, e.Key)
			b.WriteString(" :> ")
			formatTo(b, e.Value)
		}
		b.WriteString(")")
	default:
		fmt.Fprintf(b, "<%T>", v)
	}
}
