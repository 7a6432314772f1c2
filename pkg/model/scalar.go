// Package model holds the data types shared by every index and query
// subsystem: the typed metadata union, entities and relationships, the
// filter expression tree, and the query/result/plan shapes that flow
// between the planner, executor, and fusion ranker.
package model

import (
	"fmt"
	"time"
)

// ScalarKind tags the concrete type carried by a Scalar value.
type ScalarKind int

const (
	KindString ScalarKind = iota
	KindInt
	KindFloat
	KindBool
	KindTimestamp
	KindList
	// KindMixed marks a field that has seen more than one ScalarKind
	// across inserts; it degrades to hash-only indexing.
	KindMixed
)

func (k ScalarKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	case KindList:
		return "list"
	case KindMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// Scalar is a tagged union over the metadata value types spec.md allows:
// string, integer, float, boolean, timestamp, or an ordered list of
// scalars. Exactly one of the typed fields is meaningful, selected by Kind.
type Scalar struct {
	Kind ScalarKind
	Str  string
	Int  int64
	Flt  float64
	Bln  bool
	Time time.Time
	List []Scalar
}

// String builds a string-kinded Scalar.
func String(s string) Scalar { return Scalar{Kind: KindString, Str: s} }

// Int64 builds an integer-kinded Scalar.
func Int64(i int64) Scalar { return Scalar{Kind: KindInt, Int: i} }

// Float64 builds a float-kinded Scalar.
func Float64(f float64) Scalar { return Scalar{Kind: KindFloat, Flt: f} }

// Bool builds a boolean-kinded Scalar.
func Bool(b bool) Scalar { return Scalar{Kind: KindBool, Bln: b} }

// Timestamp builds a timestamp-kinded Scalar.
func Timestamp(t time.Time) Scalar { return Scalar{Kind: KindTimestamp, Time: t} }

// List builds a list-kinded Scalar from the given elements.
func List(items ...Scalar) Scalar { return Scalar{Kind: KindList, List: items} }

// Metadata maps field names to scalar values.
type Metadata map[string]Scalar

// Clone returns a shallow copy of m (list elements are not deep-copied,
// they are immutable by convention once constructed).
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Equal reports whether two scalars have the same kind and value.
func (s Scalar) Equal(o Scalar) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case KindString:
		return s.Str == o.Str
	case KindInt:
		return s.Int == o.Int
	case KindFloat:
		return s.Flt == o.Flt
	case KindBool:
		return s.Bln == o.Bln
	case KindTimestamp:
		return s.Time.Equal(o.Time)
	case KindList:
		if len(s.List) != len(o.List) {
			return false
		}
		for i := range s.List {
			if !s.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// HashKey returns a string suitable as a hash-index bucket key for this
// scalar. Distinct values always yield distinct keys.
func (s Scalar) HashKey() string {
	switch s.Kind {
	case KindString:
		return "s:" + s.Str
	case KindInt:
		return fmt.Sprintf("i:%d", s.Int)
	case KindFloat:
		return fmt.Sprintf("f:%g", s.Flt)
	case KindBool:
		return fmt.Sprintf("b:%v", s.Bln)
	case KindTimestamp:
		return fmt.Sprintf("t:%d", s.Time.UnixNano())
	default:
		return fmt.Sprintf("?:%v", s)
	}
}

// Numeric reports whether the scalar participates in numeric total order
// (int, float, timestamp all compare by underlying magnitude).
func (s Scalar) Numeric() bool {
	return s.Kind == KindInt || s.Kind == KindFloat || s.Kind == KindTimestamp
}

// numericValue returns the float64 magnitude used for ordering numeric
// scalars (timestamps compare by epoch nanoseconds).
func (s Scalar) numericValue() float64 {
	switch s.Kind {
	case KindInt:
		return float64(s.Int)
	case KindFloat:
		return s.Flt
	case KindTimestamp:
		return float64(s.Time.UnixNano())
	default:
		return 0
	}
}

// Compare orders two scalars for the sorted index: numeric kinds compare
// by value, strings compare lexicographically. Comparing across
// incompatible kinds falls back to comparing their HashKey strings so the
// sorted index still has a well-defined (if not meaningful) total order.
func Compare(a, b Scalar) int {
	if a.Numeric() && b.Numeric() {
		av, bv := a.numericValue(), b.numericValue()
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	}
	if a.Kind == KindString && b.Kind == KindString {
		switch {
		case a.Str < b.Str:
			return -1
		case a.Str > b.Str:
			return 1
		default:
			return 0
		}
	}
	ak, bk := a.HashKey(), b.HashKey()
	switch {
	case ak < bk:
		return -1
	case ak > bk:
		return 1
	default:
		return 0
	}
}
