// Package value implements MiniSQL's tagged-union runtime value and the
// comparison/coercion rules the executor and evaluator share.
package value

import (
	"bytes"
	"fmt"
	"math"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindString
	KindJSON
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindInteger:
		return "INTEGER"
	case KindFloat:
		return "FLOAT"
	case KindString:
		return "STRING"
	case KindJSON:
		return "JSON"
	case KindBytes:
		return "BYTES"
	default:
		return "UNKNOWN"
	}
}

// Value is a tagged union over {Null, Integer, Float, String, Json, Bytes}.
// Null is a distinct value, never an absence (spec.md §3).
type Value struct {
	Kind Kind
	I    int64
	F    float64
	S    string // holds String and raw JSON text
	B    []byte
}

func Null() Value             { return Value{Kind: KindNull} }
func Integer(i int64) Value   { return Value{Kind: KindInteger, I: i} }
func Float(f float64) Value   { return Value{Kind: KindFloat, F: f} }
func String(s string) Value   { return Value{Kind: KindString, S: s} }
func JSON(raw string) Value   { return Value{Kind: KindJSON, S: raw} }
func Bytes(b []byte) Value    { return Value{Kind: KindBytes, B: b} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsNaNOrInf reports whether a Float value is NaN or ±Inf — the cases
// spec.md §4.3 requires coercing to NULL before a constraint check.
func (v Value) IsNaNOrInf() bool {
	return v.Kind == KindFloat && (math.IsNaN(v.F) || math.IsInf(v.F, 0))
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInteger:
		return fmt.Sprintf("%d", v.I)
	case KindFloat:
		return fmt.Sprintf("%v", v.F)
	case KindString:
		return v.S
	case KindJSON:
		return v.S
	case KindBytes:
		return string(v.B)
	default:
		return ""
	}
}

// rank orders cross-type comparisons per spec.md §4.3:
// Null < Integer < Float < String < Json < Bytes.
func (k Kind) rank() int {
	switch k {
	case KindNull:
		return 0
	case KindInteger:
		return 1
	case KindFloat:
		return 2
	case KindString:
		return 3
	case KindJSON:
		return 4
	case KindBytes:
		return 5
	default:
		return 6
	}
}

// Compare returns -1, 0, or 1 for a<b, a==b, a>b, total and stable across
// every pair of Values including cross-type pairs (spec.md §4.3).
// Numeric types (Integer/Float) compare numerically across each other;
// String compares by UTF-8 byte order; any other pair of different
// types orders by type rank, and two values of the same such type
// compare by their text form (Null equals Null).
func Compare(a, b Value) int {
	an, aNum := numeric(a)
	bn, bNum := numeric(b)
	if aNum && bNum {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	if a.Kind == KindString && b.Kind == KindString {
		return bytes.Compare([]byte(a.S), []byte(b.S))
	}
	ar, br := a.Kind.rank(), b.Kind.rank()
	switch {
	case ar < br:
		return -1
	case ar > br:
		return 1
	default:
		// Same non-numeric, non-string rank: Null==Null; otherwise compare
		// raw representations so the ordering is still total.
		if a.Kind == KindNull {
			return 0
		}
		return bytes.Compare([]byte(a.String()), []byte(b.String()))
	}
}

func numeric(v Value) (float64, bool) {
	switch v.Kind {
	case KindInteger:
		return float64(v.I), true
	case KindFloat:
		return v.F, true
	default:
		return 0, false
	}
}

// Equal reports two-valued equality (NULL is handled by the evaluator's
// three-valued logic, not here — Equal treats NULL==NULL as true so it
// can back uniqueness/index-key comparisons, which need a definite
// answer rather than SQL's NULL semantics).
func Equal(a, b Value) bool {
	if a.Kind == KindNull || b.Kind == KindNull {
		return a.Kind == KindNull && b.Kind == KindNull
	}
	return Compare(a, b) == 0
}
