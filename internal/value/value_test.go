package value

import (
	"math"
	"testing"
)

func TestIsNaNOrInf(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want bool
	}{
		{"nan", Float(math.NaN()), true},
		{"posinf", Float(math.Inf(1)), true},
		{"neginf", Float(math.Inf(-1)), true},
		{"ordinary float", Float(1.5), false},
		{"integer", Integer(5), false},
		{"null", Null(), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.v.IsNaNOrInf(); got != c.want {
				t.Errorf("IsNaNOrInf() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestCompareNumericCrossType(t *testing.T) {
	// Integer/Float compared as Float (spec.md §4.3).
	if Compare(Integer(2), Float(2.0)) != 0 {
		t.Errorf("Integer(2) should equal Float(2.0)")
	}
	if Compare(Integer(1), Float(1.5)) >= 0 {
		t.Errorf("Integer(1) should be less than Float(1.5)")
	}
}

func TestCompareStringByteOrder(t *testing.T) {
	if Compare(String("apple"), String("banana")) >= 0 {
		t.Errorf("apple should sort before banana")
	}
	if Compare(String("abc"), String("abc")) != 0 {
		t.Errorf("equal strings should compare equal")
	}
}

func TestCompareTotalOrderAcrossTypes(t *testing.T) {
	// Null < Integer < Float < String < Json < Bytes (spec.md §4.3).
	ordered := []Value{Null(), Integer(1), Float(1.0), String("x"), JSON("{}"), Bytes([]byte("x"))}
	// Adjacent numeric types tie at value 1; skip to the rank boundary by
	// using distinct values where numeric comparison wouldn't apply.
	typed := []Value{Null(), Integer(1), Float(2.0), String("s"), JSON("j"), Bytes([]byte("b"))}
	for i := 0; i < len(typed)-1; i++ {
		if Compare(typed[i], typed[i+1]) >= 0 {
			t.Errorf("expected %v < %v in type-rank order", typed[i], typed[i+1])
		}
	}
	_ = ordered
}

func TestCompareIsStable(t *testing.T) {
	a, b := String("same"), String("same")
	if Compare(a, b) != 0 {
		t.Errorf("identical strings must compare equal")
	}
}

func TestEqualTreatsNullAsEqualToNull(t *testing.T) {
	if !Equal(Null(), Null()) {
		t.Errorf("Equal(Null, Null) should be true for uniqueness-index comparisons")
	}
	if Equal(Null(), Integer(0)) {
		t.Errorf("Equal(Null, Integer(0)) should be false")
	}
}
