package eval

import (
	"math"
	"testing"

	"github.com/minisql/minisql/internal/ast"
	"github.com/minisql/minisql/internal/value"
)

// mapTuple is a trivial Tuple backed by a flat column-name map, enough to
// drive expression evaluation in isolation from the executor.
type mapTuple map[string]value.Value

func (m mapTuple) Column(table, name string) (value.Value, bool) {
	v, ok := m[name]
	return v, ok
}

func lit(v value.Value) ast.Expr { return &ast.Literal{Value: v} }

func col(name string) ast.Expr { return &ast.ColumnRef{Name: name} }

func bin(op string, l, r ast.Expr) ast.Expr { return &ast.BinaryExpr{Op: op, Left: l, Right: r} }

func mustEval(t *testing.T, e ast.Expr, row Tuple) value.Value {
	t.Helper()
	v, err := Eval(e, row)
	if err != nil {
		t.Fatalf("Eval(%v) returned error: %v", e, err)
	}
	return v
}

func TestArithmeticScenarioIntegers(t *testing.T) {
	// spec.md §8: 1+1, 5-2, 3*4, 10/2 -> [2, 3, 12, 5], all integer results.
	cases := []struct {
		expr ast.Expr
		want int64
	}{
		{bin("+", lit(value.Integer(1)), lit(value.Integer(1))), 2},
		{bin("-", lit(value.Integer(5)), lit(value.Integer(2))), 3},
		{bin("*", lit(value.Integer(3)), lit(value.Integer(4))), 12},
		{bin("/", lit(value.Integer(10)), lit(value.Integer(2))), 5},
	}
	for _, c := range cases {
		got := mustEval(t, c.expr, mapTuple{})
		if got.Kind != value.KindInteger || got.I != c.want {
			t.Errorf("got %v, want integer %d", got, c.want)
		}
	}
}

func TestArithmeticScenarioFloats(t *testing.T) {
	// spec.md §8: 1+1.5, 2.0*3, 5/2 -> [2.5, 6.0, 2.5].
	cases := []struct {
		expr ast.Expr
		want float64
	}{
		{bin("+", lit(value.Integer(1)), lit(value.Float(1.5))), 2.5},
		{bin("*", lit(value.Float(2.0)), lit(value.Integer(3))), 6.0},
		{bin("/", lit(value.Integer(5)), lit(value.Integer(2))), 2.5},
	}
	for _, c := range cases {
		got := mustEval(t, c.expr, mapTuple{})
		if got.Kind != value.KindFloat || got.F != c.want {
			t.Errorf("got %v, want float %v", got, c.want)
		}
	}
}

func TestDivisionByZeroYieldsNaNNotError(t *testing.T) {
	got := mustEval(t, bin("/", lit(value.Integer(1)), lit(value.Integer(0))), mapTuple{})
	if got.Kind != value.KindFloat || !math.IsNaN(got.F) {
		t.Errorf("1/0 should evaluate to Float NaN, got %v", got)
	}
}

func TestNullPropagatesThroughArithmeticAndComparison(t *testing.T) {
	row := mapTuple{"a": value.Null()}
	got := mustEval(t, bin("+", col("a"), lit(value.Integer(1))), row)
	if !got.IsNull() {
		t.Errorf("NULL + 1 should be NULL, got %v", got)
	}
	got = mustEval(t, bin("=", col("a"), lit(value.Integer(1))), row)
	if !got.IsNull() {
		t.Errorf("NULL = 1 should be NULL, got %v", got)
	}
}

func TestThreeValuedAndShortCircuitsOnFalse(t *testing.T) {
	row := mapTuple{"a": value.Null()}
	// FALSE AND NULL is definitely FALSE, not NULL.
	got := mustEval(t, bin("AND", lit(value.Integer(0)), col("a")), row)
	if got.Kind != value.KindInteger || got.I != 0 {
		t.Errorf("FALSE AND NULL should be FALSE, got %v", got)
	}
}

func TestThreeValuedOrShortCircuitsOnTrue(t *testing.T) {
	row := mapTuple{"a": value.Null()}
	// TRUE OR NULL is definitely TRUE.
	got := mustEval(t, bin("OR", lit(value.Integer(1)), col("a")), row)
	if got.Kind != value.KindInteger || got.I != 1 {
		t.Errorf("TRUE OR NULL should be TRUE, got %v", got)
	}
}

func TestThreeValuedAndOfTrueAndNullIsNull(t *testing.T) {
	row := mapTuple{"a": value.Null()}
	got := mustEval(t, bin("AND", lit(value.Integer(1)), col("a")), row)
	if !got.IsNull() {
		t.Errorf("TRUE AND NULL should be NULL, got %v", got)
	}
}

func TestIsNullExpr(t *testing.T) {
	row := mapTuple{"a": value.Null(), "b": value.Integer(1)}
	got := mustEval(t, &ast.IsNullExpr{Expr: col("a")}, row)
	if got.I != 1 {
		t.Errorf("a IS NULL should be TRUE, got %v", got)
	}
	got = mustEval(t, &ast.IsNullExpr{Expr: col("b"), Not: true}, row)
	if got.I != 1 {
		t.Errorf("b IS NOT NULL should be TRUE, got %v", got)
	}
}

func TestInExprWithNullInListMakesNonMatchUndecidable(t *testing.T) {
	row := mapTuple{"a": value.Integer(5)}
	expr := &ast.InExpr{Expr: col("a"), List: []ast.Expr{lit(value.Integer(1)), lit(value.Null())}}
	got := mustEval(t, expr, row)
	if !got.IsNull() {
		t.Errorf("5 IN (1, NULL) should be NULL (not found, but NULL present), got %v", got)
	}
}

func TestInExprMatchIgnoresTrailingNull(t *testing.T) {
	row := mapTuple{"a": value.Integer(1)}
	expr := &ast.InExpr{Expr: col("a"), List: []ast.Expr{lit(value.Integer(1)), lit(value.Null())}}
	got := mustEval(t, expr, row)
	if got.I != 1 {
		t.Errorf("1 IN (1, NULL) should be TRUE, got %v", got)
	}
}

func TestLikeMatchWildcards(t *testing.T) {
	cases := []struct {
		s, p string
		want bool
	}{
		{"hello", "h%", true},
		{"hello", "%llo", true},
		{"hello", "h_llo", true},
		{"hello", "h_lo", false},
		{"hello", "world", false},
	}
	for _, c := range cases {
		got := mustEval(t, bin("LIKE", lit(value.String(c.s)), lit(value.String(c.p))), mapTuple{})
		if (got.I == 1) != c.want {
			t.Errorf("LIKE(%q, %q) = %v, want %v", c.s, c.p, got, c.want)
		}
	}
}

func TestScalarFunctions(t *testing.T) {
	upper := mustEval(t, &ast.FuncCall{Name: "UPPER", Args: []ast.Expr{lit(value.String("abc"))}}, mapTuple{})
	if upper.String() != "ABC" {
		t.Errorf("UPPER('abc') = %v, want ABC", upper)
	}
	length := mustEval(t, &ast.FuncCall{Name: "LENGTH", Args: []ast.Expr{lit(value.String("abc"))}}, mapTuple{})
	if length.I != 3 {
		t.Errorf("LENGTH('abc') = %v, want 3", length)
	}
	concat := mustEval(t, &ast.FuncCall{Name: "CONCAT", Args: []ast.Expr{lit(value.String("a")), lit(value.String("b"))}}, mapTuple{})
	if concat.String() != "ab" {
		t.Errorf("CONCAT('a','b') = %v, want ab", concat)
	}
}

func TestCoerceForColumnTurnsNaNIntoNull(t *testing.T) {
	got := CoerceForColumn(value.Float(math.NaN()))
	if !got.IsNull() {
		t.Errorf("NaN should coerce to NULL, got %v", got)
	}
	got = CoerceForColumn(value.Integer(5))
	if got.I != 5 {
		t.Errorf("non-NaN value should pass through unchanged, got %v", got)
	}
}

func TestJSONAccessors(t *testing.T) {
	doc := lit(value.JSON(`{"a":{"b":5},"c":"hi"}`))
	got := mustEval(t, &ast.FuncCall{Name: "JSON_EXTRACT", Args: []ast.Expr{doc, lit(value.String("$.a.b"))}}, mapTuple{})
	if got.I != 5 {
		t.Errorf("JSON_EXTRACT($.a.b) = %v, want 5", got)
	}
	got = mustEval(t, &ast.FuncCall{Name: "JSON_EXTRACT", Args: []ast.Expr{doc, lit(value.String("$.missing"))}}, mapTuple{})
	if !got.IsNull() {
		t.Errorf("JSON_EXTRACT of a missing path should be NULL, got %v", got)
	}
	typ := mustEval(t, &ast.FuncCall{Name: "JSON_TYPE", Args: []ast.Expr{doc}}, mapTuple{})
	if typ.String() != "OBJECT" {
		t.Errorf("JSON_TYPE(object) = %v, want OBJECT", typ)
	}
}

func TestIsAggregate(t *testing.T) {
	for _, name := range []string{"COUNT", "SUM", "AVG", "MIN", "MAX", "count"} {
		if !IsAggregate(name) {
			t.Errorf("IsAggregate(%q) should be true", name)
		}
	}
	if IsAggregate("UPPER") {
		t.Errorf("IsAggregate(UPPER) should be false")
	}
}
