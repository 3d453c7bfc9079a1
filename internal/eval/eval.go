// Package eval implements the expression evaluator: arithmetic,
// comparison, logical (three-valued), IN/NOT IN, IS NULL, LIKE, and a
// small set of scalar functions, all with the NULL-propagation and
// type-coercion rules of spec.md §4.3. Aggregate functions (COUNT, SUM,
// AVG, MIN, MAX) are evaluated by the executor's hash-aggregation plan
// step, not here, since they need the whole group rather than one row.
package eval

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/minisql/minisql/internal/ast"
	"github.com/minisql/minisql/internal/value"
)

// Tuple resolves a (table, column) reference to a Value for the row
// currently being evaluated. Table is "" when the reference is
// unqualified; implementations should resolve it unambiguously or
// return an error via the second bool being false and letting the
// caller report "column not found".
type Tuple interface {
	Column(table, name string) (value.Value, bool)
}

// Eval evaluates expr against row. Every arithmetic/comparison/function
// operand that is NULL yields NULL, except IS NULL/IS NOT NULL and the
// logical operators' three-valued truth table (spec.md §4.3).
func Eval(expr ast.Expr, row Tuple) (value.Value, error) {
	switch e := expr.(type) {
	case *ast.Literal:
		return e.Value, nil

	case *ast.ColumnRef:
		v, ok := row.Column(e.Table, e.Name)
		if !ok {
			return value.Value{}, fmt.Errorf("column not found: %s", qualify(e.Table, e.Name))
		}
		return v, nil

	case *ast.UnaryExpr:
		return evalUnary(e, row)

	case *ast.BinaryExpr:
		return evalBinary(e, row)

	case *ast.IsNullExpr:
		v, err := Eval(e.Expr, row)
		if err != nil {
			return value.Value{}, err
		}
		result := v.IsNull()
		if e.Not {
			result = !result
		}
		return value.Integer(boolToInt(result)), nil

	case *ast.InExpr:
		return evalIn(e, row)

	case *ast.FuncCall:
		return evalFunc(e, row)

	default:
		return value.Value{}, fmt.Errorf("eval: unsupported expression %T", expr)
	}
}

func qualify(table, name string) string {
	if table == "" {
		return name
	}
	return table + "." + name
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// truthy interprets an Integer Value as a three-valued truth: 0 is
// false, nonzero is true, NULL is NULL (represented as (false, false)
// i.e. "unknown").
func truthy(v value.Value) (known, result bool) {
	if v.IsNull() {
		return false, false
	}
	switch v.Kind {
	case value.KindInteger:
		return true, v.I != 0
	case value.KindFloat:
		return true, v.F != 0
	default:
		return true, true
	}
}

func evalUnary(e *ast.UnaryExpr, row Tuple) (value.Value, error) {
	v, err := Eval(e.Expr, row)
	if err != nil {
		return value.Value{}, err
	}
	switch strings.ToUpper(e.Op) {
	case "NOT":
		known, b := truthy(v)
		if !known {
			return value.Null(), nil
		}
		return value.Integer(boolToInt(!b)), nil
	case "-":
		if v.IsNull() {
			return value.Null(), nil
		}
		switch v.Kind {
		case value.KindInteger:
			return value.Integer(-v.I), nil
		case value.KindFloat:
			return value.Float(-v.F), nil
		default:
			return value.Value{}, fmt.Errorf("eval: cannot negate %s", v.Kind)
		}
	default:
		return value.Value{}, fmt.Errorf("eval: unsupported unary operator %q", e.Op)
	}
}

func evalBinary(e *ast.BinaryExpr, row Tuple) (value.Value, error) {
	op := strings.ToUpper(e.Op)

	// Logical operators implement three-valued logic directly and must
	// short-circuit on a definite AND-false/OR-true before propagating
	// NULL (spec.md §4.3).
	if op == "AND" || op == "OR" {
		return evalLogical(op, e.Left, e.Right, row)
	}

	l, err := Eval(e.Left, row)
	if err != nil {
		return value.Value{}, err
	}
	r, err := Eval(e.Right, row)
	if err != nil {
		return value.Value{}, err
	}
	if op == "LIKE" {
		if l.IsNull() || r.IsNull() {
			return value.Null(), nil
		}
		return value.Integer(boolToInt(likeMatch(l.String(), r.String()))), nil
	}
	if l.IsNull() || r.IsNull() {
		return value.Null(), nil
	}

	switch op {
	case "+", "-", "*", "/":
		return arith(op, l, r)
	case "=", "<>", "<", "<=", ">", ">=":
		return compare(op, l, r)
	default:
		return value.Value{}, fmt.Errorf("eval: unsupported binary operator %q", e.Op)
	}
}

func evalLogical(op string, left, right ast.Expr, row Tuple) (value.Value, error) {
	lv, err := Eval(left, row)
	if err != nil {
		return value.Value{}, err
	}
	lKnown, lb := truthy(lv)
	if op == "AND" && lKnown && !lb {
		return value.Integer(0), nil
	}
	if op == "OR" && lKnown && lb {
		return value.Integer(1), nil
	}
	rv, err := Eval(right, row)
	if err != nil {
		return value.Value{}, err
	}
	rKnown, rb := truthy(rv)
	if op == "AND" && rKnown && !rb {
		return value.Integer(0), nil
	}
	if op == "OR" && rKnown && rb {
		return value.Integer(1), nil
	}
	if !lKnown || !rKnown {
		return value.Null(), nil
	}
	if op == "AND" {
		return value.Integer(boolToInt(lb && rb)), nil
	}
	return value.Integer(boolToInt(lb || rb)), nil
}

// arith implements spec.md §4.3's coercion table: Integer⊕Integer stays
// Integer except division, which is Integer only when the quotient is
// exact; any Float operand makes the result Float; division by zero
// yields Float NaN at the expression level, never an error.
func arith(op string, l, r value.Value) (value.Value, error) {
	bothInt := l.Kind == value.KindInteger && r.Kind == value.KindInteger
	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if !lok || !rok {
		return value.Value{}, fmt.Errorf("eval: non-numeric operand to %q", op)
	}

	if op == "/" {
		if rf == 0 {
			return value.Float(math.NaN()), nil
		}
		if bothInt && l.I%r.I == 0 {
			return value.Integer(l.I / r.I), nil
		}
		return value.Float(lf / rf), nil
	}

	if bothInt {
		switch op {
		case "+":
			return value.Integer(l.I + r.I), nil
		case "-":
			return value.Integer(l.I - r.I), nil
		case "*":
			return value.Integer(l.I * r.I), nil
		}
	}
	switch op {
	case "+":
		return value.Float(lf + rf), nil
	case "-":
		return value.Float(lf - rf), nil
	case "*":
		return value.Float(lf * rf), nil
	}
	return value.Value{}, fmt.Errorf("eval: unreachable arithmetic operator %q", op)
}

func asFloat(v value.Value) (float64, bool) {
	switch v.Kind {
	case value.KindInteger:
		return float64(v.I), true
	case value.KindFloat:
		return v.F, true
	default:
		return 0, false
	}
}

// compare implements spec.md §4.3's ordering rules via value.Compare,
// which already totally orders every Value pair including cross-type.
func compare(op string, l, r value.Value) (value.Value, error) {
	c := value.Compare(l, r)
	var result bool
	switch op {
	case "=":
		result = c == 0
	case "<>":
		result = c != 0
	case "<":
		result = c < 0
	case "<=":
		result = c <= 0
	case ">":
		result = c > 0
	case ">=":
		result = c >= 0
	default:
		return value.Value{}, fmt.Errorf("eval: unsupported comparison operator %q", op)
	}
	return value.Integer(boolToInt(result)), nil
}

// evalIn implements spec.md §4.3: "IN (v1, v2, ...) is equivalent to
// e=v1 OR e=v2 OR ... with three-valued logic; NOT IN is the negation,
// so any NULL in the list makes a non-match undecidable (NULL)."
func evalIn(e *ast.InExpr, row Tuple) (value.Value, error) {
	lv, err := Eval(e.Expr, row)
	if err != nil {
		return value.Value{}, err
	}
	if lv.IsNull() {
		return value.Null(), nil
	}
	sawNull := false
	matched := false
	for _, item := range e.List {
		rv, err := Eval(item, row)
		if err != nil {
			return value.Value{}, err
		}
		if rv.IsNull() {
			sawNull = true
			continue
		}
		if value.Compare(lv, rv) == 0 {
			matched = true
			break
		}
	}
	var result value.Value
	switch {
	case matched:
		result = value.Integer(1)
	case sawNull:
		result = value.Null()
	default:
		result = value.Integer(0)
	}
	if e.Not {
		if result.IsNull() {
			return value.Null(), nil
		}
		return value.Integer(boolToInt(result.I == 0)), nil
	}
	return result, nil
}

// likeMatch implements SQL LIKE with "%" (any run) and "_" (any single
// character) wildcards.
func likeMatch(s, pattern string) bool {
	return likeMatchRunes([]rune(s), []rune(pattern))
}

func likeMatchRunes(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		if likeMatchRunes(s, p[1:]) {
			return true
		}
		for i := range s {
			if likeMatchRunes(s[i+1:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return likeMatchRunes(s[1:], p[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return likeMatchRunes(s[1:], p[1:])
	}
}

func evalFunc(e *ast.FuncCall, row Tuple) (value.Value, error) {
	name := strings.ToUpper(e.Name)
	args := make([]value.Value, 0, len(e.Args))
	for _, a := range e.Args {
		v, err := Eval(a, row)
		if err != nil {
			return value.Value{}, err
		}
		args = append(args, v)
	}
	switch name {
	case "UPPER":
		if len(args) != 1 || args[0].IsNull() {
			return value.Null(), nil
		}
		return value.String(strings.ToUpper(args[0].String())), nil
	case "LOWER":
		if len(args) != 1 || args[0].IsNull() {
			return value.Null(), nil
		}
		return value.String(strings.ToLower(args[0].String())), nil
	case "LENGTH":
		if len(args) != 1 || args[0].IsNull() {
			return value.Null(), nil
		}
		return value.Integer(int64(len(args[0].String()))), nil
	case "CONCAT":
		var sb strings.Builder
		for _, a := range args {
			if a.IsNull() {
				return value.Null(), nil
			}
			sb.WriteString(a.String())
		}
		return value.String(sb.String()), nil
	case "JSON_EXTRACT":
		if len(args) != 2 || args[0].IsNull() || args[1].IsNull() {
			return value.Null(), nil
		}
		return jsonExtract(args[0].String(), args[1].String())
	case "JSON_TYPE":
		if len(args) != 1 || args[0].IsNull() {
			return value.Null(), nil
		}
		return jsonType(args[0].String())
	default:
		return value.Value{}, fmt.Errorf("eval: unknown function %q", e.Name)
	}
}

// jsonExtract implements a minimal MySQL JSON_EXTRACT: a leading "$."
// dotted path of object keys, no array indexing, returning SQL NULL for
// a path that does not resolve (spec.md §4.3 "JSON accessors").
func jsonExtract(raw, path string) (value.Value, error) {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return value.Value{}, fmt.Errorf("eval: JSON_EXTRACT: invalid json: %w", err)
	}
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	cur := doc
	if path != "" {
		for _, key := range strings.Split(path, ".") {
			m, ok := cur.(map[string]any)
			if !ok {
				return value.Null(), nil
			}
			cur, ok = m[key]
			if !ok {
				return value.Null(), nil
			}
		}
	}
	return jsonValueToValue(cur)
}

func jsonValueToValue(v any) (value.Value, error) {
	switch t := v.(type) {
	case nil:
		return value.Null(), nil
	case float64:
		if t == math.Trunc(t) {
			return value.Integer(int64(t)), nil
		}
		return value.Float(t), nil
	case string:
		return value.String(t), nil
	case bool:
		if t {
			return value.Integer(1), nil
		}
		return value.Integer(0), nil
	default:
		enc, err := json.Marshal(t)
		if err != nil {
			return value.Value{}, fmt.Errorf("eval: JSON_EXTRACT: re-encode: %w", err)
		}
		return value.JSON(string(enc)), nil
	}
}

// jsonType implements MySQL JSON_TYPE, reporting the top-level shape of
// a JSON document as an uppercase string.
func jsonType(raw string) (value.Value, error) {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return value.Value{}, fmt.Errorf("eval: JSON_TYPE: invalid json: %w", err)
	}
	switch doc.(type) {
	case nil:
		return value.String("NULL"), nil
	case bool:
		return value.String("BOOLEAN"), nil
	case float64:
		return value.String("DOUBLE"), nil
	case string:
		return value.String("STRING"), nil
	case []any:
		return value.String("ARRAY"), nil
	case map[string]any:
		return value.String("OBJECT"), nil
	default:
		return value.String("STRING"), nil
	}
}

// CoerceForColumn applies spec.md §4.3's storage-time coercion: NaN and
// ±Inf Float results become NULL before a constraint check runs.
func CoerceForColumn(v value.Value) value.Value {
	if v.IsNaNOrInf() {
		return value.Null()
	}
	return v
}

// IsAggregate reports whether a FuncCall names one of the aggregate
// functions the executor's hash-aggregation plan step evaluates
// (spec.md §4.1).
func IsAggregate(name string) bool {
	switch strings.ToUpper(name) {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return true
	default:
		return false
	}
}
