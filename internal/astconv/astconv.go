// Package astconv bridges github.com/pingcap/tidb/pkg/parser's AST into
// internal/ast, the only tree the executor and evaluator know about
// (spec.md §4.1, §4.6). The walk-each-node-type-into-our-own-shape style
// is grounded directly on Pieczasz-smf/internal/parser/mysql/parser.go's
// Parser.Parse / convertCreateTable. Literals, including DEFAULT values,
// are read from the parser's value nodes directly; no node is restored
// to SQL text and re-parsed.
package astconv

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	tiast "github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"github.com/minisql/minisql/internal/ast"
	"github.com/minisql/minisql/internal/errs"
	"github.com/minisql/minisql/internal/value"
)

// Converter parses SQL text into MiniSQL's own statement tree.
type Converter struct {
	p *parser.Parser
}

// New creates a Converter with its own tidb parser instance (not safe
// for concurrent Parse calls, same restriction the tidb parser itself
// documents; callers keep one Converter per connection).
func New() *Converter {
	return &Converter{p: parser.New()}
}

// Parse converts a single SQL statement's text into an ast.Statement.
// VACUUM is not part of the tidb grammar, so it is recognized as a
// special case before handing anything to the parser (spec.md §4.1).
func (c *Converter) Parse(sql string) (ast.Statement, error) {
	if stmt, ok := parseVacuum(sql); ok {
		return stmt, nil
	}

	stmtNodes, _, err := c.p.Parse(sql, "", "")
	if err != nil {
		return nil, errs.Wrap(errs.KindSQLSyntax, "parse error", err)
	}
	if len(stmtNodes) == 0 {
		return nil, errs.New(errs.KindSQLSyntax, "empty statement")
	}
	if len(stmtNodes) > 1 {
		return nil, errs.New(errs.KindSQLSyntax, "only one statement per request is supported")
	}
	return convertStmt(stmtNodes[0])
}

func parseVacuum(sql string) (ast.Statement, bool) {
	trimmed := strings.TrimSpace(sql)
	trimmed = strings.TrimSuffix(trimmed, ";")
	fields := strings.Fields(trimmed)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "VACUUM") {
		return nil, false
	}
	table := ""
	if len(fields) > 1 {
		table = fields[1]
	}
	return &ast.VacuumStmt{Table: table}, true
}

func convertStmt(node tiast.StmtNode) (ast.Statement, error) {
	switch s := node.(type) {
	case *tiast.CreateTableStmt:
		return convertCreateTable(s)
	case *tiast.DropTableStmt:
		return convertDropTable(s)
	case *tiast.AlterTableStmt:
		return convertAlterTable(s)
	case *tiast.CreateIndexStmt:
		return convertCreateIndex(s)
	case *tiast.InsertStmt:
		return convertInsert(s)
	case *tiast.UpdateStmt:
		return convertUpdate(s)
	case *tiast.DeleteStmt:
		return convertDelete(s)
	case *tiast.SelectStmt:
		return convertSelect(s)
	case *tiast.BeginStmt:
		return &ast.BeginStmt{}, nil
	case *tiast.CommitStmt:
		return &ast.CommitStmt{}, nil
	case *tiast.RollbackStmt:
		return &ast.RollbackStmt{}, nil
	case *tiast.ShowStmt:
		if s.Tp == tiast.ShowEngines {
			return &ast.ShowEnginesStmt{}, nil
		}
		return nil, errs.New(errs.KindSQLSyntax, "unsupported SHOW statement")
	default:
		return nil, errs.New(errs.KindSQLSyntax, fmt.Sprintf("unsupported statement: %T", node))
	}
}

// --- DDL ---

func convertCreateTable(s *tiast.CreateTableStmt) (ast.Statement, error) {
	stmt := &ast.CreateTableStmt{
		Table:      s.Table.Name.O,
		IfNotExist: s.IfNotExists,
	}
	for _, opt := range s.Options {
		if opt.Tp == tiast.TableOptionEngine {
			stmt.Engine = strings.ToUpper(opt.StrValue)
		}
	}

	pkCols := map[string]bool{}
	for _, cons := range s.Constraints {
		if cons.Tp == tiast.ConstraintPrimaryKey {
			for _, key := range cons.Keys {
				pkCols[strings.ToLower(key.Column.Name.O)] = true
			}
		}
	}

	for _, col := range s.Cols {
		cd := ast.ColumnDef{
			Name: col.Name.Name.O,
			Type: col.Tp.String(),
		}
		if pkCols[strings.ToLower(cd.Name)] {
			cd.PrimaryKey = true
			cd.NotNull = true
		}
		for _, opt := range col.Options {
			switch opt.Tp {
			case tiast.ColumnOptionNotNull:
				cd.NotNull = true
			case tiast.ColumnOptionPrimaryKey:
				cd.PrimaryKey = true
				cd.NotNull = true
			case tiast.ColumnOptionUniqKey:
				cd.Unique = true
			case tiast.ColumnOptionAutoIncrement:
				cd.AutoIncrement = true
			case tiast.ColumnOptionDefaultValue:
				expr, err := convertExpr(opt.Expr)
				if err != nil {
					return nil, err
				}
				cd.Default = expr
			}
		}
		stmt.Columns = append(stmt.Columns, cd)
	}

	for _, cons := range s.Constraints {
		switch cons.Tp {
		case tiast.ConstraintUniq, tiast.ConstraintUniqKey, tiast.ConstraintUniqIndex:
			idx := ast.IndexDef{Name: cons.Name, Unique: true}
			for _, key := range cons.Keys {
				idx.Columns = append(idx.Columns, key.Column.Name.O)
			}
			stmt.Indexes = append(stmt.Indexes, idx)
		case tiast.ConstraintIndex, tiast.ConstraintKey:
			idx := ast.IndexDef{Name: cons.Name}
			for _, key := range cons.Keys {
				idx.Columns = append(idx.Columns, key.Column.Name.O)
			}
			stmt.Indexes = append(stmt.Indexes, idx)
		}
	}
	return stmt, nil
}

func convertDropTable(s *tiast.DropTableStmt) (ast.Statement, error) {
	if len(s.Tables) != 1 {
		return nil, errs.New(errs.KindSQLSyntax, "DROP TABLE supports exactly one table")
	}
	return &ast.DropTableStmt{Table: s.Tables[0].Name.O, IfExists: s.IfExists}, nil
}

func convertAlterTable(s *tiast.AlterTableStmt) (ast.Statement, error) {
	for _, spec := range s.Specs {
		if spec.Tp != tiast.AlterTableOption {
			continue
		}
		for _, opt := range spec.Options {
			if opt.Tp == tiast.TableOptionEngine {
				return &ast.AlterTableEngineStmt{Table: s.Table.Name.O, Engine: strings.ToUpper(opt.StrValue)}, nil
			}
		}
	}
	return nil, errs.New(errs.KindSQLSyntax, "only ALTER TABLE ... ENGINE = ... is supported")
}

func convertCreateIndex(s *tiast.CreateIndexStmt) (ast.Statement, error) {
	stmt := &ast.CreateIndexStmt{
		Name:   s.IndexName,
		Table:  s.Table.Name.O,
		Unique: s.KeyType == tiast.IndexKeyTypeUnique,
	}
	for _, part := range s.IndexPartSpecifications {
		if part.Column != nil {
			stmt.Columns = append(stmt.Columns, part.Column.Name.O)
		}
	}
	return stmt, nil
}

// --- DML ---

func convertInsert(s *tiast.InsertStmt) (ast.Statement, error) {
	tn, err := tableNameFromRefs(s.Table)
	if err != nil {
		return nil, err
	}
	stmt := &ast.InsertStmt{Table: tn}
	for _, col := range s.Columns {
		stmt.Columns = append(stmt.Columns, col.Name.O)
	}
	for _, row := range s.Lists {
		exprRow := make([]ast.Expr, len(row))
		for i, e := range row {
			conv, err := convertExpr(e)
			if err != nil {
				return nil, err
			}
			exprRow[i] = conv
		}
		stmt.Rows = append(stmt.Rows, exprRow)
	}
	return stmt, nil
}

func convertUpdate(s *tiast.UpdateStmt) (ast.Statement, error) {
	tn, err := tableNameFromRefs(s.TableRefs.TableRefs)
	if err != nil {
		return nil, err
	}
	stmt := &ast.UpdateStmt{Table: tn}
	for _, a := range s.List {
		v, err := convertExpr(a.Expr)
		if err != nil {
			return nil, err
		}
		stmt.Assignments = append(stmt.Assignments, ast.Assignment{Column: a.Column.Name.O, Value: v})
	}
	if s.Where != nil {
		w, err := convertExpr(s.Where)
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}
	return stmt, nil
}

func convertDelete(s *tiast.DeleteStmt) (ast.Statement, error) {
	tn, err := tableNameFromRefs(s.TableRefs.TableRefs)
	if err != nil {
		return nil, err
	}
	stmt := &ast.DeleteStmt{Table: tn}
	if s.Where != nil {
		w, err := convertExpr(s.Where)
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}
	return stmt, nil
}

// --- SELECT ---

func convertSelect(s *tiast.SelectStmt) (ast.Statement, error) {
	stmt := &ast.SelectStmt{}

	if s.From != nil {
		from, joins, err := flattenJoins(s.From.TableRefs)
		if err != nil {
			return nil, err
		}
		stmt.From = from
		stmt.Joins = joins
	}

	if s.Fields != nil {
		for _, field := range s.Fields.Fields {
			item, err := convertSelectField(field)
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, item)
		}
	}

	if s.Where != nil {
		w, err := convertExpr(s.Where)
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}

	if s.GroupBy != nil {
		for _, item := range s.GroupBy.Items {
			e, err := convertExpr(item.Expr)
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, e)
		}
	}

	if s.OrderBy != nil {
		for _, item := range s.OrderBy.Items {
			e, err := convertExpr(item.Expr)
			if err != nil {
				return nil, err
			}
			stmt.OrderBy = append(stmt.OrderBy, ast.OrderItem{Expr: e, Desc: item.Desc})
		}
	}

	if s.Limit != nil && s.Limit.Count != nil {
		v, err := convertExpr(s.Limit.Count)
		if err != nil {
			return nil, err
		}
		if lit, ok := v.(*ast.Literal); ok && lit.Value.Kind == value.KindInteger {
			n := lit.Value.I
			stmt.Limit = &n
		}
	}

	return stmt, nil
}

func convertSelectField(field *tiast.SelectField) (ast.SelectItem, error) {
	if field.WildCard != nil {
		table := ""
		if field.WildCard.Table.L != "" {
			table = field.WildCard.Table.O
		}
		return ast.SelectItem{Expr: &ast.Star{Table: table}}, nil
	}
	e, err := convertExpr(field.Expr)
	if err != nil {
		return ast.SelectItem{}, err
	}
	alias := ""
	if field.AsName.L != "" {
		alias = field.AsName.O
	}
	return ast.SelectItem{Expr: e, Alias: alias}, nil
}

// flattenJoins walks tidb's left-deep *ast.Join tree into a single base
// table plus an ordered list of join clauses, the shape internal/ast's
// SelectStmt models (spec.md §4.2: INNER JOIN chains, no nested
// parenthesized join trees).
func flattenJoins(node tiast.ResultSetNode) (ast.TableRef, []ast.JoinClause, error) {
	join, ok := node.(*tiast.Join)
	if !ok {
		ref, err := tableRefFromSource(node)
		return ref, nil, err
	}
	if join.Right == nil {
		return flattenJoins(join.Left)
	}

	leftRef, leftJoins, err := flattenJoins(join.Left)
	if err != nil {
		return ast.TableRef{}, nil, err
	}
	rightRef, err := tableRefFromSource(join.Right)
	if err != nil {
		return ast.TableRef{}, nil, err
	}
	var on ast.Expr
	if join.On != nil {
		on, err = convertExpr(join.On.Expr)
		if err != nil {
			return ast.TableRef{}, nil, err
		}
	}
	return leftRef, append(leftJoins, ast.JoinClause{Table: rightRef, On: on}), nil
}

func tableRefFromSource(node tiast.ResultSetNode) (ast.TableRef, error) {
	src, ok := node.(*tiast.TableSource)
	if !ok {
		return ast.TableRef{}, errs.New(errs.KindSQLSyntax, "unsupported table reference")
	}
	tn, ok := src.Source.(*tiast.TableName)
	if !ok {
		return ast.TableRef{}, errs.New(errs.KindSQLSyntax, "subqueries are not supported")
	}
	alias := ""
	if src.AsName.L != "" {
		alias = src.AsName.O
	}
	return ast.TableRef{Name: tn.Name.O, Alias: alias}, nil
}

func tableNameFromRefs(node tiast.ResultSetNode) (string, error) {
	ref, _, err := flattenJoins(node)
	if err != nil {
		return "", err
	}
	return ref.Name, nil
}

// --- Expressions ---

func convertExpr(node tiast.ExprNode) (ast.Expr, error) {
	switch e := node.(type) {
	case nil:
		return nil, nil
	case *tiast.ParenthesesExpr:
		return convertExpr(e.Expr)
	case *tiast.BinaryOperationExpr:
		return convertBinary(e)
	case *tiast.UnaryOperationExpr:
		return convertUnary(e)
	case *tiast.IsNullExpr:
		inner, err := convertExpr(e.Expr)
		if err != nil {
			return nil, err
		}
		return &ast.IsNullExpr{Expr: inner, Not: e.Not}, nil
	case *tiast.PatternInExpr:
		inner, err := convertExpr(e.Expr)
		if err != nil {
			return nil, err
		}
		list := make([]ast.Expr, len(e.List))
		for i, item := range e.List {
			v, err := convertExpr(item)
			if err != nil {
				return nil, err
			}
			list[i] = v
		}
		return &ast.InExpr{Expr: inner, List: list, Not: e.Not}, nil
	case *tiast.PatternLikeOrIlikeExpr:
		left, err := convertExpr(e.Expr)
		if err != nil {
			return nil, err
		}
		right, err := convertExpr(e.Pattern)
		if err != nil {
			return nil, err
		}
		bin := &ast.BinaryExpr{Op: "LIKE", Left: left, Right: right}
		if e.Not {
			return &ast.UnaryExpr{Op: "NOT", Expr: bin}, nil
		}
		return bin, nil
	case *tiast.ColumnNameExpr:
		table := ""
		if e.Name.Table.L != "" {
			table = e.Name.Table.O
		}
		return &ast.ColumnRef{Table: table, Name: e.Name.Name.O}, nil
	case *tiast.AggregateFuncExpr:
		args := make([]ast.Expr, 0, len(e.Args))
		star := false
		for _, a := range e.Args {
			if _, ok := a.(*tiast.WildCardField); ok {
				star = true
				continue
			}
			v, err := convertExpr(a)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return &ast.FuncCall{Name: strings.ToUpper(e.F), Args: args, Star: star}, nil
	case *tiast.FuncCallExpr:
		args := make([]ast.Expr, len(e.Args))
		for i, a := range e.Args {
			v, err := convertExpr(a)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return &ast.FuncCall{Name: strings.ToUpper(e.FnName.O), Args: args}, nil
	default:
		return convertLiteral(node)
	}
}

// convertLiteral handles the test_driver.ValueExpr literal node and any
// other leaf expression that exposes GetValue, converting the parser's
// value straight into a value.Value; any other node is rejected as an
// unsupported expression.
func convertLiteral(node tiast.ExprNode) (ast.Expr, error) {
	ve, ok := node.(interface{ GetValue() interface{} })
	if !ok {
		return nil, errs.New(errs.KindSQLSyntax, fmt.Sprintf("unsupported expression: %T", node))
	}
	return &ast.Literal{Value: valueFromDatum(ve.GetValue())}, nil
}

func valueFromDatum(v interface{}) value.Value {
	switch x := v.(type) {
	case nil:
		return value.Null()
	case int64:
		return value.Integer(x)
	case uint64:
		return value.Integer(int64(x))
	case float64:
		return value.Float(x)
	case string:
		return value.String(x)
	case []byte:
		return value.Bytes(x)
	default:
		return value.Null()
	}
}

func convertBinary(e *tiast.BinaryOperationExpr) (ast.Expr, error) {
	left, err := convertExpr(e.L)
	if err != nil {
		return nil, err
	}
	right, err := convertExpr(e.R)
	if err != nil {
		return nil, err
	}
	op, err := binaryOp(e.Op)
	if err != nil {
		return nil, err
	}
	return &ast.BinaryExpr{Op: op, Left: left, Right: right}, nil
}

func convertUnary(e *tiast.UnaryOperationExpr) (ast.Expr, error) {
	inner, err := convertExpr(e.V)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case opcode.Minus:
		return &ast.UnaryExpr{Op: "-", Expr: inner}, nil
	case opcode.Not, opcode.Not2:
		return &ast.UnaryExpr{Op: "NOT", Expr: inner}, nil
	default:
		return nil, errs.New(errs.KindSQLSyntax, fmt.Sprintf("unsupported unary operator: %v", e.Op))
	}
}

func binaryOp(op opcode.Op) (string, error) {
	switch op {
	case opcode.Plus:
		return "+", nil
	case opcode.Minus:
		return "-", nil
	case opcode.Mul:
		return "*", nil
	case opcode.Div:
		return "/", nil
	case opcode.EQ:
		return "=", nil
	case opcode.NE:
		return "<>", nil
	case opcode.LT:
		return "<", nil
	case opcode.LE:
		return "<=", nil
	case opcode.GT:
		return ">", nil
	case opcode.GE:
		return ">=", nil
	case opcode.LogicAnd:
		return "AND", nil
	case opcode.LogicOr:
		return "OR", nil
	default:
		return "", errs.New(errs.KindSQLSyntax, fmt.Sprintf("unsupported operator: %v", op))
	}
}
