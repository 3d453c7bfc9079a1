// Package ast defines MiniSQL's own statement and expression tree — the
// shape the Executor and Evaluator consume (spec.md §4.1). It is
// produced by internal/astconv from a third-party parser's AST, which
// keeps the third-party parser's types out of every other package
// (spec.md §4.6).
package ast

import "github.com/minisql/minisql/internal/value"

// Statement is any top-level SQL statement the Executor accepts
// (spec.md §4.1).
type Statement interface{ isStatement() }

type ColumnDef struct {
	Name          string
	Type          string
	NotNull       bool
	PrimaryKey    bool
	Unique        bool
	AutoIncrement bool
	Default       Expr
}

type IndexDef struct {
	Name    string
	Columns []string
	Unique  bool
}

type CreateTableStmt struct {
	Table      string
	IfNotExist bool
	Columns    []ColumnDef
	Indexes    []IndexDef
	Engine     string // "" means default (Granite)
}

func (*CreateTableStmt) isStatement() {}

type DropTableStmt struct {
	Table    string
	IfExists bool
}

func (*DropTableStmt) isStatement() {}

type AlterTableEngineStmt struct {
	Table  string
	Engine string
}

func (*AlterTableEngineStmt) isStatement() {}

type CreateIndexStmt struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

func (*CreateIndexStmt) isStatement() {}

type InsertStmt struct {
	Table   string
	Columns []string // empty means "all columns in schema order"
	Rows    [][]Expr
}

func (*InsertStmt) isStatement() {}

type Assignment struct {
	Column string
	Value  Expr
}

type UpdateStmt struct {
	Table       string
	Assignments []Assignment
	Where       Expr
}

func (*UpdateStmt) isStatement() {}

type DeleteStmt struct {
	Table string
	Where Expr
}

func (*DeleteStmt) isStatement() {}

type SelectItem struct {
	Expr  Expr
	Alias string
}

type TableRef struct {
	Name  string
	Alias string
}

type JoinClause struct {
	Table TableRef
	On    Expr
}

type OrderItem struct {
	Expr Expr
	Desc bool
}

type SelectStmt struct {
	Columns []SelectItem
	From    TableRef
	Joins   []JoinClause
	Where   Expr
	GroupBy []Expr
	OrderBy []OrderItem
	Limit   *int64
}

func (*SelectStmt) isStatement() {}

type BeginStmt struct{}

func (*BeginStmt) isStatement() {}

type CommitStmt struct{}

func (*CommitStmt) isStatement() {}

type RollbackStmt struct{}

func (*RollbackStmt) isStatement() {}

type VacuumStmt struct{ Table string } // empty Table means every table

func (*VacuumStmt) isStatement() {}

type ShowEnginesStmt struct{}

func (*ShowEnginesStmt) isStatement() {}

// Expr is any scalar or boolean expression node (spec.md §4.3).
type Expr interface{ isExpr() }

type Literal struct{ Value value.Value }

func (*Literal) isExpr() {}

// ColumnRef names a column, optionally qualified by table/alias (for
// joins). Unqualified when Table == "".
type ColumnRef struct {
	Table string
	Name  string
}

func (*ColumnRef) isExpr() {}

type Star struct{ Table string } // Table == "" means SELECT *

func (*Star) isExpr() {}

// BinaryExpr covers arithmetic, comparison, logical, and LIKE operators:
// "+" "-" "*" "/" "=" "<>" "<" "<=" ">" ">=" "AND" "OR" "LIKE".
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (*BinaryExpr) isExpr() {}

// UnaryExpr covers "NOT" and unary "-".
type UnaryExpr struct {
	Op   string
	Expr Expr
}

func (*UnaryExpr) isExpr() {}

type IsNullExpr struct {
	Expr Expr
	Not  bool
}

func (*IsNullExpr) isExpr() {}

type InExpr struct {
	Expr Expr
	List []Expr
	Not  bool
}

func (*InExpr) isExpr() {}

// FuncCall covers aggregate functions (COUNT, SUM, AVG, MIN, MAX),
// evaluated by the hash-aggregation plan step, and scalar functions,
// evaluated directly by the evaluator (spec.md §4.3).
type FuncCall struct {
	Name string
	Args []Expr
	Star bool // true for COUNT(*)
}

func (*FuncCall) isExpr() {}
