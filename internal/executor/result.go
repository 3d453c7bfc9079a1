// Package executor maps parsed statements onto plans that drive the
// storage engines through the transaction manager (spec.md §4.1). It is
// the layer where the two storage engines, the expression evaluator, and
// the transaction manager meet: the Executor never branches on which
// engine a table uses except at ALTER TABLE ... ENGINE= time (spec.md
// §9).
package executor

import "github.com/minisql/minisql/internal/value"

// ResultKind tags the shape of a QueryResult (spec.md §4.1).
type ResultKind int

const (
	ResultOk ResultKind = iota
	ResultModified
	ResultSelect
)

// QueryResult is the uniform executor output (spec.md §2, §6): Ok for
// DDL/BEGIN/COMMIT/ROLLBACK/VACUUM, Modified for INSERT/UPDATE/DELETE,
// Select for SELECT.
type QueryResult struct {
	Kind         ResultKind
	RowsAffected int64
	LastInsertID int64
	Columns      []string
	Rows         [][]value.Value
}

func ok() QueryResult { return QueryResult{Kind: ResultOk} }

func modified(rowsAffected, lastInsertID int64) QueryResult {
	return QueryResult{Kind: ResultModified, RowsAffected: rowsAffected, LastInsertID: lastInsertID}
}

func selectResult(columns []string, rows [][]value.Value) QueryResult {
	return QueryResult{Kind: ResultSelect, Columns: columns, Rows: rows}
}
