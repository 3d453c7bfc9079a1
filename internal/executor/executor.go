package executor

import (
	"fmt"
	"sort"

	"github.com/minisql/minisql/internal/ast"
	"github.com/minisql/minisql/internal/catalog"
	"github.com/minisql/minisql/internal/errs"
	"github.com/minisql/minisql/internal/schema"
	"github.com/minisql/minisql/internal/session"
	"github.com/minisql/minisql/internal/storage"
	"github.com/minisql/minisql/internal/storage/factory"
	"github.com/minisql/minisql/internal/txn"
	"github.com/minisql/minisql/internal/value"
)

// Executor ties the catalog, transaction manager, and storage engine set
// together (spec.md §2 data flow). It is constructed once per server and
// shared by every session/connection; all mutable state lives in the
// catalog and transaction manager, both already internally synchronized.
type Executor struct {
	Catalog *catalog.Catalog
	Txns    *txn.Manager
	Engines *factory.Set
}

// New constructs an Executor from its three already-open collaborators,
// matching the teacher-derived decision recorded in DESIGN.md that the
// transaction manager and storage engines stay independently constructed
// and are only wired together here, not folded into one combined object.
func New(cat *catalog.Catalog, txns *txn.Manager, engines *factory.Set) *Executor {
	return &Executor{Catalog: cat, Txns: txns, Engines: engines}
}

// engineFor resolves a table's storage.Engine from its schema.
func (e *Executor) engineFor(sch *schema.Schema) (storage.Engine, error) {
	eng, err := e.Engines.Get(sch.Engine)
	if err != nil {
		return nil, errs.Wrap(errs.KindEngineNotEnabled, fmt.Sprintf("engine %q not enabled", sch.Engine), err)
	}
	return eng, nil
}

func (e *Executor) lookupTable(name string) (*schema.Schema, error) {
	sch, ok := e.Catalog.Get(name)
	if !ok {
		return nil, errs.New(errs.KindTableNotFound, fmt.Sprintf("table not found: %s", name))
	}
	return sch, nil
}

// txnContext bundles the active transaction with whether the Executor
// opened it implicitly for this one statement (and must therefore
// commit/rollback it itself before returning).
type txnContext struct {
	t        *txn.Transaction
	implicit bool
}

// beginFor returns the session's active transaction, or begins a new
// implicit one when auto-commit is on and no explicit BEGIN is open
// (spec.md §3 "a transaction ... ends on first statement if auto-commit
// is off" / §4.5).
func (e *Executor) beginFor(sess *session.Session) (*txnContext, error) {
	if t := sess.Txn(); t != nil {
		return &txnContext{t: t, implicit: false}, nil
	}
	t, err := e.Txns.Begin()
	if err != nil {
		return nil, err
	}
	return &txnContext{t: t, implicit: true}, nil
}

// finish commits an implicit transaction on success or rolls it back on
// failure; explicit transactions are left for the session's own
// COMMIT/ROLLBACK, but a failing statement inside one still unwinds its
// own partial writes via UndoLast (spec.md §7 "per-statement savepoint
// implicit in the undo log").
func (e *Executor) finish(tc *txnContext, mark int, statementErr error) error {
	if statementErr != nil {
		if undoErr := tc.t.UndoLast(tc.t.UndoCount() - mark); undoErr != nil {
			return fmt.Errorf("%w (undo also failed: %v)", statementErr, undoErr)
		}
		if tc.implicit {
			return tc.t.Rollback()
		}
		return statementErr
	}
	if tc.implicit {
		return tc.t.Commit()
	}
	return nil
}

// Execute is the single entry point the server/session layer calls
// (spec.md §4.1, §6).
func (e *Executor) Execute(stmt ast.Statement, sess *session.Session) (QueryResult, error) {
	switch s := stmt.(type) {
	case *ast.BeginStmt:
		return e.execBegin(sess)
	case *ast.CommitStmt:
		return e.execCommit(sess)
	case *ast.RollbackStmt:
		return e.execRollback(sess)
	case *ast.CreateTableStmt:
		return e.withImplicitTxn(sess, func(tc *txnContext) (QueryResult, error) { return e.execCreateTable(s, tc) })
	case *ast.DropTableStmt:
		return e.withImplicitTxn(sess, func(tc *txnContext) (QueryResult, error) { return e.execDropTable(s, tc) })
	case *ast.AlterTableEngineStmt:
		return e.withImplicitTxn(sess, func(tc *txnContext) (QueryResult, error) { return e.execAlterEngine(s, tc) })
	case *ast.CreateIndexStmt:
		return e.withImplicitTxn(sess, func(tc *txnContext) (QueryResult, error) { return e.execCreateIndex(s, tc) })
	case *ast.InsertStmt:
		return e.withImplicitTxn(sess, func(tc *txnContext) (QueryResult, error) { return e.execInsert(s, tc, sess) })
	case *ast.UpdateStmt:
		return e.withImplicitTxn(sess, func(tc *txnContext) (QueryResult, error) { return e.execUpdate(s, tc) })
	case *ast.DeleteStmt:
		return e.withImplicitTxn(sess, func(tc *txnContext) (QueryResult, error) { return e.execDelete(s, tc) })
	case *ast.SelectStmt:
		return e.withImplicitTxn(sess, func(tc *txnContext) (QueryResult, error) { return e.execSelect(s, tc) })
	case *ast.VacuumStmt:
		return e.execVacuum(s, sess)
	case *ast.ShowEnginesStmt:
		return e.execShowEngines()
	default:
		return QueryResult{}, errs.New(errs.KindSQLSyntax, fmt.Sprintf("unsupported statement %T", stmt))
	}
}

// withImplicitTxn runs body under the session's transaction (opening one
// implicitly if auto-commit), locking no tables up front — each body
// acquires the specific tables it touches via Transaction.LockTables in
// sorted order (spec.md §9 "Lock ordering").
func (e *Executor) withImplicitTxn(sess *session.Session, body func(*txnContext) (QueryResult, error)) (QueryResult, error) {
	tc, err := e.beginFor(sess)
	if err != nil {
		return QueryResult{}, err
	}
	if !tc.implicit {
		sess.SetTxn(tc.t, true)
	}
	mark := tc.t.UndoCount()
	res, bodyErr := body(tc)
	if err := e.finish(tc, mark, bodyErr); err != nil {
		if tc.implicit {
			sess.ClearTxn()
		}
		return QueryResult{}, err
	}
	if tc.implicit {
		sess.ClearTxn()
	}
	return res, nil
}

func (e *Executor) execBegin(sess *session.Session) (QueryResult, error) {
	if sess.Txn() != nil {
		return QueryResult{}, errs.New(errs.KindTxnConflict, "transaction already in progress")
	}
	t, err := e.Txns.Begin()
	if err != nil {
		return QueryResult{}, err
	}
	sess.SetTxn(t, true)
	return ok(), nil
}

func (e *Executor) execCommit(sess *session.Session) (QueryResult, error) {
	t := sess.Txn()
	if t == nil {
		return QueryResult{}, errs.New(errs.KindTxnConflict, "no transaction in progress")
	}
	sess.ClearTxn()
	if err := t.Commit(); err != nil {
		return QueryResult{}, err
	}
	return ok(), nil
}

func (e *Executor) execRollback(sess *session.Session) (QueryResult, error) {
	t := sess.Txn()
	if t == nil {
		return QueryResult{}, errs.New(errs.KindTxnConflict, "no transaction in progress")
	}
	sess.ClearTxn()
	if err := t.Rollback(); err != nil {
		return QueryResult{}, err
	}
	return ok(), nil
}

// execShowEngines is a small convenience extension beyond spec.md's
// statement list, useful for a client to discover which of Granite/
// Sandstone this build has enabled; it carries no transactional
// semantics so it never opens a transaction.
func (e *Executor) execShowEngines() (QueryResult, error) {
	names := make([]string, 0)
	for name := range e.Engines.All() {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]value.Value, 0, len(names))
	for _, n := range names {
		rows = append(rows, []value.Value{value.String(n)})
	}
	return selectResult([]string{"engine"}, rows), nil
}
