package executor

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strings"

	"github.com/minisql/minisql/internal/ast"
	"github.com/minisql/minisql/internal/errs"
	"github.com/minisql/minisql/internal/eval"
	"github.com/minisql/minisql/internal/schema"
	"github.com/minisql/minisql/internal/storage/factory"
	"github.com/minisql/minisql/internal/storage/granite"
	"github.com/minisql/minisql/internal/value"
	"github.com/minisql/minisql/internal/wal"
)

// ddlPayload is the gob-encoded body of a WAL DDL record (spec.md §3:
// "DDL(bytes)"), carrying enough to describe the catalog change for
// audit/debugging; recovery relies on the catalog's own durable
// .meta files, not on replaying this payload, since catalog writes are
// already atomic (write-temp-then-rename).
type ddlPayload struct {
	Op    string
	Table string
}

func logDDL(tc *txnContext, op, table string) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ddlPayload{Op: op, Table: table}); err != nil {
		return fmt.Errorf("executor: encode ddl payload: %w", err)
	}
	_, err := tc.t.WAL().Append(wal.Record{TxnID: tc.t.ID, Op: wal.OpDDL, Table: table, Payload: buf.Bytes()})
	return err
}

func defaultEngine() string { return granite.EngineName }

func (e *Executor) execCreateTable(s *ast.CreateTableStmt, tc *txnContext) (QueryResult, error) {
	e.Txns.CatalogLock()
	defer e.Txns.CatalogUnlock()

	if _, exists := e.Catalog.Get(s.Table); exists {
		if s.IfNotExist {
			return ok(), nil
		}
		return QueryResult{}, errs.New(errs.KindSQLSyntax, fmt.Sprintf("table %q already exists", s.Table))
	}

	engineName := strings.ToUpper(s.Engine)
	if engineName == "" {
		engineName = defaultEngine()
	}
	if !factory.IsKnown(engineName) {
		return QueryResult{}, errs.New(errs.KindEngineNotEnabled, fmt.Sprintf("Unknown engine type %q", s.Engine))
	}

	sch := &schema.Schema{Table: s.Table, Engine: engineName}
	for _, c := range s.Columns {
		col := schema.Column{
			Name:          c.Name,
			Type:          schema.ParseDataType(c.Type),
			NotNull:       c.NotNull,
			PrimaryKey:    c.PrimaryKey,
			Unique:        c.Unique,
			AutoIncrement: c.AutoIncrement,
		}
		if c.Default != nil {
			v, err := eval.Eval(c.Default, emptyTuple{})
			if err != nil {
				return QueryResult{}, errs.Wrap(errs.KindSQLSyntax, "invalid DEFAULT expression", err)
			}
			col.Default = &v
		}
		sch.Columns = append(sch.Columns, col)
	}
	for _, idx := range s.Indexes {
		cols := make([]int, 0, len(idx.Columns))
		for _, name := range idx.Columns {
			pos := sch.ColumnIndex(name)
			if pos < 0 {
				return QueryResult{}, errs.New(errs.KindColumnNotFound, fmt.Sprintf("column not found: %s", name))
			}
			cols = append(cols, pos)
		}
		sch.Indexes = append(sch.Indexes, schema.Index{Name: idx.Name, Columns: cols, Unique: idx.Unique})
	}
	sch.EnsurePrimaryIndex()
	if err := sch.Validate(); err != nil {
		return QueryResult{}, errs.Wrap(errs.KindSQLSyntax, "invalid schema", err)
	}

	eng, err := e.engineFor(sch)
	if err != nil {
		return QueryResult{}, err
	}
	if err := eng.CreateTable(sch); err != nil {
		return QueryResult{}, errs.Wrap(errs.KindIOError, "create table", err)
	}
	if err := e.Catalog.Put(sch); err != nil {
		return QueryResult{}, errs.Wrap(errs.KindIOError, "persist catalog", err)
	}
	if err := logDDL(tc, "CREATE_TABLE", s.Table); err != nil {
		return QueryResult{}, err
	}
	return ok(), nil
}

func (e *Executor) execDropTable(s *ast.DropTableStmt, tc *txnContext) (QueryResult, error) {
	e.Txns.CatalogLock()
	defer e.Txns.CatalogUnlock()

	sch, exists := e.Catalog.Get(s.Table)
	if !exists {
		if s.IfExists {
			return ok(), nil
		}
		return QueryResult{}, errs.New(errs.KindTableNotFound, fmt.Sprintf("table not found: %s", s.Table))
	}
	eng, err := e.engineFor(sch)
	if err != nil {
		return QueryResult{}, err
	}
	if err := eng.DropTable(s.Table); err != nil {
		return QueryResult{}, errs.Wrap(errs.KindIOError, "drop table", err)
	}
	if err := e.Catalog.Remove(s.Table); err != nil {
		return QueryResult{}, errs.Wrap(errs.KindIOError, "remove catalog entry", err)
	}
	if err := logDDL(tc, "DROP_TABLE", s.Table); err != nil {
		return QueryResult{}, err
	}
	return ok(), nil
}

func (e *Executor) execCreateIndex(s *ast.CreateIndexStmt, tc *txnContext) (QueryResult, error) {
	e.Txns.CatalogLock()
	defer e.Txns.CatalogUnlock()

	sch, err := e.lookupTable(s.Table)
	if err != nil {
		return QueryResult{}, err
	}
	cols := make([]int, 0, len(s.Columns))
	for _, name := range s.Columns {
		pos := sch.ColumnIndex(name)
		if pos < 0 {
			return QueryResult{}, errs.New(errs.KindColumnNotFound, fmt.Sprintf("column not found: %s", name))
		}
		cols = append(cols, pos)
	}
	newSch := sch.Clone()
	newSch.Indexes = append(newSch.Indexes, schema.Index{Name: s.Name, Columns: cols, Unique: s.Unique})

	eng, err := e.engineFor(newSch)
	if err != nil {
		return QueryResult{}, err
	}
	if err := eng.SetSchema(s.Table, newSch); err != nil {
		return QueryResult{}, errs.Wrap(errs.KindIOError, "update schema", err)
	}
	if loader, ok := eng.(interface{ EnsureIndexesLoaded(string) error }); ok {
		if err := loader.EnsureIndexesLoaded(s.Table); err != nil {
			return QueryResult{}, errs.Wrap(errs.KindIOError, "build index", err)
		}
	}
	if err := e.Catalog.Put(newSch); err != nil {
		return QueryResult{}, errs.Wrap(errs.KindIOError, "persist catalog", err)
	}
	if err := logDDL(tc, "CREATE_INDEX", s.Table); err != nil {
		return QueryResult{}, err
	}
	return ok(), nil
}

// execAlterEngine implements spec.md §4.1 "ALTER TABLE ... ENGINE=":
// no-op if unchanged; otherwise scan every row from the source engine,
// build a fresh table in the target engine preserving PK values, indexes
// and the auto-increment counter, swap the catalog entry, then drop the
// source storage.
func (e *Executor) execAlterEngine(s *ast.AlterTableEngineStmt, tc *txnContext) (QueryResult, error) {
	e.Txns.CatalogLock()
	defer e.Txns.CatalogUnlock()

	sch, err := e.lookupTable(s.Table)
	if err != nil {
		return QueryResult{}, err
	}
	targetName := strings.ToUpper(s.Engine)
	if !factory.IsKnown(targetName) {
		return QueryResult{}, errs.New(errs.KindEngineNotEnabled, fmt.Sprintf("Unknown engine type %q", s.Engine))
	}
	if strings.EqualFold(sch.Engine, targetName) {
		return ok(), nil
	}

	srcEngine, err := e.engineFor(sch)
	if err != nil {
		return QueryResult{}, err
	}
	targetEngine, err := e.Engines.Get(targetName)
	if err != nil {
		return QueryResult{}, errs.Wrap(errs.KindEngineNotEnabled, fmt.Sprintf("engine %q not enabled", s.Engine), err)
	}

	newSch := sch.Clone()
	newSch.Engine = targetName
	staging := stagingName(s.Table)
	stagingSch := newSch.Clone()
	stagingSch.Table = staging
	if err := targetEngine.CreateTable(stagingSch); err != nil {
		return QueryResult{}, errs.Wrap(errs.KindIOError, "create target table", err)
	}

	cur, err := srcEngine.Scan(s.Table)
	if err != nil {
		return QueryResult{}, errs.Wrap(errs.KindIOError, "scan source table", err)
	}
	for cur.Next() {
		row := cur.Row()
		if _, err := targetEngine.Insert(staging, row.Values); err != nil {
			_ = cur.Close()
			return QueryResult{}, errs.Wrap(errs.KindIOError, "copy row", err)
		}
	}
	if err := cur.Err(); err != nil {
		_ = cur.Close()
		return QueryResult{}, errs.Wrap(errs.KindIOError, "scan source table", err)
	}
	_ = cur.Close()

	if loader, ok := targetEngine.(interface{ EnsureIndexesLoaded(string) error }); ok {
		if err := loader.EnsureIndexesLoaded(staging); err != nil {
			return QueryResult{}, errs.Wrap(errs.KindIOError, "build indexes", err)
		}
	}
	if err := targetEngine.Flush(staging); err != nil {
		return QueryResult{}, errs.Wrap(errs.KindIOError, "flush target table", err)
	}
	if err := targetEngine.RenameFile(staging, s.Table); err != nil {
		return QueryResult{}, errs.Wrap(errs.KindIOError, "publish target table", err)
	}

	if err := e.Catalog.Put(newSch); err != nil {
		return QueryResult{}, errs.Wrap(errs.KindIOError, "swap catalog entry", err)
	}
	if err := logDDL(tc, "ALTER_ENGINE", s.Table); err != nil {
		return QueryResult{}, err
	}
	if err := srcEngine.DropTable(s.Table); err != nil {
		return QueryResult{}, errs.Wrap(errs.KindIOError, "drop source table", err)
	}
	return ok(), nil
}

func stagingName(table string) string { return table + ".staging" }

// emptyTuple satisfies eval.Tuple for expressions (e.g. DEFAULT clauses)
// that must not reference any column.
type emptyTuple struct{}

func (emptyTuple) Column(string, string) (value.Value, bool) { return value.Value{}, false }
