package executor

import (
	"fmt"
	"sort"

	"github.com/minisql/minisql/internal/ast"
	"github.com/minisql/minisql/internal/errs"
	"github.com/minisql/minisql/internal/session"
	"github.com/minisql/minisql/internal/storage"
)

// execVacuum implements spec.md §4.1 VACUUM: rebuild a table's backing
// storage with rows renumbered 1..N in ascending original row-id order, every
// index rebuilt against the new numbering, and the auto-increment
// counter and user-visible data left unchanged. It refuses to run inside
// an explicit transaction since it publishes its rebuilt file with its
// own atomic rename, outside the caller's undo log.
func (e *Executor) execVacuum(s *ast.VacuumStmt, sess *session.Session) (QueryResult, error) {
	if sess.InExplicitTxn() {
		return QueryResult{}, errs.New(errs.KindTxnConflict, "VACUUM cannot be run inside a transaction")
	}

	tables := []string{s.Table}
	if s.Table == "" {
		tables = e.Catalog.All()
		sort.Strings(tables)
	}

	for _, table := range tables {
		if err := e.vacuumTable(table); err != nil {
			return QueryResult{}, err
		}
	}
	return ok(), nil
}

func (e *Executor) vacuumTable(table string) error {
	e.Txns.CatalogLock()
	defer e.Txns.CatalogUnlock()

	sch, ok := e.Catalog.Get(table)
	if !ok {
		return errs.New(errs.KindTableNotFound, fmt.Sprintf("table not found: %s", table))
	}
	eng, err := e.engineFor(sch)
	if err != nil {
		return err
	}

	staging := stagingName(table)
	stagingSch := sch.Clone()
	stagingSch.Table = staging
	if err := eng.CreateTable(stagingSch); err != nil {
		return errs.Wrap(errs.KindIOError, "create vacuum staging table", err)
	}

	cur, err := eng.Scan(table)
	if err != nil {
		return errs.Wrap(errs.KindIOError, "scan table for vacuum", err)
	}
	var rows []storage.Row
	for cur.Next() {
		rows = append(rows, cur.Row().Clone())
	}
	cerr := cur.Err()
	_ = cur.Close()
	if cerr != nil {
		return errs.Wrap(errs.KindIOError, "scan table for vacuum", cerr)
	}
	// Renumber in ascending original row-id order so VACUUM is a pure
	// compaction, never reordering user-visible rows (spec.md §4.1).
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowID < rows[j].RowID })

	for _, row := range rows {
		if _, err := eng.Insert(staging, row.Values); err != nil {
			return errs.Wrap(errs.KindIOError, "rebuild row during vacuum", err)
		}
	}

	if loader, ok := eng.(interface{ EnsureIndexesLoaded(string) error }); ok {
		if err := loader.EnsureIndexesLoaded(staging); err != nil {
			return errs.Wrap(errs.KindIOError, "rebuild indexes during vacuum", err)
		}
	}
	if err := eng.Flush(staging); err != nil {
		return errs.Wrap(errs.KindIOError, "flush vacuum staging table", err)
	}
	if err := eng.RenameFile(staging, table); err != nil {
		return errs.Wrap(errs.KindIOError, "publish vacuumed table", err)
	}
	return nil
}
