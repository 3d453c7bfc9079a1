package engine

import (
	"strconv"
	"testing"

	"github.com/minisql/minisql/internal/astconv"
	"github.com/minisql/minisql/internal/executor"
	"github.com/minisql/minisql/internal/session"
	"github.com/minisql/minisql/internal/value"
)

// testDB wires a fresh Database, Converter, and Session together for
// end-to-end statement execution, the same assembly server.Server builds
// around one connection.
type testDB struct {
	t    *testing.T
	db   *Database
	conv *astconv.Converter
	sess *session.Session
}

func newTestDB(t *testing.T) *testDB {
	t.Helper()
	db, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("engine.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &testDB{t: t, db: db, conv: astconv.New(), sess: session.New("minisql", "root")}
}

func (d *testDB) exec(sql string) executor.QueryResult {
	d.t.Helper()
	stmt, err := d.conv.Parse(sql)
	if err != nil {
		d.t.Fatalf("parse %q: %v", sql, err)
	}
	res, err := d.db.Executor.Execute(stmt, d.sess)
	if err != nil {
		d.t.Fatalf("execute %q: %v", sql, err)
	}
	return res
}

func (d *testDB) execExpectError(sql string) error {
	d.t.Helper()
	stmt, err := d.conv.Parse(sql)
	if err != nil {
		return err
	}
	_, err = d.db.Executor.Execute(stmt, d.sess)
	return err
}

// TestAutoIncrementGapFilling covers spec.md §8: insert an explicit id
// above the current counter, delete it, then insert without specifying
// an id — the counter must have advanced past the explicit value rather
// than reusing it, producing ids [1, 4].
func TestAutoIncrementGapFilling(t *testing.T) {
	d := newTestDB(t)
	d.exec("CREATE TABLE widgets (id INT PRIMARY KEY AUTO_INCREMENT, name TEXT)")
	d.exec("INSERT INTO widgets (name) VALUES ('a')")        // id 1
	d.exec("INSERT INTO widgets (id, name) VALUES (3, 'c')") // explicit id 3, counter advances to 3
	d.exec("DELETE FROM widgets WHERE id = 3")
	res := d.exec("INSERT INTO widgets (name) VALUES ('d')") // must get id 4, not reuse 3
	if res.LastInsertID != 4 {
		t.Errorf("LastInsertID = %d, want 4 (counter must never reuse a deleted explicit id)", res.LastInsertID)
	}

	sel := d.exec("SELECT id FROM widgets ORDER BY id")
	var ids []int64
	for _, row := range sel.Rows {
		ids = append(ids, row[0].I)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 4 {
		t.Errorf("remaining ids = %v, want [1 4]", ids)
	}
}

// TestArithmeticScenarios covers spec.md §8's literal integer and float
// arithmetic scenarios via SELECT expressions with no FROM-table state
// involved: 1+1,5-2,3*4,10/2 -> [2,3,12,5] and 1+1.5,2.0*3,5/2 ->
// [2.5,6.0,2.5].
func TestArithmeticScenarios(t *testing.T) {
	d := newTestDB(t)
	d.exec("CREATE TABLE dual (id INT PRIMARY KEY)")
	d.exec("INSERT INTO dual (id) VALUES (1)")

	res := d.exec("SELECT 1+1, 5-2, 3*4, 10/2 FROM dual")
	want := []int64{2, 3, 12, 5}
	for i, w := range want {
		got := res.Rows[0][i]
		if got.Kind != value.KindInteger || got.I != w {
			t.Errorf("column %d = %v, want integer %d", i, got, w)
		}
	}

	res = d.exec("SELECT 1+1.5, 2.0*3, 5/2 FROM dual")
	wantF := []float64{2.5, 6.0, 2.5}
	for i, w := range wantF {
		got := res.Rows[0][i]
		if got.Kind != value.KindFloat || got.F != w {
			t.Errorf("column %d = %v, want float %v", i, got, w)
		}
	}
}

// TestOrderByMultiKey covers spec.md §8's multi-key ORDER BY scenario:
// rows sort by the first key, ties broken by the second.
func TestOrderByMultiKey(t *testing.T) {
	d := newTestDB(t)
	d.exec("CREATE TABLE people (id INT PRIMARY KEY, age INT, name TEXT)")
	d.exec("INSERT INTO people (id, age, name) VALUES (1, 30, 'Bob')")
	d.exec("INSERT INTO people (id, age, name) VALUES (2, 25, 'Carol')")
	d.exec("INSERT INTO people (id, age, name) VALUES (3, 30, 'Alice')")

	res := d.exec("SELECT name FROM people ORDER BY age ASC, name ASC")
	var names []string
	for _, row := range res.Rows {
		names = append(names, row[0].S)
	}
	want := []string{"Carol", "Alice", "Bob"}
	for i, w := range want {
		if names[i] != w {
			t.Errorf("names = %v, want %v", names, want)
			break
		}
	}
}

// TestUpdateWhereInAffectsExactlyOneRow covers spec.md §8: UPDATE ...
// WHERE id IN (3) must affect exactly the one matching row.
func TestUpdateWhereInAffectsExactlyOneRow(t *testing.T) {
	d := newTestDB(t)
	d.exec("CREATE TABLE widgets (id INT PRIMARY KEY, name TEXT)")
	for i := int64(1); i <= 5; i++ {
		d.exec(insertWidgetSQL(i))
	}

	res := d.exec("UPDATE widgets SET name = 'changed' WHERE id IN (3)")
	if res.RowsAffected != 1 {
		t.Fatalf("RowsAffected = %d, want 1", res.RowsAffected)
	}

	sel := d.exec("SELECT name FROM widgets WHERE id = 3")
	if len(sel.Rows) != 1 || sel.Rows[0][0].S != "changed" {
		t.Errorf("row 3 should be updated, got %v", sel.Rows)
	}
}

// TestVacuumReclaimsTombstonesAndRenumbersRowIDs covers spec.md §8's
// VACUUM scenario: insert ids 1..10, delete {3,5,7}, VACUUM, and expect
// the surviving 7 rows with internal row-ids compacted to 1..7 while a
// WHERE on a surviving non-indexed value still finds its row in the
// rebuilt table.
func TestVacuumReclaimsTombstonesAndRenumbersRowIDs(t *testing.T) {
	d := newTestDB(t)
	d.exec("CREATE TABLE widgets (id INT PRIMARY KEY, name TEXT)")
	for i := int64(1); i <= 10; i++ {
		d.exec(insertWidgetSQL(i))
	}
	d.exec("DELETE FROM widgets WHERE id IN (3, 5, 7)")
	d.exec("VACUUM widgets")

	sel := d.exec("SELECT id FROM widgets ORDER BY id")
	var ids []int64
	for _, row := range sel.Rows {
		ids = append(ids, row[0].I)
	}
	wantIDs := []int64{1, 2, 4, 6, 8, 9, 10}
	if len(ids) != len(wantIDs) {
		t.Fatalf("remaining ids = %v, want %v", ids, wantIDs)
	}
	for i, w := range wantIDs {
		if ids[i] != w {
			t.Errorf("remaining ids = %v, want %v", ids, wantIDs)
			break
		}
	}

	found := d.exec("SELECT name FROM widgets WHERE name = 'Product2'")
	if len(found.Rows) != 1 {
		t.Errorf("WHERE name lookup after VACUUM should still find the surviving row, got %v", found.Rows)
	}

	gotRowIDs := d.internalRowIDs("widgets")
	wantRowIDs := []int64{1, 2, 3, 4, 5, 6, 7}
	if len(gotRowIDs) != len(wantRowIDs) {
		t.Fatalf("internal row-ids after vacuum = %v, want %v", gotRowIDs, wantRowIDs)
	}
	for i, w := range wantRowIDs {
		if gotRowIDs[i] != w {
			t.Errorf("internal row-ids after vacuum = %v, want %v", gotRowIDs, wantRowIDs)
			break
		}
	}
}

// internalRowIDs scans a table's storage engine directly, bypassing the
// executor, to observe the engine-assigned row-ids VACUUM renumbered to
// 1..N (spec.md §4.1, §8 scenario 6) — row-ids are never part of a
// QueryResult, so only this kind of direct storage access can see them.
func (d *testDB) internalRowIDs(table string) []int64 {
	d.t.Helper()
	sch, ok := d.db.Catalog.Get(table)
	if !ok {
		d.t.Fatalf("internalRowIDs: unknown table %q", table)
	}
	eng, err := d.db.Engines.Get(sch.Engine)
	if err != nil {
		d.t.Fatalf("internalRowIDs: resolve engine: %v", err)
	}
	cur, err := eng.Scan(table)
	if err != nil {
		d.t.Fatalf("internalRowIDs: scan: %v", err)
	}
	defer cur.Close()
	var ids []int64
	for cur.Next() {
		ids = append(ids, cur.Row().RowID)
	}
	if err := cur.Err(); err != nil {
		d.t.Fatalf("internalRowIDs: cursor error: %v", err)
	}
	return ids
}

func insertWidgetSQL(id int64) string {
	idStr := strconv.FormatInt(id, 10)
	return "INSERT INTO widgets (id, name) VALUES (" + idStr + ", 'Product" + idStr + "')"
}

// TestExplicitTransactionRollbackUndoesAllStatements verifies BEGIN ...
// ROLLBACK leaves no trace of the statements issued inside it (spec.md
// §4.4 rollback protocol).
func TestExplicitTransactionRollbackUndoesAllStatements(t *testing.T) {
	d := newTestDB(t)
	d.exec("CREATE TABLE widgets (id INT PRIMARY KEY, name TEXT)")
	d.exec("INSERT INTO widgets (id, name) VALUES (1, 'a')")

	d.exec("BEGIN")
	d.exec("INSERT INTO widgets (id, name) VALUES (2, 'b')")
	d.exec("UPDATE widgets SET name = 'changed' WHERE id = 1")
	d.exec("ROLLBACK")

	sel := d.exec("SELECT id, name FROM widgets ORDER BY id")
	if len(sel.Rows) != 1 {
		t.Fatalf("rollback should undo the insert, got %d rows", len(sel.Rows))
	}
	if sel.Rows[0][1].S != "a" {
		t.Errorf("rollback should undo the update, got name=%v", sel.Rows[0][1])
	}
}

// TestUniqueConstraintRejectsDuplicateAndRollsBackItsOwnInsert checks
// that a failed uniqueness check unwinds only the offending statement
// (spec.md §7's per-statement savepoint), leaving prior rows intact.
func TestUniqueConstraintRejectsDuplicateAndRollsBackItsOwnInsert(t *testing.T) {
	d := newTestDB(t)
	d.exec("CREATE TABLE widgets (id INT PRIMARY KEY, sku TEXT UNIQUE)")
	d.exec("INSERT INTO widgets (id, sku) VALUES (1, 'A')")

	if err := d.execExpectError("INSERT INTO widgets (id, sku) VALUES (2, 'A')"); err == nil {
		t.Fatalf("duplicate unique key should fail")
	}

	sel := d.exec("SELECT id FROM widgets")
	if len(sel.Rows) != 1 {
		t.Errorf("the failed insert must not leave a partial row behind, got %d rows", len(sel.Rows))
	}
}
