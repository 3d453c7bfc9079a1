// Package storage defines the pluggable storage-engine contract
// (spec.md §4.2 and §9 "Pluggable engines behind one contract"): Granite
// and Sandstone are two independent implementations of the same Engine
// interface, and the executor never branches on which one it holds
// except at ALTER TABLE ... ENGINE= time.
package storage

import (
	"errors"

	"github.com/minisql/minisql/internal/schema"
	"github.com/minisql/minisql/internal/value"
)

// ErrNotFound is returned by Get when the row-id does not exist (or is
// not currently visible).
var ErrNotFound = errors.New("storage: row not found")

// Row is a stored record: an opaque row-id plus a positional vector of
// Values whose length equals the owning schema's column count
// (spec.md §3).
type Row struct {
	RowID  int64
	Values []value.Value
}

// Clone returns a deep copy so callers can mutate without aliasing
// storage-owned memory.
func (r Row) Clone() Row {
	cp := Row{RowID: r.RowID, Values: make([]value.Value, len(r.Values))}
	copy(cp.Values, r.Values)
	return cp
}

// Cursor is the lazy row sequence an engine scan yields one row at a
// time (spec.md §9 "Lazy row sequences"). Callers must call Close when
// done, even after an error or early break.
type Cursor interface {
	// Next advances the cursor and returns false when exhausted or on
	// error (check Err after Next returns false).
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// Engine is the contract every storage backend implements (spec.md
// §4.2).
type Engine interface {
	// Name identifies the engine for ALTER TABLE ... ENGINE= and the
	// catalog's Schema.Engine field ("GRANITE" or "SANDSTONE").
	Name() string

	CreateTable(sch *schema.Schema) error
	DropTable(table string) error

	// SetSchema updates the live schema a table was opened with (new
	// index definitions from CREATE INDEX), so ongoing Insert/Update index maintenance
	// sees the change without reopening the table.
	SetSchema(table string, sch *schema.Schema) error

	Scan(table string) (Cursor, error)
	Get(table string, rowID int64) (Row, error)
	IndexLookup(table, index string, key []value.Value) ([]int64, error)

	Insert(table string, row []value.Value) (int64, error)
	Update(table string, rowID int64, newValues []value.Value) error
	Delete(table string, rowID int64) error

	Flush(table string) error

	// RenameFile performs an atomic write-temp-then-rename swap of a
	// table's backing file(s), used by VACUUM (spec.md §4.1) and ALTER
	// TABLE ... ENGINE= (spec.md §4.1) to publish a rebuilt table.
	RenameFile(oldTable, newTable string) error

	// LastAppliedLSN reports the highest WAL LSN durably reflected in
	// this table's on-disk state, so recovery (spec.md §4.4) can skip
	// already-applied records idempotently.
	LastAppliedLSN(table string) (int64, error)
	SetLastAppliedLSN(table string, lsn int64) error

	// Close releases any open file handles.
	Close() error
}

// sliceCursor adapts an in-memory []Row into a Cursor for a scan that
// materializes its results rather than streaming directly off disk.
// Neither built-in engine uses it: Sandstone has its own slice-backed
// cursor.
type sliceCursor struct {
	rows []Row
	pos  int
}

func NewSliceCursor(rows []Row) Cursor { return &sliceCursor{rows: rows, pos: -1} }

func (c *sliceCursor) Next() bool {
	c.pos++
	return c.pos < len(c.rows)
}

func (c *sliceCursor) Row() Row   { return c.rows[c.pos] }
func (c *sliceCursor) Err() error { return nil }
func (c *sliceCursor) Close() error {
	return nil
}
