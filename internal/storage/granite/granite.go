package granite

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/minisql/minisql/internal/schema"
	"github.com/minisql/minisql/internal/storage"
	"github.com/minisql/minisql/internal/value"
)

const EngineName = "GRANITE"

type tableState struct {
	schema     *schema.Schema
	file       *os.File
	path       string
	indexes    map[string]*memIndex // index name -> in-memory map
	lastLSN    int64
	rowOffsets map[int64]int64 // row-id -> file offset, rebuilt by scanning on open
	nextRowID  int64           // next row-id Insert will assign
}

// Engine implements storage.Engine for Granite (spec.md §4.2).
type Engine struct {
	dataDir string

	mu     sync.Mutex
	tables map[string]*tableState
}

var _ storage.Engine = (*Engine)(nil)

// Open opens (or prepares) the Granite engine rooted at dataDir/granite.
func Open(dataDir string) (*Engine, error) {
	dir := filepath.Join(dataDir, strings.ToLower(EngineName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("granite: mkdir %s: %w", dir, err)
	}
	return &Engine{dataDir: dataDir, tables: make(map[string]*tableState)}, nil
}

func (e *Engine) Name() string { return EngineName }

func (e *Engine) dir() string { return filepath.Join(e.dataDir, strings.ToLower(EngineName)) }

func (e *Engine) dataPath(table string) string {
	return filepath.Join(e.dir(), table+".dat")
}

func (e *Engine) indexPath(table, index string) string {
	return filepath.Join(e.dir(), table+".idx."+index)
}

func (e *Engine) lsnPath(table string) string {
	return filepath.Join(e.dir(), table+".lsn")
}

// CreateTable opens (creating if absent) the table's data file and
// builds an empty index for each declared index, including the implicit
// PRIMARY index (spec.md §3).
func (e *Engine) CreateTable(sch *schema.Schema) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	lower := strings.ToLower(sch.Table)
	if _, ok := e.tables[lower]; ok {
		return fmt.Errorf("granite: table %q already open", sch.Table)
	}
	path := e.dataPath(sch.Table)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("granite: create table file: %w", err)
	}
	ts := &tableState{schema: sch, file: f, path: path, indexes: make(map[string]*memIndex), rowOffsets: make(map[int64]int64), nextRowID: 1}
	for _, idx := range sch.Indexes {
		ts.indexes[idx.Name] = newMemIndex(idx.Unique)
	}
	if data, rerr := os.ReadFile(e.lsnPath(sch.Table)); rerr == nil { // #nosec G304 -- controlled path under our own data dir
		if n, perr := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); perr == nil {
			ts.lastLSN = n
		}
	}
	if err := scanRowOffsets(f, ts); err != nil {
		return fmt.Errorf("granite: scan existing rows: %w", err)
	}
	e.tables[lower] = ts
	return nil
}

// scanRowOffsets walks an (possibly pre-existing) table file once,
// populating rowOffsets for every record found — live or tombstoned,
// since Update/Delete need a tombstoned record's offset too — and
// setting nextRowID past the highest row-id on disk so a reopened table
// never reassigns an id already used (spec.md §3 "row-id ... stable
// across reads ... may be renumbered by VACUUM", never reused otherwise).
func scanRowOffsets(f *os.File, ts *tableState) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("granite: stat: %w", err)
	}
	var offset int64
	var maxID int64
	for offset < info.Size() {
		rowID, _, _, next, ok := readRecordAt(f, offset)
		if !ok {
			break
		}
		ts.rowOffsets[rowID] = offset
		if rowID > maxID {
			maxID = rowID
		}
		offset = next
	}
	if maxID >= ts.nextRowID {
		ts.nextRowID = maxID + 1
	}
	return nil
}

// open returns the state of a table this Engine instance already has
// open (via CreateTable). It does not open anything from disk: a table
// not yet opened here is reported as unknown, wrapping
// storage.ErrNotFound.
func (e *Engine) open(table string) (*tableState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lower := strings.ToLower(table)
	ts, ok := e.tables[lower]
	if !ok {
		return nil, fmt.Errorf("granite: unknown table %q: %w", table, storage.ErrNotFound)
	}
	return ts, nil
}

// EnsureIndexesLoaded rebuilds any missing/corrupt sidecar index from a
// full table scan (spec.md §4.2). Called once per table after open.
func (e *Engine) EnsureIndexesLoaded(table string) error {
	ts, err := e.open(table)
	if err != nil {
		return err
	}
	for _, idx := range ts.schema.Indexes {
		if loaded, ok := loadIndex(e.indexPath(table, idx.Name), idx.Unique); ok {
			ts.indexes[idx.Name] = loaded
			continue
		}
		rebuilt := newMemIndex(idx.Unique)
		cur, err := e.Scan(table)
		if err != nil {
			return err
		}
		for cur.Next() {
			row := cur.Row()
			key := projectKey(row.Values, idx.Columns)
			if err := rebuilt.add(key, row.RowID); err != nil {
				_ = cur.Close()
				return err
			}
		}
		if err := cur.Err(); err != nil {
			_ = cur.Close()
			return err
		}
		_ = cur.Close()
		ts.indexes[idx.Name] = rebuilt
	}
	return nil
}

func projectKey(values []value.Value, cols []int) []value.Value {
	key := make([]value.Value, len(cols))
	for i, c := range cols {
		key[i] = values[c]
	}
	return key
}

// SetSchema installs sch as the live schema for an already-open table,
// creating an empty in-memory index for any index name not yet tracked
// (the caller is responsible for populating it, typically via
// EnsureIndexesLoaded).
func (e *Engine) SetSchema(table string, sch *schema.Schema) error {
	ts, err := e.open(table)
	if err != nil {
		return err
	}
	ts.schema = sch
	for _, idx := range sch.Indexes {
		if _, ok := ts.indexes[idx.Name]; !ok {
			ts.indexes[idx.Name] = newMemIndex(idx.Unique)
		}
	}
	return nil
}

// DropTable closes and removes a table's data and index files.
func (e *Engine) DropTable(table string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	lower := strings.ToLower(table)
	ts, ok := e.tables[lower]
	if !ok {
		return nil
	}
	_ = ts.file.Close()
	delete(e.tables, lower)
	if err := os.Remove(ts.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("granite: remove data file: %w", err)
	}
	for name := range ts.indexes {
		_ = os.Remove(e.indexPath(table, name))
	}
	return nil
}

// graniteCursor walks a table's data file forward, skipping tombstoned
// records.
type graniteCursor struct {
	ts     *tableState
	offset int64
	size   int64
	cur    storage.Row
	err    error
}

func (c *graniteCursor) Next() bool {
	for c.offset < c.size {
		rowID, values, tombstoned, next, ok := readRecordAt(c.ts.file, c.offset)
		c.offset = next
		if !ok {
			// Corrupt/truncated trailing record: stop, matching the
			// WAL's truncate-at-last-valid-CRC recovery behavior.
			break
		}
		if tombstoned {
			continue
		}
		c.cur = storage.Row{RowID: rowID, Values: values}
		return true
	}
	return false
}

func (c *graniteCursor) Row() storage.Row { return c.cur }
func (c *graniteCursor) Err() error       { return c.err }
func (c *graniteCursor) Close() error     { return nil }

// Scan yields every live (non-tombstoned) row, in file/row-id order
// (spec.md §4.2, §9 "Lazy row sequences").
func (e *Engine) Scan(table string) (storage.Cursor, error) {
	ts, err := e.open(table)
	if err != nil {
		return nil, err
	}
	info, err := ts.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("granite: stat: %w", err)
	}
	return &graniteCursor{ts: ts, size: info.Size()}, nil
}

// Get reads a single row by its logical row-id, translated to a file
// offset via the table's row-offset map.
func (e *Engine) Get(table string, rowID int64) (storage.Row, error) {
	ts, err := e.open(table)
	if err != nil {
		return storage.Row{}, err
	}
	offset, ok := ts.rowOffsets[rowID]
	if !ok {
		return storage.Row{}, storage.ErrNotFound
	}
	_, values, tombstoned, _, ok := readRecordAt(ts.file, offset)
	if !ok || tombstoned {
		return storage.Row{}, storage.ErrNotFound
	}
	return storage.Row{RowID: rowID, Values: values}, nil
}

// IndexLookup returns every row-id whose indexed key tuple equals key.
func (e *Engine) IndexLookup(table, index string, key []value.Value) ([]int64, error) {
	ts, err := e.open(table)
	if err != nil {
		return nil, err
	}
	idx, ok := ts.indexes[index]
	if !ok {
		return nil, fmt.Errorf("granite: unknown index %q on table %q", index, table)
	}
	return idx.lookup(key)
}

// Insert appends a new record and returns the row-id assigned to it —
// the table's own monotonically increasing counter, not its file offset
// (spec.md §4.2 "insert is append-then-index"; §3 "engine-assigned row-id
// ... may be renumbered by VACUUM", which a fresh table's counter
// starting back at 1 satisfies directly for a VACUUM-rebuilt table).
func (e *Engine) Insert(table string, row []value.Value) (int64, error) {
	ts, err := e.open(table)
	if err != nil {
		return 0, err
	}
	info, err := ts.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("granite: stat: %w", err)
	}
	offset := info.Size()
	rowID := ts.nextRowID
	framed, err := frameRecord(rowID, row, false)
	if err != nil {
		return 0, err
	}
	if _, err := ts.file.WriteAt(framed, offset); err != nil {
		return 0, fmt.Errorf("granite: append record: %w", err)
	}
	ts.nextRowID++
	ts.rowOffsets[rowID] = offset
	for _, idx := range ts.schema.Indexes {
		key := projectKey(row, idx.Columns)
		if err := ts.indexes[idx.Name].add(key, rowID); err != nil {
			return 0, err
		}
	}
	return rowID, nil
}

// Update writes a new record for newValues and tombstones the old one
// at rowID (spec.md §4.2 "Updates write a new record and mark the old
// tombstoned"). The row-id changes; every index entry that pointed at
// the old row-id is removed here (using the old row's values to
// recompute its key) before Insert adds fresh entries for the new
// row-id, so every declared index stays consistent with a single call.
func (e *Engine) Update(table string, rowID int64, newValues []value.Value) error {
	_, err := e.update(table, rowID, newValues)
	return err
}

// UpdateInPlace returns the row-id the new version was written at, for
// callers (e.g. the executor's UPDATE path and its undo entry) that need
// the new row-id.
func (e *Engine) UpdateInPlace(table string, rowID int64, newValues []value.Value) (int64, error) {
	return e.update(table, rowID, newValues)
}

func (e *Engine) update(table string, rowID int64, newValues []value.Value) (int64, error) {
	ts, err := e.open(table)
	if err != nil {
		return 0, err
	}
	offset, ok := ts.rowOffsets[rowID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	_, oldValues, tombstoned, _, ok := readRecordAt(ts.file, offset)
	if !ok || tombstoned {
		return 0, storage.ErrNotFound
	}
	for _, idx := range ts.schema.Indexes {
		key := projectKey(oldValues, idx.Columns)
		if err := ts.indexes[idx.Name].remove(key, rowID); err != nil {
			return 0, err
		}
	}
	if err := e.tombstone(ts, offset); err != nil {
		return 0, err
	}
	return e.Insert(table, newValues)
}

func (e *Engine) tombstone(ts *tableState, offset int64) error {
	header := make([]byte, recordHeaderSize)
	if _, err := ts.file.ReadAt(header, offset); err != nil {
		return fmt.Errorf("granite: read header at %d: %w", offset, err)
	}
	header[tombstoneOffset] = 1
	if _, err := ts.file.WriteAt(header, offset); err != nil {
		return fmt.Errorf("granite: tombstone %d: %w", offset, err)
	}
	return nil
}

// Delete marks a row tombstoned and removes its index entries; VACUUM
// reclaims the tombstoned record itself (spec.md §3, §4.2).
func (e *Engine) Delete(table string, rowID int64) error {
	ts, err := e.open(table)
	if err != nil {
		return err
	}
	offset, ok := ts.rowOffsets[rowID]
	if !ok {
		return storage.ErrNotFound
	}
	_, values, tombstoned, _, ok := readRecordAt(ts.file, offset)
	if !ok || tombstoned {
		return storage.ErrNotFound
	}
	for _, idx := range ts.schema.Indexes {
		key := projectKey(values, idx.Columns)
		if err := ts.indexes[idx.Name].remove(key, rowID); err != nil {
			return err
		}
	}
	return e.tombstone(ts, offset)
}

// Flush persists every index to its sidecar file.
func (e *Engine) Flush(table string) error {
	ts, err := e.open(table)
	if err != nil {
		return err
	}
	for name, idx := range ts.indexes {
		if err := idx.persist(e.indexPath(table, name)); err != nil {
			return err
		}
	}
	return ts.file.Sync()
}

// RenameFile atomically swaps a rebuilt table's data+index files into
// place, used by VACUUM and ALTER TABLE ... ENGINE= (spec.md §4.1).
// oldTable is a staging name (e.g. "<table>.staging") whose files are
// renamed onto newTable's canonical paths.
func (e *Engine) RenameFile(oldTable, newTable string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldLower, newLower := strings.ToLower(oldTable), strings.ToLower(newTable)
	staging, ok := e.tables[oldLower]
	if !ok {
		return fmt.Errorf("granite: unknown staging table %q", oldTable)
	}
	if err := staging.file.Close(); err != nil {
		return fmt.Errorf("granite: close staging file: %w", err)
	}
	if err := os.Rename(staging.path, e.dataPath(newTable)); err != nil {
		return fmt.Errorf("granite: rename data file: %w", err)
	}
	for name, idx := range staging.indexes {
		stagingIdxPath := e.indexPath(oldTable, name)
		if err := idx.persist(stagingIdxPath); err != nil {
			return err
		}
		if err := os.Rename(stagingIdxPath, e.indexPath(newTable, name)); err != nil {
			return fmt.Errorf("granite: rename index file: %w", err)
		}
	}
	f, err := os.OpenFile(e.dataPath(newTable), os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("granite: reopen renamed table: %w", err)
	}
	staging.file = f
	staging.path = e.dataPath(newTable)
	staging.schema.Table = newTable
	delete(e.tables, oldLower)
	e.tables[newLower] = staging
	return nil
}

// LastAppliedLSN/SetLastAppliedLSN back recovery idempotence (spec.md
// §4.4: "engines detect already-applied LSNs via a per-table
// last-applied-lsn marker").
func (e *Engine) LastAppliedLSN(table string) (int64, error) {
	ts, err := e.open(table)
	if err != nil {
		return 0, err
	}
	return ts.lastLSN, nil
}

func (e *Engine) SetLastAppliedLSN(table string, lsn int64) error {
	ts, err := e.open(table)
	if err != nil {
		return err
	}
	ts.lastLSN = lsn
	tmp, err := os.CreateTemp(e.dir(), table+".lsn.tmp.*")
	if err != nil {
		return fmt.Errorf("granite: create lsn temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(strconv.FormatInt(lsn, 10)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("granite: write lsn marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("granite: close lsn temp: %w", err)
	}
	if err := os.Rename(tmpPath, e.lsnPath(table)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("granite: rename lsn marker: %w", err)
	}
	return nil
}

// Close closes every open table file.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var first error
	for _, ts := range e.tables {
		if err := ts.file.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// StagingTableName returns the name VACUUM/ALTER use for the freshly
// built replacement table before it's swapped into place.
func StagingTableName(table string) string { return table + ".staging" }
