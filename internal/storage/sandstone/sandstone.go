// Package sandstone implements the optional append-only, log-structured
// storage engine (spec.md §4.2 "Sandstone"). It has no in-place update:
// an update appends a record sharing the same logical row-id, and the
// latest record for that id wins.
package sandstone

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/minisql/minisql/internal/schema"
	"github.com/minisql/minisql/internal/storage"
	"github.com/minisql/minisql/internal/value"
)

const EngineName = "SANDSTONE"

// recordHeaderSize is len(4) + crc(4) + flag(1) + logicalID(8).
const recordHeaderSize = 17

const (
	flagLive   byte = 0
	flagDelete byte = 1
)

type tableState struct {
	schema  *schema.Schema
	file    *os.File
	path    string
	nextID  int64
	indexes map[string]map[string][]int64 // index name -> encoded key -> logical ids
	lastLSN int64
	mu      sync.Mutex
}

// Engine implements storage.Engine for Sandstone.
type Engine struct {
	dataDir string
	mu      sync.Mutex
	tables  map[string]*tableState
}

var _ storage.Engine = (*Engine)(nil)

func Open(dataDir string) (*Engine, error) {
	dir := filepath.Join(dataDir, strings.ToLower(EngineName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sandstone: mkdir %s: %w", dir, err)
	}
	return &Engine{dataDir: dataDir, tables: make(map[string]*tableState)}, nil
}

func (e *Engine) Name() string { return EngineName }

func (e *Engine) dir() string { return filepath.Join(e.dataDir, strings.ToLower(EngineName)) }

func (e *Engine) dataPath(table string) string { return filepath.Join(e.dir(), table+".log") }

func (e *Engine) lsnPath(table string) string { return filepath.Join(e.dir(), table+".lsn") }

func (e *Engine) CreateTable(sch *schema.Schema) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	lower := strings.ToLower(sch.Table)
	if _, ok := e.tables[lower]; ok {
		return fmt.Errorf("sandstone: table %q already open", sch.Table)
	}
	path := e.dataPath(sch.Table)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("sandstone: create table file: %w", err)
	}
	ts := &tableState{schema: sch, file: f, path: path, indexes: make(map[string]map[string][]int64)}
	for _, idx := range sch.Indexes {
		ts.indexes[idx.Name] = make(map[string][]int64)
	}
	if data, rerr := os.ReadFile(e.lsnPath(sch.Table)); rerr == nil { // #nosec G304 -- controlled path under our own data dir
		if n, perr := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); perr == nil {
			ts.lastLSN = n
		}
	}
	e.tables[lower] = ts
	return rebuildIndexes(e, ts)
}

func (e *Engine) open(table string) (*tableState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts, ok := e.tables[strings.ToLower(table)]
	if !ok {
		return nil, fmt.Errorf("sandstone: unknown table %q: %w", table, storage.ErrNotFound)
	}
	return ts, nil
}

// SetSchema installs sch as the live schema for an already-open table;
// callers typically follow with EnsureIndexesLoaded to recompute
// in-memory indexes for any newly added index (spec.md §4.2 "recomputed
// at open").
func (e *Engine) SetSchema(table string, sch *schema.Schema) error {
	ts, err := e.open(table)
	if err != nil {
		return err
	}
	ts.schema = sch
	for _, idx := range sch.Indexes {
		if _, ok := ts.indexes[idx.Name]; !ok {
			ts.indexes[idx.Name] = make(map[string][]int64)
		}
	}
	return nil
}

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
		return fmt.Errorf("sandstone: remove log file: %w", err)
	}
	return nil
}

func encodeKey(key []value.Value) (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(key); err != nil {
		return "", fmt.Errorf("sandstone: encode index key: %w", err)
	}
	return buf.String(), nil
}

func projectKey(values []value.Value, cols []int) []value.Value {
	key := make([]value.Value, len(cols))
	for i, c := range cols {
		key[i] = values[c]
	}
	return key
}

// collapse performs the forward walk with a dedup hash spec.md §4.2
// describes: the latest record per logical id wins, and a deleted id is
// excluded from the result entirely.
func collapse(ts *tableState) (map[int64][]value.Value, []int64, error) {
	info, err := ts.file.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("sandstone: stat: %w", err)
	}
	latest := make(map[int64][]value.Value)
	var order []int64
	var offset int64
	for offset < info.Size() {
		id, values, deleted, next, ok := readRecordAt(ts.file, offset)
		offset = next
		if !ok {
			break // corrupt/truncated tail
		}
		if _, seen := latest[id]; !seen {
			order = append(order, id)
		}
		if deleted {
			delete(latest, id)
			continue
		}
		latest[id] = values
	}
	// order may contain ids later deleted; filter down to ids still live.
	live := order[:0]
	for _, id := range order {
		if _, ok := latest[id]; ok {
			live = append(live, id)
		}
	}
	return latest, live, nil
}

func rebuildIndexes(e *Engine, ts *tableState) error {
	latest, order, err := collapse(ts)
	if err != nil {
		return err
	}
	for _, idx := range ts.schema.Indexes {
		ts.indexes[idx.Name] = make(map[string][]int64)
	}
	var maxID int64
	for _, id := range order {
		if id > maxID {
			maxID = id
		}
		values := latest[id]
		for _, idx := range ts.schema.Indexes {
			key, err := encodeKey(projectKey(values, idx.Columns))
			if err != nil {
				return err
			}
			ts.indexes[idx.Name][key] = append(ts.indexes[idx.Name][key], id)
		}
	}
	ts.nextID = maxID + 1
	return nil
}

// EnsureIndexesLoaded recomputes every index from a full forward
// collapse (spec.md §4.2: "recomputed at open", never persisted).
func (e *Engine) EnsureIndexesLoaded(table string) error {
	ts, err := e.open(table)
	if err != nil {
		return err
	}
	return rebuildIndexes(e, ts)
}

type sandstoneCursor struct {
	rows []storage.Row
	pos  int
}

func (c *sandstoneCursor) Next() bool { c.pos++; return c.pos < len(c.rows) }
func (c *sandstoneCursor) Row() storage.Row { return c.rows[c.pos] }
func (c *sandstoneCursor) Err() error       { return nil }
func (c *sandstoneCursor) Close() error     { return nil }

// Scan collapses the log and yields one row per live logical id, in
// first-appearance order (spec.md §4.2, §9 "Lazy row sequences" — the
// sequence is still consumed one row at a time by the executor even
// though Sandstone must materialize it first to collapse superseding
// records).
func (e *Engine) Scan(table string) (storage.Cursor, error) {
	ts, err := e.open(table)
	if err != nil {
		return nil, err
	}
	latest, order, err := collapse(ts)
	if err != nil {
		return nil, err
	}
	rows := make([]storage.Row, 0, len(order))
	for _, id := range order {
		rows = append(rows, storage.Row{RowID: id, Values: latest[id]})
	}
	return &sandstoneCursor{rows: rows, pos: -1}, nil
}

func (e *Engine) Get(table string, rowID int64) (storage.Row, error) {
	ts, err := e.open(table)
	if err != nil {
		return storage.Row{}, err
	}
	latest, _, err := collapse(ts)
	if err != nil {
		return storage.Row{}, err
	}
	values, ok := latest[rowID]
	if !ok {
		return storage.Row{}, storage.ErrNotFound
	}
	return storage.Row{RowID: rowID, Values: values}, nil
}

func (e *Engine) IndexLookup(table, index string, key []value.Value) ([]int64, error) {
	ts, err := e.open(table)
	if err != nil {
		return nil, err
	}
	idx, ok := ts.indexes[index]
	if !ok {
		return nil, fmt.Errorf("sandstone: unknown index %q on table %q", index, table)
	}
	k, err := encodeKey(key)
	if err != nil {
		return nil, err
	}
	return append([]int64(nil), idx[k]...), nil
}

func (e *Engine) appendRecord(ts *tableState, id int64, values []value.Value, deleted bool) (int64, error) {
	info, err := ts.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("sandstone: stat: %w", err)
	}
	offset := info.Size()
	framed, err := frameRecord(id, values, deleted)
	if err != nil {
		return 0, err
	}
	if _, err := ts.file.WriteAt(framed, offset); err != nil {
		return 0, fmt.Errorf("sandstone: append record: %w", err)
	}
	return offset, nil
}

// Insert appends a new logical record and assigns it a fresh id
// (spec.md §4.2).
func (e *Engine) Insert(table string, row []value.Value) (int64, error) {
	ts, err := e.open(table)
	if err != nil {
		return 0, err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	id := ts.nextID
	ts.nextID++
	if _, err := e.appendRecord(ts, id, row, false); err != nil {
		return 0, err
	}
	for _, idx := range ts.schema.Indexes {
		key, err := encodeKey(projectKey(row, idx.Columns))
		if err != nil {
			return 0, err
		}
		ts.indexes[idx.Name][key] = append(ts.indexes[idx.Name][key], id)
	}
	return id, nil
}

// currentValues returns rowID's live values by collapsing the log,
// used to remove its stale index entries before a superseding record
// changes its key (spec.md §8 index-count invariant).
func currentValues(ts *tableState, rowID int64) ([]value.Value, bool) {
	latest, _, err := collapse(ts)
	if err != nil {
		return nil, false
	}
	v, ok := latest[rowID]
	return v, ok
}

func removeFromIndex(m map[string][]int64, key string, id int64) {
	ids := m[key]
	for i, v := range ids {
		if v == id {
			m[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(m[key]) == 0 {
		delete(m, key)
	}
}

// Update appends a superseding record sharing rowID's logical id
// (spec.md §4.2: "No in-place update; updates append a superseding
// record"), removing the old index entries computed from the
// previously-live values before adding the new ones.
func (e *Engine) Update(table string, rowID int64, newValues []value.Value) error {
	ts, err := e.open(table)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if old, ok := currentValues(ts, rowID); ok {
		for _, idx := range ts.schema.Indexes {
			key, err := encodeKey(projectKey(old, idx.Columns))
			if err != nil {
				return err
			}
			removeFromIndex(ts.indexes[idx.Name], key, rowID)
		}
	}
	if _, err := e.appendRecord(ts, rowID, newValues, false); err != nil {
		return err
	}
	for _, idx := range ts.schema.Indexes {
		key, err := encodeKey(projectKey(newValues, idx.Columns))
		if err != nil {
			return err
		}
		ts.indexes[idx.Name][key] = append(ts.indexes[idx.Name][key], rowID)
	}
	return nil
}

// Delete appends a delete marker for rowID's logical id and removes its
// index entries.
func (e *Engine) Delete(table string, rowID int64) error {
	ts, err := e.open(table)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if old, ok := currentValues(ts, rowID); ok {
		for _, idx := range ts.schema.Indexes {
			key, err := encodeKey(projectKey(old, idx.Columns))
			if err != nil {
				return err
			}
			removeFromIndex(ts.indexes[idx.Name], key, rowID)
		}
	}
	_, err = e.appendRecord(ts, rowID, nil, true)
	return err
}

// Flush fsyncs the append log; indexes are never persisted for
// Sandstone (spec.md §4.2).
func (e *Engine) Flush(table string) error {
	ts, err := e.open(table)
	if err != nil {
		return err
	}
	return ts.file.Sync()
}

// RenameFile swaps a staging table's append log into place (used by
// VACUUM/ALTER — see spec.md §4.1).
func (e *Engine) RenameFile(oldTable, newTable string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	oldLower, newLower := strings.ToLower(oldTable), strings.ToLower(newTable)
	staging, ok := e.tables[oldLower]
	if !ok {
		return fmt.Errorf("sandstone: unknown staging table %q", oldTable)
	}
	if err := staging.file.Close(); err != nil {
		return fmt.Errorf("sandstone: close staging file: %w", err)
	}
	if err := os.Rename(staging.path, e.dataPath(newTable)); err != nil {
		return fmt.Errorf("sandstone: rename log file: %w", err)
	}
	f, err := os.OpenFile(e.dataPath(newTable), os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("sandstone: reopen renamed table: %w", err)
	}
	staging.file = f
	staging.path = e.dataPath(newTable)
	staging.schema.Table = newTable
	delete(e.tables, oldLower)
	e.tables[newLower] = staging
	return nil
}

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
		return fmt.Errorf("sandstone: create lsn temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(strconv.FormatInt(lsn, 10)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sandstone: write lsn marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sandstone: close lsn temp: %w", err)
	}
	if err := os.Rename(tmpPath, e.lsnPath(table)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sandstone: rename lsn marker: %w", err)
	}
	return nil
}

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

func StagingTableName(table string) string { return table + ".staging" }

func frameRecord(id int64, values []value.Value, deleted bool) ([]byte, error) {
	var payload []byte
	if !deleted {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(values); err != nil {
			return nil, fmt.Errorf("sandstone: encode row: %w", err)
		}
		payload = buf.Bytes()
	}
	header := make([]byte, recordHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))
	if deleted {
		header[8] = flagDelete
	} else {
		header[8] = flagLive
	}
	binary.BigEndian.PutUint64(header[9:17], uint64(id))
	return append(header, payload...), nil
}

func readRecordAt(r io.ReaderAt, offset int64) (id int64, values []value.Value, deleted bool, next int64, ok bool) {
	header := make([]byte, recordHeaderSize)
	if _, err := r.ReadAt(header, offset); err != nil {
		return 0, nil, false, offset, false
	}
	length := binary.BigEndian.Uint32(header[0:4])
	wantCRC := binary.BigEndian.Uint32(header[4:8])
	deleted = header[8] == flagDelete
	id = int64(binary.BigEndian.Uint64(header[9:17]))

	payload := make([]byte, length)
	if length > 0 {
		if _, err := r.ReadAt(payload, offset+recordHeaderSize); err != nil {
			return 0, nil, false, offset, false
		}
	}
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return 0, nil, false, offset, false
	}
	if !deleted {
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&values); err != nil {
			return 0, nil, false, offset, false
		}
	}
	return id, values, deleted, offset + recordHeaderSize + int64(length), true
}
