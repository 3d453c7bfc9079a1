// Package txn implements the transaction manager: txn-id/LSN allocation,
// per-transaction undo buffers, commit/rollback, table locking, and the
// crash-recovery driver (spec.md §4.4).
package txn

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/minisql/minisql/internal/wal"
)

// State is a Transaction's lifecycle stage (spec.md §3).
type State int

const (
	StateActive State = iota
	StateCommitting
	StateCommitted
	StateAborted
)

// UndoEntry is one reversible mutation, kept in the order applied so
// Rollback can replay it in reverse (spec.md §9 "Transaction undo
// buffering": an ordered sequence of (engine-op, arguments), not diff
// records). Undo closes over whatever state it needs to invert the
// mutation against the owning storage engine.
type UndoEntry struct {
	Describe string
	Undo     func() error
}

// Transaction tracks one unit of work: its id, undo log, held table
// locks, and lifecycle state (spec.md §3).
type Transaction struct {
	ID    int64
	State State

	mgr       *Manager
	undo      []UndoEntry
	tables    []string        // locked table names, in acquisition order
	tableExcl map[string]bool // table name -> held exclusively by this txn
	undoMu    sync.Mutex
}

// AddUndo appends an undo entry for a mutation already applied to
// storage. Call this *before* any post-mutation constraint check so a
// failed check can unwind the mutation (spec.md §7).
func (t *Transaction) AddUndo(describe string, undo func() error) {
	t.undoMu.Lock()
	defer t.undoMu.Unlock()
	t.undo = append(t.undo, UndoEntry{Describe: describe, Undo: undo})
}

// UndoLast pops and reverses the n most recently added undo entries
// (newest first, capped at the number buffered), implementing the "per-statement savepoint implicit in the undo log"
// from spec.md §7: when a single statement's post-mutation check fails,
// only that statement's entries are discarded and reversed, leaving the
// rest of the transaction's prior writes intact.
func (t *Transaction) UndoLast(n int) error {
	t.undoMu.Lock()
	defer t.undoMu.Unlock()
	if n > len(t.undo) {
		n = len(t.undo)
	}
	for i := 0; i < n; i++ {
		entry := t.undo[len(t.undo)-1]
		t.undo = t.undo[:len(t.undo)-1]
		if err := entry.Undo(); err != nil {
			return fmt.Errorf("undo %q: %w", entry.Describe, err)
		}
	}
	return nil
}

// UndoCount reports how many undo entries are currently buffered, so a
// statement can remember its starting mark and roll back only its own
// writes on failure.
func (t *Transaction) UndoCount() int {
	t.undoMu.Lock()
	defer t.undoMu.Unlock()
	return len(t.undo)
}

// WAL exposes the manager's WAL writer so executor code can append
// Insert/Update/Delete/DDL records under this transaction's id.
func (t *Transaction) WAL() *wal.Writer { return t.mgr.wal }

// Manager owns the WAL writer, txn-id/LSN counters, table locks, and
// drives commit/rollback/recovery (spec.md §4.4).
type Manager struct {
	wal *wal.Writer

	nextTxnID int64

	catalogLock sync.RWMutex

	tableMu sync.Mutex
	tables  map[string]*sync.RWMutex

	lameDuck atomic.Bool // set on unrecoverable error (spec.md §7)
}

// New constructs a Manager around an already-open WAL writer.
func New(w *wal.Writer) *Manager {
	return &Manager{wal: w, tables: make(map[string]*sync.RWMutex)}
}

// SeedTxnID sets the txn-id counter to n, so the next Begin allocates
// n+1; recovery passes the highest txn-id already seen in the WAL.
func (m *Manager) SeedTxnID(n int64) { atomic.StoreInt64(&m.nextTxnID, n) }

func (m *Manager) lockFor(table string) *sync.RWMutex {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	l, ok := m.tables[table]
	if !ok {
		l = &sync.RWMutex{}
		m.tables[table] = l
	}
	return l
}

// Begin starts a new transaction, allocating a txn-id and logging a
// Begin WAL record (spec.md §3 transaction lifecycle).
func (m *Manager) Begin() (*Transaction, error) {
	if m.lameDuck.Load() {
		return nil, fmt.Errorf("txn: manager is in read-only lame-duck state")
	}
	id := atomic.AddInt64(&m.nextTxnID, 1)
	t := &Transaction{ID: id, State: StateActive, mgr: m}
	if _, err := m.wal.Append(wal.Record{TxnID: id, Op: wal.OpBegin}); err != nil {
		return nil, fmt.Errorf("txn: log begin: %w", err)
	}
	return t, nil
}

// LockTables acquires locks on the given table names, sorted, to
// prevent deadlock cycles (spec.md §5, §9 "Lock ordering"). Locking is
// reentrant at transaction scope: a table already held by this
// transaction — from an earlier statement under an explicit BEGIN, or
// from an earlier name in this same call — is never locked again, so a
// second statement touching a table this transaction still holds does
// not deadlock against itself. A table already held exclusively stays
// exclusive even if a later statement only asks for a shared lock;
// locks are released together by UnlockAll at Commit/Rollback.
// exclusive selects a writer (Lock) vs reader (RLock) acquisition for
// any table not yet held.
func (t *Transaction) LockTables(tables []string, exclusive bool) {
	sorted := append([]string(nil), tables...)
	sort.Strings(sorted)
	seen := map[string]bool{}
	for _, name := range sorted {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, held := t.tableExcl[name]; held {
			continue
		}
		l := t.mgr.lockFor(name)
		if exclusive {
			l.Lock()
		} else {
			l.RLock()
		}
		if t.tableExcl == nil {
			t.tableExcl = make(map[string]bool)
		}
		t.tableExcl[name] = exclusive
		t.tables = append(t.tables, name)
	}
}

// CatalogLock acquires the process-wide catalog lock for DDL (spec.md
// §5 "guarded by a single readers-writer lock; DDL is the only writer").
func (m *Manager) CatalogLock()   { m.catalogLock.Lock() }
func (m *Manager) CatalogUnlock() { m.catalogLock.Unlock() }

// CatalogRLock/RUnlock let readers consult the catalog without blocking
// each other, only DDL excludes them.
func (m *Manager) CatalogRLock()   { m.catalogLock.RLock() }
func (m *Manager) CatalogRUnlock() { m.catalogLock.RUnlock() }

// UnlockAll releases every table lock this transaction holds, matching
// each release to the mode it was actually acquired under.
func (t *Transaction) UnlockAll() {
	for _, name := range t.tables {
		l := t.mgr.lockFor(name)
		if t.tableExcl[name] {
			l.Unlock()
		} else {
			l.RUnlock()
		}
	}
	t.tables = nil
	t.tableExcl = nil
}

// Commit runs the commit protocol (spec.md §4.4): append Commit, fsync,
// mark Committed, release locks, clear the undo log.
func (t *Transaction) Commit() error {
	if _, err := t.mgr.wal.Append(wal.Record{TxnID: t.ID, Op: wal.OpCommit}); err != nil {
		t.mgr.lameDuck.Store(true)
		return fmt.Errorf("txn: log commit: %w", err)
	}
	if err := t.mgr.wal.Sync(); err != nil {
		t.mgr.lameDuck.Store(true)
		return fmt.Errorf("txn: fsync commit: %w", err)
	}
	t.State = StateCommitted
	t.UnlockAll()
	t.undoMu.Lock()
	t.undo = nil
	t.undoMu.Unlock()
	return nil
}

// Rollback replays the undo log in reverse and logs Rollback (spec.md
// §4.4 "Rollback").
func (t *Transaction) Rollback() error {
	if err := t.UndoLast(t.UndoCount()); err != nil {
		return err
	}
	if _, err := t.mgr.wal.Append(wal.Record{TxnID: t.ID, Op: wal.OpRollback}); err != nil {
		return fmt.Errorf("txn: log rollback: %w", err)
	}
	t.State = StateAborted
	t.UnlockAll()
	return nil
}

// MaybeCheckpoint appends a Checkpoint record and fsyncs if the WAL has
// grown past the configured threshold (spec.md §4.4). Callers should
// only invoke this when they hold no table locks, matching "no active
// writers hold it".
func (m *Manager) MaybeCheckpoint() error {
	if !m.wal.ShouldCheckpoint() {
		return nil
	}
	if _, err := m.wal.Append(wal.Record{Op: wal.OpCheckpoint}); err != nil {
		return fmt.Errorf("txn: log checkpoint: %w", err)
	}
	return m.wal.Sync()
}

// LameDuck reports whether the manager has entered the read-only
// lame-duck state after an unrecoverable error (spec.md §7).
func (m *Manager) LameDuck() bool { return m.lameDuck.Load() }

// EnterLameDuck forces the read-only state, used when a caller detects
// an unrecoverable condition outside the manager itself (e.g. disk
// full reported by a storage engine).
func (m *Manager) EnterLameDuck() { m.lameDuck.Store(true) }
