// Package session holds per-connection state: current database, current
// transaction, auto-commit flag, last-insert-id, and current user
// (spec.md §4.5). Grounded on the teacher's internal/rpc per-connection
// request context object.
package session

import "github.com/minisql/minisql/internal/txn"

// Session is owned by one client connection. It is not safe for
// concurrent use by multiple goroutines — one connection, one
// goroutine, per spec.md §5's "each client connection owns one task".
type Session struct {
	Database      string
	User          string
	AutoCommit    bool
	LastInsertID  int64
	activeTxn     *txn.Transaction
	explicitBegin bool
}

// New constructs a Session with auto-commit ON (spec.md §4.5 default).
func New(database, user string) *Session {
	return &Session{Database: database, User: user, AutoCommit: true}
}

// Txn returns the session's currently open transaction, or nil if none
// (auto-commit with no open BEGIN).
func (s *Session) Txn() *txn.Transaction { return s.activeTxn }

// InExplicitTxn reports whether the session is inside a BEGIN ...
// COMMIT/ROLLBACK block, used by VACUUM's "cannot be run inside a
// transaction" check (spec.md §4.1).
func (s *Session) InExplicitTxn() bool { return s.explicitBegin }

// SetTxn installs t as the session's active transaction. explicit
// records whether it was opened by an explicit BEGIN (vs. implicitly by
// the executor for one auto-commit statement).
func (s *Session) SetTxn(t *txn.Transaction, explicit bool) {
	s.activeTxn = t
	s.explicitBegin = explicit
}

// ClearTxn drops the session's reference to its (now committed or
// rolled-back) transaction.
func (s *Session) ClearTxn() {
	s.activeTxn = nil
	s.explicitBegin = false
}
