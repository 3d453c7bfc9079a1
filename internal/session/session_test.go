package session

import "testing"

func TestNewDefaultsToAutoCommit(t *testing.T) {
	s := New("minisql", "root")
	if !s.AutoCommit {
		t.Errorf("New session should default to auto-commit ON")
	}
	if s.Txn() != nil {
		t.Errorf("a fresh session should have no active transaction")
	}
	if s.InExplicitTxn() {
		t.Errorf("a fresh session should not be inside an explicit transaction")
	}
}

func TestSetTxnThenClearTxn(t *testing.T) {
	s := New("minisql", "root")
	s.SetTxn(nil, true)
	if !s.InExplicitTxn() {
		t.Errorf("InExplicitTxn should be true after SetTxn(..., explicit=true)")
	}
	s.ClearTxn()
	if s.InExplicitTxn() {
		t.Errorf("InExplicitTxn should be false after ClearTxn")
	}
	if s.Txn() != nil {
		t.Errorf("Txn() should be nil after ClearTxn")
	}
}

func TestSetTxnImplicitDoesNotMarkExplicit(t *testing.T) {
	s := New("minisql", "root")
	s.SetTxn(nil, false)
	if s.InExplicitTxn() {
		t.Errorf("an implicit transaction should not report InExplicitTxn true")
	}
}
