package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindIOError, "flush failed", cause)
	want := "flush failed: disk full"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := New(KindTableNotFound, "no such table")
	if err.Error() != "no such table" {
		t.Errorf("Error() = %q, want %q", err.Error(), "no such table")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindIOError, "failed", cause)
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is should see through Unwrap to the cause")
	}
}

func TestToMySQLMapsKnownKinds(t *testing.T) {
	cases := map[Kind]uint16{
		KindSQLSyntax:        1064,
		KindTableNotFound:    1146,
		KindDuplicateEntry:   1062,
		KindNotNullViolation: 1048,
		KindEngineNotEnabled: 1286,
	}
	for kind, want := range cases {
		got := ToMySQL(New(kind, "msg"))
		if got.Number != want {
			t.Errorf("ToMySQL(%v).Number = %d, want %d", kind, got.Number, want)
		}
	}
}

func TestToMySQLFallsBackToGenericErrorForUntypedErrors(t *testing.T) {
	got := ToMySQL(fmt.Errorf("plain error"))
	if got.Number != 1105 {
		t.Errorf("ToMySQL on an untyped error should use 1105, got %d", got.Number)
	}
}

func TestToMySQLOnNilReturnsNil(t *testing.T) {
	if ToMySQL(nil) != nil {
		t.Errorf("ToMySQL(nil) should return nil")
	}
}
