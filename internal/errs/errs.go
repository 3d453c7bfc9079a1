// Package errs defines MiniSQL's error kinds (spec.md §6) and maps them
// onto the MySQL wire error-code vocabulary via
// github.com/go-sql-driver/mysql, the same driver package the teacher
// corpus uses at its own MySQL-compatibility boundaries.
package errs

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// Kind is one of the error kinds spec.md §6 requires the engine to
// surface to the wire layer.
type Kind int

const (
	KindSQLSyntax Kind = iota
	KindSchemaNotFound
	KindTableNotFound
	KindColumnNotFound
	KindTypeMismatch
	KindDuplicateEntry
	KindNotNullViolation
	KindEngineNotEnabled
	KindTxnConflict
	KindIOError
	KindCorruptWAL
)

// Error carries a Kind and a human message (spec.md §6 "Each carries a
// human message; wire layer maps to MySQL error codes").
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// mysqlNumbers maps each Kind onto the MySQL error number a real client
// driver expects (spec.md §6), mirroring common server error codes:
// 1064 parse error, 1049 unknown database, 1146 no such table, 1054
// unknown column, 1366 incorrect value, 1062 duplicate entry, 1048
// column cannot be null, 1286 unknown storage engine, 1213 deadlock (used
// here for the single-statement lock-conflict case), 1030 storage
// engine error (I/O), 1594 relay/WAL log corrupt (repurposed for our own
// WAL corruption).
var mysqlNumbers = map[Kind]uint16{
	KindSQLSyntax:        1064,
	KindSchemaNotFound:   1049,
	KindTableNotFound:    1146,
	KindColumnNotFound:   1054,
	KindTypeMismatch:     1366,
	KindDuplicateEntry:   1062,
	KindNotNullViolation: 1048,
	KindEngineNotEnabled: 1286,
	KindTxnConflict:      1213,
	KindIOError:          1030,
	KindCorruptWAL:       1594,
}

// ToMySQL maps err onto a *mysql.MySQLError carrying the matching error
// number, falling back to a generic 1105 ("unknown error") for any error
// that isn't an *errs.Error — recoverable panics aren't used in this
// codebase (spec.md §7), so every engine-surfaced error should already
// be typed by the time it reaches here.
func ToMySQL(err error) *mysql.MySQLError {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		num, ok := mysqlNumbers[e.Kind]
		if !ok {
			num = 1105
		}
		return &mysql.MySQLError{Number: num, Message: e.Error()}
	}
	return &mysql.MySQLError{Number: 1105, Message: err.Error()}
}
