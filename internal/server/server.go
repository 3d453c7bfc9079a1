// Package server implements the TCP accept loop that hosts a MiniSQL
// Database: one goroutine per client connection (spec.md §5 "parallel
// cooperative tasks on a thread pool ... each client connection owns one
// task"), grounded on the teacher's daemon_guard.go / sync.go lock-then-serve
// pattern via github.com/gofrs/flock for the single-writer data-dir lock.
//
// The real MySQL wire protocol framer and authentication handshake are
// out of scope (spec.md §1): this package exposes a minimal
// newline-delimited statement/result protocol standing in for that
// framer, exercising the same Executor/Session path a wire layer would
// drive.
package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/minisql/minisql/internal/astconv"
	"github.com/minisql/minisql/internal/engine"
	"github.com/minisql/minisql/internal/errs"
	"github.com/minisql/minisql/internal/executor"
	"github.com/minisql/minisql/internal/serverconfig"
	"github.com/minisql/minisql/internal/session"
	"github.com/minisql/minisql/internal/value"
)

// Server owns one opened Database and the TCP listener serving it.
type Server struct {
	cfg   serverconfig.Config
	db    *engine.Database
	lock  *flock.Flock
	ln    net.Listener
	wg    sync.WaitGroup
	close sync.Once
}

// Open acquires the data-dir lock, opens (and recovers) the Database,
// and binds the listening socket, but does not yet accept connections —
// call Serve for that (spec.md §6 CLI: "exit non-zero on fatal startup
// error", which callers signal by Open returning a non-nil error).
func Open(cfg serverconfig.Config) (*Server, error) {
	lockPath := filepath.Join(cfg.DataDir, ".minisql.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("server: acquire data-dir lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("server: data dir %s is already in use by another minisql process", cfg.DataDir)
	}

	db, err := engine.Open(cfg.DataDir, cfg.Engines)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("server: open database: %w", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("server: listen on port %d: %w", cfg.Port, err)
	}

	return &Server{cfg: cfg, db: db, lock: lock, ln: ln}, nil
}

// Addr returns the address the server is actually bound to (useful when
// Port is 0 for tests that want an ephemeral port).
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until the listener is closed, spawning one
// goroutine per connection (spec.md §5).
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if isClosedErr(err) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func isClosedErr(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}

// Close stops accepting new connections, waits for in-flight ones to
// finish, flushes and closes the database, and releases the data-dir
// lock. Safe to call more than once.
func (s *Server) Close() error {
	var err error
	s.close.Do(func() {
		err = s.ln.Close()
		s.wg.Wait()
		if cerr := s.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if uerr := s.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	})
	return err
}

// handleConn owns the connection's Session and Converter for its
// lifetime — a statement abort from client disconnect rolls back any
// transaction that session still holds open (spec.md §5 "Cancellation/
// timeout").
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	sess := session.New("minisql", s.cfg.User)
	conv := astconv.New()
	reader := bufio.NewReader(conn)

	defer func() {
		if t := sess.Txn(); t != nil {
			_ = t.Rollback()
		}
	}()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				return
			}
			if strings.TrimSpace(line) == "" {
				return
			}
		}
		stmtText := strings.TrimSpace(line)
		if stmtText == "" {
			if err == io.EOF {
				return
			}
			continue
		}

		result, execErr := s.execute(conv, sess, stmtText)
		if execErr != nil {
			writeError(conn, execErr)
		} else {
			writeResult(conn, result)
		}
		if err == io.EOF {
			return
		}
	}
}

func (s *Server) execute(conv *astconv.Converter, sess *session.Session, stmtText string) (executor.QueryResult, error) {
	stmt, err := conv.Parse(stmtText)
	if err != nil {
		return executor.QueryResult{}, err
	}
	return s.db.Executor.Execute(stmt, sess)
}

func writeError(w io.Writer, err error) {
	mysqlErr := errs.ToMySQL(err)
	fmt.Fprintf(w, "ERR %d %s\n", mysqlErr.Number, mysqlErr.Message)
}

func writeResult(w io.Writer, res executor.QueryResult) {
	switch res.Kind {
	case executor.ResultOk:
		fmt.Fprintln(w, "OK")
	case executor.ResultModified:
		fmt.Fprintf(w, "OK rows_affected=%d last_insert_id=%d\n", res.RowsAffected, res.LastInsertID)
	case executor.ResultSelect:
		fmt.Fprintln(w, strings.Join(res.Columns, "\t"))
		for _, row := range res.Rows {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = cellText(v)
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
		fmt.Fprintln(w, "--END--")
	}
}

// cellText renders a Value the way a wire layer would format it for a
// MySQL result-set packet (spec.md §6: integers as signed 64-bit, floats
// as DOUBLE, strings as VARCHAR/TEXT, JSON as MySQL JSON); NULL renders
// as the literal "NULL" marker this line protocol reserves.
func cellText(v value.Value) string {
	if v.IsNull() {
		return "NULL"
	}
	switch v.Kind {
	case value.KindInteger:
		return strconv.FormatInt(v.I, 10)
	case value.KindFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	default:
		return v.String()
	}
}
