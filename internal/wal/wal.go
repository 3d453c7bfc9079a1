// Package wal implements the write-ahead log: an append-only,
// length-prefixed, CRC-checked record stream used for commit durability
// and crash recovery (spec.md §3, §4.4).
package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Op identifies the kind of mutation a Record describes (spec.md §3).
type Op byte

const (
	OpBegin Op = iota
	OpInsert
	OpUpdate
	OpDelete
	OpCommit
	OpRollback
	OpDDL
	OpCheckpoint
)

// Record is one WAL entry. LSN is strictly increasing and assigned by
// the Writer (spec.md §3). Old/New/Payload carry gob-encoded row images
// or, for OpDDL, a raw catalog-change payload.
type Record struct {
	TxnID   int64
	LSN     int64
	Op      Op
	Table   string
	RowID   int64
	Old     []byte
	New     []byte
	Payload []byte
}

// Writer is the single-producer serial queue every transaction funnels
// mutations through (spec.md §5 "single-producer serial queue").
// Enqueuing (Append) blocks other writers while the file is being
// fsync'd, matching the "enqueuing blocks when the log is being
// fsync'd" ordering guarantee.
type Writer struct {
	mu       sync.Mutex
	file     *os.File
	buf      *bufio.Writer
	nextLSN  int64
	segDir   string
	segPath  string
	sizeHint int64 // approximate bytes written since open, for checkpoint threshold
}

// CheckpointThresholdBytes is the default WAL size that triggers a
// checkpoint check (spec.md §4.4 "when WAL exceeds a size threshold").
const CheckpointThresholdBytes = 16 << 20

// Open creates (or appends to) the WAL segment directory under dataDir,
// starting a fresh segment file named with a uuid so concurrent or
// restarted processes never collide on a segment name.
func Open(dataDir string) (*Writer, error) {
	segDir := filepath.Join(dataDir, "wal")
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create segment dir: %w", err)
	}
	segPath := filepath.Join(segDir, fmt.Sprintf("%s.log", uuid.NewString()))
	f, err := os.OpenFile(segPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open segment: %w", err)
	}
	return &Writer{file: f, buf: bufio.NewWriter(f), segDir: segDir, segPath: segPath}, nil
}

// OpenSegment reopens a specific existing segment file for continued
// appends, used when recovery picks up the latest segment rather than
// rotating to a new one.
func OpenSegment(path string) (*Writer, int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("wal: reopen segment: %w", err)
	}
	maxLSN, err := HighestLSN(path)
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return &Writer{file: f, buf: bufio.NewWriter(f), segDir: filepath.Dir(path), segPath: path}, maxLSN, nil
}

// SegmentPath returns the path of the segment currently being written.
func (w *Writer) SegmentPath() string { return w.segPath }

// SetNextLSN seeds the LSN counter, used by the transaction manager after
// recovery determines the highest LSN already durable.
func (w *Writer) SetNextLSN(n int64) { atomic.StoreInt64(&w.nextLSN, n) }

// Append assigns the next LSN, encodes, and buffers rec. It does not
// fsync — callers must call Sync() at a commit boundary (spec.md §4.4
// commit protocol step 2).
func (w *Writer) Append(rec Record) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := atomic.AddInt64(&w.nextLSN, 1)
	rec.LSN = lsn

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(rec); err != nil {
		return 0, fmt.Errorf("wal: encode record: %w", err)
	}
	payload := body.Bytes()
	crc := crc32.ChecksumIEEE(payload)

	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], crc)

	if _, err := w.buf.Write(header); err != nil {
		return 0, fmt.Errorf("wal: write header: %w", err)
	}
	if _, err := w.buf.Write(payload); err != nil {
		return 0, fmt.Errorf("wal: write payload: %w", err)
	}
	w.sizeHint += int64(len(header) + len(payload))
	return lsn, nil
}

// Sync flushes buffered records and fsyncs the segment file, the
// durability point of the commit protocol (spec.md §4.4 step 2).
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	return nil
}

// ShouldCheckpoint reports whether the segment has grown past the
// checkpoint threshold (spec.md §4.4).
func (w *Writer) ShouldCheckpoint() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sizeHint >= CheckpointThresholdBytes
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// ListSegments returns WAL segment file paths under dataDir/wal, sorted
// by filename (uuids are not time-ordered, so recovery opens every
// segment and relies on LSN order, not file order, to sequence records).
func ListSegments(dataDir string) ([]string, error) {
	segDir := filepath.Join(dataDir, "wal")
	entries, err := os.ReadDir(segDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: list segments: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".log" {
			paths = append(paths, filepath.Join(segDir, e.Name()))
		}
	}
	return paths, nil
}

// ReadAll decodes every well-formed record from path, in file order. It
// stops at the first corrupt or truncated record rather than failing —
// spec.md §4.4 step 4 requires truncating the WAL tail at the last valid
// CRC, not aborting recovery. validEnd is the byte offset immediately
// after the last valid record, the point a subsequent writer should
// truncate to before resuming appends.
func ReadAll(path string) (records []Record, validEnd int64, err error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from our own WAL directory listing
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("wal: open for read: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var offset int64
	for {
		header := make([]byte, 8)
		n, rerr := io.ReadFull(r, header)
		if rerr != nil || n < 8 {
			break // truncated header: stop at last valid record
		}
		length := binary.BigEndian.Uint32(header[0:4])
		wantCRC := binary.BigEndian.Uint32(header[4:8])

		payload := make([]byte, length)
		n, rerr = io.ReadFull(r, payload)
		if rerr != nil || uint32(n) != length {
			break // truncated payload
		}
		if crc32.ChecksumIEEE(payload) != wantCRC {
			break // corrupt record: truncate here (spec.md §4.4 step 4)
		}

		var rec Record
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&rec); err != nil {
			break
		}
		records = append(records, rec)
		offset += int64(8 + length)
	}
	return records, offset, nil
}

// HighestLSN scans a segment and returns the greatest LSN it contains,
// or 0 if empty/unreadable (corrupt tail is ignored, matching ReadAll).
func HighestLSN(path string) (int64, error) {
	records, _, err := ReadAll(path)
	if err != nil {
		return 0, err
	}
	var max int64
	for _, r := range records {
		if r.LSN > max {
			max = r.LSN
		}
	}
	return max, nil
}

// Truncate truncates path to the given valid length, discarding a
// corrupt tail (spec.md §4.4 step 4).
func Truncate(path string, validEnd int64) error {
	return os.Truncate(path, validEnd)
}
