package wal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAssignsIncreasingLSNs(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	lsn1, err := w.Append(Record{Op: OpInsert, Table: "t"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	lsn2, err := w.Append(Record{Op: OpInsert, Table: "t"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if lsn2 <= lsn1 {
		t.Errorf("LSNs must strictly increase: got %d then %d", lsn1, lsn2)
	}
}

func TestSyncThenReadAllRoundtrips(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := w.Append(Record{Op: OpInsert, Table: "widgets", RowID: 1, New: []byte("row1")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := w.Append(Record{Op: OpCommit, Table: "widgets"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	path := w.SegmentPath()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, validEnd, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Op != OpInsert || records[1].Op != OpCommit {
		t.Errorf("unexpected record ops: %v, %v", records[0].Op, records[1].Op)
	}
	if validEnd <= 0 {
		t.Errorf("validEnd should be positive after writing valid records, got %d", validEnd)
	}
}

func TestReadAllTruncatesAtCorruptTail(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := w.Append(Record{Op: OpInsert, Table: "t"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	path := w.SegmentPath()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Append a torn trailing write that ReadAll must stop before.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.Write([]byte{0, 0, 0, 10, 1, 2, 3, 4, 0xAA}); err != nil {
		t.Fatalf("write torn tail: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	records, validEnd, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected recovery to stop before the torn record, got %d records", len(records))
	}

	if err := Truncate(path, validEnd); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != validEnd {
		t.Errorf("file size after Truncate = %d, want %d", info.Size(), validEnd)
	}
}

func TestListSegmentsFindsAllLogFiles(t *testing.T) {
	dir := t.TempDir()
	w1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = w1.Close()
	w2, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = w2.Close()

	segs, err := ListSegments(dir)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segs) != 2 {
		t.Errorf("expected 2 segments, got %d: %v", len(segs), segs)
	}
}

func TestListSegmentsOnMissingDirReturnsEmpty(t *testing.T) {
	segs, err := ListSegments(filepath.Join(t.TempDir(), "nonexistent"))
	if err != nil {
		t.Fatalf("ListSegments on missing dir should not error: %v", err)
	}
	if segs != nil {
		t.Errorf("expected nil segments, got %v", segs)
	}
}

func TestOpenSegmentReopensAtHighestLSN(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := w.Append(Record{Op: OpInsert, Table: "t"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := w.Append(Record{Op: OpInsert, Table: "t"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	path := w.SegmentPath()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, maxLSN, err := OpenSegment(path)
	if err != nil {
		t.Fatalf("OpenSegment: %v", err)
	}
	defer reopened.Close()
	if maxLSN != 2 {
		t.Errorf("OpenSegment highest LSN = %d, want 2", maxLSN)
	}
	reopened.SetNextLSN(maxLSN)
	lsn, err := reopened.Append(Record{Op: OpInsert, Table: "t"})
	if err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if lsn != maxLSN+1 {
		t.Errorf("next LSN after reopen = %d, want %d", lsn, maxLSN+1)
	}
}
