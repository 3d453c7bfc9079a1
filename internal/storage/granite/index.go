package granite

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/minisql/minisql/internal/value"
)

// memIndex is an in-memory equality index: encoded key tuple -> row-ids.
// spec.md §4.3's Non-goal excludes secondary-index range scans, so a
// hash map (rather than a sorted structure) fully satisfies the
// contract's IndexLookup operation (spec.md §4.2).
type memIndex struct {
	unique bool
	byKey  map[string][]int64
}

func newMemIndex(unique bool) *memIndex {
	return &memIndex{unique: unique, byKey: make(map[string][]int64)}
}

// encodeKey builds a stable, comparable key for a tuple of Values so
// equal tuples map to identical index keys regardless of numeric vs
// float representation edge cases handled upstream by the evaluator.
func encodeKey(key []value.Value) (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(key); err != nil {
		return "", fmt.Errorf("granite: encode index key: %w", err)
	}
	return buf.String(), nil
}

func (idx *memIndex) add(key []value.Value, rowID int64) error {
	k, err := encodeKey(key)
	if err != nil {
		return err
	}
	idx.byKey[k] = append(idx.byKey[k], rowID)
	return nil
}

func (idx *memIndex) remove(key []value.Value, rowID int64) error {
	k, err := encodeKey(key)
	if err != nil {
		return err
	}
	rows := idx.byKey[k]
	for i, id := range rows {
		if id == rowID {
			idx.byKey[k] = append(rows[:i], rows[i+1:]...)
			break
		}
	}
	if len(idx.byKey[k]) == 0 {
		delete(idx.byKey, k)
	}
	return nil
}

func (idx *memIndex) lookup(key []value.Value) ([]int64, error) {
	k, err := encodeKey(key)
	if err != nil {
		return nil, err
	}
	return append([]int64(nil), idx.byKey[k]...), nil
}

// persist writes the index to its sidecar file via the same
// write-temp-then-rename discipline used elsewhere (spec.md §6).
func (idx *memIndex) persist(path string) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(idx.byKey); err != nil {
		return fmt.Errorf("granite: encode index: %w", err)
	}
	tmp, err := os.CreateTemp("", "granite-idx-*")
	if err != nil {
		return fmt.Errorf("granite: create temp index: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("granite: write temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("granite: rename index: %w", err)
	}
	return nil
}

// loadIndex reads a persisted sidecar file, returning (nil, false) if
// missing or corrupt so the caller rebuilds it from a table scan
// (spec.md §4.2 "rebuilt from scan on open if missing/corrupt").
func loadIndex(path string, unique bool) (*memIndex, bool) {
	data, err := os.ReadFile(path) // #nosec G304 -- path built from our own data dir
	if err != nil {
		return nil, false
	}
	var byKey map[string][]int64
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&byKey); err != nil {
		return nil, false
	}
	return &memIndex{unique: unique, byKey: byKey}, true
}
