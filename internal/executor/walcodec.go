package executor

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/minisql/minisql/internal/value"
)

// encodeRow gob-encodes a row image for a WAL record's Old/New field
// (spec.md §3 "Old/New carry gob-encoded row images"). Encoding failures
// here would mean a Value holds data gob cannot represent, which never
// happens for the tagged-union shape value.Value defines, so callers
// that already succeeded at Insert/Update/Delete can treat this as
// infallible in practice; it still returns nil on error rather than
// panicking.
func encodeRow(values []value.Value) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(values); err != nil {
		return nil
	}
	return buf.Bytes()
}

// decodeRow reverses encodeRow. Crash recovery does not call it:
// internal/txn decodes the same gob format with its own decodeRowImage.
func decodeRow(data []byte) ([]value.Value, error) {
	var values []value.Value
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&values); err != nil {
		return nil, fmt.Errorf("executor: decode row image: %w", err)
	}
	return values, nil
}
