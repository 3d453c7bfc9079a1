// Package granite implements the default row-oriented, in-place-update
// storage engine (spec.md §4.2 "Granite").
package granite

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/minisql/minisql/internal/value"
)

// recordHeaderSize is row-id(8) + len(4) + crc(4) + tombstone(1)
// preceding the gob-encoded payload, extending spec.md §4.2's record
// framing "[len|crc|tombstone-byte|payload]" with a leading logical
// row-id so a row's id is independent of its file offset: VACUUM can
// then rebuild a table with row-ids renumbered 1..N (spec.md §4.1)
// while Scan/Get still read records by walking file offsets.
const recordHeaderSize = 17

const tombstoneOffset = 16

func encodeValues(values []value.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(values); err != nil {
		return nil, fmt.Errorf("granite: encode row: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeValues(payload []byte) ([]value.Value, error) {
	var values []value.Value
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&values); err != nil {
		return nil, fmt.Errorf("granite: decode row: %w", err)
	}
	return values, nil
}

// frameRecord builds the on-disk byte sequence for one record.
func frameRecord(rowID int64, values []value.Value, tombstone bool) ([]byte, error) {
	payload, err := encodeValues(values)
	if err != nil {
		return nil, err
	}
	header := make([]byte, recordHeaderSize)
	binary.BigEndian.PutUint64(header[0:8], uint64(rowID))
	binary.BigEndian.PutUint32(header[8:12], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[12:16], crc32.ChecksumIEEE(payload))
	if tombstone {
		header[tombstoneOffset] = 1
	}
	return append(header, payload...), nil
}

// readRecordAt reads one framed record starting at offset, returning
// its logical row-id, values, whether it is tombstoned, and the offset
// just past it. A short read or CRC mismatch signals end-of-usable-data,
// mirroring the WAL's corrupt-tail truncation behavior (spec.md §4.4).
func readRecordAt(r io.ReaderAt, offset int64) (rowID int64, values []value.Value, tombstoned bool, next int64, ok bool) {
	header := make([]byte, recordHeaderSize)
	if _, err := r.ReadAt(header, offset); err != nil {
		return 0, nil, false, offset, false
	}
	rowID = int64(binary.BigEndian.Uint64(header[0:8]))
	length := binary.BigEndian.Uint32(header[8:12])
	wantCRC := binary.BigEndian.Uint32(header[12:16])
	tombstoned = header[tombstoneOffset] == 1

	payload := make([]byte, length)
	if _, err := r.ReadAt(payload, offset+recordHeaderSize); err != nil {
		return 0, nil, false, offset, false
	}
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return 0, nil, false, offset, false
	}
	values, err := decodeValues(payload)
	if err != nil {
		return 0, nil, false, offset, false
	}
	return rowID, values, tombstoned, offset + recordHeaderSize + int64(length), true
}
