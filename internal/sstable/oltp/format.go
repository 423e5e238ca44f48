// Package oltp implements the row-oriented, immutable on-disk SSTable
// format a sealed MemTable is flushed into (component D). A file is
// written once, fsync'd, and published via atomic rename; concurrent
// readers then mmap it read-only and never see a partial write.
package oltp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic identifies an OLTP SSTable file, exactly as spec'd: "QAXSS01" plus
// a trailing NUL to round the field to 8 bytes.
const Magic = "QAXSS01\x00"

// HeaderSize is the fixed header length in bytes: magic(8) + version(4) +
// entry_count(8) + min_ts(8) + max_ts(8) + footer_offset(8) + reserved(84)
// = 128.
const HeaderSize = 128

const headerVersion = uint32(1)

// ErrCorrupt is returned when a header or footer fails to parse or its
// magic/version doesn't match.
var ErrCorrupt = errors.New("oltp: corrupt sstable")

// Header is the fixed 128-byte block at offset 0 of every OLTP SSTable.
type Header struct {
	Version      uint32
	EntryCount   uint64
	MinTimestamp int64
	MaxTimestamp int64
	FooterOffset uint64
}

// Encode serializes h into exactly HeaderSize bytes, little-endian.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], Magic)
	binary.LittleEndian.PutUint32(buf[8:12], h.Version)
	binary.LittleEndian.PutUint64(buf[12:20], h.EntryCount)
	binary.LittleEndian.PutUint64(buf[20:28], uint64(h.MinTimestamp))
	binary.LittleEndian.PutUint64(buf[28:36], uint64(h.MaxTimestamp))
	binary.LittleEndian.PutUint64(buf[36:44], h.FooterOffset)
	// buf[44:128] stays zeroed: reserved.
	return buf
}

// DecodeHeader validates and parses a HeaderSize-byte buffer.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("oltp: %w: short header", ErrCorrupt)
	}
	if string(buf[0:8]) != Magic {
		return Header{}, fmt.Errorf("oltp: %w: bad magic", ErrCorrupt)
	}
	return Header{
		Version:      binary.LittleEndian.Uint32(buf[8:12]),
		EntryCount:   binary.LittleEndian.Uint64(buf[12:20]),
		MinTimestamp: int64(binary.LittleEndian.Uint64(buf[20:28])),
		MaxTimestamp: int64(binary.LittleEndian.Uint64(buf[28:36])),
		FooterOffset: binary.LittleEndian.Uint64(buf[36:44]),
	}, nil
}

// encodeKey packs a (timestamp, sequence) MemTable key into 16 bytes such
// that byte-wise comparison agrees with (timestamp, sequence) ordering.
// Timestamps in this system are non-negative nanosecond counters, so a
// plain big-endian encoding (no sign-bit flip) preserves order.
func encodeKey(timestamp int64, sequence uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(timestamp))
	binary.BigEndian.PutUint64(buf[8:16], sequence)
	return buf
}

func decodeKey(buf []byte) (int64, uint64) {
	ts := int64(binary.BigEndian.Uint64(buf[0:8]))
	seq := binary.BigEndian.Uint64(buf[8:16])
	return ts, seq
}
