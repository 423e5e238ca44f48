// Package wal implements the per-instrument write-ahead log: an
// append-only directory of segment files, group-committed to disk, that
// backs component B of the hybrid storage engine.
//
// Layout on disk (per instrument): base/<instrument>/wal/<firstSeq>.seg.
// Each segment begins with a magic+version header and holds a sequence of
// {flag u8, length u32 LE, crc32 u32 LE, payload} frames, where payload
// is an encoded record.LogEntry, snappy-compressed when flag is 1. Segment rollover happens on size or age
// boundary; the old segment is finalized (flushed + synced) before the new
// one is opened, so a crash mid-rollover leaves at most one recoverable
// segment truncated at its tail, the same failure mode as a mid-segment
// crash.
package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

const (
	segmentMagic   = "QAXWAL1\x00"
	segmentVersion = uint32(1)
	headerSize     = 8 + 4     // magic + version
	frameHeaderLen = 1 + 4 + 4 // compression flag + length + crc32

	frameFlagRaw    = byte(0)
	frameFlagSnappy = byte(1)
)

// segmentPath returns the file name for a segment whose first entry has
// the given sequence number, zero-padded so lexicographic and sequence
// order agree when listing a directory.
func segmentPath(dir string, firstSequence uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.seg", firstSequence))
}

// writeSegmentHeader writes the magic+version header to a freshly created
// segment file.
func writeSegmentHeader(f *os.File) error {
	buf := make([]byte, headerSize)
	copy(buf[0:8], segmentMagic)
	binary.LittleEndian.PutUint32(buf[8:12], segmentVersion)
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("wal: write segment header: %w", err)
	}
	return nil
}

// readSegmentHeader validates a segment's magic bytes (the version field
// is not checked). It reads with ReadAt, so the file offset is left
// unchanged; callers seek past the header themselves.
func readSegmentHeader(f *os.File) error {
	buf := make([]byte, headerSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("wal: read segment header: %w", err)
	}
	if string(buf[0:8]) != segmentMagic {
		return fmt.Errorf("wal: %w: bad segment magic", errCorruptSegment)
	}
	return nil
}
