package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"

	"github.com/rishav/qaxcore/internal/record"
)

// Scan returns every LogEntry with sequence >= fromSequence across all
// segments in dir, in sequence order, stopping at the first torn or
// CRC-mismatched frame (that entry and everything after it is discarded).
// The second return value reports whether scanning stopped early due to
// corruption, so callers (recovery) can log a warning.
func Scan(dir string, fromSequence uint64) ([]record.LogEntry, bool, error) {
	names, err := listSegments(dir)
	if err != nil {
		return nil, false, err
	}

	var out []record.LogEntry
	for _, name := range names {
		entries, truncated, err := scanFile(filepath.Join(dir, name))
		if err != nil && len(entries) == 0 {
			return out, true, nil
		}
		for _, e := range entries {
			if e.Sequence >= fromSequence {
				out = append(out, e)
			}
		}
		if truncated {
			return out, true, nil
		}
	}
	return out, false, nil
}

// scanFile reads one segment file end to end, returning every well-formed
// entry before the first corruption. truncated is true if a corrupt frame
// was encountered (as opposed to a clean EOF on a frame boundary).
func scanFile(path string) ([]record.LogEntry, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("wal: open segment %s: %w", path, err)
	}
	defer f.Close()

	if err := readSegmentHeader(f); err != nil {
		return nil, true, err
	}
	if _, err := f.Seek(headerSize, io.SeekStart); err != nil {
		return nil, true, fmt.Errorf("wal: seek past header: %w", err)
	}

	var out []record.LogEntry
	hdr := make([]byte, frameHeaderLen)
	for {
		if _, err := io.ReadFull(f, hdr); err != nil {
			if err == io.EOF {
				return out, false, nil
			}
			// Partial header read: a torn trailing frame from a crash
			// mid-write. Recoverable prefix is everything read so far.
			return out, true, nil
		}
		flag := hdr[0]
		length := binary.LittleEndian.Uint32(hdr[1:5])
		wantCRC := binary.LittleEndian.Uint32(hdr[5:9])

		payload := make([]byte, length)
		if _, err := io.ReadFull(f, payload); err != nil {
			return out, true, nil
		}
		if crc32.ChecksumIEEE(payload) != wantCRC {
			return out, true, nil
		}

		if flag == frameFlagSnappy {
			decoded, err := snappy.Decode(nil, payload)
			if err != nil {
				return out, true, nil
			}
			payload = decoded
		}

		entry, err := record.DecodeEntry(payload)
		if err != nil {
			return out, true, nil
		}
		out = append(out, entry)
	}
}
