package oltp

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/rishav/qaxcore/internal/memtable"
)

// indexEntry is one entry in the footer's in-memory key index: the sorted
// key and the byte offset of its data-section entry.
type indexEntry struct {
	key    []byte
	offset uint64
}

// WriteFile drains a sealed MemTable's entries (already in key order) into
// a new OLTP SSTable at path: a header placeholder, streamed entries, a
// footer (Bloom filter + min/max index), the rewritten header, an fsync,
// then an atomic rename into place.
func WriteFile(path string, entries []memtable.Entry) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("oltp: create %s: %w", tmp, err)
	}
	defer os.Remove(tmp) // no-op once the rename below succeeds

	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		f.Close()
		return fmt.Errorf("oltp: write header placeholder: %w", err)
	}

	filter, err := filterFor(uint64(len(entries)))
	if err != nil {
		f.Close()
		return fmt.Errorf("oltp: build bloom filter: %w", err)
	}

	index := make([]indexEntry, 0, len(entries))
	offset := uint64(HeaderSize)
	var minTS, maxTS int64
	var minKey, maxKey []byte

	for i, e := range entries {
		key := encodeKey(e.Key.Timestamp, e.Key.Sequence)
		addKey(filter, key)
		index = append(index, indexEntry{key: key, offset: offset})

		rec := make([]byte, 16+4+len(e.Encoded))
		copy(rec[0:16], key)
		binary.LittleEndian.PutUint32(rec[16:20], uint32(len(e.Encoded)))
		copy(rec[20:], e.Encoded)

		if _, err := f.Write(rec); err != nil {
			f.Close()
			return fmt.Errorf("oltp: write entry %d: %w", i, err)
		}
		offset += uint64(len(rec))

		if i == 0 {
			minTS, maxTS = e.Key.Timestamp, e.Key.Timestamp
			minKey, maxKey = key, key
		} else {
			if e.Key.Timestamp < minTS {
				minTS = e.Key.Timestamp
			}
			if e.Key.Timestamp > maxTS {
				maxTS = e.Key.Timestamp
			}
			maxKey = key // entries arrive in key order, so the last key is the max
		}
	}

	footerOffset := offset
	footer, err := encodeFooter(index, minKey, maxKey, filter, time.Now().UnixNano())
	if err != nil {
		f.Close()
		return fmt.Errorf("oltp: encode footer: %w", err)
	}
	if _, err := f.Write(footer); err != nil {
		f.Close()
		return fmt.Errorf("oltp: write footer: %w", err)
	}

	header := Header{
		Version:      headerVersion,
		EntryCount:   uint64(len(entries)),
		MinTimestamp: minTS,
		MaxTimestamp: maxTS,
		FooterOffset: footerOffset,
	}
	if _, err := f.WriteAt(header.Encode(), 0); err != nil {
		f.Close()
		return fmt.Errorf("oltp: rewrite header: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("oltp: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("oltp: close: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("oltp: publish rename: %w", err)
	}
	return nil
}
