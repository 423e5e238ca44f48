package oltp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"

	"github.com/rishav/qaxcore/internal/record"
)

// Reader is a read-only, mmap-backed view over one finalized OLTP SSTable.
// Its header and footer are read once at open and held in memory; the
// data section stays mapped so gets and range scans never copy more than
// the record they return.
type Reader struct {
	path   string
	file   *os.File
	data   mmap.MMap
	header Header
	footer footer
}

// Path returns the file path this Reader was opened from.
func (r *Reader) Path() string { return r.path }

// Open maps path read-only and parses its header and footer.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("oltp: open %s: %w", path, err)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("oltp: mmap %s: %w", path, err)
	}

	hdr, err := DecodeHeader(m[:HeaderSize])
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, err
	}
	if hdr.FooterOffset > uint64(len(m)) {
		m.Unmap()
		f.Close()
		return nil, fmt.Errorf("oltp: %w: footer offset beyond file size", ErrCorrupt)
	}

	ft, err := decodeFooter(m[hdr.FooterOffset:])
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, err
	}

	return &Reader{path: path, file: f, data: m, header: hdr, footer: ft}, nil
}

// Close unmaps the file and releases its descriptor. It is only safe to
// call once every borrowed record view returned by this Reader has been
// copied by its caller or is no longer in use.
func (r *Reader) Close() error {
	if err := r.data.Unmap(); err != nil {
		r.file.Close()
		return fmt.Errorf("oltp: unmap: %w", err)
	}
	return r.file.Close()
}

// EntryCount is the number of records in this file.
func (r *Reader) EntryCount() uint64 { return r.header.EntryCount }

// MinTimestamp and MaxTimestamp bound every record's timestamp in this
// file.
func (r *Reader) MinTimestamp() int64 { return r.header.MinTimestamp }
func (r *Reader) MaxTimestamp() int64 { return r.header.MaxTimestamp }

// MightContain reports whether key could be present. false is a definite
// answer — the file has no such key; true may be a false positive.
func (r *Reader) MightContain(timestamp int64, sequence uint64) bool {
	return mightContain(r.footer.filter, encodeKey(timestamp, sequence))
}

// ShouldScan reports whether this file's timestamp range overlaps
// [loTS, hiTS], for range-query planning across many SSTables.
func (r *Reader) ShouldScan(loTS, hiTS int64) bool {
	return r.header.MinTimestamp <= hiTS && loTS <= r.header.MaxTimestamp
}

// Get returns the decoded record at (timestamp, sequence), short-
// circuiting on the Bloom filter before touching the data section.
func (r *Reader) Get(timestamp int64, sequence uint64) (record.Payload, bool, error) {
	key := encodeKey(timestamp, sequence)
	if !mightContain(r.footer.filter, key) {
		return nil, false, nil
	}

	i := sort.Search(len(r.footer.index), func(i int) bool {
		return bytes.Compare(r.footer.index[i].key, key) >= 0
	})
	if i >= len(r.footer.index) || !bytes.Equal(r.footer.index[i].key, key) {
		return nil, false, nil
	}

	p, err := r.decodeAt(r.footer.index[i].offset)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// Entry is a decoded record paired with the (timestamp, sequence) key it
// was written under, so callers merging results from several sources
// (active MemTable, sealed MemTables, several SSTables) can order and
// deduplicate by key.
type Entry struct {
	Timestamp int64
	Sequence  uint64
	Payload   record.Payload
}

// Range returns every record with timestamp in [loTS, hiTS], in key order.
// It filters by the file-level min/max first and is a no-op (no data
// section touched) when ShouldScan is false.
func (r *Reader) Range(loTS, hiTS int64) ([]Entry, error) {
	if !r.ShouldScan(loTS, hiTS) {
		return nil, nil
	}

	var out []Entry
	for _, e := range r.footer.index {
		ts, seq := decodeKey(e.key)
		if ts < loTS {
			continue
		}
		if ts > hiTS {
			break
		}
		p, err := r.decodeAt(e.offset)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Timestamp: ts, Sequence: seq, Payload: p})
	}
	return out, nil
}

// All returns every entry in this file, in key order — the full dump the
// conversion manager reads before regrouping into an OLAP file.
func (r *Reader) All() ([]Entry, error) {
	out := make([]Entry, 0, len(r.footer.index))
	for _, e := range r.footer.index {
		ts, seq := decodeKey(e.key)
		p, err := r.decodeAt(e.offset)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Timestamp: ts, Sequence: seq, Payload: p})
	}
	return out, nil
}

func (r *Reader) decodeAt(offset uint64) (record.Payload, error) {
	if offset+16+4 > uint64(len(r.data)) {
		return nil, fmt.Errorf("oltp: %w: entry offset out of range", ErrCorrupt)
	}
	valueLen := binary.LittleEndian.Uint32(r.data[offset+16 : offset+20])
	start := offset + 20
	end := start + uint64(valueLen)
	if end > uint64(len(r.data)) {
		return nil, fmt.Errorf("oltp: %w: entry value out of range", ErrCorrupt)
	}
	return record.Decode(r.data[start:end])
}
