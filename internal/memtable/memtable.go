// Package memtable implements the in-memory ordered buffer a single
// instrument's hybrid storage layer (component F) accumulates recent
// writes into before they are sealed and flushed to an OLTP SSTable.
package memtable

import (
	"errors"
	"sync"

	"github.com/google/btree"

	"github.com/rishav/qaxcore/internal/record"
)

// Key orders entries by (timestamp, sequence), lexicographically. Sequence
// breaks ties and guarantees uniqueness even when two records share a
// timestamp.
type Key struct {
	Timestamp int64
	Sequence  uint64
}

// Less reports whether k sorts before other.
func (k Key) Less(other Key) bool {
	if k.Timestamp != other.Timestamp {
		return k.Timestamp < other.Timestamp
	}
	return k.Sequence < other.Sequence
}

// Entry is one (key, record) pair held in the tree. Encoded is cached at
// insert time so byte-size accounting doesn't re-encode on every lookup.
type Entry struct {
	Key     Key
	Payload record.Payload
	Encoded []byte
}

func entryLess(a, b Entry) bool {
	return a.Key.Less(b.Key)
}

// ErrSealed is returned by Insert once the table has crossed its byte
// threshold and is waiting to be swapped out by the hybrid storage layer.
var ErrSealed = errors.New("memtable: sealed, awaiting flush")

// MemTable is a single-writer, many-reader ordered map keyed by
// (timestamp, sequence). Readers get a consistent view because Range and
// All copy the matching entries out while holding the read lock.
type MemTable struct {
	mu        sync.RWMutex
	tree      *btree.BTreeG[Entry]
	bytes     int64
	threshold int64
	crossed   bool
	sealed    bool
}

// New creates an empty MemTable that seals once its tracked byte size
// reaches thresholdBytes.
func New(thresholdBytes int64) *MemTable {
	return &MemTable{
		tree:      btree.NewG(32, entryLess),
		threshold: thresholdBytes,
	}
}

// Insert adds a record at the given key. If the table crossed its
// threshold on a previous insert, this call seals the table instead of
// inserting and returns ErrSealed: a table sits at exactly the threshold
// for one more insert attempt before it actually seals.
func (m *MemTable) Insert(key Key, p record.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sealed {
		return ErrSealed
	}
	if m.crossed {
		m.sealed = true
		return ErrSealed
	}

	encoded := record.Encode(p)
	m.tree.ReplaceOrInsert(Entry{Key: key, Payload: p, Encoded: encoded})
	m.bytes += int64(len(encoded))

	if m.bytes >= m.threshold {
		m.crossed = true
	}
	return nil
}

// Get returns the entry at key, if present.
func (m *MemTable) Get(key Key) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.tree.Get(Entry{Key: key})
	return item, ok
}

// Range returns every entry with lo <= key < hi, in key order.
func (m *MemTable) Range(lo, hi Key) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	m.tree.AscendRange(Entry{Key: lo}, Entry{Key: hi}, func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// All returns every entry in key order, for the flush worker to drain a
// sealed table into an OLTP SSTable writer.
func (m *MemTable) All() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, m.tree.Len())
	m.tree.Ascend(func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Bytes returns the tracked encoded-byte size of all entries inserted so
// far.
func (m *MemTable) Bytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bytes
}

// Len returns the number of entries currently held.
func (m *MemTable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len()
}

// Sealed reports whether this table has stopped accepting inserts.
func (m *MemTable) Sealed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sealed
}

// Seal forces the table closed even if it hasn't crossed its threshold,
// used by the hybrid storage layer on an explicit flush request.
func (m *MemTable) Seal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sealed = true
}
