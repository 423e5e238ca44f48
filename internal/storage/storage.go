// Package storage implements the hybrid per-instrument storage layer
// (component F): it composes a WAL, an active MemTable plus any sealed-
// but-not-yet-flushed MemTables, and the registry of OLTP SSTables a
// background flush worker produces from them.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rishav/qaxcore/internal/memtable"
	"github.com/rishav/qaxcore/internal/record"
	"github.com/rishav/qaxcore/internal/sstable/oltp"
	"github.com/rishav/qaxcore/internal/wal"
)

// Config controls one instrument's storage layer.
type Config struct {
	BaseDir         string // base/<instrument>
	MemTableBytes   int64
	FlushQueueDepth int
	WAL             wal.Config
}

// DefaultConfig returns sane per-instrument defaults rooted at baseDir.
func DefaultConfig(baseDir string) Config {
	return Config{
		BaseDir:         baseDir,
		MemTableBytes:   64 << 20,
		FlushQueueDepth: 16,
		WAL:             wal.DefaultConfig(filepath.Join(baseDir, "wal")),
	}
}

// Stats reports the instance's current resource usage.
type Stats struct {
	MemTableBytes int64
	MemTableCount int
	SSTableCount  int
	FlushQueueLen int
}

// Instrument is the storage handle for exactly one instrument. It is the
// sole writer for its WAL, MemTable set, and SSTable set.
type Instrument struct {
	name string
	cfg  Config
	w    *wal.WAL

	mu          sync.RWMutex
	active      *memtable.MemTable
	sealed      []*memtable.MemTable
	sstables    []*oltp.Reader
	nextSSTable uint64

	flushCh    chan *memtable.MemTable
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	closed     atomic.Bool
}

// Open opens (creating if needed) the storage directories for one
// instrument and starts its background flush worker.
func Open(name string, cfg Config) (*Instrument, error) {
	oltpDir := filepath.Join(cfg.BaseDir, "oltp")
	if err := os.MkdirAll(oltpDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage[%s]: mkdir oltp: %w", name, err)
	}

	w, err := wal.Open(cfg.WAL)
	if err != nil {
		return nil, fmt.Errorf("storage[%s]: open wal: %w", name, err)
	}

	readers, next, err := loadSSTables(oltpDir)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("storage[%s]: load sstables: %w", name, err)
	}

	inst := &Instrument{
		name:        name,
		cfg:         cfg,
		w:           w,
		active:      memtable.New(cfg.MemTableBytes),
		sstables:    readers,
		nextSSTable: next,
		flushCh:     make(chan *memtable.MemTable, cfg.FlushQueueDepth),
		shutdownCh:  make(chan struct{}),
	}

	inst.wg.Add(1)
	go inst.flushLoop()
	return inst, nil
}

func loadSSTables(dir string) ([]*oltp.Reader, uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("read dir: %w", err)
	}
	var readers []*oltp.Reader
	var next uint64
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".sst" {
			continue
		}
		r, err := oltp.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, 0, fmt.Errorf("open %s: %w", e.Name(), err)
		}
		readers = append(readers, r)
		next++
	}
	return readers, next, nil
}

// Write appends record to the WAL synchronously, then inserts it into the
// active MemTable, sealing and enqueueing a flush (and allocating a fresh
// active table) if the table was already full. It never waits for the
// flush itself to complete.
func (in *Instrument) Write(p record.Payload) (uint64, error) {
	seq, err := in.w.Append(p)
	if err != nil {
		return 0, fmt.Errorf("storage[%s]: wal append: %w", in.name, err)
	}

	key := memtable.Key{Timestamp: time.Now().UnixNano(), Sequence: seq}

	in.mu.Lock()
	defer in.mu.Unlock()

	if err := in.active.Insert(key, p); err != nil {
		in.sealed = append(in.sealed, in.active)
		select {
		case in.flushCh <- in.active:
		default:
			// Flush queue is full; the sealed table still sits in in.sealed
			// and is visible to range queries, and its records are in the
			// WAL, but it is not queued: the flush worker never writes it
			// to an SSTable.
		}
		in.active = memtable.New(in.cfg.MemTableBytes)
		if err := in.active.Insert(key, p); err != nil {
			return 0, fmt.Errorf("storage[%s]: insert into fresh memtable: %w", in.name, err)
		}
	}
	return seq, nil
}

// RangeQuery scans the active MemTable, every sealed-but-unflushed
// MemTable, and every SSTable whose ShouldScan overlaps the range,
// merging results by (timestamp, sequence).
func (in *Instrument) RangeQuery(loTS, hiTS int64) ([]record.Payload, error) {
	in.mu.RLock()
	active := in.active
	sealed := append([]*memtable.MemTable(nil), in.sealed...)
	sstables := append([]*oltp.Reader(nil), in.sstables...)
	in.mu.RUnlock()

	type kv struct {
		key memtable.Key
		p   record.Payload
	}
	var rows []kv

	lo := memtable.Key{Timestamp: loTS}
	hi := memtable.Key{Timestamp: hiTS + 1}
	for _, e := range active.Range(lo, hi) {
		rows = append(rows, kv{key: e.Key, p: e.Payload})
	}
	for _, m := range sealed {
		for _, e := range m.Range(lo, hi) {
			rows = append(rows, kv{key: e.Key, p: e.Payload})
		}
	}
	for _, r := range sstables {
		if !r.ShouldScan(loTS, hiTS) {
			continue
		}
		vals, err := r.Range(loTS, hiTS)
		if err != nil {
			return nil, fmt.Errorf("storage[%s]: sstable range: %w", in.name, err)
		}
		for _, v := range vals {
			rows = append(rows, kv{
				key: memtable.Key{Timestamp: v.Timestamp, Sequence: v.Sequence},
				p:   v.Payload,
			})
		}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].key.Less(rows[j].key) })

	out := make([]record.Payload, len(rows))
	for i, r := range rows {
		out[i] = r.p
	}
	return out, nil
}

// Stats reports current resource usage for this instrument.
func (in *Instrument) Stats() Stats {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return Stats{
		MemTableBytes: in.active.Bytes(),
		MemTableCount: 1 + len(in.sealed),
		SSTableCount:  len(in.sstables),
		FlushQueueLen: len(in.flushCh),
	}
}

// flushLoop is the single background flush worker for this instrument: it
// takes the oldest sealed MemTable, writes an OLTP SSTable, updates the
// registry, and drops the MemTable reference.
func (in *Instrument) flushLoop() {
	defer in.wg.Done()
	for {
		select {
		case m := <-in.flushCh:
			if err := in.flushOne(m); err != nil {
				// A flush failure leaves the sealed table in in.sealed, so
				// range queries still see its data. It is not re-queued,
				// so the flush is not retried and the table stays in
				// memory.
				continue
			}
		case <-in.shutdownCh:
			return
		}
	}
}

func (in *Instrument) flushOne(m *memtable.MemTable) error {
	entries := m.All()

	in.mu.Lock()
	id := in.nextSSTable
	in.nextSSTable++
	in.mu.Unlock()

	path := filepath.Join(in.cfg.BaseDir, "oltp", fmt.Sprintf("%020d.sst", id))
	if err := oltp.WriteFile(path, entries); err != nil {
		return fmt.Errorf("storage[%s]: write sstable: %w", in.name, err)
	}

	reader, err := oltp.Open(path)
	if err != nil {
		return fmt.Errorf("storage[%s]: open written sstable: %w", in.name, err)
	}

	in.mu.Lock()
	in.sstables = append(in.sstables, reader)
	for i, s := range in.sealed {
		if s == m {
			in.sealed = append(in.sealed[:i], in.sealed[i+1:]...)
			break
		}
	}
	in.mu.Unlock()
	return nil
}

// Close stops the flush worker and closes the WAL. It does not flush
// remaining sealed MemTables synchronously; callers that need every
// sealed table durable before shutdown should wait for
// Stats().MemTableCount to fall to 1, which counts only the active
// MemTable; Close does not flush that one either, so its records are
// durable only in the WAL (compaction/flush-on-shutdown policy is a caller choice,
// not prescribed here).
func (in *Instrument) Close() error {
	if !in.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(in.shutdownCh)
	in.wg.Wait()

	in.mu.Lock()
	defer in.mu.Unlock()
	for _, r := range in.sstables {
		r.Close()
	}
	return in.w.Close()
}
