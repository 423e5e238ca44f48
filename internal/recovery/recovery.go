// Package recovery rebuilds an instrument's in-memory derived state (order
// books, account balances, anything a caller keeps outside the storage
// layer) by replaying its durable history: first the bulk of it from
// already-flushed OLTP SSTables, then the WAL tail that hasn't been
// flushed yet.
package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/rishav/qaxcore/internal/record"
	"github.com/rishav/qaxcore/internal/sstable/oltp"
	"github.com/rishav/qaxcore/internal/wal"
)

// Handler receives every record in replay order. An error aborts recovery.
type Handler interface {
	Apply(sequence uint64, p record.Payload) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(sequence uint64, p record.Payload) error

func (f HandlerFunc) Apply(sequence uint64, p record.Payload) error { return f(sequence, p) }

// Stats reports what a Recover call did, for logging and metrics.
type Stats struct {
	SSTablesScanned   int
	SSTableRecords    int
	WALRecords        int
	SkippedByDedup    int
	SkippedBySnapshot int
	LastSequence      uint64
}

// Recover replays instrumentDir's OLTP SSTables (in key order, across
// files) followed by its WAL tail (any sequence beyond what the SSTables
// already reflect), dispatching every record to handler exactly once.
//
// AccountSnapshot records are treated as a replay-skip optimization: once
// one is seen for an account, any AccountOpen/AccountUpdate for that same
// account at a sequence at or below the snapshot's LastSequence is
// redundant (the snapshot already reflects it) and is skipped rather than
// replayed record-by-record.
func Recover(instrumentDir string, handler Handler) (Stats, error) {
	var stats Stats
	applied := roaring64.New()

	oltpDir := filepath.Join(instrumentDir, "oltp")
	sstEntries, maxSeq, scanned, err := loadSSTableEntries(oltpDir)
	if err != nil {
		return stats, fmt.Errorf("recovery: load sstables: %w", err)
	}
	stats.SSTablesScanned = scanned

	walDir := filepath.Join(instrumentDir, "wal")
	walEntries, _, err := wal.Scan(walDir, maxSeq+1)
	if err != nil {
		return stats, fmt.Errorf("recovery: scan wal: %w", err)
	}
	// A torn WAL tail simply means the entries after the break weren't
	// recovered — the caller's handler still sees everything durably
	// committed up to that point.

	walAsEntries := make([]oltp.Entry, 0, len(walEntries))
	for _, le := range walEntries {
		p, err := record.Decode(le.Encoded)
		if err != nil {
			return stats, fmt.Errorf("recovery: decode wal record %d: %w", le.Sequence, err)
		}
		walAsEntries = append(walAsEntries, oltp.Entry{Timestamp: le.Timestamp, Sequence: le.Sequence, Payload: p})
	}

	// Snapshot floors are computed across both phases up front, so an
	// AccountSnapshot seen only in the WAL tail still suppresses earlier
	// granular records from the SSTable phase, and vice versa.
	snapshotFloor := latestSnapshotFloors(sstEntries)
	for k, v := range latestSnapshotFloors(walAsEntries) {
		if cur, ok := snapshotFloor[k]; !ok || v > cur {
			snapshotFloor[k] = v
		}
	}

	apply := func(e oltp.Entry, isWAL bool) error {
		if skipped, reason := shouldSkip(e, snapshotFloor, applied); skipped {
			switch reason {
			case skipDedup:
				stats.SkippedByDedup++
			case skipSnapshot:
				stats.SkippedBySnapshot++
			}
			return nil
		}
		if err := handler.Apply(e.Sequence, e.Payload); err != nil {
			return fmt.Errorf("apply record %d: %w", e.Sequence, err)
		}
		applied.Add(e.Sequence)
		if isWAL {
			stats.WALRecords++
		} else {
			stats.SSTableRecords++
		}
		if e.Sequence > stats.LastSequence {
			stats.LastSequence = e.Sequence
		}
		return nil
	}

	for _, e := range sstEntries {
		if err := apply(e, false); err != nil {
			return stats, fmt.Errorf("recovery: %w", err)
		}
	}
	for _, e := range walAsEntries {
		if err := apply(e, true); err != nil {
			return stats, fmt.Errorf("recovery: %w", err)
		}
	}

	return stats, nil
}

type skipReason int

const (
	skipNone skipReason = iota
	skipDedup
	skipSnapshot
)

func shouldSkip(e oltp.Entry, floors map[[64]byte]uint64, applied *roaring64.Bitmap) (bool, skipReason) {
	if applied.Contains(e.Sequence) {
		return true, skipDedup
	}
	switch p := e.Payload.(type) {
	case *record.AccountOpen:
		if floor, ok := floors[p.AccountID]; ok && e.Sequence <= floor {
			return true, skipSnapshot
		}
	case *record.AccountUpdate:
		if floor, ok := floors[p.AccountID]; ok && e.Sequence <= floor {
			return true, skipSnapshot
		}
	}
	return false, skipNone
}

// latestSnapshotFloors finds, per account, the highest AccountSnapshot's
// LastSequence among entries — the sequence boundary below which granular
// account records are redundant.
func latestSnapshotFloors(entries []oltp.Entry) map[[64]byte]uint64 {
	floors := make(map[[64]byte]uint64)
	for _, e := range entries {
		snap, ok := e.Payload.(*record.AccountSnapshot)
		if !ok {
			continue
		}
		if cur, ok := floors[snap.AccountID]; !ok || snap.LastSequence > cur {
			floors[snap.AccountID] = snap.LastSequence
		}
	}
	return floors
}

// loadSSTableEntries opens every SSTable under dir, merges their entries
// by (timestamp, sequence), and returns the highest sequence number seen
// across all of them (the point WAL replay must resume from).
func loadSSTableEntries(dir string) ([]oltp.Entry, uint64, int, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, 0, nil
		}
		return nil, 0, 0, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var all []oltp.Entry
	var maxSeq uint64
	scanned := 0
	for _, f := range files {
		if filepath.Ext(f.Name()) != ".sst" {
			continue
		}
		r, err := oltp.Open(filepath.Join(dir, f.Name()))
		if err != nil {
			return nil, 0, 0, fmt.Errorf("open %s: %w", f.Name(), err)
		}
		es, err := r.All()
		r.Close()
		if err != nil {
			return nil, 0, 0, fmt.Errorf("read %s: %w", f.Name(), err)
		}
		for _, e := range es {
			if e.Sequence > maxSeq {
				maxSeq = e.Sequence
			}
		}
		all = append(all, es...)
		scanned++
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Timestamp != all[j].Timestamp {
			return all[i].Timestamp < all[j].Timestamp
		}
		return all[i].Sequence < all[j].Sequence
	})

	return all, maxSeq, scanned, nil
}
