package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	"github.com/golang/snappy"

	"github.com/rishav/qaxcore/internal/record"
)

// errCorruptSegment signals a torn or invalid-magic segment; callers treat
// this as the recovery boundary, not a fatal error.
var errCorruptSegment = errors.New("wal: corrupt segment")

// ErrClosed is returned by Append/AppendAsync/FlushGroupCommit once the WAL
// has stopped accepting writes after an fsync failure — an fsync failure is
// fatal to the WAL, since there is no way to know which buffered frames
// actually reached disk.
var ErrClosed = errors.New("wal: closed after fatal I/O error")

// Config controls segment sizing and group-commit batching for one
// instrument's WAL.
type Config struct {
	Dir string // base/<instrument>/wal

	MaxSegmentBytes int64         // roll to a new segment past this size
	MaxSegmentAge   time.Duration // roll to a new segment past this age
	MinBatch        int           // group-commit batch floor
	MaxBatch        int           // group-commit batch ceiling
	CommitWindow    time.Duration // not read by the WAL: async appends are flushed only by FlushGroupCommit, Append or Close

	// Compress snappy-compresses each frame's payload before it is written.
	// Records are small and already dense, so this is a per-frame block
	// compressor rather than a whole-segment one: a torn trailing frame
	// still only costs that one frame, not the rest of the segment.
	Compress bool
}

// DefaultConfig returns sane defaults for a single instrument's WAL.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		MaxSegmentBytes: 128 << 20,
		MaxSegmentAge:   10 * time.Minute,
		MinBatch:        1,
		MaxBatch:        1024,
		CommitWindow:    5 * time.Millisecond,
		Compress:        true,
	}
}

// WAL is the per-instrument append-only log. One WAL instance owns exactly
// one instrument's segment directory; it is the single writer for that
// directory (enforced by an flock so a second process opening the same
// directory fails fast instead of corrupting frames).
type WAL struct {
	cfg  Config
	lock *flock.Flock

	mu           sync.Mutex
	file         *os.File
	writer       *bufio.Writer
	segmentStart time.Time
	segmentBytes int64
	firstSeqInSeg uint64
	sequence     uint64
	pending      []record.LogEntry
	batchTarget  int
	closed       bool
}

// Open opens or creates the WAL directory for one instrument, acquiring an
// exclusive writer lock and recovering the next sequence number from the
// newest segment on disk.
func Open(cfg Config) (*WAL, error) {
	if cfg.MinBatch <= 0 {
		cfg.MinBatch = 1
	}
	if cfg.MaxBatch < cfg.MinBatch {
		cfg.MaxBatch = cfg.MinBatch
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: mkdir %s: %w", cfg.Dir, err)
	}

	lk := flock.New(filepath.Join(cfg.Dir, ".writer.lock"))
	ok, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("wal: acquire writer lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("wal: %s is already open for writing by another process", cfg.Dir)
	}

	w := &WAL{
		cfg:         cfg,
		lock:        lk,
		batchTarget: cfg.MinBatch,
	}

	lastSeq, err := w.recoverSequence()
	if err != nil {
		lk.Unlock()
		return nil, err
	}
	w.sequence = lastSeq

	if err := w.openNewSegment(lastSeq + 1); err != nil {
		lk.Unlock()
		return nil, err
	}
	return w, nil
}

// recoverSequence scans every existing segment, oldest first, and returns
// the highest sequence number among their well-formed entries. Within a
// segment the scan stops at the first corrupt frame; later segments are
// still read.
func (w *WAL) recoverSequence() (uint64, error) {
	names, err := listSegments(w.cfg.Dir)
	if err != nil {
		return 0, err
	}
	var last uint64
	for _, name := range names {
		entries, _, err := scanFile(filepath.Join(w.cfg.Dir, name))
		if err != nil && len(entries) == 0 {
			continue
		}
		for _, e := range entries {
			if e.Sequence > last {
				last = e.Sequence
			}
		}
	}
	return last, nil
}

func listSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: list segments: %w", err)
	}
	var names []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".seg" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (w *WAL) openNewSegment(firstSequence uint64) error {
	path := segmentPath(w.cfg.Dir, firstSequence)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("wal: create segment %s: %w", path, err)
	}
	if err := writeSegmentHeader(f); err != nil {
		f.Close()
		return err
	}
	w.file = f
	w.writer = bufio.NewWriter(f)
	w.segmentStart = time.Now()
	w.segmentBytes = int64(headerSize)
	w.firstSeqInSeg = firstSequence
	return nil
}

// Append assigns the next sequence number, frames the record, and commits
// it to the group-commit buffer, flushing immediately (synchronous
// durability). It returns once fsync has completed.
func (w *WAL) Append(p record.Payload) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	seq, err := w.appendLocked(p)
	if err != nil {
		return 0, err
	}
	if err := w.flushLocked(); err != nil {
		return 0, err
	}
	return seq, nil
}

// AppendAsync buffers a record without flushing; the caller must call
// FlushGroupCommit to make it durable. This lets a caller batch several
// appends into a single fsync.
func (w *WAL) AppendAsync(p record.Payload) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(p)
}

func (w *WAL) appendLocked(p record.Payload) (uint64, error) {
	if w.closed {
		return 0, ErrClosed
	}
	w.sequence++
	seq := w.sequence
	entry := record.NewEntry(seq, time.Now().UnixNano(), p)
	w.pending = append(w.pending, entry)
	return seq, nil
}

// FlushGroupCommit writes every buffered entry to the segment file through
// its buffered writer (a batch larger than the buffer takes several write
// calls) and issues fsync. A commit is durable only once
// this returns without error. On fsync failure the WAL stops accepting
// further writes — an fsync that might have partially landed leaves the
// tail of the segment in an unknown state, so the only safe response is
// to refuse further writes rather than risk gaps in the sequence.
func (w *WAL) FlushGroupCommit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if w.closed {
		return ErrClosed
	}
	if len(w.pending) == 0 {
		return nil
	}

	if w.shouldRollLocked() {
		if err := w.rollLocked(); err != nil {
			return err
		}
	}

	n := len(w.pending)
	for _, e := range w.pending {
		frame := buildFrame(e, w.cfg.Compress)
		if _, err := w.writer.Write(frame); err != nil {
			return fmt.Errorf("wal: write frame: %w", err)
		}
		w.segmentBytes += int64(len(frame))
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush buffer: %w", err)
	}

	if err := w.syncWithRetry(); err != nil {
		w.closed = true
		return fmt.Errorf("wal: %w: fsync failed, instrument writer stopped: %v", ErrClosed, err)
	}

	w.pending = w.pending[:0]
	w.adaptBatchTarget(n)
	return nil
}

// syncWithRetry issues fsync, retrying once on transient failure before the
// whole batch is failed back to the caller.
func (w *WAL) syncWithRetry() error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1)
	return backoff.Retry(func() error {
		return w.file.Sync()
	}, b)
}

// adaptBatchTarget grows the group-commit batch target while throughput
// keeps filling it, and shrinks it back when a flush lands well under
// target (a proxy for a latency spike having forced an early flush).
func (w *WAL) adaptBatchTarget(lastBatchSize int) {
	switch {
	case lastBatchSize >= w.batchTarget && w.batchTarget < w.cfg.MaxBatch:
		w.batchTarget *= 2
		if w.batchTarget > w.cfg.MaxBatch {
			w.batchTarget = w.cfg.MaxBatch
		}
	case lastBatchSize < w.batchTarget/2 && w.batchTarget > w.cfg.MinBatch:
		w.batchTarget /= 2
		if w.batchTarget < w.cfg.MinBatch {
			w.batchTarget = w.cfg.MinBatch
		}
	}
}

func (w *WAL) shouldRollLocked() bool {
	if w.segmentBytes >= w.cfg.MaxSegmentBytes {
		return true
	}
	if w.cfg.MaxSegmentAge > 0 && time.Since(w.segmentStart) >= w.cfg.MaxSegmentAge {
		return true
	}
	return false
}

// rollLocked finalizes the current segment and opens a new one. Rollover
// is atomic from a reader's perspective: the old segment is fully flushed
// and synced before the new segment's header is written.
func (w *WAL) rollLocked() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush before rollover: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync before rollover: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close rolled segment: %w", err)
	}
	return w.openNewSegment(w.pending[0].Sequence)
}

func buildFrame(e record.LogEntry, compress bool) []byte {
	payload := record.EncodeEntry(e)

	flag := frameFlagRaw
	if compress {
		compressed := snappy.Encode(nil, payload)
		if len(compressed) < len(payload) {
			payload = compressed
			flag = frameFlagSnappy
		}
	}

	frame := make([]byte, frameHeaderLen+len(payload))
	frame[0] = flag
	binary.LittleEndian.PutUint32(frame[1:5], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[5:9], crc32.ChecksumIEEE(payload))
	copy(frame[9:], payload)
	return frame
}

// Close flushes any pending entries, syncs, and releases the writer lock.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var err error
	if !w.closed {
		err = w.flushLocked()
		if w.file != nil {
			if cerr := w.file.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}
	w.closed = true
	if uerr := w.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// Sequence returns the last sequence number assigned (whether or not it
// has been flushed yet).
func (w *WAL) Sequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sequence
}
