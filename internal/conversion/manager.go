// Package conversion implements the background OLTP→OLAP conversion
// pipeline (component G): a scheduler that periodically looks for cold
// OLTP SSTables and a bounded worker pool that rewrites them into
// columnar OLAP files, persisting its progress so an interrupted
// conversion is resumable.
package conversion

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rishav/qaxcore/internal/memtable"
	"github.com/rishav/qaxcore/internal/record"
	"github.com/rishav/qaxcore/internal/sstable/olap"
	"github.com/rishav/qaxcore/internal/sstable/oltp"
)

// State is a conversion task's progress marker.
type State uint8

const (
	StatePending State = iota
	StateConverting
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateConverting:
		return "CONVERTING"
	case StateSuccess:
		return "SUCCESS"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ErrQueueFull is returned when the scheduler can't enqueue a new task
// because the worker pool's bounded queue is already full. The scheduler
// treats this as back-pressure and leaves the eligible sources for the
// next scan rather than blocking.
var ErrQueueFull = errors.New("conversion: task queue full")

// Task describes one OLTP→OLAP conversion unit: a set of source SSTables
// for one instrument, rewritten into a single OLAP output file.
type Task struct {
	ID         uint64
	Instrument string
	Sources    []string
	Output     string
	State      State
	Err        string
}

// Config controls scan cadence, batching thresholds, and worker pool
// sizing.
type Config struct {
	Instruments    []string // instrument names to scan, base/<instrument>/oltp
	BaseDir        string
	ScanInterval   time.Duration
	MinBatch       int           // minimum number of eligible SSTables to form a task
	MinAge         time.Duration // an SSTable must be at least this old to be eligible
	WorkerCount    int
	QueueDepth     int
	RetentionDelay time.Duration // delay before deleting converted sources; 0 = immediate
	RowGroupTarget int
}

// DefaultConfig returns sane scheduling defaults.
func DefaultConfig(baseDir string, instruments []string) Config {
	return Config{
		Instruments:    instruments,
		BaseDir:        baseDir,
		ScanInterval:   30 * time.Second,
		MinBatch:       3,
		MinAge:         5 * time.Minute,
		WorkerCount:    2,
		QueueDepth:     32,
		RetentionDelay: time.Hour,
		RowGroupTarget: olap.DefaultRowGroupTarget,
	}
}

// Manager drives the scheduler and worker pool. Metadata about every task
// (including ones still Pending or Converting) is fsync'd to an append-only
// JSON-lines log on every state transition, so a restart can rebuild the
// task table exactly as it was left — a fixed-width record envelope can't
// carry a task's variable-length source file list, so this log uses the
// same line-delimited JSON approach as the OLAP manifest sidecar rather
// than the WAL's record codec.
type Manager struct {
	cfg Config

	meta *metadataLog

	mu     sync.Mutex
	tasks  map[uint64]*Task
	nextID uint64
	queue  chan *Task

	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// Open starts a Manager, replaying any existing metadata log so tasks left
// Pending or Converting from a previous run are known, then re-enqueues
// them — a task caught mid-Converting by a crash is retried from scratch,
// since its source SSTables are only deleted after StateSuccess is
// recorded, so re-running WriteFile against the same sources is safe.
func Open(cfg Config) (*Manager, error) {
	meta, tasks, nextID, err := openMetadataLog(filepath.Join(cfg.BaseDir, "conversion_metadata.log"))
	if err != nil {
		return nil, fmt.Errorf("conversion: open metadata log: %w", err)
	}

	m := &Manager{
		cfg:        cfg,
		meta:       meta,
		tasks:      tasks,
		nextID:     nextID,
		queue:      make(chan *Task, cfg.QueueDepth),
		shutdownCh: make(chan struct{}),
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		m.wg.Add(1)
		go m.workerLoop()
	}
	m.wg.Add(1)
	go m.schedulerLoop()

	for _, t := range tasks {
		if t.State == StatePending || t.State == StateConverting {
			select {
			case m.queue <- t:
			default:
				// Queue is already saturated at startup; the next scan
				// tick's back-pressure handling applies equally here, so
				// the task stays Pending/Converting until a slot frees up.
			}
		}
	}

	return m, nil
}

// Close stops the scheduler and worker pool and closes the metadata log.
func (m *Manager) Close() error {
	close(m.shutdownCh)
	m.wg.Wait()
	return m.meta.Close()
}

// Tasks returns a snapshot of every known task, most recently created
// first.
func (m *Manager) Tasks() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// CountByState returns how many known tasks are in state s, used by tests
// polling for "success == 1".
func (m *Manager) CountByState(s State) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.State == s {
			n++
		}
	}
	return n
}

func (m *Manager) schedulerLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.scanOnce()
		case <-m.shutdownCh:
			return
		}
	}
}

// scanOnce looks at every configured instrument's OLTP directory and forms
// a task for the oldest MinBatch-or-more eligible SSTables.
func (m *Manager) scanOnce() {
	for _, instrument := range m.cfg.Instruments {
		dir := filepath.Join(m.cfg.BaseDir, instrument, "oltp")
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		var eligible []string
		cutoff := time.Now().Add(-m.cfg.MinAge)
		for _, e := range entries {
			if filepath.Ext(e.Name()) != ".sst" {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			eligible = append(eligible, filepath.Join(dir, e.Name()))
		}

		if len(eligible) < m.cfg.MinBatch {
			continue
		}
		sort.Strings(eligible)

		if err := m.Submit(instrument, eligible); err != nil {
			// ErrQueueFull: back off until the next scan tick rather than
			// retrying immediately — the pool is already saturated.
			continue
		}
	}
}

// Submit creates a Pending task for the given source files and attempts to
// enqueue it. It fails with ErrQueueFull rather than blocking the caller.
func (m *Manager) Submit(instrument string, sources []string) error {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	out := filepath.Join(m.cfg.BaseDir, instrument, "olap", fmt.Sprintf("%020d.parquet", id))
	task := &Task{ID: id, Instrument: instrument, Sources: sources, Output: out, State: StatePending}
	m.tasks[id] = task
	m.mu.Unlock()

	if err := m.meta.Record(taskRecord(task)); err != nil {
		return fmt.Errorf("conversion: record pending task %d: %w", id, err)
	}

	select {
	case m.queue <- task:
		return nil
	default:
		return fmt.Errorf("conversion: %w", ErrQueueFull)
	}
}

func (m *Manager) workerLoop() {
	defer m.wg.Done()
	for {
		select {
		case task := <-m.queue:
			m.runTask(task)
		case <-m.shutdownCh:
			return
		}
	}
}

func (m *Manager) runTask(task *Task) {
	m.setState(task, StateConverting, "")

	if err := os.MkdirAll(filepath.Dir(task.Output), 0o755); err != nil {
		m.setState(task, StateFailed, err.Error())
		return
	}

	entries, err := mergeSources(task.Sources)
	if err != nil {
		m.setState(task, StateFailed, err.Error())
		return
	}

	if err := olap.WriteFile(task.Output, entries, m.cfg.RowGroupTarget); err != nil {
		m.setState(task, StateFailed, err.Error())
		return
	}

	m.setState(task, StateSuccess, "")

	if m.cfg.RetentionDelay <= 0 {
		deleteSources(task.Sources)
	} else {
		sources := task.Sources
		time.AfterFunc(m.cfg.RetentionDelay, func() { deleteSources(sources) })
	}
}

func (m *Manager) setState(task *Task, s State, errMsg string) {
	m.mu.Lock()
	task.State = s
	task.Err = errMsg
	m.mu.Unlock()

	if err := m.meta.Record(taskRecord(task)); err != nil {
		// The in-memory state already changed; a metadata write failure
		// here only risks losing resumability across a crash, which the
		// next scan will rediscover (the source files are untouched until
		// StateSuccess deletes them), so the error is dropped, not fatal.
		_ = err
	}
}

// mergeSources reads every source SSTable fully and merges their entries
// by (timestamp, sequence) in ascending order, re-deriving the Encoded
// bytes olap.WriteFile needs from each record payload.
func mergeSources(paths []string) ([]memtable.Entry, error) {
	var all []oltp.Entry
	for _, p := range paths {
		r, err := oltp.Open(p)
		if err != nil {
			return nil, fmt.Errorf("conversion: open source %s: %w", p, err)
		}
		es, err := r.All()
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("conversion: read source %s: %w", p, err)
		}
		all = append(all, es...)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Timestamp != all[j].Timestamp {
			return all[i].Timestamp < all[j].Timestamp
		}
		return all[i].Sequence < all[j].Sequence
	})

	out := make([]memtable.Entry, len(all))
	for i, e := range all {
		out[i] = memtable.Entry{
			Key:     memtable.Key{Timestamp: e.Timestamp, Sequence: e.Sequence},
			Payload: e.Payload,
			Encoded: record.Encode(e.Payload),
		}
	}
	return out, nil
}

func deleteSources(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}
