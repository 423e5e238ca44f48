package conversion

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/segmentio/encoding/json"
)

// taskLine is the on-disk shape of one task-state transition. It mirrors
// Task but is kept as its own type so the wire format doesn't silently
// change if Task ever gains an in-memory-only field.
type taskLine struct {
	ID         uint64   `json:"id"`
	Instrument string   `json:"instrument"`
	Sources    []string `json:"sources"`
	Output     string   `json:"output"`
	State      State    `json:"state"`
	Err        string   `json:"err,omitempty"`
}

func taskRecord(t *Task) taskLine {
	return taskLine{
		ID:         t.ID,
		Instrument: t.Instrument,
		Sources:    t.Sources,
		Output:     t.Output,
		State:      t.State,
		Err:        t.Err,
	}
}

// metadataLog is an append-only, fsync'd log of task-state transitions.
// Replaying it from the start and keeping only the last line seen for each
// task ID reconstructs the task table as of the last successful write.
type metadataLog struct {
	mu sync.Mutex
	f  *os.File
}

func openMetadataLog(path string) (*metadataLog, map[uint64]*Task, uint64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("open %s: %w", path, err)
	}

	tasks := make(map[uint64]*Task)
	var nextID uint64

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var tl taskLine
		if err := json.Unmarshal(line, &tl); err != nil {
			// A torn final line from a crash mid-write is tolerated: the
			// log is append-only, so a truncated tail doesn't invalidate
			// earlier, complete lines.
			break
		}
		tasks[tl.ID] = &Task{
			ID:         tl.ID,
			Instrument: tl.Instrument,
			Sources:    tl.Sources,
			Output:     tl.Output,
			State:      tl.State,
			Err:        tl.Err,
		}
		if tl.ID >= nextID {
			nextID = tl.ID + 1
		}
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return nil, nil, 0, fmt.Errorf("scan %s: %w", path, err)
	}

	return &metadataLog{f: f}, tasks, nextID, nil
}

// Record appends one task-state line and fsyncs before returning, so a
// transition is durable before the caller acts on it as having happened.
func (m *metadataLog) Record(tl taskLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := json.Marshal(tl)
	if err != nil {
		return fmt.Errorf("marshal task %d: %w", tl.ID, err)
	}
	b = append(b, '\n')

	if _, err := m.f.Write(b); err != nil {
		return fmt.Errorf("write task %d: %w", tl.ID, err)
	}
	return m.f.Sync()
}

func (m *metadataLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.f.Close()
}
