package snapshot

import (
	"sync"
	"time"
)

type userState struct {
	mu      sync.Mutex
	doc     any
	pending []any

	// notify is signalled (non-blocking, capacity 1) whenever a patch is
	// pushed, waking a blocked Peek without needing a condition variable
	// per user.
	notify chan struct{}
}

func newUserState() *userState {
	return &userState{notify: make(chan struct{}, 1)}
}

func (u *userState) signal() {
	select {
	case u.notify <- struct{}{}:
	default:
	}
}

// Manager holds one JSON document and pending-patch queue per user.
type Manager struct {
	mu    sync.RWMutex
	users map[string]*userState
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{users: make(map[string]*userState)}
}

func (m *Manager) stateFor(userID string) *userState {
	m.mu.RLock()
	u, ok := m.users[userID]
	m.mu.RUnlock()
	if ok {
		return u
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok = m.users[userID]; ok {
		return u
	}
	u = newUserState()
	m.users[userID] = u
	return u
}

// PushPatch merges patch into userID's document, appends it to the
// pending queue, and wakes any goroutine blocked in Peek for this user.
func (m *Manager) PushPatch(userID string, patch any) {
	u := m.stateFor(userID)

	u.mu.Lock()
	u.doc = mergePatch(u.doc, patch)
	u.pending = append(u.pending, patch)
	u.mu.Unlock()

	u.signal()
}

// Peek drains userID's pending patches if any are already queued. If the
// queue is empty it blocks until a patch arrives or timeout elapses,
// returning (nil, false) on timeout.
func (m *Manager) Peek(userID string, timeout time.Duration) ([]any, bool) {
	u := m.stateFor(userID)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		u.mu.Lock()
		if len(u.pending) > 0 {
			drained := u.pending
			u.pending = nil
			u.mu.Unlock()
			return drained, true
		}
		u.mu.Unlock()

		select {
		case <-u.notify:
			continue
		case <-deadline.C:
			return nil, false
		}
	}
}

// ApplyPatches applies patches to userID's document in order without
// touching the pending queue — used to replay patches a caller already
// has (e.g. recovery) rather than queueing them for delivery again.
func (m *Manager) ApplyPatches(userID string, patches []any) {
	u := m.stateFor(userID)
	u.mu.Lock()
	u.doc = applyPatches(u.doc, patches)
	u.mu.Unlock()
}

// GetSnapshot returns userID's current document.
func (m *Manager) GetSnapshot(userID string) any {
	u := m.stateFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.doc
}

// RemoveUser discards all state held for userID.
func (m *Manager) RemoveUser(userID string) {
	m.mu.Lock()
	delete(m.users, userID)
	m.mu.Unlock()
}

// BroadcastPatch applies and queues patch for every currently known user.
func (m *Manager) BroadcastPatch(patch any) {
	m.mu.RLock()
	users := make([]string, 0, len(m.users))
	for id := range m.users {
		users = append(users, id)
	}
	m.mu.RUnlock()

	for _, id := range users {
		m.PushPatch(id, patch)
	}
}
