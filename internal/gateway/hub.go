// Package gateway implements the broadcast layer that sits between the
// exchange's internal event stream and client sessions: bounded
// per-session channels, non-blocking fan-out, and slow-consumer
// eviction so one stalled subscriber never backs up the producer.
//
// A Hub serves two kinds of traffic. Broadcast/BroadcastBatch push
// market-data events to every session subscribed to the event's
// instrument and channel, independent of user. Forward implements
// notify.Gateway, delivering user-scoped notifications routed to this
// Hub by the notification broker. Both paths share the same bounded,
// non-blocking send and eviction bookkeeping.
package gateway

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/encoding/json"

	"github.com/rishav/qaxcore/internal/notify"
)

// Event is a single piece of market data to fan out to matching sessions.
type Event struct {
	Instrument string
	Channel    string
	Payload    []byte
}

type subscription struct {
	instruments map[string]struct{}
	channels    map[string]struct{}
}

// matches reports whether an event on (instrument, channel) should reach
// a session holding this subscription. An empty set on either axis means
// "no filter on this axis" rather than "matches nothing".
func (s subscription) matches(instrument, channel string) bool {
	if len(s.instruments) > 0 {
		if _, ok := s.instruments[instrument]; !ok {
			return false
		}
	}
	if len(s.channels) > 0 {
		if _, ok := s.channels[channel]; !ok {
			return false
		}
	}
	return true
}

// Session is one subscriber's bounded outbound channel plus its
// subscription and failure bookkeeping.
type Session struct {
	ID     string
	UserID string

	ch chan []byte

	subMu sync.RWMutex
	sub   subscription

	consecutiveFailures int32
	evicted             int32 // atomic bool
}

func (s *Session) trySend(payload []byte) bool {
	select {
	case s.ch <- payload:
		atomic.StoreInt32(&s.consecutiveFailures, 0)
		return true
	default:
		return false
	}
}

func (s *Session) isEvicted() bool {
	return atomic.LoadInt32(&s.evicted) == 1
}

// Hub manages every registered session.
type Hub struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	userSessions map[string]map[string]struct{} // userID -> sessionIDs

	disconnectThreshold int
	metrics             *hubMetrics
}

// NewHub creates a Hub. A session is marked for eviction once its
// consecutive non-blocking send failures reach disconnectThreshold.
// registerer may be nil to skip Prometheus registration (e.g. in tests).
func NewHub(disconnectThreshold int, registerer prometheus.Registerer) *Hub {
	return &Hub{
		sessions:            make(map[string]*Session),
		userSessions:        make(map[string]map[string]struct{}),
		disconnectThreshold: disconnectThreshold,
		metrics:             newHubMetrics(registerer),
	}
}

// RegisterSession creates a session with the given bounded channel
// capacity and returns it along with the receive side of its channel.
func (h *Hub) RegisterSession(sessionID, userID string, capacity int) (*Session, <-chan []byte) {
	s := &Session{
		ID:     sessionID,
		UserID: userID,
		ch:     make(chan []byte, capacity),
	}

	h.mu.Lock()
	h.sessions[sessionID] = s
	if h.userSessions[userID] == nil {
		h.userSessions[userID] = make(map[string]struct{})
	}
	h.userSessions[userID][sessionID] = struct{}{}
	h.mu.Unlock()

	h.metrics.sessions.Inc()
	return s, s.ch
}

// UnregisterSession removes a session immediately, regardless of its
// eviction state.
func (h *Hub) UnregisterSession(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
		if sids := h.userSessions[s.UserID]; sids != nil {
			delete(sids, sessionID)
			if len(sids) == 0 {
				delete(h.userSessions, s.UserID)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		h.metrics.sessions.Dec()
	}
}

// UpdateSubscription replaces sessionID's instrument and channel
// filters. An empty slice means "no filter on this axis".
func (h *Hub) UpdateSubscription(sessionID string, instruments, channels []string) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	sub := subscription{
		instruments: toSet(instruments),
		channels:    toSet(channels),
	}

	s.subMu.Lock()
	s.sub = sub
	s.subMu.Unlock()
}

func toSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

// Broadcast sends ev's payload to every session whose subscription
// matches its instrument and channel, never blocking on a slow session.
// A session that already crossed disconnectThreshold still gets a send
// attempt (and still counts toward dropped on every failure) until
// CleanupSlowSubscribers actually removes it — Broadcast itself only
// marks a session for eviction, it never skips one. Market data is
// fan-out, not per-recipient delivery: every dropped frame here is a
// real gap in what that session saw, and the count needs to keep
// climbing for as long as the session sits in the map, not freeze the
// moment it crosses the threshold.
func (h *Hub) Broadcast(ev Event) (sent, dropped int) {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.subMu.RLock()
		match := s.sub.matches(ev.Instrument, ev.Channel)
		s.subMu.RUnlock()
		if !match {
			continue
		}

		if s.trySend(ev.Payload) {
			sent++
			h.metrics.sent.Inc()
			continue
		}

		dropped++
		h.metrics.dropped.Inc()
		if atomic.AddInt32(&s.consecutiveFailures, 1) >= int32(h.disconnectThreshold) {
			if atomic.CompareAndSwapInt32(&s.evicted, 0, 1) {
				h.metrics.evicted.Inc()
			}
		}
	}

	return sent, dropped
}

// BroadcastBatch groups events by instrument and fans each group out
// concurrently, aggregating the sent/dropped totals across all of them.
func (h *Hub) BroadcastBatch(events []Event) (sent, dropped int) {
	groups := make(map[string][]Event)
	for _, ev := range events {
		groups[ev.Instrument] = append(groups[ev.Instrument], ev)
	}

	var wg sync.WaitGroup
	var sentTotal, droppedTotal int64
	for _, evs := range groups {
		evs := evs
		wg.Add(1)
		go func() {
			defer wg.Done()
			var s, d int
			for _, ev := range evs {
				ds, dd := h.Broadcast(ev)
				s += ds
				d += dd
			}
			atomic.AddInt64(&sentTotal, int64(s))
			atomic.AddInt64(&droppedTotal, int64(d))
		}()
	}
	wg.Wait()

	return int(sentTotal), int(droppedTotal)
}

// CleanupSlowSubscribers removes every session marked for eviction and
// returns their IDs.
func (h *Hub) CleanupSlowSubscribers() []string {
	h.mu.RLock()
	var toRemove []string
	for id, s := range h.sessions {
		if s.isEvicted() {
			toRemove = append(toRemove, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range toRemove {
		h.UnregisterSession(id)
	}
	return toRemove
}

// Forward implements notify.Gateway: it delivers n to every session
// belonging to n.UserID whose channel filter (if any) admits
// n.Channel. The whole notification (ID, user, channel, payload and
// timestamp) is marshaled to JSON, not just its payload.
func (h *Hub) Forward(n *notify.Notification) {
	h.mu.RLock()
	sids := h.userSessions[n.UserID]
	sessions := make([]*Session, 0, len(sids))
	for id := range sids {
		sessions = append(sessions, h.sessions[id])
	}
	h.mu.RUnlock()

	if len(sessions) == 0 {
		return
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return
	}

	for _, s := range sessions {
		// Unlike Broadcast, skipping an evicted session here before ever
		// attempting the send is safe: a Forward carries user-scoped state
		// (trade fills, account updates) that snapshot.Manager already
		// tracks durably and serves through the long-poll snapshot
		// endpoint, so an evicted session losing this push isn't losing
		// the data — it's losing one of several ways to learn about it.
		// Broadcast's market-data frames have no such fallback.
		if s == nil || s.isEvicted() {
			continue
		}
		s.subMu.RLock()
		match := len(s.sub.channels) == 0
		if !match {
			_, match = s.sub.channels[n.Channel]
		}
		s.subMu.RUnlock()
		if !match {
			continue
		}

		if s.trySend(payload) {
			h.metrics.sent.Inc()
			continue
		}
		h.metrics.dropped.Inc()
		if atomic.AddInt32(&s.consecutiveFailures, 1) >= int32(h.disconnectThreshold) {
			if atomic.CompareAndSwapInt32(&s.evicted, 0, 1) {
				h.metrics.evicted.Inc()
			}
		}
	}
}
