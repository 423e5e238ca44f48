// Package notify implements the user-scoped pub/sub broker that sits
// between the matching core and whatever fans outbound notifications to
// client sessions. It assigns every notification a broker-unique ID,
// drops anything already seen inside its dedup window, and queues by
// priority so order-book-critical messages (fills, rejections) overtake
// informational ones (account summaries, heartbeats) without blocking on
// them.
//
// The broker is a pure in-memory router — it keeps no log and survives
// no restart. Durability for anything it carries lives upstream, in the
// WAL and SSTables that produced the record in the first place.
package notify

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PriorityLevels is the number of distinct priority queues the broker
// drains, highest (0) first.
const PriorityLevels = 4

// Notification is one message routed through the broker.
type Notification struct {
	// ID is assigned by the broker itself on Publish, unique per call.
	ID uuid.UUID

	// UpstreamID is an optional producer-supplied identifier used purely
	// for dedup: two Publish calls carrying the same non-empty UpstreamID
	// within the dedup window are treated as the same notification and
	// only the first is delivered. Leave empty to disable dedup for a
	// given notification (e.g. a unique-by-construction trade fill).
	UpstreamID string

	UserID    string
	Channel   string // e.g. "trade", "orderbook", "account", "position"
	Priority  int    // 0 (highest) .. PriorityLevels-1 (lowest)
	Payload   any
	Timestamp time.Time
}

// Gateway receives notifications the broker has routed to it. A gateway
// is expected to fan a notification out to every session it owns for
// n.UserID; what "owns" means (and how subscriptions are filtered) is
// the gateway's business, not the broker's.
type Gateway interface {
	Forward(n *Notification)
}

// Stats reports broker activity for monitoring.
type Stats struct {
	Published  uint64
	Deduped    uint64
	Delivered  uint64
	NoRoute    uint64 // published for a user with no subscribed gateway
}

// Broker routes notifications from publishers to subscribed gateways.
type Broker struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues [PriorityLevels]*list.List
	closed bool

	dedup  *dedupWindow
	routes map[string]map[string]struct{} // userID -> set of gatewayID
	gws    map[string]Gateway             // gatewayID -> Gateway

	stats Stats
}

// New creates a Broker whose dedup window remembers an UpstreamID for
// ttl before it is eligible to be delivered again.
func New(ttl time.Duration) *Broker {
	b := &Broker{
		dedup:  newDedupWindow(ttl),
		routes: make(map[string]map[string]struct{}),
		gws:    make(map[string]Gateway),
	}
	for i := range b.queues {
		b.queues[i] = list.New()
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// RegisterGateway makes a gateway eligible to receive forwarded
// notifications under gatewayID.
func (b *Broker) RegisterGateway(gatewayID string, gw Gateway) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gws[gatewayID] = gw
}

// Subscribe routes notifications for userID to gatewayID.
func (b *Broker) Subscribe(userID, gatewayID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.routes[userID]
	if !ok {
		set = make(map[string]struct{})
		b.routes[userID] = set
	}
	set[gatewayID] = struct{}{}
}

// Unsubscribe removes a user/gateway route.
func (b *Broker) Unsubscribe(userID, gatewayID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.routes[userID]; ok {
		delete(set, gatewayID)
		if len(set) == 0 {
			delete(b.routes, userID)
		}
	}
}

// Publish enqueues n for delivery. It assigns n.ID, clamps n.Priority
// into range, and drops n if its UpstreamID has been seen within the
// dedup window. Returns true if n was enqueued, false if it was deduped.
func (b *Broker) Publish(n *Notification) bool {
	n.ID = uuid.New()
	if n.Priority < 0 {
		n.Priority = 0
	}
	if n.Priority >= PriorityLevels {
		n.Priority = PriorityLevels - 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Published++

	if n.UpstreamID != "" && b.dedup.seen(n.UpstreamID) {
		b.stats.Deduped++
		return false
	}

	b.queues[n.Priority].PushBack(n)
	b.cond.Signal()
	return true
}

// Run drains the priority queues highest-first until Close is called.
// It is meant to be run in its own goroutine (the "priority_processor").
func (b *Broker) Run() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.closed {
			return
		}
		n, ok := b.popHighest()
		if !ok {
			b.cond.Wait()
			continue
		}
		b.mu.Unlock()
		b.dispatch(n)
		b.mu.Lock()
	}
}

// popHighest must be called with b.mu held.
func (b *Broker) popHighest() (*Notification, bool) {
	for _, q := range b.queues {
		if front := q.Front(); front != nil {
			q.Remove(front)
			return front.Value.(*Notification), true
		}
	}
	return nil, false
}

func (b *Broker) dispatch(n *Notification) {
	b.mu.Lock()
	gatewayIDs := b.routes[n.UserID]
	if len(gatewayIDs) == 0 {
		b.stats.NoRoute++
		b.mu.Unlock()
		return
	}
	gws := make([]Gateway, 0, len(gatewayIDs))
	for id := range gatewayIDs {
		if gw, ok := b.gws[id]; ok {
			gws = append(gws, gw)
		}
	}
	b.mu.Unlock()

	for _, gw := range gws {
		gw.Forward(n)
	}

	b.mu.Lock()
	b.stats.Delivered += uint64(len(gws))
	b.mu.Unlock()
}

// Close stops Run and releases it if it's blocked waiting for work.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// StatsSnapshot returns a snapshot of broker activity counters.
func (b *Broker) StatsSnapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
