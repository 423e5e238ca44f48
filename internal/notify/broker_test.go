package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingGateway struct {
	mu        sync.Mutex
	forwarded []*Notification
}

func (g *recordingGateway) Forward(n *Notification) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forwarded = append(g.forwarded, n)
}

func (g *recordingGateway) snapshot() []*Notification {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Notification, len(g.forwarded))
	copy(out, g.forwarded)
	return out
}

func TestBrokerDeliversToSubscribedGateway(t *testing.T) {
	b := New(time.Minute)
	gw := &recordingGateway{}
	b.RegisterGateway("gw-1", gw)
	b.Subscribe("user-1", "gw-1")

	go b.Run()
	defer b.Close()

	ok := b.Publish(&Notification{UserID: "user-1", Channel: "trade", Priority: 1})
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return len(gw.snapshot()) == 1
	}, time.Second, time.Millisecond)
}

func TestBrokerDrainsHighestPriorityFirst(t *testing.T) {
	b := New(time.Minute)
	gw := &recordingGateway{}
	b.RegisterGateway("gw-1", gw)
	b.Subscribe("user-1", "gw-1")

	// Enqueue out of priority order before Run starts draining, so the
	// first dispatch round is deterministic.
	b.Publish(&Notification{UserID: "user-1", Channel: "account", Priority: 3})
	b.Publish(&Notification{UserID: "user-1", Channel: "trade", Priority: 0})
	b.Publish(&Notification{UserID: "user-1", Channel: "position", Priority: 2})

	go b.Run()
	defer b.Close()

	require.Eventually(t, func() bool {
		return len(gw.snapshot()) == 3
	}, time.Second, time.Millisecond)

	got := gw.snapshot()
	assert.Equal(t, "trade", got[0].Channel)
	assert.Equal(t, "position", got[1].Channel)
	assert.Equal(t, "account", got[2].Channel)
}

func TestBrokerDedupesWithinWindow(t *testing.T) {
	b := New(time.Minute)
	gw := &recordingGateway{}
	b.RegisterGateway("gw-1", gw)
	b.Subscribe("user-1", "gw-1")

	first := b.Publish(&Notification{UserID: "user-1", UpstreamID: "evt-1", Priority: 0})
	second := b.Publish(&Notification{UserID: "user-1", UpstreamID: "evt-1", Priority: 0})

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, uint64(1), b.StatsSnapshot().Deduped)
}

func TestBrokerAllowsDuplicateUpstreamIDAfterTTL(t *testing.T) {
	b := New(5 * time.Millisecond)

	first := b.Publish(&Notification{UserID: "user-1", UpstreamID: "evt-1"})
	time.Sleep(20 * time.Millisecond)
	second := b.Publish(&Notification{UserID: "user-1", UpstreamID: "evt-1"})

	assert.True(t, first)
	assert.True(t, second)
}

func TestBrokerCountsNoRouteForUnsubscribedUser(t *testing.T) {
	b := New(time.Minute)
	go b.Run()
	defer b.Close()

	b.Publish(&Notification{UserID: "ghost", Priority: 0})

	require.Eventually(t, func() bool {
		return b.StatsSnapshot().NoRoute == 1
	}, time.Second, time.Millisecond)
}
