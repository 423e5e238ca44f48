package snapshot

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeekDrainsAlreadyQueuedPatchesImmediately(t *testing.T) {
	m := New()
	m.PushPatch("u1", map[string]any{"balance": float64(100)})
	m.PushPatch("u1", map[string]any{"available": float64(90)})

	patches, ok := m.Peek("u1", time.Second)
	require.True(t, ok)
	require.Len(t, patches, 2)

	want := map[string]any{"balance": float64(100), "available": float64(90)}
	assert.True(t, deepEqual(want, m.GetSnapshot("u1")))
}

func TestPeekBlocksThenWakesOnPush(t *testing.T) {
	m := New()

	var got []any
	var ok bool
	done := make(chan struct{})
	go func() {
		got, ok = m.Peek("u1", 2*time.Second)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond) // let Peek start blocking
	m.PushPatch("u1", map[string]any{"a": float64(1)})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Peek did not wake up after PushPatch")
	}

	require.True(t, ok)
	require.Len(t, got, 1)
}

func TestPeekTimesOutWithNoPatches(t *testing.T) {
	m := New()
	patches, ok := m.Peek("u1", 20*time.Millisecond)
	assert.False(t, ok)
	assert.Nil(t, patches)
}

func TestRemoveUserDropsState(t *testing.T) {
	m := New()
	m.PushPatch("u1", map[string]any{"a": float64(1)})
	m.RemoveUser("u1")
	assert.Nil(t, m.GetSnapshot("u1"))
}

func TestBroadcastPatchReachesEveryKnownUser(t *testing.T) {
	m := New()
	m.PushPatch("u1", map[string]any{"seed": true})
	m.PushPatch("u2", map[string]any{"seed": true})
	m.Peek("u1", time.Second) // drain seed patches
	m.Peek("u2", time.Second)

	m.BroadcastPatch(map[string]any{"heartbeat": float64(1)})

	p1, ok1 := m.Peek("u1", time.Second)
	p2, ok2 := m.Peek("u2", time.Second)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Len(t, p1, 1)
	assert.Len(t, p2, 1)
}

func TestConcurrentPushPatchIsSafe(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.PushPatch("u1", map[string]any{"n": float64(i)})
		}(i)
	}
	wg.Wait()

	patches, ok := m.Peek("u1", time.Second)
	require.True(t, ok)
	assert.Len(t, patches, 50)
}
