package notify

import (
	"container/list"
	"time"
)

// dedupWindow is a bounded in-process cache of recently-seen upstream IDs.
// It combines an LRU eviction policy (bounding memory regardless of
// publish rate) with a wall-clock TTL (bounding how long an ID stays
// deduped once published), matching "deduplicates if the same ID has
// been seen within the dedup window" without needing an external cache.
type dedupWindow struct {
	ttl      time.Duration
	maxItems int

	order *list.List               // front = most recently seen
	index map[string]*list.Element // id -> element holding *dedupEntry
}

type dedupEntry struct {
	id   string
	seen time.Time
}

const defaultDedupCapacity = 100_000

func newDedupWindow(ttl time.Duration) *dedupWindow {
	return &dedupWindow{
		ttl:      ttl,
		maxItems: defaultDedupCapacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// seen reports whether id was already recorded within the TTL, and
// records it as seen now (whether or not it was already present) — a
// call that returns false still refreshes the entry's position and
// timestamp, same as a standard LRU touch-on-access.
func (d *dedupWindow) seen(id string) bool {
	now := time.Now()

	if el, ok := d.index[id]; ok {
		entry := el.Value.(*dedupEntry)
		wasRecent := now.Sub(entry.seen) < d.ttl
		entry.seen = now
		d.order.MoveToFront(el)
		return wasRecent
	}

	el := d.order.PushFront(&dedupEntry{id: id, seen: now})
	d.index[id] = el

	for d.order.Len() > d.maxItems {
		oldest := d.order.Back()
		if oldest == nil {
			break
		}
		d.order.Remove(oldest)
		delete(d.index, oldest.Value.(*dedupEntry).id)
	}

	return false
}
