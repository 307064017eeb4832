// ABOUTME: TTL and size bounded record of channel message IDs already dispatched
// ABOUTME: Webhook retries and sync replays deliver the same message more than once

package dispatch

import (
	"container/list"
	"sync"
	"time"
)

type seenEntry struct {
	at      time.Time
	element *list.Element
}

// seenCache remembers message keys for ttl, holding at most maxSize keys.
// The oldest key is evicted first in O(1) via an insertion-ordered list.
type seenCache struct {
	mu      sync.Mutex
	entries map[string]*seenEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

func newSeenCache(ttl time.Duration, maxSize int, sweepEvery time.Duration) *seenCache {
	c := &seenCache{
		entries: make(map[string]*seenEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if sweepEvery > 0 {
		go c.sweepLoop(sweepEvery)
	}
	return c
}

// seen reports whether key was recorded within the TTL, and records it if not.
func (c *seenCache) seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		if now.Sub(e.at) < c.ttl {
			return true
		}
		e.at = now
		c.order.MoveToBack(e.element)
		return false
	}

	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.entries, front.Value.(string))
		}
	}
	c.entries[key] = &seenEntry{at: now, element: c.order.PushBack(key)}
	return false
}

func (c *seenCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *seenCache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired keys. Entries are ordered by last mark, so it stops at
// the first live one.
func (c *seenCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key := front.Value.(string)
		if now.Sub(c.entries[key].at) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.entries, key)
	}
}

func (c *seenCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
