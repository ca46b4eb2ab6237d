// Package cache holds the client-side caches: a TTL map for slow-changing
// lookups and a deduplicator for concurrent identical requests.
package cache

import (
	"sync"
	"time"

	"github.com/matheus3301/deskline/internal/clock"
)

// CustomerTTL is how long customer details stay fresh.
const CustomerTTL = 5 * time.Minute

type entry[V any] struct {
	value V
	at    time.Time
}

// TTL maps keys to values that expire ttl after they were stored.
// Expired entries are dropped lazily on read.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   clock.Clock
	entries map[K]entry[V]
}

// NewTTL creates an empty cache. A nil clock uses the real clock.
func NewTTL[K comparable, V any](ttl time.Duration, c clock.Clock) *TTL[K, V] {
	if c == nil {
		c = clock.Real()
	}
	return &TTL[K, V]{ttl: ttl, clock: c, entries: make(map[K]entry[V])}
}

// Get returns the value for key if it was stored less than ttl ago.
func (t *TTL[K, V]) Get(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if t.clock.Now().Sub(e.at) >= t.ttl {
		delete(t.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, replacing any previous value and its age.
func (t *TTL[K, V]) Set(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = entry[V]{value: value, at: t.clock.Now()}
}

// Invalidate drops key.
func (t *TTL[K, V]) Invalidate(key K) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// InvalidateAll drops every entry.
func (t *TTL[K, V]) InvalidateAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.entries)
}

// Len returns the number of stored entries, including expired ones not yet read.
func (t *TTL[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
