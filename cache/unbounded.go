package cache

import (
	"iter"
	"sync"
)

// Unbounded never evicts. It suits small fixed working sets such as the dirty
// page set of a provider.
type Unbounded[K comparable, V any] struct {
	mu      sync.RWMutex
	keyOf   KeyFunc[K, V]
	entries map[K]V
	stats   counters
}

// NewUnbounded creates an Unbounded cache.
func NewUnbounded[K comparable, V any](keyOf KeyFunc[K, V]) (*Unbounded[K, V], error) {
	if keyOf == nil {
		return nil, ErrInvalidArgument
	}
	return &Unbounded[K, V]{keyOf: keyOf, entries: make(map[K]V)}, nil
}

// Add stores item under its key. An existing entry is kept unless overwrite
// is set.
func (c *Unbounded[K, V]) Add(item V, overwrite bool) error {
	if isNil(item) {
		return ErrInvalidArgument
	}
	k := c.keyOf(item)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[k]; ok && !overwrite {
		return nil
	}
	c.entries[k] = item
	return nil
}

// Get returns the entry for key and records a hit or miss.
func (c *Unbounded[K, V]) Get(key K) (V, bool) {
	return c.Lookup(key, true)
}

// Lookup returns the entry for key, recording a hit or miss only when
// markAsHit is set.
func (c *Unbounded[K, V]) Lookup(key K, markAsHit bool) (V, bool) {
	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	if markAsHit {
		c.stats.record(ok)
	}
	return v, ok
}

// Remove drops the entry under item's key unless both are Identified with
// different identifiers.
func (c *Unbounded[K, V]) Remove(item V) error {
	if isNil(item) {
		return ErrInvalidArgument
	}
	k := c.keyOf(item)

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[k]; ok && sameIdentity(item, cur) {
		delete(c.entries, k)
	}
	return nil
}

// RemoveKey drops the entry for key.
func (c *Unbounded[K, V]) RemoveKey(key K) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Clear drops every entry.
func (c *Unbounded[K, V]) Clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

// Len returns the number of entries.
func (c *Unbounded[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// All yields a snapshot of the entries.
func (c *Unbounded[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		c.mu.RLock()
		snapshot := make([]pair[K, V], 0, len(c.entries))
		for k, v := range c.entries {
			snapshot = append(snapshot, pair[K, V]{k, v})
		}
		c.mu.RUnlock()
		seq(snapshot)(yield)
	}
}

// Stats returns the cumulative counters.
func (c *Unbounded[K, V]) Stats() Stats {
	return c.stats.snapshot()
}
