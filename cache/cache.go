// Package cache provides a keyed, size-aware generic cache with three eviction
// policies: Unbounded, LRU and Soft.
//
// Every policy derives an entry's key from the value through the KeyFunc given
// at construction. Values that implement Sized are charged their reported size
// against the budget; all others count as 1.
//
// All policies are safe for concurrent use. Enumeration through All copies the
// resident entries first, so callers may mutate the cache while ranging.
package cache

import (
	"errors"
	"iter"
	"reflect"
	"sync/atomic"
)

var (
	// ErrInvalidArgument is returned for a nil key extractor or a nil item.
	ErrInvalidArgument = errors.New("cache: invalid argument")

	// ErrCapacityOutOfRange is returned for a capacity the policy cannot honor.
	ErrCapacityOutOfRange = errors.New("cache: capacity out of range")
)

// KeyFunc derives the cache key of a value.
type KeyFunc[K comparable, V any] func(V) K

// Sized is implemented by values that report their footprint.
type Sized interface {
	Size() int64
}

// Identified is implemented by values whose identity differs from their cache
// key. Remove only drops a resident entry whose identifier matches.
type Identified interface {
	Identifier() any
}

// Cache is the contract shared by all policies.
type Cache[K comparable, V any] interface {
	// Add inserts item under its derived key. An existing entry is kept unless
	// overwrite is set.
	Add(item V, overwrite bool) error
	// Get returns the entry for key and records a hit.
	Get(key K) (V, bool)
	// Lookup is Get with optional recency bookkeeping.
	Lookup(key K, markAsHit bool) (V, bool)
	// Remove drops the entry holding item. Absent items are ignored.
	Remove(item V) error
	// RemoveKey drops the entry for key. Absent keys are ignored.
	RemoveKey(key K) error
	Clear()
	Len() int
	// All yields a snapshot of the resident entries in unspecified order.
	All() iter.Seq2[K, V]
	Stats() Stats
}

// Stats are cumulative counters for a cache.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRatio returns hits / (hits + misses), or 0 with no lookups.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func (c *counters) record(ok bool) {
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

func sizeOf(v any) int64 {
	if s, ok := v.(Sized); ok {
		if n := s.Size(); n > 0 {
			return n
		}
		return 0
	}
	return 1
}

// sameIdentity reports whether b may be removed on behalf of a.
func sameIdentity(a, b any) bool {
	ia, aok := a.(Identified)
	ib, bok := b.(Identified)
	if aok && bok {
		return ia.Identifier() == ib.Identifier()
	}
	return true
}

func isNil[V any](v V) bool {
	a := any(v)
	if a == nil {
		return true
	}
	rv := reflect.ValueOf(a)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

type pair[K comparable, V any] struct {
	key K
	val V
}

func seq[K comparable, V any](snapshot []pair[K, V]) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for _, p := range snapshot {
			if !yield(p.key, p.val) {
				return
			}
		}
	}
}
