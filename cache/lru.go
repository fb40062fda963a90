package cache

import (
	"container/list"
	"fmt"
	"iter"
	"sync"

	"github.com/hupe1980/pagedb/internal/resource"
)

// LRU evicts least-recently-touched entries once the summed entry size exceeds
// its capacity. The most recent entry is never evicted by its own insertion,
// so an oversized value stays resident alone.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	keyOf     KeyFunc[K, V]
	capacity  int64
	size      int64
	items     map[K]*list.Element
	evictList *list.List

	onEvict EvictFunc[K, V]
	rc      *resource.Controller
	stats   counters
}

type lruEntry[K comparable, V any] struct {
	key  K
	val  V
	size int64
}

// NewLRU creates an LRU with a positive capacity in Size units.
func NewLRU[K comparable, V any](capacity int64, keyOf KeyFunc[K, V], opts ...Option[K, V]) (*LRU[K, V], error) {
	if keyOf == nil {
		return nil, ErrInvalidArgument
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: lru capacity %d", ErrCapacityOutOfRange, capacity)
	}
	s := applyOptions(opts)
	return &LRU[K, V]{
		keyOf:     keyOf,
		capacity:  capacity,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
		onEvict:   s.onEvict,
		rc:        s.rc,
	}, nil
}

// Add inserts item. With a memory controller attached, Add evicts further
// entries to make room in the global budget and fails with
// resource.ErrMemoryLimitExceeded if that is not enough.
func (c *LRU[K, V]) Add(item V, overwrite bool) error {
	if isNil(item) {
		return ErrInvalidArgument
	}
	k := c.keyOf(item)
	n := sizeOf(item)

	c.mu.Lock()
	var evicted []*lruEntry[K, V]
	err := c.add(k, item, n, overwrite, &evicted)
	c.mu.Unlock()

	c.notify(evicted)
	return err
}

func (c *LRU[K, V]) add(k K, item V, n int64, overwrite bool, evicted *[]*lruEntry[K, V]) error {
	if el, ok := c.items[k]; ok {
		if !overwrite {
			return nil
		}
		ent := el.Value.(*lruEntry[K, V])
		if err := c.reserve(n-ent.size, el, evicted); err != nil {
			return err
		}
		c.size += n - ent.size
		ent.val, ent.size = item, n
		c.evictList.MoveToFront(el)
		c.evict(evicted)
		return nil
	}

	if err := c.reserve(n, nil, evicted); err != nil {
		return err
	}
	c.items[k] = c.evictList.PushFront(&lruEntry[K, V]{key: k, val: item, size: n})
	c.size += n
	c.evict(evicted)
	return nil
}

// reserve charges delta bytes against the controller, evicting entries other
// than keep while the controller refuses.
func (c *LRU[K, V]) reserve(delta int64, keep *list.Element, evicted *[]*lruEntry[K, V]) error {
	if c.rc == nil {
		return nil
	}
	if delta < 0 {
		c.rc.ReleaseMemory(-delta)
		return nil
	}
	for {
		err := c.rc.TryAcquireMemory(delta)
		if err == nil {
			return nil
		}
		back := c.evictList.Back()
		if back == keep && back != nil {
			back = back.Prev()
		}
		if back == nil {
			return fmt.Errorf("cache: admit %d: %w", delta, err)
		}
		*evicted = append(*evicted, c.removeElement(back))
	}
}

func (c *LRU[K, V]) evict(evicted *[]*lruEntry[K, V]) {
	for c.size > c.capacity && c.evictList.Len() > 1 {
		*evicted = append(*evicted, c.removeElement(c.evictList.Back()))
	}
}

func (c *LRU[K, V]) notify(evicted []*lruEntry[K, V]) {
	if len(evicted) == 0 {
		return
	}
	c.stats.evictions.Add(int64(len(evicted)))
	if c.onEvict == nil {
		return
	}
	for _, e := range evicted {
		c.onEvict(e.key, e.val)
	}
}

func (c *LRU[K, V]) removeElement(el *list.Element) *lruEntry[K, V] {
	c.evictList.Remove(el)
	ent := el.Value.(*lruEntry[K, V])
	delete(c.items, ent.key)
	c.size -= ent.size
	if c.rc != nil {
		c.rc.ReleaseMemory(ent.size)
	}
	return ent
}

// Get returns the entry for key, moving it to the front on a hit.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	return c.Lookup(key, true)
}

// Lookup is Get that leaves recency and stats alone unless markAsHit is set.
func (c *LRU[K, V]) Lookup(key K, markAsHit bool) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if markAsHit {
		c.stats.record(ok)
	}
	if !ok {
		var zero V
		return zero, false
	}
	if markAsHit {
		c.evictList.MoveToFront(el)
	}
	return el.Value.(*lruEntry[K, V]).val, true
}

// Contains reports residency without touching recency or stats.
func (c *LRU[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Remove drops the entry under item's key unless both are Identified with
// different identifiers.
func (c *LRU[K, V]) Remove(item V) error {
	if isNil(item) {
		return ErrInvalidArgument
	}
	k := c.keyOf(item)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[k]; ok && sameIdentity(item, el.Value.(*lruEntry[K, V]).val) {
		c.removeElement(el)
	}
	return nil
}

// RemoveKey drops the entry for key and releases its bytes.
func (c *LRU[K, V]) RemoveKey(key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	return nil
}

// Clear drops every entry without invoking the eviction callback.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rc != nil {
		c.rc.ReleaseMemory(c.size)
	}
	clear(c.items)
	c.evictList.Init()
	c.size = 0
}

// Len returns the number of resident entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Size returns the summed size of resident entries.
func (c *LRU[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Capacity returns the configured budget.
func (c *LRU[K, V]) Capacity() int64 {
	return c.capacity
}

// All yields entries from most to least recently used.
func (c *LRU[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		c.mu.Lock()
		snapshot := make([]pair[K, V], 0, c.evictList.Len())
		for el := c.evictList.Front(); el != nil; el = el.Next() {
			ent := el.Value.(*lruEntry[K, V])
			snapshot = append(snapshot, pair[K, V]{ent.key, ent.val})
		}
		c.mu.Unlock()
		seq(snapshot)(yield)
	}
}

// Stats returns the cumulative counters.
func (c *LRU[K, V]) Stats() Stats {
	return c.stats.snapshot()
}
