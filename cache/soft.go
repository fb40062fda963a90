package cache

import (
	"container/list"
	"fmt"
	"iter"
	"runtime"
	"sync"
	"weak"
)

// Soft is a weak-retention tier. Up to capacity Size units are held strongly
// in recency order; older entries are demoted to weak pointers and survive
// only until the garbage collector reclaims them. A miss on a Soft cache is
// therefore ambiguous: the entry may have existed and been collected.
//
// The eviction callback fires when an entry is demoted from the strong ring.
type Soft[K comparable, V any] struct {
	mu       sync.Mutex
	keyOf    KeyFunc[K, V]
	capacity int64
	size     int64

	strong *list.List
	index  map[K]*list.Element
	weak   map[K]weak.Pointer[softBox[V]]

	onEvict EvictFunc[K, V]
	stats   counters
}

type softBox[V any] struct {
	val V
}

type softEntry[K comparable, V any] struct {
	key  K
	box  *softBox[V]
	size int64
}

// NewSoft creates a Soft cache whose strong ring holds capacity Size units.
// A zero capacity demotes every entry on insertion.
func NewSoft[K comparable, V any](capacity int64, keyOf KeyFunc[K, V], opts ...Option[K, V]) (*Soft[K, V], error) {
	if keyOf == nil {
		return nil, ErrInvalidArgument
	}
	if capacity < 0 {
		return nil, fmt.Errorf("%w: soft capacity %d", ErrCapacityOutOfRange, capacity)
	}
	s := applyOptions(opts)
	return &Soft[K, V]{
		keyOf:    keyOf,
		capacity: capacity,
		strong:   list.New(),
		index:    make(map[K]*list.Element),
		weak:     make(map[K]weak.Pointer[softBox[V]]),
		onEvict:  s.onEvict,
	}, nil
}

// Add places item at the front of the strong ring, demoting from the back
// while the ring is over capacity.
func (c *Soft[K, V]) Add(item V, overwrite bool) error {
	if isNil(item) {
		return ErrInvalidArgument
	}
	k := c.keyOf(item)

	c.mu.Lock()
	if !overwrite {
		if _, ok := c.live(k); ok {
			c.mu.Unlock()
			return nil
		}
	}
	c.drop(k)
	c.pushStrong(k, &softBox[V]{val: item}, sizeOf(item))
	demoted := c.shrink(c.capacity)
	c.mu.Unlock()

	c.notify(demoted)
	return nil
}

// Get is Lookup with markAsHit set.
func (c *Soft[K, V]) Get(key K) (V, bool) {
	return c.Lookup(key, true)
}

// Lookup with markAsHit promotes a weakly held entry back into the strong ring.
func (c *Soft[K, V]) Lookup(key K, markAsHit bool) (V, bool) {
	c.mu.Lock()
	v, ok, demoted := c.lookup(key, markAsHit)
	c.mu.Unlock()

	if markAsHit {
		c.stats.record(ok)
	}
	c.notify(demoted)
	return v, ok
}

func (c *Soft[K, V]) lookup(key K, promote bool) (V, bool, []*softEntry[K, V]) {
	var zero V
	if el, ok := c.index[key]; ok {
		if promote {
			c.strong.MoveToFront(el)
		}
		return el.Value.(*softEntry[K, V]).box.val, true, nil
	}
	wp, ok := c.weak[key]
	if !ok {
		return zero, false, nil
	}
	box := wp.Value()
	if box == nil {
		delete(c.weak, key)
		return zero, false, nil
	}
	if !promote {
		return box.val, true, nil
	}
	delete(c.weak, key)
	c.pushStrong(key, box, sizeOf(box.val))
	return box.val, true, c.shrink(c.capacity)
}

// Remove drops the entry under item's key unless both are Identified with
// different identifiers.
func (c *Soft[K, V]) Remove(item V) error {
	if isNil(item) {
		return ErrInvalidArgument
	}
	k := c.keyOf(item)

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.live(k); ok && sameIdentity(item, cur) {
		c.drop(k)
	}
	return nil
}

// RemoveKey drops the strong and weak entries for key.
func (c *Soft[K, V]) RemoveKey(key K) error {
	c.mu.Lock()
	c.drop(key)
	c.mu.Unlock()
	return nil
}

// Clear drops every strong and weak entry.
func (c *Soft[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.index)
	clear(c.weak)
	c.strong.Init()
	c.size = 0
}

// Len counts strongly held entries plus weak entries not yet collected.
func (c *Soft[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.strong.Len()
	for _, wp := range c.weak {
		if wp.Value() != nil {
			n++
		}
	}
	return n
}

// StrongLen returns the number of strongly held entries.
func (c *Soft[K, V]) StrongLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strong.Len()
}

// Reclaim demotes strongly held entries until the strong ring holds at most
// target Size units. It returns the number of demoted entries.
func (c *Soft[K, V]) Reclaim(target int64) int {
	if target < 0 {
		target = 0
	}
	c.mu.Lock()
	demoted := c.shrink(target)
	c.mu.Unlock()

	c.notify(demoted)
	return len(demoted)
}

// All yields a snapshot of the strong entries and the live weak ones.
func (c *Soft[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		c.mu.Lock()
		snapshot := make([]pair[K, V], 0, c.strong.Len()+len(c.weak))
		for el := c.strong.Front(); el != nil; el = el.Next() {
			ent := el.Value.(*softEntry[K, V])
			snapshot = append(snapshot, pair[K, V]{ent.key, ent.box.val})
		}
		for k, wp := range c.weak {
			if box := wp.Value(); box != nil {
				snapshot = append(snapshot, pair[K, V]{k, box.val})
			}
		}
		c.mu.Unlock()
		seq(snapshot)(yield)
	}
}

// Stats returns the cumulative counters.
func (c *Soft[K, V]) Stats() Stats {
	return c.stats.snapshot()
}

func (c *Soft[K, V]) live(k K) (V, bool) {
	if el, ok := c.index[k]; ok {
		return el.Value.(*softEntry[K, V]).box.val, true
	}
	if wp, ok := c.weak[k]; ok {
		if box := wp.Value(); box != nil {
			return box.val, true
		}
	}
	var zero V
	return zero, false
}

func (c *Soft[K, V]) drop(k K) {
	if el, ok := c.index[k]; ok {
		ent := el.Value.(*softEntry[K, V])
		c.strong.Remove(el)
		delete(c.index, k)
		c.size -= ent.size
	}
	delete(c.weak, k)
}

func (c *Soft[K, V]) pushStrong(k K, box *softBox[V], n int64) {
	c.index[k] = c.strong.PushFront(&softEntry[K, V]{key: k, box: box, size: n})
	c.size += n
}

// shrink demotes from the back of the strong ring. Caller holds mu.
func (c *Soft[K, V]) shrink(target int64) []*softEntry[K, V] {
	var demoted []*softEntry[K, V]
	for c.size > target && c.strong.Len() > 0 {
		el := c.strong.Back()
		ent := el.Value.(*softEntry[K, V])
		c.strong.Remove(el)
		delete(c.index, ent.key)
		c.size -= ent.size

		wp := weak.Make(ent.box)
		c.weak[ent.key] = wp
		runtime.AddCleanup(ent.box, c.forget, softKey[K, V]{key: ent.key, wp: wp})
		demoted = append(demoted, ent)
	}
	return demoted
}

type softKey[K comparable, V any] struct {
	key K
	wp  weak.Pointer[softBox[V]]
}

// forget removes the weak slot of a collected box unless it was replaced.
func (c *Soft[K, V]) forget(sk softKey[K, V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.weak[sk.key]; ok && cur == sk.wp {
		delete(c.weak, sk.key)
	}
}

func (c *Soft[K, V]) notify(demoted []*softEntry[K, V]) {
	if len(demoted) == 0 {
		return
	}
	c.stats.evictions.Add(int64(len(demoted)))
	if c.onEvict == nil {
		return
	}
	for _, e := range demoted {
		c.onEvict(e.key, e.box.val)
	}
}
