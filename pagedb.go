package pagedb

import (
	"cmp"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/pagedb/blobstore"
	"github.com/hupe1980/pagedb/btree"
	"github.com/hupe1980/pagedb/codec"
	"github.com/hupe1980/pagedb/pagestore"
)

// Index is an ordered, persistent key/item index.
//
// All methods are safe for concurrent use. Changes are durable after Flush
// (or Close with flush-on-close).
type Index[K cmp.Ordered, V any] struct {
	store   blobstore.BlobStore
	p       *pagestore.Provider[K, V]
	tree    *btree.Tree[K, V]
	opts    options
	log     *Logger
	metrics MetricsObserver

	closeOnce sync.Once
	closeErr  error
}

// Open opens the index kept in store, creating an empty one when the store
// holds none.
func Open[K cmp.Ordered, V any](ctx context.Context, store blobstore.BlobStore, optFns ...Option) (*Index[K, V], error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidArgument)
	}
	o := applyOptions(optFns)

	if o.blockCache > 0 {
		cached, err := blobstore.NewCachingStore(store, o.blockCache, o.blockSize)
		if err != nil {
			return nil, translateError(err)
		}
		store = cached
	}

	p, err := pagestore.New[K, V](store, providerOptions[K, V](o)...)
	if err != nil {
		return nil, translateError(err)
	}
	if err := p.Initialize(ctx); err != nil {
		_ = p.Close()
		return nil, translateError(err)
	}
	tree, err := btree.New(p, btree.WithLogger(o.logger.Logger), btree.WithObserver(o.metrics))
	if err != nil {
		_ = p.Close()
		return nil, translateError(err)
	}

	idx := &Index[K, V]{
		store:   store,
		p:       p,
		tree:    tree,
		opts:    o,
		log:     o.logger,
		metrics: o.metrics,
	}
	idx.log.LogOpen(ctx, p.Stats())
	return idx, nil
}

// OpenLocal opens the index kept in the directory dir.
func OpenLocal[K cmp.Ordered, V any](ctx context.Context, dir string, optFns ...Option) (*Index[K, V], error) {
	store, err := blobstore.NewLocalStore(dir)
	if err != nil {
		return nil, err
	}
	return Open[K, V](ctx, store, optFns...)
}

// Get returns the item stored under key.
func (idx *Index[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	start := time.Now()
	v, ok, err := idx.tree.Get(ctx, key)
	idx.metrics.RecordGet(time.Since(start), ok, err)
	return v, ok, translateError(err)
}

// Has reports whether key is stored. Absent keys are usually rejected by the
// existence filter without reading any page.
func (idx *Index[K, V]) Has(ctx context.Context, key K) (bool, error) {
	start := time.Now()
	ok, err := idx.tree.Has(ctx, key)
	idx.metrics.RecordGet(time.Since(start), ok, err)
	return ok, translateError(err)
}

// Put stores item under key and reports whether it replaced an item.
func (idx *Index[K, V]) Put(ctx context.Context, key K, item V) (bool, error) {
	start := time.Now()
	replaced, err := idx.tree.Put(ctx, key, item)
	idx.metrics.RecordPut(time.Since(start), err)
	return replaced, translateError(err)
}

// Delete removes key and reports whether it was present.
func (idx *Index[K, V]) Delete(ctx context.Context, key K) (bool, error) {
	start := time.Now()
	removed, err := idx.tree.Delete(ctx, key)
	n := 0
	if removed {
		n = 1
	}
	idx.metrics.RecordDelete(n, time.Since(start), err)
	return removed, translateError(err)
}

// DeleteRange removes every key in [from, to) and returns how many were
// removed.
func (idx *Index[K, V]) DeleteRange(ctx context.Context, from, to K) (int, error) {
	start := time.Now()
	n, err := idx.tree.DeleteRange(ctx, from, to)
	idx.metrics.RecordDelete(n, time.Since(start), err)
	return n, translateError(err)
}

// Scan calls fn for every key in [from, to) in ascending order until fn
// returns false. fn must not modify the index.
func (idx *Index[K, V]) Scan(ctx context.Context, from, to K, fn func(key K, item V) bool) error {
	start := time.Now()
	visited := 0
	err := idx.tree.Ascend(ctx, from, to, func(k K, v V) bool {
		visited++
		return fn(k, v)
	})
	idx.metrics.RecordScan(visited, time.Since(start), err)
	return translateError(err)
}

// ScanFrom calls fn for every key at or after from until fn returns false.
func (idx *Index[K, V]) ScanFrom(ctx context.Context, from K, fn func(key K, item V) bool) error {
	start := time.Now()
	visited := 0
	err := idx.tree.AscendFrom(ctx, from, func(k K, v V) bool {
		visited++
		return fn(k, v)
	})
	idx.metrics.RecordScan(visited, time.Since(start), err)
	return translateError(err)
}

// ScanAll calls fn for every item in key order until fn returns false. fn
// must not modify the index.
func (idx *Index[K, V]) ScanAll(ctx context.Context, fn func(key K, item V) bool) error {
	start := time.Now()
	visited := 0
	err := idx.tree.AscendAll(ctx, func(k K, v V) bool {
		visited++
		return fn(k, v)
	})
	idx.metrics.RecordScan(visited, time.Since(start), err)
	return translateError(err)
}

// Len returns the number of items.
func (idx *Index[K, V]) Len() uint64 { return idx.tree.Len() }

// Flush makes every change since the last flush durable.
func (idx *Index[K, V]) Flush(ctx context.Context) error {
	stats, err := idx.tree.Flush(ctx)
	idx.log.LogFlush(ctx, stats, err)
	return translateError(err)
}

// Clear removes every item and commits the empty index.
func (idx *Index[K, V]) Clear(ctx context.Context) error {
	items := idx.Len()
	err := idx.tree.Clear(ctx)
	idx.log.LogClear(ctx, items, err)
	return translateError(err)
}

// Dump writes a full snapshot of the index to the blob name in the index's
// store. Unflushed changes are included.
func (idx *Index[K, V]) Dump(ctx context.Context, name string) (btree.DumpStats, error) {
	stats, err := idx.tree.Dump(ctx, name)
	idx.log.LogDump(ctx, name, stats, err)
	return stats, translateError(err)
}

// Restore loads the snapshot name into an empty index and flushes it.
func (idx *Index[K, V]) Restore(ctx context.Context, name string) (pagestore.RestoreStats, error) {
	stats, err := idx.tree.Restore(ctx, name)
	idx.log.LogRestore(ctx, name, stats, err)
	return stats, translateError(err)
}

// Check verifies the structure of the whole index. It reads every page.
func (idx *Index[K, V]) Check(ctx context.Context) error {
	return translateError(idx.tree.Check(ctx))
}

// RefreshFilter rebuilds the existence filter from the stored keys. Deletes
// leave stale bits behind; a rebuild restores the configured false positive
// rate.
func (idx *Index[K, V]) RefreshFilter(ctx context.Context) error {
	return translateError(idx.tree.RefreshFilter(ctx))
}

// Stats is a point-in-time view of an index.
type Stats struct {
	pagestore.Stats
	Codec      string
	BlockCache *BlockCacheStats
}

// BlockCacheStats are the counters of the block cache, when one is configured.
type BlockCacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Stats returns counters for the index and its caches.
func (idx *Index[K, V]) Stats() Stats {
	s := Stats{
		Stats: idx.p.Stats(),
		Codec: codecName(idx.p.Codec()),
	}
	if cs, ok := idx.store.(*blobstore.CachingStore); ok {
		bc := cs.Stats()
		s.BlockCache = &BlockCacheStats{Hits: bc.Hits, Misses: bc.Misses, Evictions: bc.Evictions}
	}
	return s
}

func codecName(c codec.Codec) string {
	if c == nil {
		return ""
	}
	return c.Name()
}

// Close flushes pending changes (unless disabled with WithFlushOnClose) and
// releases the index. The store is closed when it implements io.Closer.
func (idx *Index[K, V]) Close() error {
	idx.closeOnce.Do(func() {
		var flushErr error
		if idx.opts.flushOnClose {
			flushErr = idx.Flush(context.Background())
		}
		closeErr := translateError(idx.p.Close())
		if flushErr != nil {
			idx.closeErr = flushErr
		} else {
			idx.closeErr = closeErr
		}
	})
	return idx.closeErr
}
