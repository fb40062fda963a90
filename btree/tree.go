package btree

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hupe1980/pagedb/page"
	"github.com/hupe1980/pagedb/pagestore"
)

// ErrInvariant is returned by Check for a structurally broken tree.
var ErrInvariant = errors.New("btree: invariant violated")

// Observer receives structural events. Implementations must be safe for
// concurrent use.
type Observer interface {
	RecordSplit(kind page.Kind)
	RecordMerge(kind page.Kind)
}

type noopObserver struct{}

func (noopObserver) RecordSplit(page.Kind) {}
func (noopObserver) RecordMerge(page.Kind) {}

type options struct {
	logger   *slog.Logger
	observer Observer
}

// Option configures a Tree.
type Option func(*options)

// WithLogger sets the logger. nil discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l == nil {
			l = slog.New(slog.DiscardHandler)
		}
		o.logger = l
	}
}

// WithObserver sets the structural event observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs == nil {
			obs = noopObserver{}
		}
		o.observer = obs
	}
}

// Tree is a B+tree over the pages of a provider.
type Tree[K cmp.Ordered, V any] struct {
	mu  sync.RWMutex
	p   *pagestore.Provider[K, V]
	log *slog.Logger
	obs Observer
}

// New binds a tree to an initialized provider.
func New[K cmp.Ordered, V any](p *pagestore.Provider[K, V], opts ...Option) (*Tree[K, V], error) {
	if p == nil {
		return nil, fmt.Errorf("btree: nil provider")
	}
	o := options{
		logger:   slog.New(slog.DiscardHandler),
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if _, err := p.Descriptor(); err != nil {
		return nil, err
	}
	return &Tree[K, V]{p: p, log: o.logger, obs: o.observer}, nil
}

// Provider returns the page provider backing t.
func (t *Tree[K, V]) Provider() *pagestore.Provider[K, V] { return t.p }

// limits returns the maximum entries per leaf and separators per inner page,
// and the minimum occupancy of non-root pages.
func (t *Tree[K, V]) limits() (leafMax, innerMax, leafMin, innerMin int) {
	leafMax, innerMax = t.p.Fanout()
	return leafMax, innerMax, (leafMax + 1) / 2, innerMax / 2
}

func (t *Tree[K, V]) resolve(ctx context.Context, ref page.Ref) (*page.Node[K, V], error) {
	n, err := t.p.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("btree: resolve %s: %w", ref, err)
	}
	return n, nil
}

// childIndex returns the child of an inner page that covers key.
func childIndex[K cmp.Ordered](keys []K, key K) int {
	i, found := slices.BinarySearch(keys, key)
	if found {
		i++
	}
	return i
}

type frame[K cmp.Ordered, V any] struct {
	node *page.Node[K, V]
	idx  int
}

// descend walks from the root to the leaf that covers key. path holds the
// inner pages visited and the child index taken in each. The leaf is nil for
// an empty tree.
func (t *Tree[K, V]) descend(ctx context.Context, key K) (*page.Node[K, V], []frame[K, V], error) {
	root, height := t.p.Root()
	if root == page.NullRef {
		return nil, nil, nil
	}
	path := make([]frame[K, V], 0, max(int(height)-1, 0))
	n, err := t.resolve(ctx, root)
	if err != nil {
		return nil, nil, err
	}
	for !n.IsLeaf() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		i := childIndex(n.Keys, key)
		path = append(path, frame[K, V]{node: n, idx: i})
		if n, err = t.resolve(ctx, n.Children[i]); err != nil {
			return nil, nil, err
		}
	}
	return n, path, nil
}

// leftmost returns the first leaf of the tree, or nil when it is empty.
func (t *Tree[K, V]) leftmost(ctx context.Context) (*page.Node[K, V], error) {
	root, _ := t.p.Root()
	if root == page.NullRef {
		return nil, nil
	}
	n, err := t.resolve(ctx, root)
	if err != nil {
		return nil, err
	}
	for !n.IsLeaf() {
		if n, err = t.resolve(ctx, n.Children[0]); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Get returns the item stored under key.
func (t *Tree[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var zero V
	leaf, _, err := t.descend(ctx, key)
	if err != nil || leaf == nil {
		return zero, false, err
	}
	i, found := slices.BinarySearch(leaf.Keys, key)
	if !found {
		return zero, false, nil
	}
	return leaf.Items[i], true, nil
}

// Has reports whether key is stored. A negative answer from the existence
// filter skips the tree walk.
func (t *Tree[K, V]) Has(ctx context.Context, key K) (bool, error) {
	if t.p.Features().Has(pagestore.FeatureBloomFilter) && !t.p.MayContain(key) {
		return false, nil
	}
	_, ok, err := t.Get(ctx, key)
	return ok, err
}

// Len returns the number of stored items.
func (t *Tree[K, V]) Len() uint64 { return t.p.ItemCount() }

// Height returns the number of page levels: 0 when empty, 1 for a lone leaf.
func (t *Tree[K, V]) Height() uint32 {
	_, h := t.p.Root()
	return h
}

// Flush persists every page changed since the last flush. A filter whose
// false positive rate has drifted past twice its target is rebuilt first.
func (t *Tree[K, V]) Flush(ctx context.Context) (pagestore.FlushStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.p.FilterSaturated() {
		if err := t.refreshFilterLocked(ctx); err != nil {
			return pagestore.FlushStats{}, err
		}
	}
	return t.p.Flush(ctx)
}

// Clear removes every item and commits the empty tree.
func (t *Tree[K, V]) Clear(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p.Clear(ctx)
}

// Restore loads the dump name into an empty tree and flushes it.
func (t *Tree[K, V]) Restore(ctx context.Context, name string) (pagestore.RestoreStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats, err := t.p.Restore(ctx, name)
	if err != nil {
		return stats, err
	}
	if _, err := t.p.Flush(ctx); err != nil {
		return stats, err
	}
	return stats, nil
}
