package btree

import (
	"context"
	"slices"

	"github.com/hupe1980/pagedb/page"
)

// Ascend calls fn for every key in [from, to) in ascending order until fn
// returns false.
func (t *Tree[K, V]) Ascend(ctx context.Context, from, to K, fn func(key K, item V) bool) error {
	if from >= to {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ascend(ctx, &from, &to, fn)
}

// AscendFrom calls fn for every key >= from in ascending order until fn
// returns false.
func (t *Tree[K, V]) AscendFrom(ctx context.Context, from K, fn func(key K, item V) bool) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ascend(ctx, &from, nil, fn)
}

// AscendAll calls fn for every item in key order until fn returns false.
func (t *Tree[K, V]) AscendAll(ctx context.Context, fn func(key K, item V) bool) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ascend(ctx, nil, nil, fn)
}

// ascend scans the leaf chain from the leaf covering from. A nil bound is
// open.
func (t *Tree[K, V]) ascend(ctx context.Context, from, to *K, fn func(K, V) bool) error {
	var (
		leaf *page.Node[K, V]
		err  error
		i    int
	)
	if from != nil {
		leaf, _, err = t.descend(ctx, *from)
		if leaf != nil {
			i, _ = slices.BinarySearch(leaf.Keys, *from)
		}
	} else {
		leaf, err = t.leftmost(ctx)
	}
	if err != nil || leaf == nil {
		return err
	}

	for {
		for ; i < len(leaf.Keys); i++ {
			if to != nil && leaf.Keys[i] >= *to {
				return nil
			}
			if !fn(leaf.Keys[i], leaf.Items[i]) {
				return nil
			}
		}
		if leaf.Next == page.NullRef {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if leaf, err = t.resolve(ctx, leaf.Next); err != nil {
			return err
		}
		i = 0
	}
}

// Keys returns every key in ascending order.
func (t *Tree[K, V]) Keys(ctx context.Context) ([]K, error) {
	keys := make([]K, 0, t.Len())
	err := t.AscendAll(ctx, func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys, err
}

// RefreshFilter rebuilds the existence filter from the stored keys, dropping
// the bits of deleted keys.
func (t *Tree[K, V]) RefreshFilter(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshFilterLocked(ctx)
}

func (t *Tree[K, V]) refreshFilterLocked(ctx context.Context) error {
	keys := make([]K, 0, t.Len())
	if err := t.ascend(ctx, nil, nil, func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	}); err != nil {
		return err
	}
	f, err := t.p.GetBloomFilter(slices.Values(keys))
	if err != nil {
		return err
	}
	t.log.Debug("filter rebuilt", "keys", f.Count(), "bits", f.Bits())
	return nil
}
