package btree

import (
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/pagedb/page"
	"github.com/hupe1980/pagedb/pagestore"
)

// Delete removes key. It reports whether the key was present.
func (t *Tree[K, V]) Delete(ctx context.Context, key K) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delete(ctx, key)
}

func (t *Tree[K, V]) delete(ctx context.Context, key K) (bool, error) {
	leaf, path, err := t.descend(ctx, key)
	if err != nil || leaf == nil {
		return false, err
	}
	i, found := slices.BinarySearch(leaf.Keys, key)
	if !found {
		return false, nil
	}
	leaf.Keys = slices.Delete(leaf.Keys, i, i+1)
	leaf.Items = slices.Delete(leaf.Items, i, i+1)
	t.p.AddItems(-1)
	return true, t.rebalance(ctx, leaf, path)
}

// DeleteRange removes every key in [from, to) and returns how many were
// removed.
func (t *Tree[K, V]) DeleteRange(ctx context.Context, from, to K) (int, error) {
	if !t.p.Features().Has(pagestore.FeatureRangeDeletion) {
		return 0, pagestore.ErrUnsupported
	}
	if from >= to {
		return 0, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var keys []K
	if err := t.ascend(ctx, &from, &to, func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	}); err != nil {
		return 0, err
	}

	removed := 0
	for _, k := range keys {
		ok, err := t.delete(ctx, k)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// rebalance restores the occupancy of n after a removal, walking up path
// while merges leave parents short.
func (t *Tree[K, V]) rebalance(ctx context.Context, n *page.Node[K, V], path []frame[K, V]) error {
	_, _, leafMin, innerMin := t.limits()

	for {
		if len(path) == 0 {
			return t.shrinkRoot(n)
		}

		minKeys := innerMin
		if n.IsLeaf() {
			minKeys = leafMin
		}
		if len(n.Keys) >= minKeys {
			return t.p.MarkDirty(n)
		}

		parent, idx := path[len(path)-1].node, path[len(path)-1].idx
		var left, right *page.Node[K, V]
		var err error
		if idx > 0 {
			if left, err = t.resolve(ctx, parent.Children[idx-1]); err != nil {
				return err
			}
		}
		if idx < len(parent.Children)-1 {
			if right, err = t.resolve(ctx, parent.Children[idx+1]); err != nil {
				return err
			}
		}

		switch {
		case left != nil && len(left.Keys) > minKeys:
			borrowLeft(n, left, parent, idx)
			return t.markDirty(n, left, parent)
		case right != nil && len(right.Keys) > minKeys:
			borrowRight(n, right, parent, idx)
			return t.markDirty(n, right, parent)
		case left != nil:
			if err := t.merge(ctx, left, n, parent, idx-1); err != nil {
				return err
			}
		case right != nil:
			if err := t.merge(ctx, n, right, parent, idx); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: page %s has no siblings under %s", ErrInvariant, n.Ref, parent.Ref)
		}

		n, path = parent, path[:len(path)-1]
	}
}

// shrinkRoot drops an empty root. An inner root without separators hands the
// root role to its only child.
func (t *Tree[K, V]) shrinkRoot(root *page.Node[K, V]) error {
	if len(root.Keys) > 0 {
		return t.p.MarkDirty(root)
	}
	_, height := t.p.Root()
	if err := t.p.FreePage(root); err != nil {
		return err
	}
	if root.IsLeaf() {
		t.p.SetRoot(page.NullRef, 0)
		return nil
	}
	t.p.SetRoot(root.Children[0], height-1)
	t.log.Debug("tree shrank", "root", root.Children[0], "height", height-1)
	return nil
}

func (t *Tree[K, V]) markDirty(nodes ...*page.Node[K, V]) error {
	for _, n := range nodes {
		if err := t.p.MarkDirty(n); err != nil {
			return err
		}
	}
	return nil
}

// borrowLeft moves the last entry of left into n, which is child idx of parent.
func borrowLeft[K any, V any](n, left, parent *page.Node[K, V], idx int) {
	last := len(left.Keys) - 1
	if n.IsLeaf() {
		n.Keys = slices.Insert(n.Keys, 0, left.Keys[last])
		n.Items = slices.Insert(n.Items, 0, left.Items[last])
		left.Keys = slices.Delete(left.Keys, last, last+1)
		left.Items = slices.Delete(left.Items, last, last+1)
		parent.Keys[idx-1] = n.Keys[0]
		return
	}
	n.Keys = slices.Insert(n.Keys, 0, parent.Keys[idx-1])
	n.Children = slices.Insert(n.Children, 0, left.Children[last+1])
	parent.Keys[idx-1] = left.Keys[last]
	left.Keys = slices.Delete(left.Keys, last, last+1)
	left.Children = slices.Delete(left.Children, last+1, last+2)
}

// borrowRight moves the first entry of right into n, which is child idx of
// parent.
func borrowRight[K any, V any](n, right, parent *page.Node[K, V], idx int) {
	if n.IsLeaf() {
		n.Keys = append(n.Keys, right.Keys[0])
		n.Items = append(n.Items, right.Items[0])
		right.Keys = slices.Delete(right.Keys, 0, 1)
		right.Items = slices.Delete(right.Items, 0, 1)
		parent.Keys[idx] = right.Keys[0]
		return
	}
	n.Keys = append(n.Keys, parent.Keys[idx])
	n.Children = append(n.Children, right.Children[0])
	parent.Keys[idx] = right.Keys[0]
	right.Keys = slices.Delete(right.Keys, 0, 1)
	right.Children = slices.Delete(right.Children, 0, 1)
}

// merge folds right into left. They are children sep and sep+1 of parent.
func (t *Tree[K, V]) merge(ctx context.Context, left, right, parent *page.Node[K, V], sep int) error {
	if left.IsLeaf() {
		left.Keys = append(left.Keys, right.Keys...)
		left.Items = append(left.Items, right.Items...)
		left.Next = right.Next
		if right.Next != page.NullRef {
			next, err := t.resolve(ctx, right.Next)
			if err != nil {
				return err
			}
			next.Prev = left.Ref
			if err := t.p.MarkDirty(next); err != nil {
				return err
			}
		}
	} else {
		left.Keys = append(left.Keys, parent.Keys[sep])
		left.Keys = append(left.Keys, right.Keys...)
		left.Children = append(left.Children, right.Children...)
	}

	parent.Keys = slices.Delete(parent.Keys, sep, sep+1)
	parent.Children = slices.Delete(parent.Children, sep+1, sep+2)

	if err := t.p.FreePage(right); err != nil {
		return err
	}
	t.obs.RecordMerge(left.Kind)
	t.log.Debug("pages merged", "kind", left.Kind, "into", left.Ref, "freed", right.Ref)
	return t.p.MarkDirty(left)
}
