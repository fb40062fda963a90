package btree

import (
	"context"
	"slices"

	"github.com/hupe1980/pagedb/page"
)

// Put stores item under key. It reports whether an existing item was
// replaced.
func (t *Tree[K, V]) Put(ctx context.Context, key K, item V) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	leafMax, innerMax, _, _ := t.limits()

	leaf, path, err := t.descend(ctx, key)
	if err != nil {
		return false, err
	}
	if err := t.p.CheckEntry(key, item); err != nil {
		return false, err
	}
	if leaf == nil {
		return false, t.plantRoot(key, item, leafMax)
	}

	i, found := slices.BinarySearch(leaf.Keys, key)
	if found {
		leaf.Items[i] = item
		return true, t.p.MarkDirty(leaf)
	}

	leaf.Keys = slices.Insert(leaf.Keys, i, key)
	leaf.Items = slices.Insert(leaf.Items, i, item)
	t.p.AddItems(1)
	t.p.AddToFilter(key)

	if len(leaf.Keys) <= leafMax {
		return false, t.p.MarkDirty(leaf)
	}

	right, err := t.splitLeaf(ctx, leaf, leafMax)
	if err != nil {
		return false, err
	}
	return false, t.promote(path, leaf, right.Keys[0], right.Ref, innerMax)
}

func (t *Tree[K, V]) plantRoot(key K, item V, leafMax int) error {
	leaf := page.NewLeaf[K, V](leafMax + 1)
	leaf.Keys = append(leaf.Keys, key)
	leaf.Items = append(leaf.Items, item)
	if _, err := t.p.AssignIdentifier(leaf); err != nil {
		return err
	}
	t.p.SetRoot(leaf.Ref, 1)
	t.p.AddItems(1)
	t.p.AddToFilter(key)
	return nil
}

// splitLeaf moves the upper half of leaf into a new right sibling. The left
// page keeps ceil(n/2) entries.
func (t *Tree[K, V]) splitLeaf(ctx context.Context, leaf *page.Node[K, V], leafMax int) (*page.Node[K, V], error) {
	mid := (len(leaf.Keys) + 1) / 2

	right := page.NewLeaf[K, V](leafMax + 1)
	right.Keys = append(right.Keys, leaf.Keys[mid:]...)
	right.Items = append(right.Items, leaf.Items[mid:]...)
	clear(leaf.Items[mid:])
	leaf.Keys = leaf.Keys[:mid]
	leaf.Items = leaf.Items[:mid]

	if _, err := t.p.AssignIdentifier(right); err != nil {
		return nil, err
	}

	right.Prev = leaf.Ref
	right.Next = leaf.Next
	if leaf.Next != page.NullRef {
		next, err := t.resolve(ctx, leaf.Next)
		if err != nil {
			return nil, err
		}
		next.Prev = right.Ref
		if err := t.p.MarkDirty(next); err != nil {
			return nil, err
		}
	}
	leaf.Next = right.Ref

	t.obs.RecordSplit(page.KindLeaf)
	t.log.Debug("page split", "kind", page.KindLeaf, "left", leaf.Ref, "right", right.Ref)
	return right, t.p.MarkDirty(leaf)
}

// promote installs separator sep and the new right child into the parents on
// path, splitting parents that overflow. A split of the root grows the tree by
// one level.
func (t *Tree[K, V]) promote(path []frame[K, V], left *page.Node[K, V], sep K, child page.Ref, innerMax int) error {
	for level := len(path) - 1; level >= 0; level-- {
		parent, idx := path[level].node, path[level].idx
		parent.Keys = slices.Insert(parent.Keys, idx, sep)
		parent.Children = slices.Insert(parent.Children, idx+1, child)
		if len(parent.Keys) <= innerMax {
			return t.p.MarkDirty(parent)
		}

		mid := len(parent.Keys) / 2
		sep = parent.Keys[mid]

		right := page.NewInner[K, V](parent.Level, innerMax+1)
		right.Keys = append(right.Keys, parent.Keys[mid+1:]...)
		right.Children = append(right.Children, parent.Children[mid+1:]...)
		parent.Keys = parent.Keys[:mid]
		parent.Children = parent.Children[:mid+1]

		if _, err := t.p.AssignIdentifier(right); err != nil {
			return err
		}
		if err := t.p.MarkDirty(parent); err != nil {
			return err
		}
		t.obs.RecordSplit(page.KindInner)
		t.log.Debug("page split", "kind", page.KindInner, "left", parent.Ref, "right", right.Ref)
		left, child = parent, right.Ref
	}

	root := page.NewInner[K, V](left.Level+1, innerMax+1)
	root.Keys = append(root.Keys, sep)
	root.Children = append(root.Children, left.Ref, child)
	if _, err := t.p.AssignIdentifier(root); err != nil {
		return err
	}
	t.p.SetRoot(root.Ref, uint32(root.Level)+1)
	t.log.Debug("tree grew", "root", root.Ref, "height", root.Level+1)
	return nil
}
