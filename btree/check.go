package btree

import (
	"context"
	"fmt"

	"github.com/hupe1980/pagedb/page"
)

type bounds[K any] struct {
	lo, hi       K
	hasLo, hasHi bool
}

type checker[K any, V any] struct {
	leaves   []*page.Node[K, V]
	pages    uint64
	items    uint64
	leafMax  int
	innerMax int
	leafMin  int
	innerMin int
}

// Check walks the whole tree and verifies its structure: key order and
// separator bounds, occupancy, uniform leaf depth, the sibling chain, the
// page and item counts of the descriptor and the existence filter.
func (t *Tree[K, V]) Check(ctx context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	desc, err := t.p.Descriptor()
	if err != nil {
		return err
	}
	if desc.Root == page.NullRef {
		if desc.Height != 0 || desc.ItemCount != 0 || desc.PageCount != 0 {
			return fmt.Errorf("%w: empty tree with height %d, %d items, %d pages", ErrInvariant, desc.Height, desc.ItemCount, desc.PageCount)
		}
		return nil
	}

	c := &checker[K, V]{}
	c.leafMax, c.innerMax, c.leafMin, c.innerMin = t.limits()

	root, err := t.resolve(ctx, desc.Root)
	if err != nil {
		return err
	}
	if uint32(root.Level)+1 != desc.Height {
		return fmt.Errorf("%w: root level %d, height %d", ErrInvariant, root.Level, desc.Height)
	}
	if err := t.checkPage(ctx, c, root, bounds[K]{}, true); err != nil {
		return err
	}

	if c.pages != desc.PageCount {
		return fmt.Errorf("%w: reached %d pages, descriptor lists %d", ErrInvariant, c.pages, desc.PageCount)
	}
	if c.items != desc.ItemCount {
		return fmt.Errorf("%w: counted %d items, descriptor lists %d", ErrInvariant, c.items, desc.ItemCount)
	}
	if err := checkChain(c.leaves); err != nil {
		return err
	}

	for _, leaf := range c.leaves {
		for _, k := range leaf.Keys {
			if !t.p.MayContain(k) {
				return fmt.Errorf("%w: filter reports stored key %v absent", ErrInvariant, k)
			}
		}
	}
	return nil
}

func (t *Tree[K, V]) checkPage(ctx context.Context, c *checker[K, V], n *page.Node[K, V], b bounds[K], isRoot bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.pages++

	for i, k := range n.Keys {
		if i > 0 && n.Keys[i-1] >= k {
			return fmt.Errorf("%w: %s keys out of order at %d", ErrInvariant, n, i)
		}
		if (b.hasLo && k < b.lo) || (b.hasHi && k >= b.hi) {
			return fmt.Errorf("%w: %s key %v outside its separators", ErrInvariant, n, k)
		}
	}

	if n.IsLeaf() {
		if n.Level != 0 {
			return fmt.Errorf("%w: %s at level %d", ErrInvariant, n, n.Level)
		}
		if len(n.Items) != len(n.Keys) {
			return fmt.Errorf("%w: %s has %d items", ErrInvariant, n, len(n.Items))
		}
		if len(n.Keys) > c.leafMax || (!isRoot && len(n.Keys) < c.leafMin) || (isRoot && len(n.Keys) == 0) {
			return fmt.Errorf("%w: %s occupancy outside [%d, %d]", ErrInvariant, n, c.leafMin, c.leafMax)
		}
		c.items += uint64(len(n.Keys))
		c.leaves = append(c.leaves, n)
		return nil
	}

	if len(n.Children) != len(n.Keys)+1 {
		return fmt.Errorf("%w: %s has %d children", ErrInvariant, n, len(n.Children))
	}
	minKeys := c.innerMin
	if isRoot {
		minKeys = 1
	}
	if len(n.Keys) > c.innerMax || len(n.Keys) < minKeys {
		return fmt.Errorf("%w: %s occupancy outside [%d, %d]", ErrInvariant, n, minKeys, c.innerMax)
	}

	for i, ref := range n.Children {
		child, err := t.resolve(ctx, ref)
		if err != nil {
			return err
		}
		if child.Level+1 != n.Level {
			return fmt.Errorf("%w: %s has child %s", ErrInvariant, n, child)
		}
		cb := b
		if i > 0 {
			cb.lo, cb.hasLo = n.Keys[i-1], true
		}
		if i < len(n.Keys) {
			cb.hi, cb.hasHi = n.Keys[i], true
		}
		if err := t.checkPage(ctx, c, child, cb, false); err != nil {
			return err
		}
	}
	return nil
}

// checkChain verifies that the sibling links match the in-order leaf sequence.
func checkChain[K, V any](leaves []*page.Node[K, V]) error {
	for i, leaf := range leaves {
		prev, next := page.NullRef, page.NullRef
		if i > 0 {
			prev = leaves[i-1].Ref
		}
		if i < len(leaves)-1 {
			next = leaves[i+1].Ref
		}
		if leaf.Prev != prev || leaf.Next != next {
			return fmt.Errorf("%w: %s links %s/%s, want %s/%s", ErrInvariant, leaf, leaf.Prev, leaf.Next, prev, next)
		}
	}
	return nil
}
