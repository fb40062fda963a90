package btree

import (
	"context"
	"fmt"

	"github.com/hupe1980/pagedb/bloom"
	"github.com/hupe1980/pagedb/page"
	"github.com/hupe1980/pagedb/pagestore"
)

// DumpStats describes a written dump.
type DumpStats struct {
	Leaves int
	Inner  int
	Items  uint64
}

// Dump writes the whole tree to the blob name: leaves in key order, inner
// pages level by level from the bottom, then the descriptor, the existence
// filter and the end marker.
func (t *Tree[K, V]) Dump(ctx context.Context, name string) (DumpStats, error) {
	if !t.p.Features().Has(pagestore.FeatureSerializer) {
		return DumpStats{}, pagestore.ErrUnsupported
	}

	// Encoding records the page size on each node, so readers are excluded.
	t.mu.Lock()
	defer t.mu.Unlock()

	desc, err := t.p.Descriptor()
	if err != nil {
		return DumpStats{}, err
	}
	s, err := t.p.CreateSerializer(ctx, name)
	if err != nil {
		return DumpStats{}, err
	}
	defer s.Close()

	// One pass per level keeps only the current root-to-page path resident.
	for depth := int(desc.Height) - 1; depth >= 0; depth-- {
		err := t.walkLevel(ctx, desc.Root, 0, depth, func(n *page.Node[K, V]) error {
			var err error
			if n.IsLeaf() {
				err = s.SerializeLeafPage(n)
			} else {
				err = s.SerializeInnerPage(n)
			}
			if err != nil {
				return fmt.Errorf("btree: dump %s: %w", n, err)
			}
			return nil
		})
		if err != nil {
			return DumpStats{}, err
		}
	}
	if err := s.SerializeDescriptorPage(desc); err != nil {
		return DumpStats{}, err
	}
	if len(desc.Filter) > 0 {
		f, err := bloom.Unmarshal(desc.Filter)
		if err != nil {
			return DumpStats{}, fmt.Errorf("btree: dump filter: %w", err)
		}
		if err := s.SerializeBloomFilter(f); err != nil {
			return DumpStats{}, err
		}
	}
	if err := s.SerializeEof(); err != nil {
		return DumpStats{}, err
	}
	if err := s.Close(); err != nil {
		return DumpStats{}, fmt.Errorf("btree: close dump %s: %w", name, err)
	}

	leaves, inner := s.Counts()
	t.log.Info("dump written", "name", name, "leaves", leaves, "inner", inner, "items", desc.ItemCount)
	return DumpStats{Leaves: leaves, Inner: inner, Items: desc.ItemCount}, nil
}

// walkLevel calls fn for every page target levels below ref, in key order.
func (t *Tree[K, V]) walkLevel(ctx context.Context, ref page.Ref, depth, target int, fn func(*page.Node[K, V]) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := t.resolve(ctx, ref)
	if err != nil {
		return err
	}
	if depth == target {
		return fn(n)
	}
	if n.IsLeaf() {
		return fmt.Errorf("%w: leaf %s at depth %d of %d", ErrInvariant, n.Ref, depth, target)
	}
	for _, child := range n.Children {
		if err := t.walkLevel(ctx, child, depth+1, target, fn); err != nil {
			return err
		}
	}
	return nil
}
