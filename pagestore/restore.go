package pagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/hupe1980/pagedb/bloom"
	"github.com/hupe1980/pagedb/page"
)

// RestoreStats describes a completed Restore.
type RestoreStats struct {
	Pages int
	Items uint64
}

// Restore replays the dump name into an empty index. Pages receive fresh
// references from this provider, so a restore never reuses a reference the
// store handed out before. The restored pages are dirty; call Flush to
// persist them.
func (p *Provider[K, V]) Restore(ctx context.Context, name string) (RestoreStats, error) {
	p.mu.RLock()
	if err := p.readyLocked(); err != nil {
		p.mu.RUnlock()
		return RestoreStats{}, err
	}
	empty := p.desc.Root == page.NullRef && p.desc.PageCount == 0
	c := p.codec
	p.mu.RUnlock()
	if !empty {
		return RestoreStats{}, ErrNotEmpty
	}

	r, err := OpenDump[K, V](ctx, p.store, name, c)
	if err != nil {
		return RestoreStats{}, err
	}
	defer r.Close()

	var (
		nodes  []*page.Node[K, V]
		desc   *page.Descriptor
		filter *bloom.Filter
	)
	for {
		if err := ctx.Err(); err != nil {
			return RestoreStats{}, err
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return RestoreStats{}, fmt.Errorf("pagestore: restore %s: %w", name, err)
		}
		switch rec.Tag {
		case TagLeaf, TagInner:
			nodes = append(nodes, rec.Node)
		case TagDescriptor:
			desc = rec.Descriptor
		case TagFilter:
			filter = rec.Filter
		}
	}

	if err := validateDump(desc, nodes); err != nil {
		return RestoreStats{}, fmt.Errorf("pagestore: restore %s: %w", name, err)
	}
	if desc.Codec != c.Name() {
		p.log.WarnContext(ctx, "dump codec differs from index codec", "dump", desc.Codec, "index", c.Name())
		filter = nil
	}

	p.mu.Lock()
	p.desc.LeafFanout = desc.LeafFanout
	p.desc.InnerFanout = desc.InnerFanout
	p.mu.Unlock()

	remap := make(map[page.Ref]page.Ref, len(nodes))
	for _, n := range nodes {
		old := n.Ref
		n.Ref = page.NullRef
		ref, err := p.AssignIdentifier(n)
		if err != nil {
			return RestoreStats{}, err
		}
		remap[old] = ref
	}
	for _, n := range nodes {
		for i, child := range n.Children {
			n.Children[i] = remap[child]
		}
		n.Prev = remap[n.Prev]
		n.Next = remap[n.Next]
	}

	p.SetRoot(remap[desc.Root], desc.Height)
	p.AddItems(int(desc.ItemCount))

	if filter != nil {
		p.mu.Lock()
		p.filter = filter
		p.metaDirty = true
		p.mu.Unlock()
	} else if _, err := p.GetBloomFilter(leafKeys(nodes)); err != nil {
		return RestoreStats{}, err
	}

	p.log.InfoContext(ctx, "dump restored", "dump", name, "pages", len(nodes), "items", desc.ItemCount)
	return RestoreStats{Pages: len(nodes), Items: desc.ItemCount}, nil
}

// validateDump checks that nodes form the closed page set desc describes.
func validateDump[K, V any](desc *page.Descriptor, nodes []*page.Node[K, V]) error {
	if desc == nil {
		return fmt.Errorf("%w: dump has no descriptor", ErrCorrupted)
	}
	if uint64(len(nodes)) != desc.PageCount || uint64(len(nodes)) != desc.Live.GetCardinality() {
		return fmt.Errorf("%w: dump has %d pages, descriptor lists %d", ErrCorrupted, len(nodes), desc.PageCount)
	}

	byRef := make(map[page.Ref]struct{}, len(nodes))
	for _, n := range nodes {
		if _, dup := byRef[n.Ref]; dup {
			return fmt.Errorf("%w: page %s appears twice", ErrCorrupted, n.Ref)
		}
		if !desc.Live.Contains(uint64(n.Ref)) {
			return fmt.Errorf("%w: page %s not in live set", ErrCorrupted, n.Ref)
		}
		byRef[n.Ref] = struct{}{}
	}

	known := func(ref page.Ref) bool {
		_, ok := byRef[ref]
		return ok
	}
	if desc.Root != page.NullRef && !known(desc.Root) {
		return fmt.Errorf("%w: root %s missing from dump", ErrCorrupted, desc.Root)
	}
	for _, n := range nodes {
		if slices.ContainsFunc(n.Children, func(ref page.Ref) bool { return !known(ref) }) {
			return fmt.Errorf("%w: page %s has a dangling child", ErrCorrupted, n.Ref)
		}
		for _, sib := range []page.Ref{n.Prev, n.Next} {
			if sib != page.NullRef && !known(sib) {
				return fmt.Errorf("%w: page %s has a dangling sibling %s", ErrCorrupted, n.Ref, sib)
			}
		}
	}
	return nil
}

func leafKeys[K, V any](nodes []*page.Node[K, V]) func(func(K) bool) {
	return func(yield func(K) bool) {
		for _, n := range nodes {
			if !n.IsLeaf() {
				continue
			}
			for _, k := range n.Keys {
				if !yield(k) {
					return
				}
			}
		}
	}
}
