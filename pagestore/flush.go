package pagestore

import (
	"cmp"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"github.com/hupe1980/pagedb/page"
	"golang.org/x/sync/errgroup"
)

// flushOrder sorts dirty pages children first: by level, then by reference.
func flushOrder[K, V any](a, b *page.Node[K, V]) bool {
	if a.Level != b.Level {
		return a.Level < b.Level
	}
	return cmp.Less(a.Ref, b.Ref)
}

// Flush writes every dirty page, then a new descriptor, then CURRENT. Pages
// stay dirty until CURRENT is written, so a failed Flush can be retried.
// Blobs of freed pages and the previous descriptor are deleted afterwards on
// a best-effort basis.
func (p *Provider[K, V]) Flush(ctx context.Context) (FlushStats, error) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	start := time.Now()
	stats, err := p.flush(ctx)
	stats.Duration = time.Since(start)
	p.obs.RecordFlush(stats, err)

	if err != nil {
		p.log.ErrorContext(ctx, "flush failed", "pages", stats.Pages, "error", err)
		return stats, err
	}
	p.log.DebugContext(ctx, "flush committed",
		"seq", stats.Seq,
		"pages", stats.Pages,
		"bytes", stats.Bytes,
		"freed", stats.Freed,
		"duration", stats.Duration,
	)
	return stats, nil
}

func (p *Provider[K, V]) flush(ctx context.Context) (FlushStats, error) {
	p.mu.Lock()
	if err := p.readyLocked(); err != nil {
		p.mu.Unlock()
		return FlushStats{}, err
	}
	if p.writeSet.Len() == 0 && !p.metaDirty {
		seq := p.desc.Seq
		p.mu.Unlock()
		return FlushStats{Seq: seq}, nil
	}
	next, err := p.snapshotLocked()
	if err != nil {
		p.mu.Unlock()
		return FlushStats{}, err
	}
	next.Seq++
	freed := p.freed.Clone()
	prev := p.current
	p.mu.Unlock()

	plan := btree.NewG[*page.Node[K, V]](16, flushOrder[K, V])
	for _, n := range p.writeSet.All() {
		plan.ReplaceOrInsert(n)
	}

	stats := FlushStats{Seq: next.Seq}
	if err := p.writePages(ctx, plan, &stats); err != nil {
		return stats, err
	}
	name, err := p.commit(ctx, next)
	if err != nil {
		return stats, err
	}

	p.mu.Lock()
	p.desc.Seq = next.Seq
	p.current = name
	p.metaDirty = false
	p.freed.AndNot(freed)
	p.mu.Unlock()
	p.writeSet.Clear()

	stats.Freed = int(freed.GetCardinality())
	p.collect(ctx, prev, name, freed.ToArray())
	return stats, nil
}

// writePages writes plan level by level. Pages of one level go out in
// parallel; a level starts only after the level below it is durable.
func (p *Provider[K, V]) writePages(ctx context.Context, plan *btree.BTreeG[*page.Node[K, V]], stats *FlushStats) error {
	var (
		written atomic.Int64
		bytes   atomic.Int64
		level   []*page.Node[K, V]
		err     error
	)

	c := p.Codec()
	writeLevel := func(nodes []*page.Node[K, V]) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(p.opts.rc.Workers(), 1))
		for _, n := range nodes {
			g.Go(func() error {
				if err := p.opts.rc.AcquireWorker(gctx); err != nil {
					return err
				}
				defer p.opts.rc.ReleaseWorker()

				blob, err := page.EncodeNode(c, n, p.opts.compression)
				if err != nil {
					return fmt.Errorf("pagestore: encode page %s: %w", n.Ref, err)
				}
				if err := p.opts.rc.AcquireIO(gctx, len(blob)); err != nil {
					return err
				}
				if err := p.store.Put(gctx, PageName(n.Ref), blob); err != nil {
					return fmt.Errorf("pagestore: write page %s: %w", n.Ref, err)
				}
				written.Add(1)
				bytes.Add(int64(len(blob)))
				return nil
			})
		}
		return g.Wait()
	}

	plan.Ascend(func(n *page.Node[K, V]) bool {
		if len(level) > 0 && level[0].Level != n.Level {
			if err = writeLevel(level); err != nil {
				return false
			}
			level = level[:0]
		}
		level = append(level, n)
		return true
	})
	if err == nil && len(level) > 0 {
		err = writeLevel(level)
	}

	stats.Pages = int(written.Load())
	stats.Bytes = bytes.Load()
	return err
}

// collect deletes blobs the committed descriptor no longer references.
func (p *Provider[K, V]) collect(ctx context.Context, prevDescriptor, current string, refs []uint64) {
	failed := 0
	for _, ref := range refs {
		if err := p.store.Delete(ctx, PageName(page.Ref(ref))); err != nil {
			failed++
		}
	}
	if prevDescriptor != "" && prevDescriptor != current {
		if err := p.store.Delete(ctx, prevDescriptor); err != nil {
			failed++
		}
	}
	if failed > 0 {
		p.log.WarnContext(ctx, "blob cleanup incomplete", "failed", failed)
	}
}
