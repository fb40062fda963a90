package blobstore

import (
	"context"
	"errors"
	"io"

	"github.com/hupe1980/pagedb/cache"
	"golang.org/x/sync/errgroup"
)

type blockKey struct {
	name  string
	index int64
}

type block struct {
	key  blockKey
	data []byte
}

func (b *block) Size() int64 { return int64(len(b.data)) }

func blockKeyOf(b *block) blockKey { return b.key }

// CachingStore adds a block cache in front of another store. Put and Delete
// invalidate every cached block of the affected blob.
type CachingStore struct {
	inner     BlobStore
	blocks    *cache.LRU[blockKey, *block]
	blockSize int64
}

// NewCachingStore caches up to capacity bytes of inner in blockSize blocks.
// blockSize defaults to 4KB if <= 0.
func NewCachingStore(inner BlobStore, capacity, blockSize int64) (*CachingStore, error) {
	if blockSize <= 0 {
		blockSize = 4096
	}
	blocks, err := cache.NewLRU(capacity, blockKeyOf)
	if err != nil {
		return nil, err
	}
	return &CachingStore{inner: inner, blocks: blocks, blockSize: blockSize}, nil
}

// Stats returns the block cache counters.
func (s *CachingStore) Stats() cache.Stats {
	return s.blocks.Stats()
}

func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &cachingBlob{inner: b, store: s, name: name}, nil
}

func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	s.invalidate(name)
	w, err := s.inner.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return &invalidatingWriter{WritableBlob: w, done: func() { s.invalidate(name) }}, nil
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	err := s.inner.Put(ctx, name, data)
	s.invalidate(name)
	return err
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *CachingStore) invalidate(name string) {
	for k := range s.blocks.All() {
		if k.name == name {
			_ = s.blocks.RemoveKey(k)
		}
	}
}

type invalidatingWriter struct {
	WritableBlob
	done func()
}

func (w *invalidatingWriter) Close() error {
	err := w.WritableBlob.Close()
	w.done()
	return err
}

type cachingBlob struct {
	inner Blob
	store *CachingStore
	name  string
}

func (b *cachingBlob) Close() error { return b.inner.Close() }
func (b *cachingBlob) Size() int64  { return b.inner.Size() }

func (b *cachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	size := b.Size()
	if off >= size {
		return 0, io.EOF
	}

	bs := b.store.blockSize
	end := min(off+int64(len(p)), size)
	first, last := off/bs, (end-1)/bs

	if err := b.fill(ctx, first, last); err != nil {
		return 0, err
	}

	total := 0
	for idx := first; idx <= last; idx++ {
		data, err := b.block(ctx, idx)
		if err != nil {
			return total, err
		}
		start := idx * bs
		from := max(start, off) - start
		to := min(start+int64(len(data)), end) - start
		if to <= from {
			break
		}
		total += copy(p[max(start, off)-off:], data[from:to])
	}

	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

func (b *cachingBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	return io.NopCloser(&sectionReader{blob: b, ctx: ctx, off: off, limit: min(off+length, b.Size())}), nil
}

// fill loads contiguous runs of missing blocks with one backend read per run.
func (b *cachingBlob) fill(ctx context.Context, first, last int64) error {
	type run struct{ start, count int64 }
	var runs []run
	for idx := first; idx <= last; idx++ {
		if b.store.blocks.Contains(blockKey{b.name, idx}) {
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].start+runs[n-1].count == idx {
			runs[n-1].count++
		} else {
			runs = append(runs, run{idx, 1})
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, r := range runs {
		g.Go(func() error {
			return b.load(ctx, r.start, r.count)
		})
	}
	return g.Wait()
}

func (b *cachingBlob) load(ctx context.Context, start, count int64) error {
	bs := b.store.blockSize
	off := start * bs
	n := min(count*bs, b.Size()-off)
	if n <= 0 {
		return nil
	}

	buf := make([]byte, n)
	read, err := b.inner.ReadAt(ctx, buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	buf = buf[:read]

	for i := int64(0); i < count && i*bs < int64(len(buf)); i++ {
		chunk := buf[i*bs : min((i+1)*bs, int64(len(buf)))]
		// copy so a cached block does not pin the whole run
		_ = b.store.blocks.Add(&block{
			key:  blockKey{b.name, start + i},
			data: append([]byte(nil), chunk...),
		}, true)
	}
	return nil
}

func (b *cachingBlob) block(ctx context.Context, idx int64) ([]byte, error) {
	if blk, ok := b.store.blocks.Get(blockKey{b.name, idx}); ok {
		return blk.data, nil
	}

	// evicted between fill and copy; read it directly
	bs := b.store.blockSize
	buf := make([]byte, min(bs, b.Size()-idx*bs))
	n, err := b.inner.ReadAt(ctx, buf, idx*bs)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}
