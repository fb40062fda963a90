package pagedb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/hupe1980/pagedb/blobstore"
	"github.com/hupe1980/pagedb/codec"
	pfs "github.com/hupe1980/pagedb/internal/fs"
	"github.com/hupe1980/pagedb/page"
	"github.com/hupe1980/pagedb/pagestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openIndex(t *testing.T, store blobstore.BlobStore, opts ...Option) *Index[int, string] {
	t.Helper()
	idx, err := Open[int, string](context.Background(), store, opts...)
	require.NoError(t, err)
	return idx
}

func fill(t *testing.T, idx *Index[int, string], n int) {
	t.Helper()
	ctx := context.Background()
	for i := range n {
		_, err := idx.Put(ctx, i, fmt.Sprintf("item-%d", i))
		require.NoError(t, err)
	}
}

func TestIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("PutGetAcrossReopen", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		idx := openIndex(t, store, WithFanout(4, 4))
		fill(t, idx, 100)

		replaced, err := idx.Put(ctx, 7, "seven")
		require.NoError(t, err)
		assert.True(t, replaced)
		require.NoError(t, idx.Close())

		idx = openIndex(t, store)
		defer idx.Close()

		assert.Equal(t, uint64(100), idx.Len())
		v, ok, err := idx.Get(ctx, 7)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "seven", v)

		_, ok, err = idx.Get(ctx, 1000)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, idx.Check(ctx))

		s := idx.Stats()
		assert.Greater(t, s.Height, uint32(1))
		assert.Equal(t, uint64(100), s.ItemCount)
	})

	t.Run("CloseWithoutFlushDiscards", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		idx := openIndex(t, store, WithFlushOnClose(false))
		fill(t, idx, 10)
		require.NoError(t, idx.Flush(ctx))
		_, err := idx.Put(ctx, 99, "lost")
		require.NoError(t, err)
		require.NoError(t, idx.Close())

		idx = openIndex(t, store)
		defer idx.Close()
		assert.Equal(t, uint64(10), idx.Len())
		ok, err := idx.Has(ctx, 99)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ScanAndDeleteRange", func(t *testing.T) {
		idx := openIndex(t, blobstore.NewMemoryStore(), WithFanout(3, 3))
		defer idx.Close()
		fill(t, idx, 50)

		var got []int
		require.NoError(t, idx.Scan(ctx, 10, 15, func(k int, _ string) bool {
			got = append(got, k)
			return true
		}))
		assert.Equal(t, []int{10, 11, 12, 13, 14}, got)

		n, err := idx.DeleteRange(ctx, 10, 40)
		require.NoError(t, err)
		assert.Equal(t, 30, n)
		assert.Equal(t, uint64(20), idx.Len())

		removed, err := idx.Delete(ctx, 45)
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = idx.Delete(ctx, 45)
		require.NoError(t, err)
		assert.False(t, removed)

		count := 0
		require.NoError(t, idx.ScanAll(ctx, func(int, string) bool {
			count++
			return count < 5
		}))
		assert.Equal(t, 5, count)
		require.NoError(t, idx.Check(ctx))
	})

	t.Run("Clear", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		idx := openIndex(t, store)
		fill(t, idx, 20)
		require.NoError(t, idx.Clear(ctx))
		assert.Zero(t, idx.Len())
		require.NoError(t, idx.Close())

		idx = openIndex(t, store)
		defer idx.Close()
		assert.Zero(t, idx.Len())
	})

	t.Run("DumpAndRestore", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		src := openIndex(t, store, WithFanout(4, 4), WithCompression(page.CompressionZSTD))
		fill(t, src, 64)
		stats, err := src.Dump(ctx, "snap.dump")
		require.NoError(t, err)
		assert.Equal(t, uint64(64), stats.Items)
		require.NoError(t, src.Close())

		data, err := blobstore.ReadAll(ctx, store, "snap.dump")
		require.NoError(t, err)
		dst := blobstore.NewMemoryStore()
		require.NoError(t, dst.Put(ctx, "snap.dump", data))

		idx := openIndex(t, dst)
		defer idx.Close()
		rs, err := idx.Restore(ctx, "snap.dump")
		require.NoError(t, err)
		assert.Equal(t, uint64(64), rs.Items)
		assert.Equal(t, uint64(64), idx.Len())
		require.NoError(t, idx.Check(ctx))

		_, err = idx.Restore(ctx, "snap.dump")
		assert.ErrorIs(t, err, ErrNotEmpty)
	})

	t.Run("BlockCache", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		idx := openIndex(t, store, WithFanout(4, 4))
		fill(t, idx, 40)
		require.NoError(t, idx.Close())

		idx = openIndex(t, store, WithBlockCache(1<<20, 256), WithCacheBytes(1<<20, 0))
		defer idx.Close()
		for i := range 40 {
			_, ok, err := idx.Get(ctx, i)
			require.NoError(t, err)
			require.True(t, ok)
		}
		s := idx.Stats()
		require.NotNil(t, s.BlockCache)
		assert.Positive(t, s.BlockCache.Misses)
		assert.Equal(t, "go-json", s.Codec)
	})

	t.Run("OpenLocal", func(t *testing.T) {
		dir := t.TempDir()
		idx, err := OpenLocal[string, int](ctx, dir, WithCodec(codec.JSON{}))
		require.NoError(t, err)
		_, err = idx.Put(ctx, "a", 1)
		require.NoError(t, err)
		require.NoError(t, idx.Close())

		idx, err = OpenLocal[string, int](ctx, dir)
		require.NoError(t, err)
		defer idx.Close()
		v, ok, err := idx.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, v)
		assert.Equal(t, "json", idx.Stats().Codec)
	})
}

func TestIndexErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("NilStore", func(t *testing.T) {
		_, err := Open[int, string](ctx, nil)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("FanoutTooSmall", func(t *testing.T) {
		_, err := Open[int, string](ctx, blobstore.NewMemoryStore(), WithFanout(1, 8))
		assert.ErrorIs(t, err, ErrCapacityOutOfRange)
	})

	t.Run("CorruptedCurrent", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		require.NoError(t, store.Put(ctx, pagestore.CurrentName, []byte(pagestore.DescriptorName(3))))
		_, err := Open[int, string](ctx, store)
		assert.ErrorIs(t, err, ErrCorrupted)
	})

	t.Run("MissingPage", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		idx := openIndex(t, store, WithFanout(2, 2))
		fill(t, idx, 8)
		require.NoError(t, idx.Close())

		names, err := store.List(ctx, "pages/")
		require.NoError(t, err)
		for _, name := range names {
			require.NoError(t, store.Delete(ctx, name))
		}

		idx = openIndex(t, store)
		defer idx.Close()
		_, _, err = idx.Get(ctx, 3)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)

		var pnf *ErrPageNotFound
		require.ErrorAs(t, err, &pnf)
		assert.NotEqual(t, page.NullRef, pnf.Ref)
	})

	t.Run("UnencodableItem", func(t *testing.T) {
		idx, err := Open[int, float64](ctx, blobstore.NewMemoryStore())
		require.NoError(t, err)

		_, err = idx.Put(ctx, 1, math.Inf(1))
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = idx.Put(ctx, 2, 2.5)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), idx.Len())
		require.NoError(t, idx.Close())
	})

	t.Run("Closed", func(t *testing.T) {
		idx := openIndex(t, blobstore.NewMemoryStore())
		fill(t, idx, 3)
		require.NoError(t, idx.Close())
		require.NoError(t, idx.Close())

		_, _, err := idx.Get(ctx, 1)
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))

	tests := []struct {
		in   error
		want error
	}{
		{page.ErrCorrupted, ErrCorrupted},
		{page.ErrUnsupportedVersion, ErrUnsupportedVersion},
		{blobstore.ErrNotFound, ErrNotFound},
		{pagestore.ErrClosed, ErrClosed},
		{pagestore.ErrNotInitialized, ErrNotInitialized},
		{pagestore.ErrUnsupported, ErrUnsupported},
		{pagestore.ErrNotEmpty, ErrNotEmpty},
		{pagestore.ErrUnencodable, ErrInvalidArgument},
		{fmt.Errorf("%w: descriptor missing: %w", page.ErrCorrupted, blobstore.ErrNotFound), ErrCorrupted},
	}
	for _, tt := range tests {
		t.Run(tt.in.Error(), func(t *testing.T) {
			got := translateError(tt.in)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.in)
		})
	}

	other := errors.New("boom")
	assert.Same(t, other, translateError(other))
}

func TestMetricsObserver(t *testing.T) {
	ctx := context.Background()
	m := &BasicMetricsObserver{}
	idx := openIndex(t, blobstore.NewMemoryStore(), WithFanout(2, 2), WithMetricsObserver(m))
	defer idx.Close()

	fill(t, idx, 16)
	for i := range 20 {
		_, _, err := idx.Get(ctx, i)
		require.NoError(t, err)
	}
	_, err := idx.DeleteRange(ctx, 0, 12)
	require.NoError(t, err)
	require.NoError(t, idx.Flush(ctx))

	s := m.GetStats()
	assert.Equal(t, int64(16), s.PutCount)
	assert.Equal(t, int64(20), s.GetCount)
	assert.Equal(t, int64(16), s.GetHits)
	assert.Equal(t, int64(12), s.DeletedKeys)
	assert.Positive(t, s.Splits)
	assert.Positive(t, s.Merges)
	assert.Equal(t, int64(1), s.FlushCount)
	assert.Positive(t, s.FlushPages)
	assert.Zero(t, s.PageLoads)
	assert.InDelta(t, 1.0, s.PageHitRatio, 0.0001)
}

func TestFailedCommitKeepsPreviousDescriptor(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ffs := pfs.NewFaultyFS(nil)
	store, err := blobstore.NewLocalStore(dir, blobstore.WithFileSystem(ffs))
	require.NoError(t, err)

	idx := openIndex(t, store, WithFanout(4, 4), WithFlushOnClose(false))
	fill(t, idx, 30)
	require.NoError(t, idx.Flush(ctx))
	committed := idx.Stats().Seq

	for i := 30; i < 60; i++ {
		_, err := idx.Put(ctx, i, "late")
		require.NoError(t, err)
	}
	ffs.AddRule(pagestore.CurrentName, pfs.Fault{FailAfterBytes: -1, FailOnRename: true})
	require.ErrorIs(t, idx.Flush(ctx), pfs.ErrInjected)

	current, err := blobstore.ReadAll(ctx, store, pagestore.CurrentName)
	require.NoError(t, err)
	assert.Equal(t, pagestore.DescriptorName(committed), string(current))

	ffs.ClearRules()
	require.NoError(t, idx.Flush(ctx))
	assert.Equal(t, committed+1, idx.Stats().Seq)
	require.NoError(t, idx.Close())

	reopened, err := OpenLocal[int, string](ctx, dir)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, uint64(60), reopened.Len())
	require.NoError(t, reopened.Check(ctx))

	descriptors, err := store.List(ctx, "DESCRIPTOR-")
	require.NoError(t, err)
	assert.Equal(t, []string{pagestore.DescriptorName(committed + 1)}, descriptors)
}
