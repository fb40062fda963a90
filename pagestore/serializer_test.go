package pagestore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/hupe1980/pagedb/blobstore"
	"github.com/hupe1980/pagedb/bloom"
	"github.com/hupe1980/pagedb/page"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTwoLeafIndex creates root -> {1,2} {3} and flushes it.
func buildTwoLeafIndex(t *testing.T, p *provider) (root, left, right *page.Node[int64, string]) {
	t.Helper()
	left, right = leaf(1, 2), leaf(3)
	_, err := p.AssignIdentifier(left)
	require.NoError(t, err)
	_, err = p.AssignIdentifier(right)
	require.NoError(t, err)
	left.Next, right.Prev = right.Ref, left.Ref

	root = page.NewInner[int64, string](1, 1)
	root.Keys = append(root.Keys, 3)
	root.Children = append(root.Children, left.Ref, right.Ref)
	_, err = p.AssignIdentifier(root)
	require.NoError(t, err)
	p.SetRoot(root.Ref, 2)
	p.AddItems(3)
	for _, k := range []int64{1, 2, 3} {
		p.AddToFilter(k)
	}
	_, err = p.Flush(context.Background())
	require.NoError(t, err)
	return root, left, right
}

func writeDump(t *testing.T, p *provider, name string, root, left, right *page.Node[int64, string]) {
	t.Helper()
	ctx := context.Background()
	s, err := p.CreateSerializer(ctx, name)
	require.NoError(t, err)
	require.NoError(t, s.SerializeLeafPage(left))
	require.NoError(t, s.SerializeLeafPage(right))
	require.NoError(t, s.SerializeInnerPage(root))
	d, err := p.Descriptor()
	require.NoError(t, err)
	require.NoError(t, s.SerializeDescriptorPage(d))
	f, err := bloom.Unmarshal(d.Filter)
	require.NoError(t, err)
	require.NoError(t, s.SerializeBloomFilter(f))
	require.NoError(t, s.SerializeEof())
	require.NoError(t, s.Close())

	leaves, inner := s.Counts()
	assert.Equal(t, 2, leaves)
	assert.Equal(t, 1, inner)
}

func TestSerializerOrder(t *testing.T) {
	inner := page.NewInner[int64, string](1, 1)
	inner.Keys = append(inner.Keys, 5)
	inner.Children = append(inner.Children, 1, 2)
	inner.Ref = 3
	upper := page.NewInner[int64, string](2, 1)
	upper.Keys = append(upper.Keys, 5)
	upper.Children = append(upper.Children, 3, 4)
	upper.Ref = 9
	l := leaf(1)
	l.Ref = 1
	desc := page.NewDescriptor("json", 4, 4)

	tests := []struct {
		name  string
		steps func(s *Serializer[int64, string]) error
	}{
		{"leaf after inner", func(s *Serializer[int64, string]) error {
			if err := s.SerializeInnerPage(inner); err != nil {
				return err
			}
			return s.SerializeLeafPage(l)
		}},
		{"inner level decreases", func(s *Serializer[int64, string]) error {
			if err := s.SerializeInnerPage(upper); err != nil {
				return err
			}
			return s.SerializeInnerPage(inner)
		}},
		{"eof before descriptor", func(s *Serializer[int64, string]) error {
			return s.SerializeEof()
		}},
		{"filter before descriptor", func(s *Serializer[int64, string]) error {
			return s.SerializeBloomFilter(nil)
		}},
		{"second descriptor", func(s *Serializer[int64, string]) error {
			if err := s.SerializeDescriptorPage(desc); err != nil {
				return err
			}
			return s.SerializeDescriptorPage(desc)
		}},
		{"page after descriptor", func(s *Serializer[int64, string]) error {
			if err := s.SerializeDescriptorPage(desc); err != nil {
				return err
			}
			return s.SerializeLeafPage(l)
		}},
		{"write after close", func(s *Serializer[int64, string]) error {
			if err := s.Close(); err != nil {
				return err
			}
			return s.SerializeLeafPage(l)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := blobstore.NewMemoryStore()
			w, err := store.Create(context.Background(), "dump")
			require.NoError(t, err)
			s, err := NewSerializer[int64, string](w, nil)
			require.NoError(t, err)
			defer s.Close()

			assert.ErrorIs(t, tt.steps(s), ErrSerializerOrder)
		})
	}
}

func TestSerializerRejectsWrongKind(t *testing.T) {
	w, err := blobstore.NewMemoryStore().Create(context.Background(), "dump")
	require.NoError(t, err)
	s, err := NewSerializer[int64, string](w, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.SerializeInnerPage(leaf(1)))
	assert.Error(t, s.SerializeLeafPage(page.NewInner[int64, string](1, 0)))
	assert.Error(t, s.SerializeDescriptorPage(nil))
}

func TestDumpReadBack(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	p := newProvider(t, store)
	root, left, right := buildTwoLeafIndex(t, p)
	writeDump(t, p, "backup.dump", root, left, right)

	r, err := OpenDump[int64, string](ctx, store, "backup.dump", p.Codec())
	require.NoError(t, err)
	defer r.Close()

	var tags []RecordTag
	var nodes []*page.Node[int64, string]
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		tags = append(tags, rec.Tag)
		if rec.Node != nil {
			nodes = append(nodes, rec.Node)
		}
		if rec.Tag == TagDescriptor {
			assert.Equal(t, uint64(3), rec.Descriptor.ItemCount)
			assert.Equal(t, root.Ref, rec.Descriptor.Root)
		}
		if rec.Tag == TagFilter {
			require.NotNil(t, rec.Filter)
			assert.True(t, rec.Filter.MayContain([]byte("2")))
		}
	}
	assert.Equal(t, []RecordTag{TagLeaf, TagLeaf, TagInner, TagDescriptor, TagFilter, TagEOF}, tags)
	require.Len(t, nodes, 3)
	assert.Equal(t, left.Keys, nodes[0].Keys)
	assert.Equal(t, left.Items, nodes[0].Items)
	assert.Equal(t, right.Ref, nodes[1].Ref)
	assert.Equal(t, root.Children, nodes[2].Children)
}

func TestDumpTruncated(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	p := newProvider(t, store)
	_, left, _ := buildTwoLeafIndex(t, p)

	s, err := p.CreateSerializer(ctx, "partial.dump")
	require.NoError(t, err)
	require.NoError(t, s.SerializeLeafPage(left))
	require.NoError(t, s.Close())

	r, err := OpenDump[int64, string](ctx, store, "partial.dump", nil)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestDumpDetectsFlippedTag(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	p := newProvider(t, store)
	root, left, right := buildTwoLeafIndex(t, p)
	writeDump(t, p, "backup.dump", root, left, right)

	packed, err := blobstore.ReadAll(ctx, store, "backup.dump")
	require.NoError(t, err)
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	raw, err := dec.DecodeAll(packed, nil)
	dec.Close()
	require.NoError(t, err)

	require.Equal(t, byte(TagLeaf), raw[0])
	raw[0] = byte(TagInner)
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "flipped.dump", enc.EncodeAll(raw, nil)))
	require.NoError(t, enc.Close())

	r, err := OpenDump[int64, string](ctx, store, "flipped.dump", p.Codec())
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.ErrorContains(t, err, "checksum mismatch")
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	src := blobstore.NewMemoryStore()
	p := newProvider(t, src, WithFanout[int64, string](2, 2))
	root, left, right := buildTwoLeafIndex(t, p)
	writeDump(t, p, "backup.dump", root, left, right)

	dump, err := blobstore.ReadAll(ctx, src, "backup.dump")
	require.NoError(t, err)

	dst := blobstore.NewMemoryStore()
	q := newProvider(t, dst)
	// Burn references so the restored pages cannot keep their old ones.
	for range 5 {
		n := leaf(0)
		_, err := q.AssignIdentifier(n)
		require.NoError(t, err)
		require.NoError(t, q.FreePage(n))
	}
	require.NoError(t, dst.Put(ctx, "backup.dump", dump))

	stats, err := q.Restore(ctx, "backup.dump")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pages)
	assert.Equal(t, uint64(3), stats.Items)

	leafFanout, innerFanout := q.Fanout()
	assert.Equal(t, 2, leafFanout)
	assert.Equal(t, 2, innerFanout)

	_, err = q.Flush(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Close())

	r := newProvider(t, dst)
	ref, height := r.Root()
	assert.Greater(t, ref, page.Ref(5))
	assert.Equal(t, uint32(2), height)

	top, err := r.Resolve(ctx, ref)
	require.NoError(t, err)
	require.Len(t, top.Children, 2)

	first, err := r.Resolve(ctx, top.Children[0])
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, first.Keys)
	second, err := r.Resolve(ctx, first.Next)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, second.Keys)
	assert.Equal(t, first.Ref, second.Prev)

	for _, k := range []int64{1, 2, 3} {
		assert.True(t, r.MayContain(k))
	}
}

func TestRestoreRequiresEmptyIndex(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	p := newProvider(t, store)
	root, left, right := buildTwoLeafIndex(t, p)
	writeDump(t, p, "backup.dump", root, left, right)

	_, err := p.Restore(ctx, "backup.dump")
	assert.ErrorIs(t, err, ErrNotEmpty)
}

func TestRestoreRejectsIncompleteDump(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	p := newProvider(t, store)
	root, left, _ := buildTwoLeafIndex(t, p)

	s, err := p.CreateSerializer(ctx, "broken.dump")
	require.NoError(t, err)
	require.NoError(t, s.SerializeLeafPage(left))
	require.NoError(t, s.SerializeInnerPage(root))
	d, err := p.Descriptor()
	require.NoError(t, err)
	require.NoError(t, s.SerializeDescriptorPage(d))
	require.NoError(t, s.SerializeEof())
	require.NoError(t, s.Close())

	require.NoError(t, p.Clear(ctx))
	_, err = p.Restore(ctx, "broken.dump")
	assert.ErrorIs(t, err, ErrCorrupted)

	root2, _ := p.Root()
	assert.Equal(t, page.NullRef, root2, "failed restore leaves the index untouched")
}
