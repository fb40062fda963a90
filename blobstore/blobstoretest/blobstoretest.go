// Package blobstoretest checks that a blobstore.BlobStore honors the
// contract the page store relies on.
package blobstoretest

import (
	"context"
	"errors"
	"io"
	"slices"
	"testing"

	"github.com/hupe1980/pagedb/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises s. The store must be empty.
func Run(t *testing.T, s blobstore.BlobStore) {
	t.Helper()
	ctx := t.Context()

	t.Run("PutOpenReadAt", func(t *testing.T) {
		data := []byte("hello page store")
		require.NoError(t, s.Put(ctx, "pages/0000000000000001.page", data))

		b, err := s.Open(ctx, "pages/0000000000000001.page")
		require.NoError(t, err)
		defer b.Close()
		assert.Equal(t, int64(len(data)), b.Size())

		buf := make([]byte, 4)
		n, err := b.ReadAt(ctx, buf, 6)
		require.NoError(t, err)
		assert.Equal(t, "page", string(buf[:n]))

		tail := make([]byte, 10)
		n, err = b.ReadAt(ctx, tail, 12)
		assert.True(t, err == nil || errors.Is(err, io.EOF))
		assert.Equal(t, "tore", string(tail[:n]))

		rc, err := b.ReadRange(ctx, 0, 5)
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, "hello", string(got))
	})

	t.Run("ReadAll", func(t *testing.T) {
		got, err := blobstore.ReadAll(ctx, s, "pages/0000000000000001.page")
		require.NoError(t, err)
		assert.Equal(t, "hello page store", string(got))
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "CURRENT", []byte("DESCRIPTOR-000001.bin")))
		require.NoError(t, s.Put(ctx, "CURRENT", []byte("DESCRIPTOR-000002.bin")))
		got, err := blobstore.ReadAll(ctx, s, "CURRENT")
		require.NoError(t, err)
		assert.Equal(t, "DESCRIPTOR-000002.bin", string(got))
	})

	t.Run("Create", func(t *testing.T) {
		w, err := s.Create(ctx, "dump.bin")
		require.NoError(t, err)
		_, err = w.Write([]byte("part one,"))
		require.NoError(t, err)
		_, err = w.Write([]byte("part two"))
		require.NoError(t, err)
		require.NoError(t, w.Sync())
		require.NoError(t, w.Close())

		got, err := blobstore.ReadAll(ctx, s, "dump.bin")
		require.NoError(t, err)
		assert.Equal(t, "part one,part two", string(got))
	})

	t.Run("EmptyBlob", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "empty", nil))
		got, err := blobstore.ReadAll(ctx, s, "empty")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "pages/0000000000000002.page", []byte("x")))
		names, err := s.List(ctx, "pages/")
		require.NoError(t, err)
		slices.Sort(names)
		assert.Equal(t, []string{"pages/0000000000000001.page", "pages/0000000000000002.page"}, names)
	})

	t.Run("DeleteAndMissing", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "pages/0000000000000002.page"))
		require.NoError(t, s.Delete(ctx, "pages/0000000000000002.page"))

		_, err := s.Open(ctx, "pages/0000000000000002.page")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)

		_, err = blobstore.ReadAll(context.WithoutCancel(ctx), s, "never-written")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})
}
