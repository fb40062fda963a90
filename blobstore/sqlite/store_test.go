package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/hupe1980/pagedb/blobstore"
	"github.com/hupe1980/pagedb/blobstore/blobstoretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s, err := Open(t.Context(), filepath.Join(t.TempDir(), "pages.db"))
	require.NoError(t, err)
	defer s.Close()

	blobstoretest.Run(t, s)
}

func TestStore_Memory(t *testing.T) {
	s, err := Open(t.Context(), ":memory:")
	require.NoError(t, err)
	defer s.Close()

	blobstoretest.Run(t, s)
}

func TestStore_PutBatchAndReopen(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "pages.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.PutBatch(ctx, map[string][]byte{
		"pages/0000000000000001.page": []byte("one"),
		"pages/0000000000000002.page": []byte("two"),
	}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := blobstore.ReadAll(ctx, s, "pages/0000000000000002.page")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	names, err := s.List(ctx, "pages/")
	require.NoError(t, err)
	assert.Len(t, names, 2)
}
