package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	pfs "github.com/hupe1980/pagedb/internal/fs"
	"github.com/hupe1980/pagedb/internal/mmap"
)

// LocalStore keeps blobs as files below a root directory.
type LocalStore struct {
	root       string
	fs         pfs.FileSystem
	minMapSize int64
}

// LocalOption configures a LocalStore.
type LocalOption func(*LocalStore)

// WithFileSystem replaces the file system used for writes. Tests inject an
// fs.FaultyFS through it.
func WithFileSystem(fsys pfs.FileSystem) LocalOption {
	return func(s *LocalStore) {
		if fsys != nil {
			s.fs = fsys
		}
	}
}

// WithMinMapSize sets the blob size from which reads are served from a
// memory mapping. Smaller blobs are read into memory.
func WithMinMapSize(n int64) LocalOption {
	return func(s *LocalStore) { s.minMapSize = n }
}

// NewLocalStore creates a LocalStore rooted at root, creating it if needed.
func NewLocalStore(root string, opts ...LocalOption) (*LocalStore, error) {
	s := &LocalStore{root: root, fs: pfs.Default, minMapSize: mmap.DefaultMinMapSize}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root: %w", err)
	}
	return s, nil
}

// Root returns the directory backing the store.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Open loads the blob, mapping it read-only when it is large.
func (s *LocalStore) Open(ctx context.Context, name string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := mmap.Open(s.path(name), mmap.WithMinMapSize(s.minMapSize), mmap.WithAccess(mmap.AccessSequential))
	if err != nil {
		return nil, err
	}
	return &localBlob{r: r}, nil
}

// Create streams into a temporary file that is renamed over name on Close.
func (s *LocalStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst := s.path(name)
	if err := s.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, err
	}
	f, err := s.fs.CreateTemp(filepath.Dir(dst), ".tmp-"+filepath.Base(dst)+"-*")
	if err != nil {
		return nil, err
	}
	return &localWritableBlob{fs: s.fs, f: f, dst: dst}, nil
}

// Put writes data durably: temp file, fsync, rename, fsync of the directory.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	w, err := s.Create(ctx, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.(*localWritableBlob).abort()
		return err
	}
	return w.Close()
}

func (s *LocalStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List walks the root and skips in-flight temporary files.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	return names, err
}

type localBlob struct {
	r *mmap.Region
}

func (b *localBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return b.r.ReadAt(p, off)
}

func (b *localBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	return io.NopCloser(&sectionReader{blob: b, ctx: ctx, off: off, limit: min(off+length, b.Size())}), nil
}

func (b *localBlob) Close() error {
	return b.r.Close()
}

func (b *localBlob) Size() int64 {
	return int64(b.r.Size())
}

func (b *localBlob) Bytes() ([]byte, error) {
	data := b.r.Bytes()
	if data == nil && b.r.Size() > 0 {
		return nil, mmap.ErrClosed
	}
	return data, nil
}

type localWritableBlob struct {
	fs  pfs.FileSystem
	f   pfs.File
	dst string
}

func (w *localWritableBlob) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *localWritableBlob) Sync() error {
	return w.f.Sync()
}

func (w *localWritableBlob) Close() error {
	if err := w.f.Sync(); err != nil {
		w.abort()
		return err
	}
	if err := w.f.Close(); err != nil {
		_ = w.fs.Remove(w.f.Name())
		return err
	}
	if err := w.fs.Rename(w.f.Name(), w.dst); err != nil {
		_ = w.fs.Remove(w.f.Name())
		return err
	}
	return w.fs.SyncDir(filepath.Dir(w.dst))
}

func (w *localWritableBlob) abort() {
	_ = w.f.Close()
	_ = w.fs.Remove(w.f.Name())
}
