package mmap

import (
	"errors"
	"io"
	"math"
	"os"
	"sync/atomic"
)

var (
	// ErrClosed is returned by reads on a closed Region.
	ErrClosed = errors.New("mmap: region closed")
	// ErrInvalidSize is returned for files too large to address.
	ErrInvalidSize = errors.New("mmap: invalid file size")
	// ErrInvalidOffset is returned for negative offsets.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
)

// AccessPattern is a hint to the kernel about how a mapping will be read.
type AccessPattern int

const (
	AccessDefault AccessPattern = iota
	AccessSequential
	AccessRandom
	AccessWillNeed
)

// DefaultMinMapSize is the smallest file Open maps; smaller files are read.
const DefaultMinMapSize = 64 << 10

type settings struct {
	minMapSize int64
	access     AccessPattern
}

// Option configures Open.
type Option func(*settings)

// WithMinMapSize sets the size below which a file is read into memory
// instead of mapped. 0 maps every non-empty file.
func WithMinMapSize(n int64) Option {
	return func(s *settings) { s.minMapSize = max(n, 0) }
}

// WithAccess passes an access hint for mapped regions.
func WithAccess(p AccessPattern) Option {
	return func(s *settings) { s.access = p }
}

// Region is the read-only content of one blob file, either mapped or copied
// onto the heap.
type Region struct {
	data    []byte
	mapped  bool
	closed  atomic.Bool
	release func([]byte) error
}

// Open loads the file at path. Empty files yield an empty region.
func Open(path string, opts ...Option) (*Region, error) {
	s := settings{minMapSize: DefaultMinMapSize}
	for _, opt := range opts {
		opt(&s)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	switch {
	case size < 0 || size > math.MaxInt:
		return nil, ErrInvalidSize
	case size == 0:
		return &Region{}, nil
	case size < s.minMapSize:
		data := make([]byte, size)
		if _, err := io.ReadFull(f, data); err != nil {
			return nil, err
		}
		return &Region{data: data}, nil
	}

	data, release, err := mapFile(f, int(size))
	if err != nil {
		return nil, err
	}
	if s.access != AccessDefault {
		if err := advise(data, s.access); err != nil {
			_ = release(data)
			return nil, err
		}
	}
	return &Region{data: data, mapped: true, release: release}, nil
}

// Mapped reports whether the region is backed by a memory mapping.
func (r *Region) Mapped() bool { return r.mapped }

// Size returns the length of the file.
func (r *Region) Size() int { return len(r.data) }

// Bytes returns the content, or nil after Close. Mapped bytes must not be
// used after Close.
func (r *Region) Bytes() []byte {
	if r.closed.Load() {
		return nil
	}
	return r.data
}

// ReadAt implements io.ReaderAt.
func (r *Region) ReadAt(p []byte, off int64) (int, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close releases the mapping. It is idempotent.
func (r *Region) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	if r.release == nil {
		return nil
	}
	return r.release(r.data)
}
