package pagestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/pagedb/blobstore"
	"github.com/hupe1980/pagedb/bloom"
	"github.com/hupe1980/pagedb/codec"
	"github.com/hupe1980/pagedb/internal/hash"
	"github.com/hupe1980/pagedb/page"
	"github.com/klauspost/compress/zstd"
)

// RecordTag identifies a record of a dump stream.
type RecordTag uint8

const (
	TagLeaf RecordTag = iota + 1
	TagInner
	TagDescriptor
	TagFilter
	TagEOF
)

func (t RecordTag) String() string {
	switch t {
	case TagLeaf:
		return "leaf"
	case TagInner:
		return "inner"
	case TagDescriptor:
		return "descriptor"
	case TagFilter:
		return "filter"
	case TagEOF:
		return "eof"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// frameHeaderSize covers tag, payload length and a CRC32C over tag, length
// and payload.
const frameHeaderSize = 9

// maxFramePayload bounds a single record when reading untrusted dumps.
const maxFramePayload = 1 << 30

// Serializer writes a full index dump as a zstd stream of framed records.
//
// Records must arrive in the order leaves, inner pages bottom-up, descriptor,
// filter, EOF. Anything else fails with ErrSerializerOrder. The filter record
// is optional.
type Serializer[K, V any] struct {
	w     blobstore.WritableBlob
	zw    *zstd.Encoder
	codec codec.Codec

	last   RecordTag
	level  uint16
	leaves int
	inner  int
	closed bool
	err    error
}

// CreateSerializer opens name for a sequential dump.
func (p *Provider[K, V]) CreateSerializer(ctx context.Context, name string) (*Serializer[K, V], error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	w, err := p.store.Create(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("pagestore: create dump %s: %w", name, err)
	}
	return NewSerializer[K, V](w, p.Codec())
}

// NewSerializer writes a dump to w. Close closes w.
func NewSerializer[K, V any](w blobstore.WritableBlob, c codec.Codec) (*Serializer[K, V], error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("pagestore: dump encoder: %w", err)
	}
	if c == nil {
		c = codec.Default
	}
	return &Serializer[K, V]{w: w, zw: zw, codec: c}, nil
}

func (s *Serializer[K, V]) advance(tag RecordTag) error {
	if s.err != nil {
		return s.err
	}
	if s.closed {
		return fmt.Errorf("%w: serializer closed", ErrSerializerOrder)
	}
	if tag < s.last || (tag == s.last && (tag == TagDescriptor || tag == TagFilter || tag == TagEOF)) {
		return fmt.Errorf("%w: %s after %s", ErrSerializerOrder, tag, s.last)
	}
	if (tag == TagFilter || tag == TagEOF) && s.last < TagDescriptor {
		return fmt.Errorf("%w: %s before descriptor", ErrSerializerOrder, tag)
	}
	s.last = tag
	return nil
}

func (s *Serializer[K, V]) frame(tag RecordTag, payload []byte) error {
	var hdr [frameHeaderSize]byte
	hdr[0] = byte(tag)
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[5:9], hash.CRC32CParts(hdr[:5], payload))
	if _, err := s.zw.Write(hdr[:]); err != nil {
		s.err = err
		return err
	}
	if _, err := s.zw.Write(payload); err != nil {
		s.err = err
		return err
	}
	return nil
}

// SerializeLeafPage appends a leaf. Leaves are expected in key order.
func (s *Serializer[K, V]) SerializeLeafPage(n *page.Node[K, V]) error {
	if n == nil || n.Kind != page.KindLeaf {
		return fmt.Errorf("pagestore: serialize leaf: %w", ErrCorrupted)
	}
	if err := s.advance(TagLeaf); err != nil {
		return err
	}
	blob, err := page.EncodeNode(s.codec, n, page.CompressionNone)
	if err != nil {
		return err
	}
	s.leaves++
	return s.frame(TagLeaf, blob)
}

// SerializeInnerPage appends an inner page. Levels must not decrease.
func (s *Serializer[K, V]) SerializeInnerPage(n *page.Node[K, V]) error {
	if n == nil || n.Kind != page.KindInner {
		return fmt.Errorf("pagestore: serialize inner page: %w", ErrCorrupted)
	}
	if s.last == TagInner && n.Level < s.level {
		return fmt.Errorf("%w: inner level %d after level %d", ErrSerializerOrder, n.Level, s.level)
	}
	if err := s.advance(TagInner); err != nil {
		return err
	}
	blob, err := page.EncodeNode(s.codec, n, page.CompressionNone)
	if err != nil {
		return err
	}
	s.level = n.Level
	s.inner++
	return s.frame(TagInner, blob)
}

// SerializeDescriptorPage appends the descriptor.
func (s *Serializer[K, V]) SerializeDescriptorPage(d *page.Descriptor) error {
	if d == nil {
		return fmt.Errorf("pagestore: serialize descriptor: %w", ErrCorrupted)
	}
	if err := s.advance(TagDescriptor); err != nil {
		return err
	}
	blob, err := page.EncodeDescriptor(d, page.CompressionNone)
	if err != nil {
		return err
	}
	return s.frame(TagDescriptor, blob)
}

// SerializeBloomFilter appends the existence filter.
func (s *Serializer[K, V]) SerializeBloomFilter(f *bloom.Filter) error {
	if err := s.advance(TagFilter); err != nil {
		return err
	}
	var payload []byte
	if f != nil {
		var err error
		if payload, err = f.MarshalBinary(); err != nil {
			return err
		}
	}
	return s.frame(TagFilter, payload)
}

// SerializeEof marks the end of the dump.
func (s *Serializer[K, V]) SerializeEof() error {
	if err := s.advance(TagEOF); err != nil {
		return err
	}
	return s.frame(TagEOF, nil)
}

// Counts returns the number of leaf and inner records written.
func (s *Serializer[K, V]) Counts() (leaves, inner int) {
	return s.leaves, s.inner
}

// Close flushes the stream and closes the blob. A dump closed before
// SerializeEof is unreadable.
func (s *Serializer[K, V]) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.zw.Close()
	if cerr := s.w.Close(); err == nil {
		err = cerr
	}
	return err
}

// Record is one decoded dump record. Exactly one of Node, Descriptor and
// Filter is set, except for the EOF record which sets none.
type Record[K, V any] struct {
	Tag        RecordTag
	Node       *page.Node[K, V]
	Descriptor *page.Descriptor
	Filter     *bloom.Filter
}

// DumpReader replays a dump written by Serializer.
type DumpReader[K, V any] struct {
	blob  blobstore.Blob
	body  io.ReadCloser
	zr    *zstd.Decoder
	codec codec.Codec
	last  RecordTag
	done  bool
}

// OpenDump opens a dump blob for reading.
func OpenDump[K, V any](ctx context.Context, store blobstore.BlobStore, name string, c codec.Codec) (*DumpReader[K, V], error) {
	b, err := store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("pagestore: open dump %s: %w", name, err)
	}
	body, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("pagestore: read dump %s: %w", name, err)
	}
	zr, err := zstd.NewReader(body)
	if err != nil {
		_ = body.Close()
		_ = b.Close()
		return nil, fmt.Errorf("%w: dump %s: %w", ErrCorrupted, name, err)
	}
	if c == nil {
		c = codec.Default
	}
	return &DumpReader[K, V]{blob: b, body: body, zr: zr, codec: c}, nil
}

// Next returns the next record. After the EOF record it returns io.EOF. A
// stream that ends without an EOF record fails with ErrCorrupted.
func (r *DumpReader[K, V]) Next() (Record[K, V], error) {
	if r.done {
		return Record[K, V]{}, io.EOF
	}

	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r.zr, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Record[K, V]{}, fmt.Errorf("%w: dump truncated before eof record", ErrCorrupted)
		}
		return Record[K, V]{}, fmt.Errorf("%w: dump: %w", ErrCorrupted, err)
	}
	tag := RecordTag(hdr[0])
	size := binary.LittleEndian.Uint32(hdr[1:5])
	sum := binary.LittleEndian.Uint32(hdr[5:9])
	if tag < TagLeaf || tag > TagEOF || size > maxFramePayload {
		return Record[K, V]{}, fmt.Errorf("%w: bad frame %s of %d bytes", ErrCorrupted, tag, size)
	}
	if tag < r.last || (tag == r.last && tag >= TagDescriptor) {
		return Record[K, V]{}, fmt.Errorf("%w: %s after %s", ErrSerializerOrder, tag, r.last)
	}
	if (tag == TagFilter || tag == TagEOF) && r.last < TagDescriptor {
		return Record[K, V]{}, fmt.Errorf("%w: %s before descriptor", ErrSerializerOrder, tag)
	}
	r.last = tag

	payload := make([]byte, size)
	if _, err := io.ReadFull(r.zr, payload); err != nil {
		return Record[K, V]{}, fmt.Errorf("%w: %s payload: %w", ErrCorrupted, tag, err)
	}
	if hash.CRC32CParts(hdr[:5], payload) != sum {
		return Record[K, V]{}, fmt.Errorf("%w: %s record checksum mismatch", ErrCorrupted, tag)
	}

	rec := Record[K, V]{Tag: tag}
	switch tag {
	case TagLeaf, TagInner:
		h, err := page.ReadHeader(payload)
		if err != nil {
			return rec, err
		}
		if (tag == TagLeaf) != (h.Kind == page.KindLeaf) {
			return rec, fmt.Errorf("%w: %s record holds a %s page", ErrCorrupted, tag, h.Kind)
		}
		ref, err := page.BlobRef(payload)
		if err != nil {
			return rec, err
		}
		if rec.Node, err = page.DecodeNode[K, V](r.codec, ref, payload); err != nil {
			return rec, err
		}
	case TagDescriptor:
		d, err := page.DecodeDescriptor(payload)
		if err != nil {
			return rec, err
		}
		rec.Descriptor = d
	case TagFilter:
		if len(payload) > 0 {
			f, err := bloom.Unmarshal(payload)
			if err != nil {
				return rec, fmt.Errorf("%w: %w", ErrCorrupted, err)
			}
			rec.Filter = f
		}
	case TagEOF:
		r.done = true
	}
	return rec, nil
}

// Close releases the dump blob.
func (r *DumpReader[K, V]) Close() error {
	r.zr.Close()
	err := r.body.Close()
	if cerr := r.blob.Close(); err == nil {
		err = cerr
	}
	return err
}
