package page

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/google/uuid"
)

// Descriptor anchors an index: it is the only page reachable without a tree
// walk.
type Descriptor struct {
	// StoreID identifies the store across descriptor generations.
	StoreID uuid.UUID
	// Seq increases with every committed descriptor.
	Seq uint64

	Root   Ref
	Height uint32
	// NextRef is the next unassigned reference. It never decreases.
	NextRef Ref

	PageCount uint64
	ItemCount uint64

	LeafFanout  uint32
	InnerFanout uint32
	Codec       string

	// Live holds every reference whose blob belongs to the index.
	Live *roaring64.Bitmap
	// Filter is the encoded existence filter, empty when none was built.
	Filter []byte
}

// NewDescriptor returns the descriptor of an empty index.
func NewDescriptor(codecName string, leafFanout, innerFanout uint32) *Descriptor {
	return &Descriptor{
		StoreID:     uuid.New(),
		NextRef:     1,
		LeafFanout:  leafFanout,
		InnerFanout: innerFanout,
		Codec:       codecName,
		Live:        roaring64.New(),
	}
}

// Clone returns a deep copy.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	if d.Live != nil {
		c.Live = d.Live.Clone()
	}
	c.Filter = append([]byte(nil), d.Filter...)
	return &c
}

// Reset empties the index while keeping identity, fan-outs and NextRef.
func (d *Descriptor) Reset() {
	d.Root = NullRef
	d.Height = 0
	d.PageCount = 0
	d.ItemCount = 0
	d.Live = roaring64.New()
	d.Filter = nil
}

// EncodeDescriptor serializes d.
func EncodeDescriptor(d *Descriptor, comp Compression) ([]byte, error) {
	live := d.Live
	if live == nil {
		live = roaring64.New()
	}
	live.RunOptimize()
	liveBytes, err := live.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("page: encode live set: %w", err)
	}

	w := &writeBuffer{buf: make([]byte, 0, 128+len(liveBytes)+len(d.Filter))}
	w.buf = append(w.buf, d.StoreID[:]...)
	w.uint64(d.Seq)
	w.uint64(uint64(d.Root))
	w.uint32(d.Height)
	w.uint64(uint64(d.NextRef))
	w.uint64(d.PageCount)
	w.uint64(d.ItemCount)
	w.uint32(d.LeafFanout)
	w.uint32(d.InnerFanout)
	w.bytes([]byte(d.Codec))
	w.bytes(liveBytes)
	w.bytes(d.Filter)
	if w.err != nil {
		return nil, w.err
	}
	return seal(KindDescriptor, w.buf, comp)
}

// DecodeDescriptor parses and validates a descriptor blob.
func DecodeDescriptor(blob []byte) (*Descriptor, error) {
	raw, err := open(blob, KindDescriptor)
	if err != nil {
		return nil, err
	}

	r := &readBuffer{buf: raw}
	d := &Descriptor{}
	if r.need(len(d.StoreID)) {
		copy(d.StoreID[:], raw[:len(d.StoreID)])
		r.pos += len(d.StoreID)
	}
	d.Seq = r.uint64()
	d.Root = Ref(r.uint64())
	d.Height = r.uint32()
	d.NextRef = Ref(r.uint64())
	d.PageCount = r.uint64()
	d.ItemCount = r.uint64()
	d.LeafFanout = r.uint32()
	d.InnerFanout = r.uint32()
	d.Codec = string(r.bytes())
	liveBytes := r.bytes()
	if filter := r.bytes(); len(filter) > 0 {
		d.Filter = append([]byte(nil), filter...)
	}
	if err := r.done(); err != nil {
		return nil, fmt.Errorf("%w: descriptor body: %w", ErrCorrupted, err)
	}

	d.Live = roaring64.New()
	if len(liveBytes) > 0 {
		if err := d.Live.UnmarshalBinary(liveBytes); err != nil {
			return nil, fmt.Errorf("%w: live set: %w", ErrCorrupted, err)
		}
	}

	if d.NextRef == NullRef {
		return nil, fmt.Errorf("%w: descriptor NextRef is null", ErrCorrupted)
	}
	if d.Root == NullRef && (d.Height != 0 || d.ItemCount != 0) {
		return nil, fmt.Errorf("%w: empty root with height %d and %d items", ErrCorrupted, d.Height, d.ItemCount)
	}
	if d.Root != NullRef && !d.Live.Contains(uint64(d.Root)) {
		return nil, fmt.Errorf("%w: root %s not in live set", ErrCorrupted, d.Root)
	}
	return d, nil
}
