package page

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/pagedb/codec"
	"github.com/hupe1980/pagedb/internal/hash"
)

// FormatVersion is the blob format written by this package.
const FormatVersion = 2

const headerSize = 16

var magic = [4]byte{'P', 'G', 'D', 'B'}

// Header is the decoded fixed prefix of a page blob.
type Header struct {
	Version     uint8
	Kind        Kind
	Compression Compression
	Checksum    uint32
	Length      uint32
}

func seal(kind Kind, raw []byte, c Compression) ([]byte, error) {
	body, used, err := compressBody(raw, c)
	if err != nil {
		return nil, err
	}

	out := make([]byte, headerSize+len(body))
	copy(out[0:4], magic[:])
	out[4] = FormatVersion
	out[5] = byte(kind)
	out[6] = byte(used)
	binary.LittleEndian.PutUint32(out[8:12], hash.CRC32C(body))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(body)))
	copy(out[headerSize:], body)
	return out, nil
}

// ReadHeader validates the fixed prefix of blob.
func ReadHeader(blob []byte) (Header, error) {
	if len(blob) < headerSize {
		return Header{}, fmt.Errorf("%w: %d byte blob", ErrCorrupted, len(blob))
	}
	if [4]byte(blob[0:4]) != magic {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrCorrupted, blob[0:4])
	}
	h := Header{
		Version:     blob[4],
		Kind:        Kind(blob[5]),
		Compression: Compression(blob[6]),
		Checksum:    binary.LittleEndian.Uint32(blob[8:12]),
		Length:      binary.LittleEndian.Uint32(blob[12:16]),
	}
	if h.Version != FormatVersion {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return h, nil
}

// open validates blob and returns the decompressed body.
func open(blob []byte, want Kind) ([]byte, error) {
	h, err := ReadHeader(blob)
	if err != nil {
		return nil, err
	}
	if h.Kind != want {
		return nil, fmt.Errorf("%w: want %s page, have %s", ErrCorrupted, want, h.Kind)
	}
	body := blob[headerSize:]
	if uint64(len(body)) != uint64(h.Length) {
		return nil, fmt.Errorf("%w: body length %d, header says %d", ErrCorrupted, len(body), h.Length)
	}
	if hash.CRC32C(body) != h.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}
	return decompressBody(body, h.Compression)
}

// EncodeNode serializes n. Keys and items are encoded with c.
func EncodeNode[K, V any](c codec.Codec, n *Node[K, V], comp Compression) ([]byte, error) {
	raw, err := nodeBody(c, n)
	if err != nil {
		return nil, err
	}
	blob, err := seal(n.Kind, raw, comp)
	if err != nil {
		return nil, err
	}
	n.encoded = int64(len(blob))
	return blob, nil
}

func nodeBody[K, V any](c codec.Codec, n *Node[K, V]) ([]byte, error) {
	if n.Kind != KindLeaf && n.Kind != KindInner {
		return nil, fmt.Errorf("page: cannot encode %s as node", n.Kind)
	}
	if n.Kind == KindInner && len(n.Children) != len(n.Keys)+1 {
		return nil, fmt.Errorf("page: inner page %s has %d keys and %d children", n.Ref, len(n.Keys), len(n.Children))
	}
	if n.Kind == KindLeaf && len(n.Items) != len(n.Keys) {
		return nil, fmt.Errorf("page: leaf page %s has %d keys and %d items", n.Ref, len(n.Keys), len(n.Items))
	}

	w := &writeBuffer{buf: make([]byte, 0, 64+32*len(n.Keys))}
	w.uint64(uint64(n.Ref))
	w.uint16(n.Level)
	w.uint32(uint32(len(n.Keys)))

	if n.Kind == KindLeaf {
		w.uint64(uint64(n.Prev))
		w.uint64(uint64(n.Next))
		for i, k := range n.Keys {
			kb, err := codec.EncodeField(c, k)
			if err != nil {
				return nil, err
			}
			vb, err := codec.EncodeField(c, n.Items[i])
			if err != nil {
				return nil, err
			}
			w.bytes(kb)
			w.bytes(vb)
		}
	} else {
		for _, k := range n.Keys {
			kb, err := codec.EncodeField(c, k)
			if err != nil {
				return nil, err
			}
			w.bytes(kb)
		}
		for _, ref := range n.Children {
			w.uint64(uint64(ref))
		}
	}
	return w.buf, w.err
}

// DecodeNode parses a leaf or inner blob stored under ref.
func DecodeNode[K, V any](c codec.Codec, ref Ref, blob []byte) (*Node[K, V], error) {
	h, err := ReadHeader(blob)
	if err != nil {
		return nil, err
	}
	if h.Kind != KindLeaf && h.Kind != KindInner {
		return nil, fmt.Errorf("%w: page %s is a %s blob", ErrCorrupted, ref, h.Kind)
	}
	raw, err := open(blob, h.Kind)
	if err != nil {
		return nil, err
	}
	n, err := decodeNodeBody[K, V](c, h.Kind, raw)
	if err != nil {
		return nil, err
	}
	if n.Ref != ref {
		return nil, fmt.Errorf("%w: blob for page %s claims ref %s", ErrCorrupted, ref, n.Ref)
	}
	n.encoded = int64(len(blob))
	return n, nil
}

func decodeNodeBody[K, V any](c codec.Codec, kind Kind, raw []byte) (*Node[K, V], error) {
	r := &readBuffer{buf: raw}
	n := &Node[K, V]{Kind: kind}
	n.Ref = Ref(r.uint64())
	n.Level = r.uint16()
	count := r.count(4)

	if kind == KindLeaf {
		n.Prev = Ref(r.uint64())
		n.Next = Ref(r.uint64())
		n.Keys = make([]K, 0, count)
		n.Items = make([]V, 0, count)
		for range count {
			kb, vb := r.bytes(), r.bytes()
			if r.err != nil {
				break
			}
			k, err := codec.DecodeField[K](c, kb)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorrupted, err)
			}
			v, err := codec.DecodeField[V](c, vb)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorrupted, err)
			}
			n.Keys = append(n.Keys, k)
			n.Items = append(n.Items, v)
		}
	} else {
		n.Keys = make([]K, 0, count)
		for range count {
			kb := r.bytes()
			if r.err != nil {
				break
			}
			k, err := codec.DecodeField[K](c, kb)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorrupted, err)
			}
			n.Keys = append(n.Keys, k)
		}
		n.Children = make([]Ref, 0, count+1)
		for range count + 1 {
			n.Children = append(n.Children, Ref(r.uint64()))
		}
	}

	if err := r.done(); err != nil {
		return nil, fmt.Errorf("%w: %s body: %w", ErrCorrupted, kind, err)
	}
	if kind == KindLeaf && n.Level != 0 {
		return nil, fmt.Errorf("%w: leaf at level %d", ErrCorrupted, n.Level)
	}
	if kind == KindInner && n.Level == 0 {
		return nil, fmt.Errorf("%w: inner page at level 0", ErrCorrupted)
	}
	return n, nil
}

// BlobRef returns the reference recorded inside a leaf or inner blob.
func BlobRef(blob []byte) (Ref, error) {
	h, err := ReadHeader(blob)
	if err != nil {
		return NullRef, err
	}
	if h.Kind != KindLeaf && h.Kind != KindInner {
		return NullRef, fmt.Errorf("%w: %s blob has no page reference", ErrCorrupted, h.Kind)
	}
	raw, err := open(blob, h.Kind)
	if err != nil {
		return NullRef, err
	}
	if len(raw) < 8 {
		return NullRef, fmt.Errorf("%w: %s body truncated", ErrCorrupted, h.Kind)
	}
	return Ref(binary.LittleEndian.Uint64(raw)), nil
}
