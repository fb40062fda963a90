package page

import (
	"bytes"
	"strings"
	"testing"

	"github.com/hupe1980/pagedb/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLeaf() *Node[int64, string] {
	n := NewLeaf[int64, string](4)
	n.Ref = 7
	n.Prev = 3
	n.Next = 9
	n.Keys = append(n.Keys, -2, 5, 40)
	n.Items = append(n.Items, "minus two", "five", strings.Repeat("forty ", 50))
	return n
}

func sampleInner() *Node[int64, string] {
	n := NewInner[int64, string](2, 4)
	n.Ref = 11
	n.Keys = append(n.Keys, 10, 20)
	n.Children = append(n.Children, 4, 5, 6)
	return n
}

func TestRef(t *testing.T) {
	assert.Equal(t, "00000000000000ff", Ref(255).String())
	r, err := ParseRef("00000000000000ff")
	require.NoError(t, err)
	assert.Equal(t, Ref(255), r)

	_, err = ParseRef("zz")
	assert.Error(t, err)
}

func TestNodeRoundTrip(t *testing.T) {
	for _, comp := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(comp.String(), func(t *testing.T) {
			for _, n := range []*Node[int64, string]{sampleLeaf(), sampleInner()} {
				blob, err := EncodeNode(codec.GoJSON{}, n, comp)
				require.NoError(t, err)
				assert.Equal(t, int64(len(blob)), n.Size())

				got, err := DecodeNode[int64, string](codec.GoJSON{}, n.Ref, blob)
				require.NoError(t, err)
				assert.Equal(t, n.Kind, got.Kind)
				assert.Equal(t, n.Level, got.Level)
				assert.Equal(t, n.Keys, got.Keys)
				assert.Equal(t, n.Children, got.Children)
				if n.IsLeaf() {
					assert.Equal(t, n.Items, got.Items)
					assert.Equal(t, n.Prev, got.Prev)
					assert.Equal(t, n.Next, got.Next)
				}
			}
		})
	}
}

func TestNodeRoundTripKeepsRawStrings(t *testing.T) {
	n := NewLeaf[string, string](4)
	n.Ref = 3
	n.Keys = append(n.Keys, "\xfe", "\xff")
	n.Items = append(n.Items, "\xc3", "ok")

	blob, err := EncodeNode(codec.JSON{}, n, CompressionNone)
	require.NoError(t, err)
	got, err := DecodeNode[string, string](codec.JSON{}, 3, blob)
	require.NoError(t, err)
	assert.Equal(t, []string{"\xfe", "\xff"}, got.Keys)
	assert.Equal(t, []string{"\xc3", "ok"}, got.Items)
}

func TestCompressionFallsBackWhenUseless(t *testing.T) {
	n := NewLeaf[int64, string](1)
	n.Ref = 1
	n.Keys = append(n.Keys, 1)
	n.Items = append(n.Items, "x")

	blob, err := EncodeNode(codec.JSON{}, n, CompressionZSTD)
	require.NoError(t, err)
	h, err := ReadHeader(blob)
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, h.Compression)

	big := sampleLeaf()
	blob, err = EncodeNode(codec.JSON{}, big, CompressionLZ4)
	require.NoError(t, err)
	h, err = ReadHeader(blob)
	require.NoError(t, err)
	assert.Equal(t, CompressionLZ4, h.Compression)
	assert.Equal(t, KindLeaf, h.Kind)
}

func TestDecodeNodeRejectsCorruption(t *testing.T) {
	blob, err := EncodeNode(codec.JSON{}, sampleLeaf(), CompressionNone)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"magic", func(b []byte) []byte { b[0] = 'X'; return b }, ErrCorrupted},
		{"version", func(b []byte) []byte { b[4] = FormatVersion + 1; return b }, ErrUnsupportedVersion},
		{"old version", func(b []byte) []byte { b[4] = FormatVersion - 1; return b }, ErrUnsupportedVersion},
		{"checksum", func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b }, ErrCorrupted},
		{"truncated", func(b []byte) []byte { return b[:len(b)-3] }, ErrCorrupted},
		{"short", func(b []byte) []byte { return b[:5] }, ErrCorrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeNode[int64, string](codec.JSON{}, 7, tt.mutate(bytes.Clone(blob)))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = DecodeNode[int64, string](codec.JSON{}, 8, blob)
	assert.ErrorIs(t, err, ErrCorrupted, "ref mismatch")
}

func TestEncodeNodeRejectsMalformed(t *testing.T) {
	n := sampleInner()
	n.Children = n.Children[:2]
	_, err := EncodeNode(codec.JSON{}, n, CompressionNone)
	assert.Error(t, err)
}

func TestDescriptorRoundTrip(t *testing.T) {
	d := NewDescriptor("go-json", 64, 32)
	d.Seq = 4
	d.Root = 12
	d.Height = 2
	d.NextRef = 40
	d.PageCount = 3
	d.ItemCount = 100
	d.Live.AddMany([]uint64{12, 13, 14})
	d.Filter = []byte{1, 2, 3}

	blob, err := EncodeDescriptor(d, CompressionZSTD)
	require.NoError(t, err)

	got, err := DecodeDescriptor(blob)
	require.NoError(t, err)
	assert.Equal(t, d.StoreID, got.StoreID)
	assert.Equal(t, d.Seq, got.Seq)
	assert.Equal(t, d.Root, got.Root)
	assert.Equal(t, d.Height, got.Height)
	assert.Equal(t, d.NextRef, got.NextRef)
	assert.Equal(t, d.ItemCount, got.ItemCount)
	assert.Equal(t, "go-json", got.Codec)
	assert.Equal(t, uint32(32), got.InnerFanout)
	assert.Equal(t, d.Filter, got.Filter)
	assert.True(t, d.Live.Equals(got.Live))

	_, err = DecodeNode[int64, string](codec.JSON{}, 1, blob)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestDescriptorValidation(t *testing.T) {
	d := NewDescriptor("json", 2, 2)
	d.Root = 5 // not live
	blob, err := EncodeDescriptor(d, CompressionNone)
	require.NoError(t, err)
	_, err = DecodeDescriptor(blob)
	assert.ErrorIs(t, err, ErrCorrupted)

	leaf, err := EncodeNode(codec.JSON{}, sampleLeaf(), CompressionNone)
	require.NoError(t, err)
	_, err = DecodeDescriptor(leaf)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestDescriptorResetAndClone(t *testing.T) {
	d := NewDescriptor("json", 2, 2)
	d.Root, d.Height, d.ItemCount, d.NextRef = 3, 1, 5, 9
	d.Live.Add(3)

	c := d.Clone()
	d.Reset()
	assert.Equal(t, NullRef, d.Root)
	assert.Zero(t, d.Live.GetCardinality())
	assert.Equal(t, Ref(9), d.NextRef)

	assert.Equal(t, Ref(3), c.Root)
	assert.True(t, c.Live.Contains(3))
}
