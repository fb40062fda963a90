package page

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the body codec of a page blob.
type Compression uint8

const (
	CompressionNone Compression = iota
	// CompressionLZ4 favors speed; suited to hot pages.
	CompressionLZ4
	// CompressionZSTD favors ratio; suited to cold stores and dumps.
	CompressionZSTD
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression maps "none", "lz4" or "zstd" to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionNone, fmt.Errorf("page: unknown compression %q", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

const blockHeaderSize = 8

// compressBody wraps data in a block header. Returns CompressionNone when the
// codec saves less than 10%.
func compressBody(data []byte, c Compression) ([]byte, Compression, error) {
	if c == CompressionNone || len(data) == 0 {
		return data, CompressionNone, nil
	}

	var packed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, c, fmt.Errorf("page: lz4: %w", err)
		}
		packed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		packed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, c, fmt.Errorf("page: unknown compression %d", c)
	}

	if len(packed) == 0 || float64(len(packed)) > float64(len(data))*0.9 {
		return data, CompressionNone, nil
	}

	out := make([]byte, blockHeaderSize+len(packed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(packed)))
	copy(out[blockHeaderSize:], packed)
	return out, c, nil
}

func decompressBody(body []byte, c Compression) ([]byte, error) {
	if c == CompressionNone {
		return body, nil
	}
	if len(body) < blockHeaderSize {
		return nil, fmt.Errorf("%w: block header truncated", ErrCorrupted)
	}

	rawLen := binary.LittleEndian.Uint32(body[0:])
	packedLen := binary.LittleEndian.Uint32(body[4:])
	if uint64(len(body)) != blockHeaderSize+uint64(packedLen) {
		return nil, fmt.Errorf("%w: block length %d, have %d", ErrCorrupted, packedLen, len(body)-blockHeaderSize)
	}
	packed := body[blockHeaderSize:]
	out := make([]byte, rawLen)

	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(packed, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %w", ErrCorrupted, err)
		}
		if uint32(n) != rawLen {
			return nil, fmt.Errorf("%w: lz4 size mismatch", ErrCorrupted)
		}
		return out, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(packed, out[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrCorrupted, err)
		}
		if uint32(len(decoded)) != rawLen {
			return nil, fmt.Errorf("%w: zstd size mismatch", ErrCorrupted)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrCorrupted, c)
	}
}
