package codec

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compressor compresses stored-field chunks.
type Compressor interface {
	Name() string
	// Compress appends the compressed form of src to dst. A nil result with
	// no error means src is incompressible and is stored raw.
	Compress(dst, src []byte) ([]byte, error)
	// Decompress decodes src into a buffer of exactly rawLen bytes.
	Decompress(dst, src []byte, rawLen int) ([]byte, error)
}

// LZ4 is a fast block compressor.
type LZ4 struct{}

func (LZ4) Name() string { return "lz4" }

func (LZ4) Compress(dst, src []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(src))
	start := len(dst)
	dst = append(dst, make([]byte, bound)...)
	n, err := lz4.CompressBlock(src, dst[start:], nil)
	if err != nil {
		return nil, err
	}
	if n == 0 || n >= len(src) {
		return nil, nil
	}
	return dst[:start+n], nil
}

func (LZ4) Decompress(dst, src []byte, rawLen int) ([]byte, error) {
	if cap(dst) < rawLen {
		dst = make([]byte, rawLen)
	}
	dst = dst[:rawLen]
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	if n != rawLen {
		return nil, fmt.Errorf("lz4: decompressed %d bytes, want %d", n, rawLen)
	}
	return dst, nil
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Zstd trades speed for a better ratio.
type Zstd struct{}

func (Zstd) Name() string { return "zstd" }

func (Zstd) Compress(dst, src []byte) ([]byte, error) {
	enc := getZstdEncoder()
	defer zstdEncoderPool.Put(enc)

	start := len(dst)
	dst = enc.EncodeAll(src, dst)
	if len(dst)-start >= len(src) {
		return nil, nil
	}
	return dst, nil
}

func (Zstd) Decompress(dst, src []byte, rawLen int) ([]byte, error) {
	dec := getZstdDecoder()
	defer zstdDecoderPool.Put(dec)

	out, err := dec.DecodeAll(src, dst[:0])
	if err != nil {
		return nil, err
	}
	if len(out) != rawLen {
		return nil, fmt.Errorf("zstd: decompressed %d bytes, want %d", len(out), rawLen)
	}
	return out, nil
}
