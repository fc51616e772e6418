// Package compress provides the pluggable payload compression codecs
// named in spec.md §4.1 and §2: none, DEFLATE, GZIP, and LZ4. The
// DEFLATE/GZIP backends are klauspost/compress (faster encode path
// than the standard library, same wire format), following
// nishisan-dev-n-backup's choice of that module for exactly this
// concern. LZ4 follows aistore's use of pierrec/lz4/v3 as a transport
// compressor.
package compress

import (
	"bytes"
	"fmt"
	"io"

	kflate "github.com/klauspost/compress/flate"
	kgzip "github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v3"

	"github.com/marmos91/dsp/internal/dsp/wire"
)

// Codec compresses and decompresses payload bytes, and estimates the
// worst-case compressed size of an input. frame.Encode does not call
// Estimate: it compresses the payload first and then allocates its
// output buffer at the exact compressed size.
type Codec interface {
	// Estimate returns an upper bound on the compressed size of n
	// input bytes.
	Estimate(n int) int
	// Compress returns the compressed form of data.
	Compress(data []byte) ([]byte, error)
	// Decompress returns the decompressed form of data.
	Decompress(data []byte) ([]byte, error)
}

type noneCodec struct{}

func (noneCodec) Estimate(n int) int                   { return n }
func (noneCodec) Compress(data []byte) ([]byte, error) { return data, nil }
func (noneCodec) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

type deflateCodec struct{}

func (deflateCodec) Estimate(n int) int {
	// DEFLATE's worst case is the input plus a small per-block overhead;
	// klauspost/compress documents ~0.03% expansion plus 5 bytes/block.
	return n + n/256 + 64
}

func (deflateCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := kflate.NewWriter(&buf, kflate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("compress: deflate writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress: deflate write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: deflate close: %w", err)
	}
	return buf.Bytes(), nil
}

func (deflateCodec) Decompress(data []byte) ([]byte, error) {
	r := kflate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compress: deflate read: %w", err)
	}
	return out, nil
}

type gzipCodec struct{}

func (gzipCodec) Estimate(n int) int {
	return n + n/256 + 64 + 18 // gzip header/trailer overhead on top of deflate
}

func (gzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := kgzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decompress(data []byte) ([]byte, error) {
	r, err := kgzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("compress: gzip reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compress: gzip read: %w", err)
	}
	return out, nil
}

type lz4Codec struct{}

func (lz4Codec) Estimate(n int) int {
	return lz4.CompressBlockBound(n)
}

func (lz4Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress: lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compress: lz4 read: %w", err)
	}
	return out, nil
}

// For selects the Codec implementation for alg.
func For(alg wire.CompressAlgorithm) (Codec, error) {
	switch alg {
	case wire.CompressNone:
		return noneCodec{}, nil
	case wire.CompressDeflate:
		return deflateCodec{}, nil
	case wire.CompressGzip:
		return gzipCodec{}, nil
	case wire.CompressLZ4:
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("compress: unknown algorithm %d", alg)
	}
}
