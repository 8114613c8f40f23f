package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sync"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Compressed payloads carry a three-byte algorithm tag so they can be
// decompressed without out-of-band metadata. The tags are ASCII and cannot
// collide with gzip (0x1f8b), zstd (0x28b52ffd), or s2 frame magic bytes.
const (
	tagLen  = 3
	gzipTag = "gz:"
	s2Tag   = "s2:"
	zstdTag = "zs:"
)

// Compressor shrinks byte payloads. Each implementation prepends its
// algorithm tag; Decompress routes on the tag.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Name() string
}

// NewCompressor returns the compressor registered under the given name.
// "none" and the empty name return a nil Compressor, meaning payloads are
// stored raw.
func NewCompressor(name string) (Compressor, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "gzip":
		return NewGzip(), nil
	case "s2":
		return S2{}, nil
	case "zstd":
		return NewZstd()
	default:
		return nil, fmt.Errorf("codec: unknown compressor %q", name)
	}
}

// Gzip compresses with compress/gzip. The slowest of the three but
// universally readable by other consumers of the backend.
type Gzip struct {
	level int
}

func NewGzip() *Gzip {
	return &Gzip{level: gzip.DefaultCompression}
}

// NewGzipLevel returns a gzip compressor with an explicit level
// (gzip.BestSpeed through gzip.BestCompression).
func NewGzipLevel(level int) (*Gzip, error) {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, fmt.Errorf("codec: invalid gzip level %d", level)
	}
	return &Gzip{level: level}, nil
}

func (g *Gzip) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(tagLen + len(data)/2)
	buf.WriteString(gzipTag)

	w, err := gzip.NewWriterLevel(&buf, g.level)
	if err != nil {
		return nil, &cache.CompressionError{Op: "compress", Err: err}
	}
	if _, err := w.Write(data); err != nil {
		return nil, &cache.CompressionError{Op: "compress", Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &cache.CompressionError{Op: "compress", Err: err}
	}
	return buf.Bytes(), nil
}

func (g *Gzip) Name() string { return "gzip" }

// S2 compresses with the Snappy-compatible s2 format. Fastest option,
// moderate ratio; the default for latency-sensitive tiers.
type S2 struct{}

func (S2) Compress(data []byte) ([]byte, error) {
	encoded := s2.Encode(nil, data)
	out := make([]byte, 0, tagLen+len(encoded))
	out = append(out, s2Tag...)
	out = append(out, encoded...)
	return out, nil
}

func (S2) Name() string { return "s2" }

// Zstd compresses with zstandard. Best ratio at speeds close to s2; the
// encoder and decoder are shared and safe for concurrent use.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("codec: zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Compress(data []byte) ([]byte, error) {
	out := make([]byte, tagLen, tagLen+len(data)/2)
	copy(out, zstdTag)
	return z.enc.EncodeAll(data, out), nil
}

func (z *Zstd) Name() string { return "zstd" }

// IsCompressed reports whether the payload starts with a known algorithm tag.
func IsCompressed(data []byte) bool {
	if len(data) < tagLen {
		return false
	}
	switch string(data[:tagLen]) {
	case gzipTag, s2Tag, zstdTag:
		return true
	}
	return false
}

// Decompress restores a payload produced by any Compressor, routing on the
// embedded algorithm tag. Unknown tags and corrupt payloads return a
// CompressionError.
func Decompress(data []byte) ([]byte, error) {
	if len(data) < tagLen {
		return nil, &cache.CompressionError{Op: "decompress", Err: fmt.Errorf("payload too short (%d bytes)", len(data))}
	}
	body := data[tagLen:]
	switch string(data[:tagLen]) {
	case gzipTag:
		return decodeGzip(body)
	case s2Tag:
		return decodeS2(body)
	case zstdTag:
		return decodeZstd(body)
	default:
		return nil, &cache.CompressionError{Op: "decompress", Err: fmt.Errorf("unknown algorithm tag %q", data[:tagLen])}
	}
}

func decodeGzip(body []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, &cache.CompressionError{Op: "decompress", Err: err}
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, &cache.CompressionError{Op: "decompress", Err: err}
	}
	return out, nil
}

func decodeS2(body []byte) ([]byte, error) {
	out, err := s2.Decode(nil, body)
	if err != nil {
		return nil, &cache.CompressionError{Op: "decompress", Err: err}
	}
	return out, nil
}

// Shared zstd decoder for payloads decompressed outside a Zstd instance.
var (
	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
	zstdDecErr  error
)

func decodeZstd(body []byte) ([]byte, error) {
	zstdDecOnce.Do(func() {
		zstdDec, zstdDecErr = zstd.NewReader(nil)
	})
	if zstdDecErr != nil {
		return nil, &cache.CompressionError{Op: "decompress", Err: zstdDecErr}
	}
	out, err := zstdDec.DecodeAll(body, nil)
	if err != nil {
		return nil, &cache.CompressionError{Op: "decompress", Err: err}
	}
	return out, nil
}
