// Package codec converts cache values to and from the byte payloads stored
// by tiers that persist serialized data. A Pipeline pairs a Serializer with
// an optional Compressor; payloads below the compression threshold are
// stored raw, and compressed payloads self-describe their algorithm.
package codec

import (
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
)

// DefaultCompressionThreshold is the payload size in bytes at which
// compression starts to pay for its CPU cost.
const DefaultCompressionThreshold = 1024

// Pipeline encodes values for storage and decodes stored payloads.
// The zero value serializes with JSON and never compresses.
type Pipeline struct {
	Serializer Serializer
	Compressor Compressor
	// Threshold is the minimum serialized size in bytes before compression
	// is attempted. Zero or negative disables compression.
	Threshold int
}

// DefaultPipeline returns JSON serialization with gzip compression for
// payloads of at least DefaultCompressionThreshold bytes.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Serializer: JSON{},
		Compressor: NewGzip(),
		Threshold:  DefaultCompressionThreshold,
	}
}

// NewPipeline builds a pipeline from serializer and compressor names.
// See NewSerializer and NewCompressor for the accepted names.
func NewPipeline(serializer, compressor string, threshold int) (Pipeline, error) {
	s, err := NewSerializer(serializer)
	if err != nil {
		return Pipeline{}, err
	}
	c, err := NewCompressor(compressor)
	if err != nil {
		return Pipeline{}, err
	}
	return Pipeline{Serializer: s, Compressor: c, Threshold: threshold}, nil
}

// Encode serializes v and compresses the result when it meets the threshold
// and compression actually shrinks it. The returned flag reports whether the
// payload is compressed; it must be stored alongside the payload and passed
// back to Decode.
func (p Pipeline) Encode(v interface{}) ([]byte, bool, error) {
	data, err := p.serializer().Marshal(v)
	if err != nil {
		return nil, false, &cache.SerializationError{Op: "marshal", Err: err}
	}

	if p.Compressor == nil || p.Threshold <= 0 || len(data) < p.Threshold {
		return data, false, nil
	}

	packed, err := p.Compressor.Compress(data)
	if err != nil {
		return nil, false, err
	}
	// Incompressible payloads (already-compressed images, random blobs) can
	// grow; store those raw.
	if len(packed) >= len(data) {
		return data, false, nil
	}
	return packed, true, nil
}

// Decode reverses Encode. The compressed flag must match what Encode
// returned for this payload.
func (p Pipeline) Decode(payload []byte, compressed bool) (interface{}, error) {
	data := payload
	if compressed {
		var err error
		data, err = Decompress(payload)
		if err != nil {
			return nil, err
		}
	}

	var value interface{}
	if err := p.serializer().Unmarshal(data, &value); err != nil {
		return nil, &cache.SerializationError{Op: "unmarshal", Err: err}
	}
	return value, nil
}

func (p Pipeline) serializer() Serializer {
	if p.Serializer == nil {
		return JSON{}
	}
	return p.Serializer
}
