package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
)

func newTestCompressors(t *testing.T) map[string]Compressor {
	t.Helper()
	zstd, err := NewZstd()
	if err != nil {
		t.Fatalf("NewZstd failed: %v", err)
	}
	return map[string]Compressor{
		"gzip": NewGzip(),
		"s2":   S2{},
		"zstd": zstd,
	}
}

func TestCompressors_Roundtrip(t *testing.T) {
	payload := []byte(strings.Repeat("the quick brown fox ", 200))

	for name, c := range newTestCompressors(t) {
		t.Run(name, func(t *testing.T) {
			packed, err := c.Compress(payload)
			if err != nil {
				t.Fatalf("Compress failed: %v", err)
			}
			if !IsCompressed(packed) {
				t.Errorf("compressed payload not tagged: %q...", packed[:tagLen])
			}
			if len(packed) >= len(payload) {
				t.Errorf("compressed %d bytes >= original %d bytes", len(packed), len(payload))
			}

			out, err := Decompress(packed)
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}
			if !bytes.Equal(out, payload) {
				t.Errorf("roundtrip mismatch: got %d bytes, want %d", len(out), len(payload))
			}
		})
	}
}

func TestDecompress_SelfDetects(t *testing.T) {
	payload := []byte(strings.Repeat("abc123", 100))

	// Every algorithm's output must decompress without knowing which
	// compressor produced it.
	for name, c := range newTestCompressors(t) {
		packed, err := c.Compress(payload)
		if err != nil {
			t.Fatalf("%s: Compress failed: %v", name, err)
		}
		out, err := Decompress(packed)
		if err != nil {
			t.Errorf("%s: Decompress failed: %v", name, err)
			continue
		}
		if !bytes.Equal(out, payload) {
			t.Errorf("%s: roundtrip mismatch", name)
		}
	}
}

func TestDecompress_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too short", []byte("gz")},
		{"unknown tag", []byte("qq:somedata")},
		{"corrupt gzip", []byte("gz:this is not a gzip stream")},
		{"corrupt s2", []byte("s2:\xff\xff\xff\xff")},
		{"corrupt zstd", []byte("zs:\x00\x01\x02\x03")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decompress(tt.data)
			if err == nil {
				t.Fatal("Decompress should fail")
			}
			if !cache.IsCompressionError(err) {
				t.Errorf("error = %v, want CompressionError", err)
			}
		})
	}
}

func TestIsCompressed(t *testing.T) {
	tests := []struct {
		data []byte
		want bool
	}{
		{[]byte("gz:x"), true},
		{[]byte("s2:x"), true},
		{[]byte("zs:x"), true},
		{[]byte("gz"), false},
		{[]byte(`{"plain":"json"}`), false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := IsCompressed(tt.data); got != tt.want {
			t.Errorf("IsCompressed(%q) = %v, want %v", tt.data, got, tt.want)
		}
	}
}

func TestNewCompressor(t *testing.T) {
	tests := []struct {
		name     string
		wantNil  bool
		wantErr  bool
		wantName string
	}{
		{"", true, false, ""},
		{"none", true, false, ""},
		{"gzip", false, false, "gzip"},
		{"s2", false, false, "s2"},
		{"zstd", false, false, "zstd"},
		{"lz4", false, true, ""},
	}

	for _, tt := range tests {
		c, err := NewCompressor(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewCompressor(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if (c == nil) != tt.wantNil {
			t.Errorf("NewCompressor(%q) = %v, wantNil %v", tt.name, c, tt.wantNil)
			continue
		}
		if c != nil && c.Name() != tt.wantName {
			t.Errorf("NewCompressor(%q).Name() = %q, want %q", tt.name, c.Name(), tt.wantName)
		}
	}
}

func TestNewGzipLevel(t *testing.T) {
	if _, err := NewGzipLevel(9); err != nil {
		t.Errorf("NewGzipLevel(9) failed: %v", err)
	}
	if _, err := NewGzipLevel(42); err == nil {
		t.Error("NewGzipLevel(42) should fail")
	}
}
