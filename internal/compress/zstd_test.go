package compress

import (
	"bytes"
	"testing"
)

func TestZstdRoundTrip(t *testing.T) {
	c, err := NewZstdCompressor(DefaultLevel)
	if err != nil {
		t.Fatalf("NewZstdCompressor: %v", err)
	}

	for _, tc := range []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"small", []byte("save state")},
		{"repetitive", bytes.Repeat([]byte("SRAM"), 4096)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			compressed, err := c.Compress(tc.payload)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			got, err := c.Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(got, tc.payload) {
				t.Errorf("round trip changed payload: got %d bytes, want %d", len(got), len(tc.payload))
			}
		})
	}
}

func TestZstdCompressesRepetitiveData(t *testing.T) {
	c, err := NewZstdCompressor(DefaultLevel)
	if err != nil {
		t.Fatalf("NewZstdCompressor: %v", err)
	}

	payload := bytes.Repeat([]byte("SRAM"), 4096)
	compressed, err := c.Compress(payload)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(compressed) >= len(payload) {
		t.Errorf("compressed %d bytes to %d, expected reduction", len(payload), len(compressed))
	}
}

func TestZstdLevelRange(t *testing.T) {
	for _, level := range []int{0, -1, 23} {
		if _, err := NewZstdCompressor(level); err == nil {
			t.Errorf("level %d accepted, want error", level)
		}
	}
	for _, level := range []int{MinLevel, MaxLevel} {
		if _, err := NewZstdCompressor(level); err != nil {
			t.Errorf("level %d rejected: %v", level, err)
		}
	}
}

func TestZstdCrossLevelDecode(t *testing.T) {
	payload := []byte("compressed at one level, decoded by another")

	high, err := NewZstdCompressor(19)
	if err != nil {
		t.Fatalf("NewZstdCompressor(19): %v", err)
	}
	compressed, err := high.Compress(payload)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	low, err := NewZstdCompressor(1)
	if err != nil {
		t.Fatalf("NewZstdCompressor(1): %v", err)
	}
	got, err := low.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("cross-level decode changed payload")
	}
}

func TestZstdAlgorithm(t *testing.T) {
	c, err := NewZstdCompressor(DefaultLevel)
	if err != nil {
		t.Fatalf("NewZstdCompressor: %v", err)
	}
	if c.Algorithm() != Algorithm {
		t.Errorf("Algorithm() = %q, want %q", c.Algorithm(), Algorithm)
	}
}
