// Package compress implements the engine's Compressor on zstd. Save
// payloads are highly repetitive (memory card images, padded SRAM dumps) and
// compress extremely well; zstd at the default level keeps capture latency
// low while still shrinking them drastically.
package compress

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Algorithm is the tag recorded on every version row. Decoding only looks at
// the stream itself, so blobs written at any level decode identically.
const Algorithm = "zstd"

// Levels accepted from configuration, on the zstd scale.
const (
	MinLevel     = 1
	MaxLevel     = 22
	DefaultLevel = 3
)

// ZstdCompressor compresses and decompresses version payloads. Safe for
// concurrent use; the underlying encoder and decoder are reused across
// calls.
type ZstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCompressor creates a compressor at the given zstd level (1..22).
// The level affects encoding only; it is not part of the stored format.
func NewZstdCompressor(level int) (*ZstdCompressor, error) {
	if level < MinLevel || level > MaxLevel {
		return nil, fmt.Errorf("compression level %d out of range [%d, %d]", level, MinLevel, MaxLevel)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &ZstdCompressor{enc: enc, dec: dec}, nil
}

func (c *ZstdCompressor) Compress(payload []byte) ([]byte, error) {
	return c.enc.EncodeAll(payload, nil), nil
}

func (c *ZstdCompressor) Decompress(compressed []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	return out, nil
}

func (c *ZstdCompressor) Algorithm() string { return Algorithm }
