package core

// Compressor is a reversible byte-stream transform. Decompress(Compress(x))
// must equal x for every byte sequence, including empty input. The
// compression level is an encoder parameter only: decompression works
// regardless of the level used to compress.
type Compressor interface {
	Compress(payload []byte) ([]byte, error)
	Decompress(compressed []byte) ([]byte, error)

	// Algorithm returns the fixed algorithm tag recorded on each version
	// (e.g. "zstd") so stored blobs remain readable if the default encoder
	// ever changes.
	Algorithm() string
}
