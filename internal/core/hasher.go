package core

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher computes a stable fingerprint of a save payload. The fingerprint
// depends only on the payload bytes: two byte-identical payloads taken at
// different moments hash identically regardless of file metadata.
type Hasher interface {
	Hash(payload []byte) string
}

// SHA256Hasher fingerprints payloads with SHA-256, hex encoded.
// Hashes double as content addresses in the blob store.
type SHA256Hasher struct{}

func (SHA256Hasher) Hash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
