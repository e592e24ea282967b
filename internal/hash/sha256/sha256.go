// Package sha256 implements content hashing for blob addressing.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher using SHA-256 hex digests.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex SHA-256 digest of data.
func (Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Short returns the first 16 hex characters of the digest, used for
// human-scannable blob paths.
func (h Hasher) Short(data []byte) string {
	full, _ := h.Hash(data)
	return full[:16]
}
