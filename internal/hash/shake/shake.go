// Package shake provides short SHAKE-256 digests.
package shake

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// DefaultSize is the digest length in bytes used for image file names.
const DefaultSize = 8

// Hasher derives fixed-width hex digests with SHAKE-256.
type Hasher struct {
	size int
}

// New returns a hasher producing size-byte digests. A non-positive size
// means DefaultSize.
func New(size int) *Hasher {
	if size <= 0 {
		size = DefaultSize
	}
	return &Hasher{size: size}
}

// Hash hashes the input and returns a hex digest of 2*size characters.
func (h *Hasher) Hash(data []byte) string {
	out := make([]byte, h.size)
	sha3.ShakeSum256(out, data)
	return hex.EncodeToString(out)
}

// String hashes s with the default size.
func String(s string) string {
	return New(DefaultSize).Hash([]byte(s))
}
