// Package blobstore is the content-addressed blob repository. Payloads are
// keyed by the BLAKE3-256 digest of their exact bytes, written once and never
// mutated.
package blobstore

import (
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/zeebo/blake3"
)

// idLen is the hex length of a 32-byte digest.
const idLen = 64

// ID is the lowercase hex BLAKE3-256 digest of a payload.
type ID string

// NewHasher returns an incremental hasher whose FromHash result equals Sum
// over the same bytes, regardless of how the input was chunked.
func NewHasher() hash.Hash {
	return blake3.New()
}

// FromHash finalizes a hasher obtained from NewHasher.
func FromHash(h hash.Hash) ID {
	return ID(hex.EncodeToString(h.Sum(nil)))
}

// Sum computes the ID of a complete payload.
func Sum(data []byte) ID {
	sum := blake3.Sum256(data)
	return ID(hex.EncodeToString(sum[:]))
}

// ParseID validates an externally supplied content id.
func ParseID(s string) (ID, error) {
	id := ID(s)
	if !id.Valid() {
		return "", fmt.Errorf("invalid content id %q", s)
	}
	return id, nil
}

// Valid reports whether id has the shape of a digest produced by this package.
// Backends rely on it before turning an id into a path or object key.
func (id ID) Valid() bool {
	if len(id) != idLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (id ID) String() string { return string(id) }

// Short returns the first 8 hex characters, handy for log lines and names.
func (id ID) Short() string {
	if len(id) < 8 {
		return string(id)
	}
	return string(id[:8])
}
