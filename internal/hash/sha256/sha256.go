// Package sha256 digests request fingerprints into cache keys.
package sha256

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Hasher implements crawler.Hasher. A salted hasher computes HMAC-SHA256
// keyed by the salt; rotating the salt retires every existing cache key.
type Hasher struct {
	salt []byte
}

// New returns an unsalted SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// NewSalted returns an HMAC-SHA256 hasher keyed by salt. An empty salt
// behaves like New.
func NewSalted(salt string) *Hasher {
	return &Hasher{salt: []byte(salt)}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	var d hash.Hash
	if len(h.salt) > 0 {
		d = hmac.New(sha256.New, h.salt)
	} else {
		d = sha256.New()
	}
	d.Write(data)
	return hex.EncodeToString(d.Sum(nil)), nil
}
