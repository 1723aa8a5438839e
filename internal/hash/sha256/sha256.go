// Package sha256 provides SHA-256 hex digests for fingerprints and content hashes.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SumString returns the hex digest of s.
func SumString(s string) string {
	return Sum([]byte(s))
}
