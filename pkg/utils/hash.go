package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the hex encoded sha256 sum of data.
// Snapshots are compared by the digest of their json encoding.
func Digest(data []byte) string {
	hasher := sha256.New()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}
