package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashContent computes the content-addressed fingerprint of a chunk.
// The hash is taken over the exact normalized content string and is
// the sole deduplication identity: identical strings always collide,
// any difference does not.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
