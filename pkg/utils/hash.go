package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash computes the SHA-256 hex digest of page content.
// Used as the fingerprint for incremental change detection.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ContentHashString is ContentHash for string content.
func ContentHashString(content string) string {
	return ContentHash([]byte(content))
}
