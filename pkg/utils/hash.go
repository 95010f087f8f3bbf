package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentSHA256 computes the hex SHA-256 of raw bytes; used as the dedup key for images.
func ContentSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
