package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentID derives a stable identifier from the given parts.
func ContentID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// ShortID is ContentID truncated to n hex characters.
func ShortID(n int, parts ...string) string {
	id := ContentID(parts...)
	if n <= 0 || n >= len(id) {
		return id
	}
	return id[:n]
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max < 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
