package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

func HashString(s string) string {
	hasher := sha256.New()
	hasher.Write([]byte(s))
	return hex.EncodeToString(hasher.Sum(nil))
}

// Fingerprint is a short, log-safe identifier for a secret value.
func Fingerprint(s string) string {
	return HashString(s)[:12]
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
