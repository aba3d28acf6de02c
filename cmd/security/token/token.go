package token

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintHexChars is the length of a fingerprint (64 bits of the digest).
const fingerprintHexChars = 16

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a short SHA-256 prefix of a credential for logging.
// Surrounding whitespace and a "Bearer " prefix are ignored so the same
// credential always yields the same fingerprint. Empty input yields "".
func Fingerprint(credential string) string {
	c := strings.TrimSpace(credential)
	c = strings.TrimPrefix(c, "Bearer ")
	if c == "" {
		return ""
	}
	return HashSHA256Hex(c)[:fingerprintHexChars]
}
