package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// GenerateToken mints a bearer token with 256 bits of entropy.
func GenerateToken() string {
	return randomToken(32)
}

// GenerateLinkToken mints a Telegram link token with 192 bits of entropy.
// Shorter than a bearer token because users may have to type it by hand.
func GenerateLinkToken() string {
	return randomToken(24)
}

func randomToken(bytes int) string {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// HashToken is the only form in which token material is persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Fingerprint is a short hash prefix safe to put in logs.
func Fingerprint(token string) string {
	return HashToken(token)[:10]
}
