package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"
)

// SecretHeader carries the shared webhook secret.
const SecretHeader = "x-secret"

// SecretMatches compares secrets in constant time. Both sides are hashed first
// so the comparison does not leak the expected secret's length.
func SecretMatches(expected, got string) bool {
	if expected == "" {
		return false
	}
	e := sha256.Sum256([]byte(expected))
	g := sha256.Sum256([]byte(got))
	return hmac.Equal(e[:], g[:])
}

func SecretFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(SecretHeader))
}

func SetSecret(r *http.Request, secret string) {
	r.Header.Set(SecretHeader, secret)
}
