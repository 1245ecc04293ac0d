// Package pkce validates OAuth 2.0 Proof Key for Code Exchange verifiers
// (RFC 7636).
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

const (
	MethodS256  = "S256"
	MethodPlain = "plain"
)

// Challenge computes the S256 code challenge for a verifier.
func Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// Verify reports whether verifier satisfies the stored challenge. Unknown
// methods and missing inputs report false; callers translate that into an
// invalid_grant error.
func Verify(challenge, method, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	switch method {
	case MethodS256:
		return subtle.ConstantTimeCompare([]byte(Challenge(verifier)), []byte(challenge)) == 1
	case MethodPlain:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	default:
		return false
	}
}
