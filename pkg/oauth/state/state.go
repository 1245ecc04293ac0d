// Package state encodes the pending authorization request for the round trip
// through the upstream provider. The payload is a signed HS256 JWT rather
// than a bare base64 blob so a client cannot forge the embedded grant or
// redirect URI between the two legs of the flow. The gateway stays stateless
// between legs: everything travels in the upstream state parameter.
package state

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/neondatabase/mcp-oauth-gateway/pkg/grant"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/types"
)

// Version is bumped when the claims layout changes.
const Version = 1

// TTL bounds the time a user may spend on the upstream consent screen.
const TTL = 15 * time.Minute

// Claims carries the downstream authorization request and the consented
// grant through the upstream redirect.
type Claims struct {
	Version int               `json:"ver"`
	Request types.AuthRequest `json:"req"`
	Grant   grant.Grant       `json:"grant"`
	jwt.RegisteredClaims
}

// Codec signs and verifies state payloads.
type Codec struct {
	signingKey []byte
}

// NewCodec creates a codec with the given signing key.
func NewCodec(signingKey []byte) *Codec {
	return &Codec{signingKey: signingKey}
}

// Encode signs the authorization request and grant into a state token.
func (c *Codec) Encode(req types.AuthRequest, g grant.Grant) (string, error) {
	now := time.Now()
	claims := Claims{
		Version: Version,
		Request: req,
		Grant:   g,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign state payload: %w", err)
	}
	return signed, nil
}

// Decode verifies a state token and returns its claims.
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse state payload: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid state payload")
	}
	if claims.Version != Version {
		return nil, fmt.Errorf("unsupported state payload version %d", claims.Version)
	}
	return claims, nil
}
