package provider

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultTokenTTL is the lifetime of a minted bearer token. Kept short so a
// leaked token ages out quickly.
const defaultTokenTTL = 30 * time.Minute

// TokenSigner mints short-lived signed bearer tokens for providers that
// require per-request token auth.
type TokenSigner struct {
	accessKey string
	secret    []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewTokenSigner creates a TokenSigner for the given key pair.
func NewTokenSigner(accessKey, secret string) *TokenSigner {
	return &TokenSigner{
		accessKey: accessKey,
		secret:    []byte(secret),
		ttl:       defaultTokenTTL,
		now:       time.Now,
	}
}

// Bearer returns a freshly signed HS256 token.
func (s *TokenSigner) Bearer() (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"iss": s.accessKey,
		"exp": now.Add(s.ttl).Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
