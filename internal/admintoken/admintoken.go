// Package admintoken issues and validates the short-lived signed tokens used
// by admin principals. Tokens are HS256 JWTs carrying the principal's
// username as subject and a unique jti.
package admintoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Signer mints and verifies admin tokens with a fixed secret and TTL.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner creates a Signer. ttl defaults to 60 minutes when zero.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl == 0 {
		ttl = 60 * time.Minute
	}
	return &Signer{secret: []byte(secret), ttl: ttl}
}

// Mint creates a signed token for the given admin username.
func (s *Signer) Mint(username string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		Issuer:    "llmgate-admin",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates a token, returning the admin username.
func (s *Signer) Verify(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", errors.New("invalid token claims")
	}
	return claims.Subject, nil
}
