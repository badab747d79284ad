// Package jwtauth issues and verifies the signed tokens that identify a
// client context.
package jwtauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of every context token.
const Issuer = "menuboard"

// KeySize is the required HMAC key length in bytes.
const KeySize = 32

// Claims are the claims of a context token. The subject is the context ID.
type Claims struct {
	jwt.RegisteredClaims
}

// ContextID returns the client context the token names.
func (c *Claims) ContextID() string {
	return c.Subject
}

// Signer signs and verifies HS256 context tokens.
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSigner creates a Signer. Tokens expire after ttl.
func NewSigner(key []byte, ttl time.Duration) (*Signer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("signing key must be exactly %d bytes", KeySize)
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &Signer{key: key, ttl: ttl, now: time.Now}, nil
}

// TTL returns the token lifetime.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Issue returns a signed token for contextID.
func (s *Signer) Issue(contextID string) (string, error) {
	if contextID == "" {
		return "", errors.New("context id is required")
	}
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   contextID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign context token: %w", err)
	}
	return token, nil
}

// Verify checks signature, issuer and expiry and returns the claims.
func (s *Signer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
