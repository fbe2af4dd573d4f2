// Package credential issues and verifies the self-contained signed bearer
// tokens clients present on socket handshake (spec §6).
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/riftauction/auctiond/internal/clock"
)

// Errors returned by Verify.
var (
	ErrExpired        = errors.New("credential expired")
	ErrRevoked        = errors.New("credential revoked")
	ErrMalformed      = errors.New("credential malformed")
	ErrSignatureAlg   = errors.New("credential signature algorithm mismatch")
)

// Claims is the payload carried by every credential.
type Claims struct {
	UserID   string `json:"userId"`
	Email    string `json:"userEmail"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// RevocationChecker reports whether a raw credential string has been revoked.
// Implemented by internal/gateway's cache-first, store-fallback lookup.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, credential string) (bool, error)
}

// Issuer signs and verifies credentials with a single symmetric secret.
type Issuer struct {
	secret   []byte
	lifetime time.Duration
	clock    clock.Clock
}

// NewIssuer constructs an Issuer. secret must be at least 32 bytes per spec §6.
func NewIssuer(secret []byte, lifetime time.Duration, clk clock.Clock) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("credential secret must be at least 32 bytes, got %d", len(secret))
	}
	return &Issuer{secret: secret, lifetime: lifetime, clock: clk}, nil
}

// Issue mints a signed credential for the given identity.
func (i *Issuer) Issue(userID, email, username string) (string, error) {
	now := i.clock.Now()
	claims := Claims{
		UserID:   userID,
		Email:    email,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.lifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing credential: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a raw credential string, then consults the
// revocation checker. It does not itself enforce caller-side caching; the
// gateway is expected to supply a RevocationChecker backed by the
// coordinator cache with a store fallback (spec §4.6).
func (i *Issuer) Verify(ctx context.Context, raw string, revoked RevocationChecker) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrSignatureAlg
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.clock.Now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		if errors.Is(err, ErrSignatureAlg) {
			return nil, ErrSignatureAlg
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !token.Valid {
		return nil, ErrMalformed
	}

	isRevoked, err := revoked.IsRevoked(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("checking revocation: %w", err)
	}
	if isRevoked {
		return nil, ErrRevoked
	}

	return claims, nil
}
