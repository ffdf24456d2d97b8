package remote

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidEncoding is returned by Verify when a token's base64url segments
// are malformed in a way that cannot simply be a truncated network read (spec's
// Open Question #3): a segment whose length mod 4 equals 1 can never be valid
// unpadded base64url output, so it is rejected outright rather than handed to
// the JWT parser to fail less specifically.
var ErrInvalidEncoding = fmt.Errorf("invalid token encoding")

// claims carries the bearer-token identity a Proxy presents to a Server:
// which client (hostname-derived) is forwarding a call. Ported from the
// teacher's internal/auth.Claims shape (Subject-as-identity, HS256).
type claims struct {
	jwt.RegisteredClaims
}

// TokenService issues and verifies the bearer tokens used between a Proxy
// and its master Server (spec section 4.8's "authenticated...per-call").
type TokenService struct {
	secret   []byte
	duration time.Duration
}

// NewTokenService creates a token service with the given HMAC secret and
// token lifetime.
func NewTokenService(secret []byte, duration time.Duration) *TokenService {
	return &TokenService{secret: secret, duration: duration}
}

// Issue creates a signed, short-lived JWT identifying subject (typically
// the proxy's hostname).
func (ts *TokenService) Issue(subject string) (string, error) {
	now := time.Now().UTC()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.duration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("sign master-index token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token, returning its subject.
func (ts *TokenService) Verify(tokenString string) (string, error) {
	for _, segment := range strings.Split(tokenString, ".") {
		if len(segment)%4 == 1 {
			return "", fmt.Errorf("%w: segment length %d", ErrInvalidEncoding, len(segment))
		}
	}

	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse master-index token: %w", err)
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid master-index token claims")
	}
	return c.Subject, nil
}
