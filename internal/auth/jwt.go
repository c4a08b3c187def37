// Package auth handles the GitHub OAuth handshake and the signed session
// cookie.
//
// LOGIN FLOW:
//  1. /auth/github/login redirects to GitHub with a random state cookie
//  2. GitHub calls /auth/github/callback with a code
//  3. The code is exchanged for an OAuth token and a session is stored
//  4. The session ID is signed into a JWT and set as the "session" cookie
//  5. RequireSession resolves the cookie back to an identity on each request
//
// The JWT only proves the session ID was issued by this server. The session
// itself, including the GitHub token, lives in the shared store and can be
// revoked by deleting it.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "github-report"

// TokenService signs and verifies session cookies.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService. Cookies expire after ttl, which
// should match the session store's TTL.
// Example: SESSION_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: session secret must be at least 16 characters")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: session ttl must be positive")
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL is the lifetime of issued cookies.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Generate signs sessionID with the service's TTL.
func (s *TokenService) Generate(sessionID string) (string, error) {
	return s.GenerateWithDuration(sessionID, s.ttl)
}

// GenerateWithDuration signs sessionID with an explicit lifetime.
func (s *TokenService) GenerateWithDuration(sessionID string, d time.Duration) (string, error) {
	now := time.Now()

	c := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(d)),
		Issuer:    issuer,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies a cookie value and returns the session ID it carries.
//
// Only HS256 tokens from this issuer with an expiry are accepted, which
// rules out "alg: none" and tokens minted by other services sharing the
// secret.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	var c jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&c,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("auth: invalid token claims")
	}
	if c.Subject == "" {
		return "", errors.New("auth: token has no subject")
	}
	return c.Subject, nil
}
