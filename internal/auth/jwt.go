// Package auth verifies credential proofs and issues session tokens.
//
// SESSION FLOW OVERVIEW:
//  1. A native login or a Twitter callback stores the account id as a claim
//     in a signed JWT kept in the "session" HttpOnly cookie.
//  2. On every request the identity middleware reads the cookie, validates the
//     JWT and turns each claim into a credential proof.
//  3. Facebook is different: its proof is the signed-request cookie that the
//     Facebook JS SDK sets, so it never appears in our session.
//
// WHY JWT?
// The session carries at most two account ids. Signing them is enough to
// trust them; there is no server-side session table to keep in sync.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "fixjam"

// SessionClaims is the JWT payload of the session cookie.
//
// A session may hold a native and a Twitter claim at the same time; that is
// exactly the conflicting state the identity middleware resolves.
type SessionClaims struct {
	NativeAccountID  string `json:"nat,omitempty"`
	TwitterAccountID string `json:"twt,omitempty"`
	jwt.RegisteredClaims
}

// Empty reports whether the session carries no account claims.
func (c SessionClaims) Empty() bool {
	return c.NativeAccountID == "" && c.TwitterAccountID == ""
}

// SessionService handles session JWT creation and validation.
type SessionService struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewSessionService creates a SessionService.
// The secret should be at least 32 bytes of random data in production.
// Example: SESSION_SECRET=$(openssl rand -hex 32)
func NewSessionService(secret string, ttl time.Duration, secureCookie bool) (*SessionService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: session secret must be at least 16 characters")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: session ttl must be positive")
	}
	return &SessionService{secret: []byte(secret), ttl: ttl, secure: secureCookie, now: time.Now}, nil
}

// Issue signs c with a fresh expiry.
//
// Signing algorithm: HS256 (HMAC-SHA256). Symmetric, one server.
func (s *SessionService) Issue(c SessionClaims) (string, error) {
	now := s.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		Issuer:    issuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing session: %w", err)
	}
	return signed, nil
}

// Parse validates a session JWT and returns its claims.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid
//   - Token is not expired
//   - Issuer matches "fixjam"
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
func (s *SessionService) Parse(tokenStr string) (SessionClaims, error) {
	var c SessionClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, fmt.Errorf("auth: session expired")
		}
		return SessionClaims{}, fmt.Errorf("auth: invalid session: %w", err)
	}
	if !token.Valid {
		return SessionClaims{}, fmt.Errorf("auth: invalid session claims")
	}
	return c, nil
}
