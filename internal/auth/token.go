// Package auth issues and verifies bearer tokens and binds identities to requests.
package auth

import (
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

const (
	claimUsername = "username"
	claimRole     = "role"
)

// Claims are the fields carried by a chatrelay token.
type Claims struct {
	Subject   string
	Username  string
	Role      domain.AccountRole
	ExpiresAt time.Time
}

// TokenManager signs and verifies HS256 tokens with a shared secret.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a TokenManager. Tokens expire ttl after issue.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the lifetime of issued tokens.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token for user.
func (m *TokenManager) Issue(user *domain.User) (string, error) {
	now := m.now()
	tok, err := jwt.NewBuilder().
		Subject(user.ID).
		IssuedAt(now).
		Expiration(now.Add(m.ttl)).
		Claim(claimUsername, user.Username).
		Claim(claimRole, string(user.Role)).
		Build()
	if err != nil {
		return "", err
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), m.secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// Verify checks the signature and expiry of raw and returns its claims.
// Tokens without an expiry are rejected. Every failure is an
// *domain.AuthenticationError.
func (m *TokenManager) Verify(raw string) (Claims, error) {
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256(), m.secret),
		jwt.WithValidate(true),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithClock(jwt.ClockFunc(m.now)),
	)
	if err != nil {
		return Claims{}, &domain.AuthenticationError{Reason: "invalid token", Err: err}
	}

	var claims Claims
	sub, ok := tok.Subject()
	if !ok || sub == "" {
		return Claims{}, &domain.AuthenticationError{Reason: "token has no subject"}
	}
	claims.Subject = sub
	if exp, ok := tok.Expiration(); ok {
		claims.ExpiresAt = exp
	}

	var role string
	if err := tok.Get(claimRole, &role); err != nil {
		return Claims{}, &domain.AuthenticationError{Reason: "token has no role", Err: err}
	}
	claims.Role = domain.AccountRole(role)
	switch claims.Role {
	case domain.AccountRoleUser, domain.AccountRoleAdmin:
	default:
		return Claims{}, &domain.AuthenticationError{Reason: "unknown role " + role}
	}

	// username is informational; older tokens may not carry it.
	var username string
	if err := tok.Get(claimUsername, &username); err == nil {
		claims.Username = username
	}
	return claims, nil
}
