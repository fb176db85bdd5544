package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// Resolver turns verified claims into an identity, typically by loading the
// backing account. It returns an *domain.AuthenticationError when the
// account is gone.
type Resolver func(ctx context.Context, claims Claims) (domain.Identity, error)

// Authenticator gates incoming connections and requests.
type Authenticator struct {
	tokens  *TokenManager
	resolve Resolver
}

// NewAuthenticator creates an Authenticator. A nil resolve trusts the claims.
func NewAuthenticator(tokens *TokenManager, resolve Resolver) *Authenticator {
	if resolve == nil {
		resolve = ClaimsIdentity
	}
	return &Authenticator{tokens: tokens, resolve: resolve}
}

// ClaimsIdentity builds an identity from the claims alone.
func ClaimsIdentity(_ context.Context, c Claims) (domain.Identity, error) {
	return domain.Authenticated(c.Subject, c.Username, c.Role), nil
}

// Authenticate binds an identity to r. No token yields the anonymous
// identity; a bad token yields an *domain.AuthenticationError.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (domain.Identity, error) {
	raw := ExtractToken(r)
	if raw == "" {
		return domain.Anonymous(), nil
	}
	return a.AuthenticateToken(ctx, raw)
}

// AuthenticateToken verifies raw and resolves it to an identity.
func (a *Authenticator) AuthenticateToken(ctx context.Context, raw string) (domain.Identity, error) {
	claims, err := a.tokens.Verify(raw)
	if err != nil {
		return domain.Identity{}, err
	}
	return a.resolve(ctx, claims)
}

// ExtractToken returns the bearer credential from the token query parameter
// or the Authorization header. The "Bearer " prefix is optional.
func ExtractToken(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) >= 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return h
}
