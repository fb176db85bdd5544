package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

const identityKey = "identity"

// RequireAuth rejects requests without a valid bearer token and stores the
// identity on the echo context.
func RequireAuth(a *Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := ExtractToken(c.Request())
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Authentication required"})
			}
			id, err := a.AuthenticateToken(c.Request().Context(), raw)
			if err != nil {
				c.Logger().Debugf("rejected token: %v", err)
				return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Invalid or expired token"})
			}
			SetIdentity(c, id)
			return next(c)
		}
	}
}

// SetIdentity stores id on c.
func SetIdentity(c echo.Context, id domain.Identity) {
	c.Set(identityKey, id)
}

// IdentityFrom returns the identity stored by RequireAuth, or the anonymous identity.
func IdentityFrom(c echo.Context) domain.Identity {
	if id, ok := c.Get(identityKey).(domain.Identity); ok {
		return id
	}
	return domain.Anonymous()
}
