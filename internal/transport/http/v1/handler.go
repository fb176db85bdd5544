// Package v1 provides the client REST API.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatrelay/internal/auth"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	authn   *auth.Authenticator
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, authn *auth.Authenticator) *Handler {
	return &Handler{
		service: service,
		authn:   authn,
	}
}

// RegisterRoutes registers external routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	requireAuth := auth.RequireAuth(h.authn)

	// Conversations
	chats := e.Group("/api/chats", requireAuth)
	chats.GET("", h.ListChats)
	chats.POST("", h.CreateChat)
	chats.GET("/:chatId", h.GetChat)
	chats.PATCH("/:chatId", h.UpdateChat)
	chats.DELETE("/:chatId", h.DeleteChat)

	// Accounts
	users := e.Group("/api/users")
	h.registerAccountRoutes(users, domain.AccountRoleUser)
	users.GET("/me", h.Me, requireAuth)
	users.PATCH("/me", h.UpdateMe, requireAuth)

	admins := e.Group("/api/admin")
	h.registerAccountRoutes(admins, domain.AccountRoleAdmin)
	admins.POST("/approve/:token", h.ApproveAdmin)
	admins.GET("/approve/:token", h.ApproveAdmin)
	admins.POST("/reject/:token", h.RejectAdmin)
	admins.GET("/reject/:token", h.RejectAdmin)

	e.GET("/health", h.Health)
}

func (h *Handler) registerAccountRoutes(g *echo.Group, role domain.AccountRole) {
	g.POST("/register", h.Register(role))
	g.POST("/verify-email", h.VerifyEmail)
	g.POST("/resend-otp", h.ResendOTP)
	g.POST("/generate-otp", h.GenerateOTP)
	g.POST("/verify-otp", h.VerifyOTP)
	g.POST("/login", h.Login)
	g.POST("/forgot-password", h.ForgotPassword)
	g.POST("/reset-password", h.ResetPassword)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

func message(msg string) map[string]string {
	return map[string]string{"message": msg}
}

// respondError maps service errors to HTTP status codes.
func respondError(c echo.Context, err error) error {
	var ve *domain.ValidationError
	var fe *domain.ForbiddenError
	var ae *domain.AuthenticationError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, message(ve.Message))
	case errors.As(err, &fe):
		return c.JSON(http.StatusForbidden, message(fe.Message))
	case errors.As(err, &ae):
		return c.JSON(http.StatusUnauthorized, message(ae.Reason))
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, message("Not found"))
	case errors.Is(err, domain.ErrConflict):
		return c.JSON(http.StatusConflict, message("Already exists"))
	default:
		c.Logger().Errorf("request failed: %v", err)
		return c.JSON(http.StatusInternalServerError, message("Internal server error"))
	}
}
