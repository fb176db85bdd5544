// Package http assembles the external and internal echo servers.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/chatrelay/internal/auth"
	"github.com/xiaot623/gogo/chatrelay/internal/hub"
	"github.com/xiaot623/gogo/chatrelay/internal/service"
	"github.com/xiaot623/gogo/chatrelay/internal/transport/http/internalapi"
	v1 "github.com/xiaot623/gogo/chatrelay/internal/transport/http/v1"
	"github.com/xiaot623/gogo/chatrelay/internal/ws"
)

// NewExternalServer creates the client-facing server: REST API and /ws.
func NewExternalServer(svc *service.Service, authn *auth.Authenticator, wsServer *ws.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc, authn)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	wsServer.RegisterRoutes(e)

	return e
}

// NewInternalServer creates the operator-facing server: health and room push.
func NewInternalServer(svc *service.Service, h *hub.Hub) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Handlers
	internalHandler := internalapi.NewHandler(svc, h)

	// Register Routes
	internalHandler.RegisterRoutes(e)

	return e
}
