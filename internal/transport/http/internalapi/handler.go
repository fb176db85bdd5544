// Package internalapi provides the operator-facing HTTP endpoints: health
// and server-initiated pushes to chat rooms.
package internalapi

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatrelay/internal/hub"
	"github.com/xiaot623/gogo/chatrelay/internal/protocol"
	"github.com/xiaot623/gogo/chatrelay/internal/service"
)

// Handler serves the internal endpoints.
type Handler struct {
	service *service.Service
	hub     *hub.Hub
}

// NewHandler creates a new internal handler.
func NewHandler(svc *service.Service, h *hub.Hub) *Handler {
	return &Handler{service: svc, hub: h}
}

// RegisterRoutes registers internal routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.POST("/internal/send", h.Send)
}

// Health reports hub counters, database reachability and whether the
// configured model is served.
func (h *Handler) Health(c echo.Context) error {
	ctx := c.Request().Context()
	status := http.StatusOK
	body := map[string]interface{}{
		"status":      "healthy",
		"connections": h.hub.ConnectionCount(),
		"rooms":       h.hub.RoomCount(),
		"database":    "ok",
		"model":       "ok",
	}
	if err := h.service.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = err.Error()
	}
	if err := h.service.CheckModel(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["model"] = err.Error()
	}
	return c.JSON(status, body)
}

// SendEvent is the frame pushed to a room.
type SendEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SendRequest represents the request body for POST /internal/send.
type SendRequest struct {
	UserID string    `json:"userId"`
	ChatID string    `json:"chatId"`
	Event  SendEvent `json:"event"`
}

// SendResponse represents the response for POST /internal/send.
type SendResponse struct {
	OK        bool `json:"ok"`
	Delivered bool `json:"delivered"`
}

// Send pushes an event to every connection joined to the room of one
// owner's conversation. Anonymous conversations use owner "anonymous".
func (h *Handler) Send(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.UserID == "" || req.ChatID == "" || req.Event.Event == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "userId, chatId and event are required"})
	}

	frame, err := json.Marshal(protocol.Envelope{Event: req.Event.Event, Data: req.Event.Data})
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid event data"})
	}

	room := hub.RoomKey(req.UserID, req.ChatID)
	delivered := h.hub.RoomSize(room) > 0
	if err := h.hub.Broadcast(c.Request().Context(), room, "", frame); err != nil {
		c.Logger().Errorf("broadcast to %s failed: %v", req.ChatID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "broadcast failed"})
	}
	return c.JSON(http.StatusOK, SendResponse{OK: true, Delivered: delivered})
}
