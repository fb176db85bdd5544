package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatrelay/internal/auth"
)

type chatRequest struct {
	Title string `json:"title"`
}

// ListChats lists the caller's conversations.
// GET /api/chats
func (h *Handler) ListChats(c echo.Context) error {
	chats, err := h.service.ListConversations(c.Request().Context(), auth.IdentityFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, chats)
}

// CreateChat creates an empty conversation.
// POST /api/chats
func (h *Handler) CreateChat(c echo.Context) error {
	var req chatRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, message("invalid request body"))
		}
	}
	conv, err := h.service.CreateConversation(c.Request().Context(), auth.IdentityFrom(c), req.Title)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, conv)
}

// GetChat returns one conversation with its messages.
// GET /api/chats/:chatId
func (h *Handler) GetChat(c echo.Context) error {
	conv, err := h.service.GetConversation(c.Request().Context(), auth.IdentityFrom(c), c.Param("chatId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

// UpdateChat renames a conversation.
// PATCH /api/chats/:chatId
func (h *Handler) UpdateChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, message("invalid request body"))
	}
	conv, err := h.service.RenameConversation(c.Request().Context(), auth.IdentityFrom(c), c.Param("chatId"), req.Title)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

// DeleteChat deletes a conversation and its messages.
// DELETE /api/chats/:chatId
func (h *Handler) DeleteChat(c echo.Context) error {
	if err := h.service.DeleteConversation(c.Request().Context(), auth.IdentityFrom(c), c.Param("chatId")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, message("Chat deleted"))
}
