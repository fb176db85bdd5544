package domain

import (
	"strings"
	"time"
)

// Message is one entry of a conversation log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUserMessage builds a user message stamped with the given time.
func NewUserMessage(content string, now time.Time) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: now.UTC()}
}

// Validate checks the message can be appended to a conversation.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return NewValidationError("invalid message role: " + string(m.Role))
	}
	if strings.TrimSpace(m.Content) == "" {
		return NewValidationError(MsgEmptyContent)
	}
	return nil
}

// Conversation is a titled, ordered message log owned by one identity.
type Conversation struct {
	OwnerID        string    `json:"userId"`
	ConversationID string    `json:"chatId"`
	Title          string    `json:"title"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ConversationSummary is the listing view of a conversation.
type ConversationSummary struct {
	ConversationID string    `json:"chatId"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Summary returns the listing view of c.
func (c *Conversation) Summary() ConversationSummary {
	return ConversationSummary{
		ConversationID: c.ConversationID,
		Title:          c.Title,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}
