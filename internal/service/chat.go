package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/policy"
)

// Turn is the outcome of one handled chat message.
type Turn struct {
	ConversationID string
	Reply          domain.Message
}

// HandleMessage runs one chat turn: append the user message, ask the model,
// append the reply. A blank content is a *domain.ValidationError and touches
// nothing. When the model fails the user message stays persisted.
func (s *Service) HandleMessage(ctx context.Context, id domain.Identity, chatID, content string) (*Turn, error) {
	if err := s.Authorize(ctx, policy.ActionChatSend, id); err != nil {
		return nil, err
	}

	userMsg := domain.NewUserMessage(content, s.now())
	if err := userMsg.Validate(); err != nil {
		return nil, err
	}

	if chatID == "" {
		chatID = uuid.New().String()
	}
	ownerID := id.ID()

	conv, err := s.store.AppendMessage(ctx, ownerID, chatID, userMsg)
	if err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	history := conv.Messages
	if s.config.HistoryMode == domain.HistoryModeLatest {
		history = []domain.Message{userMsg}
	}

	reply, err := s.gateway.Complete(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("complete conversation %s: %w", chatID, err)
	}

	if _, err := s.store.AppendMessage(ctx, ownerID, chatID, reply); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	s.logger.DebugContext(ctx, "turn completed", "chat_id", chatID, "owner", ownerID, "history", len(history))
	return &Turn{ConversationID: chatID, Reply: reply}, nil
}

// JoinChat checks that id may join the room of chatID.
func (s *Service) JoinChat(ctx context.Context, id domain.Identity, chatID string) error {
	if chatID == "" {
		return domain.NewValidationError("chatId is required")
	}
	return s.Authorize(ctx, policy.ActionChatJoin, id)
}
