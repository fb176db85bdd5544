package service

import (
	"context"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/policy"
)

func (s *Service) ListConversations(ctx context.Context, id domain.Identity) ([]domain.ConversationSummary, error) {
	if err := s.Authorize(ctx, policy.ActionConversationList, id); err != nil {
		return nil, err
	}
	return s.store.ListConversations(ctx, id.ID())
}

func (s *Service) CreateConversation(ctx context.Context, id domain.Identity, title string) (*domain.Conversation, error) {
	if err := s.Authorize(ctx, policy.ActionConversationCreate, id); err != nil {
		return nil, err
	}
	return s.store.CreateConversation(ctx, id.ID(), title)
}

func (s *Service) GetConversation(ctx context.Context, id domain.Identity, chatID string) (*domain.Conversation, error) {
	if err := s.Authorize(ctx, policy.ActionConversationRead, id); err != nil {
		return nil, err
	}
	return s.store.GetConversation(ctx, id.ID(), chatID)
}

func (s *Service) RenameConversation(ctx context.Context, id domain.Identity, chatID, title string) (*domain.Conversation, error) {
	if err := s.Authorize(ctx, policy.ActionConversationUpdate, id); err != nil {
		return nil, err
	}
	return s.store.UpdateTitle(ctx, id.ID(), chatID, title)
}

func (s *Service) DeleteConversation(ctx context.Context, id domain.Identity, chatID string) error {
	if err := s.Authorize(ctx, policy.ActionConversationDelete, id); err != nil {
		return err
	}
	return s.store.DeleteConversation(ctx, id.ID(), chatID)
}
