// Package store defines the storage interface and implementations.
package store

import (
	"context"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// ConversationStore is the durable per-(owner, conversation) message log.
//
// Lookups of a missing conversation return domain.ErrNotFound. Database
// failures are returned as *domain.StoreError.
type ConversationStore interface {
	ListConversations(ctx context.Context, ownerID string) ([]domain.ConversationSummary, error)
	CreateConversation(ctx context.Context, ownerID, title string) (*domain.Conversation, error)
	GetConversation(ctx context.Context, ownerID, conversationID string) (*domain.Conversation, error)
	// AppendMessage creates the conversation if absent, appends msg and
	// refreshes updatedAt in one transaction. It returns the conversation
	// as it stands after the append.
	AppendMessage(ctx context.Context, ownerID, conversationID string, msg domain.Message) (*domain.Conversation, error)
	UpdateTitle(ctx context.Context, ownerID, conversationID, title string) (*domain.Conversation, error)
	DeleteConversation(ctx context.Context, ownerID, conversationID string) error
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *domain.User) error
	UpdateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByIDAndRole(ctx context.Context, id string, role domain.AccountRole) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByApprovalToken(ctx context.Context, token string) (*domain.User, error)
	GetUserByRejectionToken(ctx context.Context, token string) (*domain.User, error)
	UserExists(ctx context.Context, email, username string) (bool, error)
}

// Store defines the interface for data persistence.
type Store interface {
	ConversationStore
	UserStore

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
