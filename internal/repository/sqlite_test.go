package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendMessageCreatesConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.AppendMessage(ctx, "u1", "c1", domain.NewUserMessage("hello", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "u1", conv.OwnerID)
	assert.Equal(t, "c1", conv.ConversationID)
	assert.Equal(t, domain.DefaultConversationTitle, conv.Title)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, domain.RoleUser, conv.Messages[0].Role)

	conv, err = s.AppendMessage(ctx, "u1", "c1", domain.Message{Role: domain.RoleAssistant, Content: "hi there"})
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "hello", conv.Messages[0].Content)
	assert.Equal(t, "hi there", conv.Messages[1].Content)
	assert.False(t, conv.UpdatedAt.Before(conv.CreatedAt))
}

func TestAppendMessageRejectsInvalid(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AppendMessage(context.Background(), "u1", "c1", domain.NewUserMessage("  ", time.Now()))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.GetConversation(context.Background(), "u1", "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAppendMessageConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			_, err := s.AppendMessage(ctx, "u1", "shared", domain.NewUserMessage(fmt.Sprintf("m%d", i), time.Now()))
			return err
		})
	}
	require.NoError(t, g.Wait())

	conv, err := s.GetConversation(ctx, "u1", "shared")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, n)

	list, err := s.ListConversations(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGetConversationIsReadOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendMessage(ctx, "u1", "c1", domain.NewUserMessage("one", time.Now()))
	require.NoError(t, err)

	first, err := s.GetConversation(ctx, "u1", "c1")
	require.NoError(t, err)
	second, err := s.GetConversation(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestConversationsAreScopedByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendMessage(ctx, "alice", "c1", domain.NewUserMessage("a", time.Now()))
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, "bob", "c1", domain.NewUserMessage("b", time.Now()))
	require.NoError(t, err)

	alice, err := s.GetConversation(ctx, "alice", "c1")
	require.NoError(t, err)
	require.Len(t, alice.Messages, 1)
	assert.Equal(t, "a", alice.Messages[0].Content)

	_, err = s.GetConversation(ctx, "carol", "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConversationCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateConversation(ctx, "u1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ConversationID)
	assert.Equal(t, domain.DefaultConversationTitle, created.Title)

	other, err := s.CreateConversation(ctx, "u1", "Second")
	require.NoError(t, err)
	assert.NotEqual(t, created.ConversationID, other.ConversationID)

	renamed, err := s.UpdateTitle(ctx, "u1", created.ConversationID, "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", renamed.Title)

	_, err = s.UpdateTitle(ctx, "u1", "missing", "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.UpdateTitle(ctx, "u1", created.ConversationID, " ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.AppendMessage(ctx, "u1", other.ConversationID, domain.NewUserMessage("bump", time.Now().Add(time.Second)))
	require.NoError(t, err)

	list, err := s.ListConversations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, other.ConversationID, list[0].ConversationID, "most recently updated first")

	require.NoError(t, s.DeleteConversation(ctx, "u1", created.ConversationID))
	assert.ErrorIs(t, s.DeleteConversation(ctx, "u1", created.ConversationID), domain.ErrNotFound)

	require.NoError(t, s.DeleteConversation(ctx, "u1", other.ConversationID))
	_, err = s.GetConversation(ctx, "u1", other.ConversationID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err = s.ListConversations(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	exp := now.Add(10 * time.Minute)

	u := &domain.User{
		ID:            "u1",
		Name:          "Alice",
		Username:      "alice",
		Email:         "alice@example.com",
		PasswordHash:  "hash",
		Role:          domain.AccountRoleAdmin,
		Status:        domain.AccountStatusPending,
		OTPCode:       "1234",
		OTPExpiresAt:  &exp,
		ApprovalToken: "approve-me",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, s.CreateUser(ctx, u))

	dup := *u
	dup.ID = "u2"
	assert.ErrorIs(t, s.CreateUser(ctx, &dup), domain.ErrConflict)

	got, err := s.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, domain.AccountStatusPending, got.Status)
	require.NotNil(t, got.OTPExpiresAt)
	assert.WithinDuration(t, exp, *got.OTPExpiresAt, time.Second)

	got, err = s.GetUserByApprovalToken(ctx, "approve-me")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	_, err = s.GetUserByIDAndRole(ctx, "u1", domain.AccountRoleUser)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetUserByIDAndRole(ctx, "u1", domain.AccountRoleAdmin)
	assert.NoError(t, err)

	exists, err := s.UserExists(ctx, "other@example.com", "alice")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.UserExists(ctx, "other@example.com", "other")
	require.NoError(t, err)
	assert.False(t, exists)

	got.Status = domain.AccountStatusApproved
	got.Verified = true
	got.OTPCode = ""
	got.OTPExpiresAt = nil
	got.ApprovalToken = ""
	require.NoError(t, s.UpdateUser(ctx, got))

	got, err = s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.Verified)
	assert.Equal(t, domain.AccountStatusApproved, got.Status)
	assert.Empty(t, got.OTPCode)
	assert.Nil(t, got.OTPExpiresAt)

	_, err = s.GetUserByRejectionToken(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	missing := &domain.User{ID: "ghost"}
	assert.ErrorIs(t, s.UpdateUser(ctx, missing), domain.ErrNotFound)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: "postgres"}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := &SQLStore{driver: "sqlite3"}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}
