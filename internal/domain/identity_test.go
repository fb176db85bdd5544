package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdentityVariants(t *testing.T) {
	anon := Anonymous()
	assert.True(t, anon.IsAnonymous())
	assert.Equal(t, AnonymousID, anon.ID())
	assert.Empty(t, anon.Username())
	assert.Empty(t, anon.Role())

	var zero Identity
	assert.Equal(t, IdentityAnonymous, zero.Kind())

	user := Authenticated("u1", "alice", AccountRoleAdmin)
	assert.False(t, user.IsAnonymous())
	assert.Equal(t, IdentityAuthenticated, user.Kind())
	assert.Equal(t, "u1", user.ID())
	assert.Equal(t, "alice", user.Username())
	assert.Equal(t, AccountRoleAdmin, user.Role())
}

func TestMessageValidate(t *testing.T) {
	now := time.Now()
	assert.NoError(t, NewUserMessage("hi", now).Validate())

	err := NewUserMessage("   \n\t", now).Validate()
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, MsgEmptyContent, err.Error())

	bad := Message{Role: "system", Content: "x", Timestamp: now}
	assert.ErrorIs(t, bad.Validate(), ErrValidation)
}

func TestErrorClassification(t *testing.T) {
	gw := fmt.Errorf("turn: %w", &GatewayError{Err: errors.New("timeout")})
	assert.True(t, IsGateway(gw))
	assert.False(t, IsAuthentication(gw))

	auth := &AuthenticationError{Reason: "expired"}
	assert.True(t, IsAuthentication(auth))

	st := &StoreError{Op: "append", Err: ErrNotFound}
	assert.ErrorIs(t, st, ErrNotFound)
}

func TestOTPValid(t *testing.T) {
	now := time.Now()
	exp := now.Add(time.Minute)
	u := &User{OTPCode: "1234", OTPExpiresAt: &exp}

	ok, expired := u.OTPValid("1234", now)
	assert.True(t, ok)
	assert.False(t, expired)

	ok, _ = u.OTPValid("9999", now)
	assert.False(t, ok)

	ok, expired = u.OTPValid("1234", now.Add(2*time.Minute))
	assert.True(t, ok)
	assert.True(t, expired)

	empty := &User{}
	ok, _ = empty.OTPValid("", now)
	assert.False(t, ok)
}
