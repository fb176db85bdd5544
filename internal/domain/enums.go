// Package domain defines the core domain models for chatrelay.
package domain

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role a conversation may contain.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// AccountRole is the role claimed by a credential and stored on an account.
type AccountRole string

const (
	AccountRoleUser  AccountRole = "user"
	AccountRoleAdmin AccountRole = "admin"
)

// AccountStatus is the approval state of an account.
type AccountStatus string

const (
	AccountStatusApproved AccountStatus = "approved"
	AccountStatusPending  AccountStatus = "pending"
	AccountStatusRejected AccountStatus = "rejected"
)

// HistoryMode selects what the model gateway receives for each turn.
type HistoryMode string

const (
	// HistoryModeFull sends the whole conversation.
	HistoryModeFull HistoryMode = "full"
	// HistoryModeLatest sends only the message that was just appended.
	HistoryModeLatest HistoryMode = "latest"
)

// DefaultConversationTitle is used when a conversation is created without one.
const DefaultConversationTitle = "New Chat"
