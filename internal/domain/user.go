package domain

import "time"

// User is a registered account. Admins and regular users share one table,
// distinguished by Role.
type User struct {
	ID             string        `json:"_id"`
	Name           string        `json:"name"`
	Username       string        `json:"username"`
	Email          string        `json:"email"`
	PasswordHash   string        `json:"-"`
	Role           AccountRole   `json:"role"`
	Status         AccountStatus `json:"status"`
	Verified       bool          `json:"isVerified"`
	OTPCode        string        `json:"-"`
	OTPExpiresAt   *time.Time    `json:"-"`
	ApprovalToken  string        `json:"-"`
	RejectionToken string        `json:"-"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Identity returns the authenticated identity of the account.
func (u *User) Identity() Identity {
	return Authenticated(u.ID, u.Username, u.Role)
}

// OTPValid reports whether code matches the pending OTP and has not expired.
func (u *User) OTPValid(code string, now time.Time) (matches bool, expired bool) {
	if u.OTPCode == "" || u.OTPCode != code {
		return false, false
	}
	if u.OTPExpiresAt == nil || now.After(*u.OTPExpiresAt) {
		return true, true
	}
	return true, false
}
