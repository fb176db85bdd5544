package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/mailer"
	"github.com/xiaot623/gogo/chatrelay/internal/auth"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/policy"
)

// RegisterInput is the body of a registration request.
type RegisterInput struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is returned by operations that may log the account in.
// Token is empty when the account cannot log in yet.
type AuthResult struct {
	Message string       `json:"message"`
	Token   string       `json:"token,omitempty"`
	User    *domain.User `json:"user,omitempty"`
}

// Register creates an unverified account and mails it an OTP. Admin accounts
// additionally start pending and the approver is asked to approve them.
func (s *Service) Register(ctx context.Context, in RegisterInput, role domain.AccountRole) (*AuthResult, error) {
	in.Email = normalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || in.Username == "" || in.Email == "" || in.Password == "" {
		return nil, domain.NewValidationError("All fields are required")
	}

	exists, err := s.store.UserExists(ctx, in.Email, in.Username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.NewValidationError("User with this email or username already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.passwordCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	otp, err := generateOTP()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	otpExpires := now.Add(s.config.OTPTTL)
	user := &domain.User{
		ID:           uuid.New().String(),
		Name:         in.Name,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         role,
		Status:       domain.AccountStatusApproved,
		OTPCode:      otp,
		OTPExpiresAt: &otpExpires,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if role == domain.AccountRoleAdmin {
		user.Status = domain.AccountStatusPending
		user.ApprovalToken = uuid.New().String()
		user.RejectionToken = uuid.New().String()
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.NewValidationError("User with this email or username already exists")
		}
		return nil, err
	}

	msg := "Registration successful. Please check your email for the verification code."
	if err := s.sendOTP(ctx, user, "Verify your email"); err != nil {
		msg = "Registration successful, but the verification email could not be sent. Request a new code."
	}
	if role == domain.AccountRoleAdmin {
		s.requestApproval(ctx, user)
	}

	s.logger.InfoContext(ctx, "account registered", "user_id", user.ID, "role", role)
	return &AuthResult{Message: msg, User: user}, nil
}

// VerifyEmail checks the registration OTP and marks the account verified.
func (s *Service) VerifyEmail(ctx context.Context, email, otp string) (*AuthResult, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user.Verified {
		return nil, domain.NewValidationError("Email already verified")
	}
	if err := s.checkOTP(user, otp); err != nil {
		return nil, err
	}

	user.Verified = true
	clearOTP(user)
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return s.loginResult(user, "Email verified successfully")
}

// ResendOTP issues a new verification code for an unverified account.
func (s *Service) ResendOTP(ctx context.Context, email string) error {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if user.Verified {
		return domain.NewValidationError("Email already verified")
	}
	return s.issueOTP(ctx, user, "Your new verification code")
}

// GenerateOTP issues a one-time code for any account.
func (s *Service) GenerateOTP(ctx context.Context, email string) error {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	return s.issueOTP(ctx, user, "Your one-time code")
}

// VerifyOTP checks a one-time code and logs the account in.
func (s *Service) VerifyOTP(ctx context.Context, email, otp string) (*AuthResult, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if err := s.checkOTP(user, otp); err != nil {
		return nil, err
	}
	user.Verified = true
	clearOTP(user)
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return s.loginResult(user, "OTP verified successfully")
}

// Login checks the password and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.AuthenticationError{Reason: "Invalid email or password"}
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, &domain.AuthenticationError{Reason: "Invalid email or password"}
	}
	if !user.Verified {
		return nil, &domain.ForbiddenError{Message: "Please verify your email before logging in"}
	}
	if err := checkApproved(user); err != nil {
		return nil, err
	}
	return s.loginResult(user, "Login successful")
}

// ForgotPassword mails a reset code.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	return s.issueOTP(ctx, user, "Password reset code")
}

// ResetPassword replaces the password after checking the reset code.
func (s *Service) ResetPassword(ctx context.Context, email, otp, newPassword string) error {
	if newPassword == "" {
		return domain.NewValidationError("New password is required")
	}
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if err := s.checkOTP(user, otp); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.passwordCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = string(hash)
	clearOTP(user)
	return s.store.UpdateUser(ctx, user)
}

// ApproveAdmin approves the pending admin holding the approval token.
func (s *Service) ApproveAdmin(ctx context.Context, token string) (*domain.User, error) {
	user, err := s.store.GetUserByApprovalToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.decideAdmin(ctx, user, domain.AccountStatusApproved)
}

// RejectAdmin rejects the pending admin holding the rejection token.
func (s *Service) RejectAdmin(ctx context.Context, token string) (*domain.User, error) {
	user, err := s.store.GetUserByRejectionToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.decideAdmin(ctx, user, domain.AccountStatusRejected)
}

func (s *Service) decideAdmin(ctx context.Context, user *domain.User, status domain.AccountStatus) (*domain.User, error) {
	user.Status = status
	user.ApprovalToken = ""
	user.RejectionToken = ""
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	body := "Your admin account has been approved. You can now log in."
	if status == domain.AccountStatusRejected {
		body = "Your admin account request has been rejected."
	}
	if err := s.mailer.Send(ctx, mailer.Mail{To: user.Email, Subject: "Admin account " + string(status), Body: body}); err != nil {
		s.logger.WarnContext(ctx, "failed to send admin decision mail", "user_id", user.ID, "error", err)
	}
	s.logger.InfoContext(ctx, "admin account decided", "user_id", user.ID, "status", status)
	return user, nil
}

// Profile returns the account behind id.
func (s *Service) Profile(ctx context.Context, id domain.Identity) (*domain.User, error) {
	if err := s.Authorize(ctx, policy.ActionProfileRead, id); err != nil {
		return nil, err
	}
	return s.store.GetUserByIDAndRole(ctx, id.ID(), id.Role())
}

// ProfileUpdate is the body of a profile update. Empty fields are left as they are.
type ProfileUpdate struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateProfile changes the account behind id and returns a fresh token. A
// new email address must be verified again; a code is mailed to it.
func (s *Service) UpdateProfile(ctx context.Context, id domain.Identity, in ProfileUpdate) (*AuthResult, error) {
	if err := s.Authorize(ctx, policy.ActionProfileUpdate, id); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByIDAndRole(ctx, id.ID(), id.Role())
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(in.Name); name != "" {
		user.Name = name
	}
	if username := strings.TrimSpace(in.Username); username != "" {
		user.Username = username
	}

	email := normalizeEmail(in.Email)
	emailChanged := email != "" && email != user.Email
	if emailChanged {
		_, err := s.store.GetUserByEmail(ctx, email)
		switch {
		case err == nil:
			return nil, domain.NewValidationError("Email already in use")
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
		user.Email = email
		user.Verified = false
		if err := s.setOTP(user); err != nil {
			return nil, err
		}
	}

	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.passwordCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = string(hash)
	}

	if err := s.store.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.NewValidationError("Email or username already in use")
		}
		return nil, err
	}

	msg := "Profile updated successfully"
	if emailChanged {
		msg = "Profile updated. Please verify your new email address."
		if err := s.sendOTP(ctx, user, "Verify your new email"); err != nil {
			msg = "Profile updated, but the verification email could not be sent. Request a new code."
		}
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.logger.InfoContext(ctx, "profile updated", "user_id", user.ID, "email_changed", emailChanged)
	return &AuthResult{Message: msg, Token: token, User: user}, nil
}

// ResolveIdentity loads the account named by verified token claims. The
// token's role selects the single row that may back it.
func (s *Service) ResolveIdentity(ctx context.Context, claims auth.Claims) (domain.Identity, error) {
	user, err := s.store.GetUserByIDAndRole(ctx, claims.Subject, claims.Role)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, &domain.AuthenticationError{Reason: "account not found"}
	}
	if err != nil {
		return domain.Identity{}, err
	}
	if user.Status == domain.AccountStatusRejected {
		return domain.Identity{}, &domain.AuthenticationError{Reason: "account rejected"}
	}
	return user.Identity(), nil
}

func (s *Service) loginResult(user *domain.User, msg string) (*AuthResult, error) {
	if checkApproved(user) != nil {
		return &AuthResult{Message: msg + ". Your account is awaiting admin approval.", User: user}, nil
	}
	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResult{Message: msg, Token: token, User: user}, nil
}

// setOTP puts a fresh code on user without saving it.
func (s *Service) setOTP(user *domain.User) error {
	otp, err := generateOTP()
	if err != nil {
		return err
	}
	exp := s.now().UTC().Add(s.config.OTPTTL)
	user.OTPCode = otp
	user.OTPExpiresAt = &exp
	return nil
}

func (s *Service) issueOTP(ctx context.Context, user *domain.User, subject string) error {
	if err := s.setOTP(user); err != nil {
		return err
	}
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return err
	}
	if err := s.sendOTP(ctx, user, subject); err != nil {
		return fmt.Errorf("send otp: %w", err)
	}
	return nil
}

func (s *Service) sendOTP(ctx context.Context, user *domain.User, subject string) error {
	body := fmt.Sprintf("Hello %s,\n\nYour code is %s. It expires in %s.\n", user.Name, user.OTPCode, s.config.OTPTTL)
	err := s.mailer.Send(ctx, mailer.Mail{To: user.Email, Subject: subject, Body: body})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to send otp mail", "user_id", user.ID, "error", err)
	}
	return err
}

func (s *Service) requestApproval(ctx context.Context, user *domain.User) {
	if s.config.AdminApproverEmail == "" {
		s.logger.WarnContext(ctx, "ADMIN_APPROVER_EMAIL not set, admin approval mail skipped", "user_id", user.ID)
		return
	}
	base := s.config.PublicBaseURL
	body := fmt.Sprintf("%s (%s, %s) requested an admin account.\n\nApprove: %s/api/admin/approve/%s\nReject: %s/api/admin/reject/%s\n",
		user.Name, user.Username, user.Email, base, user.ApprovalToken, base, user.RejectionToken)
	if err := s.mailer.Send(ctx, mailer.Mail{To: s.config.AdminApproverEmail, Subject: "Admin approval request", Body: body}); err != nil {
		s.logger.WarnContext(ctx, "failed to send approval mail", "user_id", user.ID, "error", err)
	}
}

func (s *Service) checkOTP(user *domain.User, otp string) error {
	matches, expired := user.OTPValid(strings.TrimSpace(otp), s.now())
	if !matches {
		return domain.NewValidationError("Invalid OTP")
	}
	if expired {
		return domain.NewValidationError("OTP has expired")
	}
	return nil
}

func checkApproved(user *domain.User) error {
	switch user.Status {
	case domain.AccountStatusPending:
		return domain.NewValidationError("Your account is pending admin approval")
	case domain.AccountStatusRejected:
		return domain.NewValidationError("Your account has been rejected")
	}
	return nil
}

func clearOTP(user *domain.User) {
	user.OTPCode = ""
	user.OTPExpiresAt = nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateOTP returns a random 4-digit code.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()+1000), nil
}
