package domain

import (
	"errors"
	"fmt"
)

// Client-visible messages.
const (
	MsgEmptyContent    = "Message content cannot be empty"
	MsgInvalidFormat   = "Invalid message format"
	MsgProcessingError = "Failed to process message"
	MsgRateLimited     = "Too many messages, slow down"
	MsgForbidden       = "Not allowed"
	MsgShuttingDown    = "Server is shutting down"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint would be violated.
	ErrConflict = errors.New("already exists")
	// ErrValidation is the sentinel matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden is the sentinel matched by every *ForbiddenError.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError reports rejected input. Message is safe to show to clients.
type ValidationError struct {
	Message string
}

// NewValidationError creates a ValidationError.
func NewValidationError(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ForbiddenError reports an identity that may not perform an operation.
// Message is safe to show to clients.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, ErrForbidden) true.
func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// AuthenticationError reports a credential that failed verification.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// StoreError wraps a persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// GatewayError wraps any failure of the model gateway.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("model gateway: %v", e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsAuthentication reports whether err is an *AuthenticationError.
func IsAuthentication(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

// IsGateway reports whether err is a *GatewayError.
func IsGateway(err error) bool {
	var target *GatewayError
	return errors.As(err, &target)
}
