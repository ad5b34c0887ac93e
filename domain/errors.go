package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials covers both unknown accounts and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken covers malformed, unknown, used, revoked, wrong-kind and expired tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned by stateless access-token validation only.
	ErrExpiredToken = errors.New("token expired")
	// ErrTokenReuse is a refresh token presented after it was rotated or revoked.
	ErrTokenReuse = fmt.Errorf("%w: refresh token reuse", ErrInvalidToken)
	// ErrInvalidCode is a wrong TOTP or backup code.
	ErrInvalidCode = errors.New("invalid code")
	// ErrConflict is a duplicate email or username.
	ErrConflict = errors.New("conflict")
	// ErrAccountDisabled is an inactive account.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrNotFound is internal only; orchestrator flows translate it.
	ErrNotFound = errors.New("not found")
	// ErrMFAAlreadyEnabled rejects setup for an already enrolled user.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFANotEnabled rejects operations that need an enabled enrollment.
	ErrMFANotEnabled = errors.New("mfa not enabled")
	// ErrRateLimited matches every *RateLimitError via errors.Is.
	ErrRateLimited = errors.New("rate limited")
	// ErrEngineNotReady is returned when a component was built without a dependency.
	ErrEngineNotReady = errors.New("engine not ready")
)

// FieldError is one violated rule on one input field.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError lists every rule the input violated.
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError returns a ValidationError for a single field rule.
func NewValidationError(field, rule, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Rule: rule, Message: message}}}
}

// Add appends a field violation.
func (e *ValidationError) Add(field, rule, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Rule: rule, Message: message})
}

// Merge appends the violations of other.
func (e *ValidationError) Merge(other *ValidationError) {
	if other == nil {
		return
	}
	e.Fields = append(e.Fields, other.Fields...)
}

// OrNil returns nil when no violation was recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RateLimitError is a throttling signal with a retry hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrRateLimited) hold.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
