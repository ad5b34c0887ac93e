package keystone

import "github.com/MrEthical07/keystone/domain"

// Sentinels returned by Engine methods. Match them with errors.Is.
var (
	ErrValidation         = domain.ErrValidation
	ErrInvalidCredentials = domain.ErrInvalidCredentials
	ErrInvalidToken       = domain.ErrInvalidToken
	ErrExpiredToken       = domain.ErrExpiredToken
	// ErrTokenReuse never leaves the Engine; Refresh reports it as
	// ErrInvalidToken after revoking every session of the owner.
	ErrTokenReuse        = domain.ErrTokenReuse
	ErrInvalidCode       = domain.ErrInvalidCode
	ErrConflict          = domain.ErrConflict
	ErrAccountDisabled   = domain.ErrAccountDisabled
	ErrNotFound          = domain.ErrNotFound
	ErrMFAAlreadyEnabled = domain.ErrMFAAlreadyEnabled
	ErrMFANotEnabled     = domain.ErrMFANotEnabled
	ErrRateLimited       = domain.ErrRateLimited
	ErrEngineNotReady    = domain.ErrEngineNotReady
)

// ValidationError lists every rule an input violated. It matches
// ErrValidation.
type ValidationError = domain.ValidationError

// FieldError is one entry of a ValidationError.
type FieldError = domain.FieldError

// RateLimitError carries the wait before the next allowed attempt. It
// matches ErrRateLimited.
type RateLimitError = domain.RateLimitError
