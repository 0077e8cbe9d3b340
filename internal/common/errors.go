// Package common defines shared constants and sentinel errors used across
// client and server layers of GophVault. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// ErrStaleState is returned when a record changed between read and write
	// (optimistic version mismatch). The caller lost a race and should reload.
	ErrStaleState = errors.New("stale state")

	// Validation errors.
	ErrValidation = errors.New("validation error")

	// Access request lifecycle errors.
	ErrDuplicatePendingRequest = errors.New("duplicate pending request")
	ErrInvalidStateTransition  = errors.New("invalid state transition")
	ErrInvalidOTP              = errors.New("invalid otp")

	// Decryption gate errors.
	ErrDecryption    = errors.New("decryption error")
	ErrNotAuthorized = errors.New("not authorized")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// ErrorAlreadyExists is returned when a unique user attribute is taken.
	ErrorAlreadyExists = errors.New("already exists")
)
