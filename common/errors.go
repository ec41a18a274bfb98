// Package common defines shared constants and sentinel errors used across
// the gridsync layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Local storage errors.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Remote adapter errors.
	ErrRateLimited        = errors.New("rate limited")
	ErrNotFound           = errors.New("not found")
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// Token lifecycle errors.
	ErrAuthExpired      = errors.New("authorization expired")
	ErrValidationFailed = errors.New("token validation failed")
	ErrSignedOut        = errors.New("signed out")
)
