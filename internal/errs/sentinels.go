// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a set-once field was already set.
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates malformed or missing input; the caller must correct it.
	ErrValidation = errors.New("validation failed")

	// ErrDecoding indicates a malformed key, nonce or ciphertext encoding.
	// At the transport boundary it is reported like ErrValidation.
	ErrDecoding = errors.New("malformed encoding")

	// ErrDecryption indicates an envelope failed authentication on open.
	ErrDecryption = errors.New("decryption failed")

	// ErrRateLimited indicates a rate window (send or login) is exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrSenderQuota indicates the sending device used up its global quota.
	ErrSenderQuota = errors.New("sender quota exceeded")

	// ErrRecipientQuota indicates the recipient cannot accept more messages.
	ErrRecipientQuota = errors.New("recipient quota exceeded")

	// ErrInternal indicates a failure unrelated to the input. Never shown verbatim.
	ErrInternal = errors.New("internal error")
)

// RateLimitError carries the time left in the exhausted window.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Validation returns an ErrValidation-wrapped error naming the offending field.
func Validation(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}
