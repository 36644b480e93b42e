// Package limiter implements rate limiting: the per-(device, recipient) send
// window guarding message delivery, and the login lockout guarding sessions.
package limiter

import (
	"context"
	"time"
)

// ResourceMessageSend is the only window resource used by delivery.
const ResourceMessageSend = "message_send"

// Window is a fixed counting interval for one (identifier, resource) pair.
type Window struct {
	Identifier string
	Resource   string
	Count      int
	Start      time.Time
	End        time.Time
}

// WindowGuard admits actions into fixed windows. Implementations make Admit a
// single atomic check-and-increment: concurrent callers on the same key can
// never be admitted past the limit.
type WindowGuard interface {
	// Admit increments the current window or opens a new one when the old one
	// has ended. It returns *errs.RateLimitError when the window is full.
	Admit(ctx context.Context, identifier, resource string) (Window, error)
	// Refund gives back one slot taken by Admit, provided w is still the
	// current window for its key. Used when a later gate rejects the request.
	Refund(ctx context.Context, w Window) error
}

// Limiter controls login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether login is currently allowed and optional retry-after.
	Allow(ctx context.Context, username, ipHash string) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, username, ipHash string) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, username, ipHash string) (bool, time.Duration, error)
}
