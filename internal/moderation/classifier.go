// Package moderation scores messages from what the server can observe of them:
// ciphertext size and coarse request metadata, never plaintext.
package moderation

import (
	"context"
	"errors"
	"math"
)

// ReasonTooLong is reported by LengthClassifier for oversized messages.
const ReasonTooLong = "message too long"

// Features is everything a classifier may look at.
type Features struct {
	CiphertextLength int
	Metadata         map[string]string
}

// Verdict is a classifier decision. Score is in [0,1].
type Verdict struct {
	Score            float64
	ShouldQuarantine bool
	Reason           string
}

// Classifier decides whether a message should be quarantined.
type Classifier interface {
	Classify(ctx context.Context, f Features) (Verdict, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, f Features) (Verdict, error)

// Classify calls fn.
func (fn ClassifierFunc) Classify(ctx context.Context, f Features) (Verdict, error) { return fn(ctx, f) }

// ErrBadVerdict is returned by Check for out-of-range scores.
var ErrBadVerdict = errors.New("moderation: score out of range")

// Check validates a verdict returned by a third-party classifier.
func (v Verdict) Check() error {
	if math.IsNaN(v.Score) || v.Score < 0 || v.Score > 1 {
		return ErrBadVerdict
	}
	return nil
}

// LengthClassifier is the built-in stub: it only flags oversized ciphertexts.
type LengthClassifier struct {
	MaxCiphertextBytes int
}

// NewLengthClassifier returns a LengthClassifier; max <= 0 disables the check.
func NewLengthClassifier(max int) *LengthClassifier {
	return &LengthClassifier{MaxCiphertextBytes: max}
}

// Classify implements Classifier.
func (c *LengthClassifier) Classify(ctx context.Context, f Features) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	if c.MaxCiphertextBytes > 0 && f.CiphertextLength > c.MaxCiphertextBytes {
		return Verdict{Score: 0.9, ShouldQuarantine: true, Reason: ReasonTooLong}, nil
	}
	return Verdict{Score: 0.1}, nil
}
