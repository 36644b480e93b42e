// Package delivery admits one anonymous message: it validates the envelope,
// applies the abuse gates in a fixed order and hands the record to the ledger.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/bruh/internal/crypto"
	"github.com/and161185/bruh/internal/errs"
	"github.com/and161185/bruh/internal/instrument"
	"github.com/and161185/bruh/internal/limiter"
	"github.com/and161185/bruh/internal/model"
	"github.com/and161185/bruh/internal/moderation"
	"github.com/and161185/bruh/internal/repository"
)

// MaxCiphertextBytes bounds an accepted ciphertext: 10000 four-byte
// characters plus the box overhead.
const MaxCiphertextBytes = 10000*4 + crypto.Overhead

// UnknownIP is hashed when the transport could not determine the client address.
const UnknownIP = "unknown"

// Request is an inbound send as received from the transport. Binary fields
// are still base64-encoded.
type Request struct {
	RecipientUsername string
	Ciphertext        string
	Nonce             string
	SenderPublicKey   string
	Fingerprint       model.Fingerprint
	ClientIP          string
}

// Recipients looks up message recipients.
type Recipients interface {
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

// SenderCounter counts stored messages per device hash.
type SenderCounter interface {
	CountBySenderDevice(ctx context.Context, deviceHash string) (int, error)
}

// Deps are the pipeline's collaborators. Log and Metrics may be nil.
type Deps struct {
	Users        Recipients
	Senders      SenderCounter
	Ledger       repository.Ledger
	Window       limiter.WindowGuard
	Classifier   moderation.Classifier
	DeviceHasher *crypto.Hasher
	IPHasher     *crypto.Hasher
	Log          *zap.Logger
	Metrics      *instrument.Metrics
}

// Pipeline runs the delivery gates.
type Pipeline struct {
	Deps
	quotas repository.Quotas
	now    func() time.Time
}

// New constructs a pipeline.
func New(d Deps, q repository.Quotas) *Pipeline {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Pipeline{Deps: d, quotas: q, now: time.Now}
}

// Send runs every gate in order; the first failure is returned and later
// gates do not run. Returned errors match the errs sentinels; storage and
// classifier failures are reported as errs.ErrInternal.
func (p *Pipeline) Send(ctx context.Context, req Request) (model.Receipt, error) {
	rcpt, err := p.send(ctx, req)
	if err != nil {
		p.Metrics.Rejected(reason(err))
		return model.Receipt{}, err
	}
	p.Metrics.Delivered(string(rcpt.Status))
	return rcpt, nil
}

func (p *Pipeline) send(ctx context.Context, req Request) (model.Receipt, error) {
	// 1. presence and size
	env, err := validate(req)
	if err != nil {
		return model.Receipt{}, err
	}

	// 2. recipient
	u, err := p.Users.GetByUsername(ctx, strings.ToLower(strings.TrimSpace(req.RecipientUsername)))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Receipt{}, err
		}
		return model.Receipt{}, p.internal("lookup recipient", err)
	}

	// 3. inbound quota; the ledger enforces it again atomically
	if !u.IsPaid && p.quotas.RecipientLimit > 0 && u.MessageCountReceived >= p.quotas.RecipientLimit {
		p.Log.Info("send rejected", zap.String("reason", "recipient_quota"), zap.String("recipient_id", u.ID.String()))
		return model.Receipt{}, errs.ErrRecipientQuota
	}

	// 4. identifiers
	deviceHash, err := p.DeviceHasher.Fingerprint(req.Fingerprint)
	if err != nil {
		return model.Receipt{}, err
	}
	ip := strings.TrimSpace(req.ClientIP)
	if ip == "" {
		ip = UnknownIP
	}
	ipHash := p.IPHasher.Sum(ip)
	log := p.Log.With(zap.String("device_hash", deviceHash), zap.String("recipient_id", u.ID.String()))

	// 5. per-(device, recipient) window
	w, err := p.Window.Admit(ctx, deviceHash+":"+u.ID.String(), limiter.ResourceMessageSend)
	if err != nil {
		if errors.Is(err, errs.ErrRateLimited) {
			log.Info("send rejected", zap.String("reason", "rate_limited"))
			return model.Receipt{}, err
		}
		return model.Receipt{}, p.internal("rate window", err)
	}
	// From here on a rejection gives the window slot back.
	refund := func() {
		if rerr := p.Window.Refund(context.WithoutCancel(ctx), w); rerr != nil {
			log.Warn("rate window refund failed", zap.Error(rerr))
		}
	}

	// 6. sender quota; the ledger recounts under a lock
	if p.quotas.SenderLimit > 0 {
		n, err := p.Senders.CountBySenderDevice(ctx, deviceHash)
		if err != nil {
			refund()
			return model.Receipt{}, p.internal("count sender", err)
		}
		if n >= p.quotas.SenderLimit {
			refund()
			log.Info("send rejected", zap.String("reason", "sender_quota"))
			return model.Receipt{}, errs.ErrSenderQuota
		}
	}

	// 7. moderation; a broken classifier fails closed
	v, err := p.Classifier.Classify(ctx, moderation.Features{
		CiphertextLength: len(env.Ciphertext),
		Metadata:         map[string]string{"source": "send"},
	})
	if err == nil {
		err = v.Check()
	}
	if err != nil {
		refund()
		return model.Receipt{}, p.internal("classify", err)
	}

	// 8 and 9. persist and count in one transaction
	id, err := uuid.NewV4()
	if err != nil {
		refund()
		return model.Receipt{}, p.internal("message id", err)
	}
	m := &model.Message{
		ID:               id,
		RecipientID:      u.ID,
		Envelope:         env,
		SenderDeviceHash: deviceHash,
		SenderIPHash:     ipHash,
		Status:           model.StatusVisible,
		Moderated:        v.ShouldQuarantine,
		ModerationScore:  v.Score,
		ModerationReason: v.Reason,
		CreatedAt:        p.now().UTC(),
	}
	if v.ShouldQuarantine {
		m.Status = model.StatusQuarantined
	}
	if err := p.Ledger.Deliver(ctx, m, p.quotas); err != nil {
		refund()
		if errors.Is(err, errs.ErrSenderQuota) || errors.Is(err, errs.ErrRecipientQuota) {
			log.Info("send rejected", zap.String("reason", reason(err)))
			return model.Receipt{}, err
		}
		return model.Receipt{}, p.internal("store message", err)
	}

	// 10.
	log.Info("message delivered", zap.String("message_id", id.String()), zap.String("status", string(m.Status)))
	return model.Receipt{MessageID: id, Status: m.Status}, nil
}

func (p *Pipeline) internal(op string, err error) error {
	p.Log.Error("send failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", errs.ErrInternal, op, err)
}

// validate checks presence, encoding and sizes, and decodes the envelope.
func validate(req Request) (model.Envelope, error) {
	switch {
	case strings.TrimSpace(req.RecipientUsername) == "":
		return model.Envelope{}, errs.Validation("recipientUsername", "is required")
	case req.Ciphertext == "":
		return model.Envelope{}, errs.Validation("contentCiphertext", "is required")
	case req.Nonce == "":
		return model.Envelope{}, errs.Validation("contentNonce", "is required")
	case req.SenderPublicKey == "":
		return model.Envelope{}, errs.Validation("senderPublicKey", "is required")
	case len(req.Fingerprint) == 0:
		return model.Envelope{}, errs.Validation("deviceFingerprint", "is required")
	}

	var env model.Envelope
	var err error
	if env.Ciphertext, err = crypto.DecodeBase64(req.Ciphertext); err != nil {
		return model.Envelope{}, fmt.Errorf("contentCiphertext: %w", err)
	}
	if env.Nonce, err = crypto.DecodeBase64(req.Nonce); err != nil {
		return model.Envelope{}, fmt.Errorf("contentNonce: %w", err)
	}
	if env.SenderPublicKey, err = crypto.DecodeBase64(req.SenderPublicKey); err != nil {
		return model.Envelope{}, fmt.Errorf("senderPublicKey: %w", err)
	}

	switch {
	case len(env.Ciphertext) < crypto.Overhead:
		return model.Envelope{}, errs.Validation("contentCiphertext", "is too short")
	case len(env.Ciphertext) > MaxCiphertextBytes:
		return model.Envelope{}, errs.Validation("contentCiphertext", "is too long")
	case len(env.Nonce) != crypto.NonceSize:
		return model.Envelope{}, errs.Validation("contentNonce", fmt.Sprintf("must be %d bytes", crypto.NonceSize))
	}
	if err := crypto.ValidatePublicKey(env.SenderPublicKey); err != nil {
		return model.Envelope{}, fmt.Errorf("senderPublicKey: %w", err)
	}
	return env, nil
}

// reason is the metrics label for a rejection.
func reason(err error) string {
	switch {
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrDecoding):
		return "validation"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrRecipientQuota):
		return "recipient_quota"
	case errors.Is(err, errs.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, errs.ErrSenderQuota):
		return "sender_quota"
	default:
		return "internal"
	}
}
