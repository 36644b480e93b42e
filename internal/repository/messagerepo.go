package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bruh/internal/model"
)

// MessageRepository reads and updates stored messages. Inserts go through Ledger.
type MessageRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Message, error)
	// ListByRecipient returns the recipient's messages, newest first. Unless
	// includeHidden is set only visible messages are returned.
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, includeHidden bool) ([]model.Message, error)
	// SetStatus changes the status of a message owned by recipientID.
	SetStatus(ctx context.Context, recipientID, messageID uuid.UUID, status model.MessageStatus) error
	CountBySenderDevice(ctx context.Context, deviceHash string) (int, error)
	// ListUnmoderated returns visible messages the worker has not classified yet, oldest first.
	ListUnmoderated(ctx context.Context, limit int) ([]model.Message, error)
	// UpdateModeration stores a verdict and returns the resulting status;
	// blocked and deleted are never overwritten.
	UpdateModeration(ctx context.Context, id uuid.UUID, status model.MessageStatus, score float64, reason string) (model.MessageStatus, error)
}

// Quotas bounds a single delivery. Zero disables the corresponding limit.
type Quotas struct {
	SenderLimit    int   // stored messages per device hash, all recipients
	RecipientLimit int64 // messages an unpaid recipient may receive
}

// Ledger persists a delivery: quota enforcement, insert and recipient counter
// increment happen in one transaction, so a rejection leaves nothing behind.
type Ledger interface {
	// Deliver stores m and bumps the recipient counter. It returns
	// errs.ErrSenderQuota or errs.ErrRecipientQuota when a quota is exhausted.
	Deliver(ctx context.Context, m *model.Message, q Quotas) error
}
