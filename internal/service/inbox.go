package service

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bruh/internal/errs"
	"github.com/and161185/bruh/internal/model"
	"github.com/and161185/bruh/internal/repository"
)

// InboxService is the recipient's read path.
type InboxService struct {
	msgs repository.MessageRepository
}

// NewInboxService constructs an inbox service.
func NewInboxService(msgs repository.MessageRepository) *InboxService {
	return &InboxService{msgs: msgs}
}

// List returns the recipient's messages, newest first. Hidden messages
// (quarantined, blocked, deleted) are included only on request.
func (s *InboxService) List(ctx context.Context, recipientID uuid.UUID, includeHidden bool) ([]model.Message, error) {
	if recipientID == uuid.Nil {
		return nil, errs.ErrUnauthorized
	}
	return s.msgs.ListByRecipient(ctx, recipientID, includeHidden)
}

// SetStatus lets a recipient show, block or delete one of their messages.
// Quarantine is reserved for moderation.
func (s *InboxService) SetStatus(ctx context.Context, recipientID, messageID uuid.UUID, status model.MessageStatus) error {
	if recipientID == uuid.Nil {
		return errs.ErrUnauthorized
	}
	switch status {
	case model.StatusVisible, model.StatusBlocked, model.StatusDeleted:
	default:
		return errs.Validation("status", "must be visible, blocked or deleted")
	}
	if messageID == uuid.Nil {
		return errs.Validation("id", "is required")
	}
	return s.msgs.SetStatus(ctx, recipientID, messageID, status)
}
