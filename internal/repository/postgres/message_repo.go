package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/bruh/internal/errs"
	"github.com/and161185/bruh/internal/model"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

const messageColumns = `id, recipient_id, content_ciphertext, content_nonce, sender_public_key,
sender_device_hash, sender_ip_hash, status, moderated, moderation_score, moderation_reason, created_at`

func scanMessage(row pgx.Row) (model.Message, error) {
	var (
		m      model.Message
		status string
	)
	err := row.Scan(&m.ID, &m.RecipientID, &m.Envelope.Ciphertext, &m.Envelope.Nonce, &m.Envelope.SenderPublicKey,
		&m.SenderDeviceHash, &m.SenderIPHash, &status, &m.Moderated, &m.ModerationScore, &m.ModerationReason, &m.CreatedAt)
	m.Status = model.MessageStatus(status)
	return m, err
}

func collectMessages(rows pgx.Rows) ([]model.Message, error) {
	defer rows.Close()
	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetByID returns a single message by id.
func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	m, err := scanMessage(r.db.Pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM anonymous_messages WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListByRecipient returns the recipient's inbox, newest first.
func (r *MessageRepo) ListByRecipient(ctx context.Context, recipientID uuid.UUID, includeHidden bool) ([]model.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM anonymous_messages WHERE recipient_id=$1`
	args := []any{recipientID}
	if !includeHidden {
		q += ` AND status=$2`
		args = append(args, string(model.StatusVisible))
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// SetStatus updates the status of a message owned by recipientID.
func (r *MessageRepo) SetStatus(ctx context.Context, recipientID, messageID uuid.UUID, status model.MessageStatus) error {
	const q = `UPDATE anonymous_messages SET status=$3 WHERE id=$1 AND recipient_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, messageID, recipientID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// CountBySenderDevice counts stored messages sent from deviceHash.
func (r *MessageRepo) CountBySenderDevice(ctx context.Context, deviceHash string) (int, error) {
	const q = `SELECT count(*) FROM anonymous_messages WHERE sender_device_hash=$1`
	var n int
	if err := r.db.Pool.QueryRow(ctx, q, deviceHash).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListUnmoderated returns up to limit visible, unclassified messages, oldest first.
func (r *MessageRepo) ListUnmoderated(ctx context.Context, limit int) ([]model.Message, error) {
	q := `SELECT ` + messageColumns + `
FROM anonymous_messages
WHERE moderated = false AND status = $1
ORDER BY created_at ASC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, string(model.StatusVisible), limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// UpdateModeration records a classifier verdict, marks the message moderated
// and returns the status actually stored. A blocked or deleted message keeps
// its status even if the recipient changed it after the worker read it.
func (r *MessageRepo) UpdateModeration(ctx context.Context, id uuid.UUID, status model.MessageStatus, score float64, reason string) (model.MessageStatus, error) {
	const q = `
UPDATE anonymous_messages
SET moderated = true,
    status = CASE WHEN status IN ('blocked', 'deleted') THEN status ELSE $2 END,
    moderation_score = $3,
    moderation_reason = $4
WHERE id = $1
RETURNING status`
	var stored string
	if err := r.db.Pool.QueryRow(ctx, q, id, string(status), score, reason).Scan(&stored); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errs.ErrNotFound
		}
		return "", err
	}
	return model.MessageStatus(stored), nil
}
