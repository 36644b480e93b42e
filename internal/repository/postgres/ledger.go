package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/bruh/internal/errs"
	"github.com/and161185/bruh/internal/model"
	"github.com/and161185/bruh/internal/repository"
)

// Ledger implements repository.Ledger. Deliveries from one device are
// serialised with a transaction-scoped advisory lock on the device hash; the
// recipient counter row lock serialises deliveries to one recipient.
type Ledger struct{ db *DB }

// NewLedger constructs a delivery ledger.
func NewLedger(db *DB) *Ledger { return &Ledger{db: db} }

// Deliver implements repository.Ledger.
func (l *Ledger) Deliver(ctx context.Context, m *model.Message, q repository.Quotas) (err error) {
	tx, err := l.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const lock = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`
	const count = `SELECT count(*) FROM anonymous_messages WHERE sender_device_hash=$1`
	const bump = `
UPDATE users
SET message_count_received = message_count_received + 1
WHERE id = $1 AND (is_paid OR $2 <= 0 OR message_count_received < $2)`
	const ins = `
INSERT INTO anonymous_messages (id, recipient_id, content_ciphertext, content_nonce, sender_public_key,
  sender_device_hash, sender_ip_hash, status, moderated, moderation_score, moderation_reason, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	if q.SenderLimit > 0 {
		if _, err = tx.Exec(ctx, lock, m.SenderDeviceHash); err != nil {
			return err
		}
		var sent int
		if err = tx.QueryRow(ctx, count, m.SenderDeviceHash).Scan(&sent); err != nil {
			return err
		}
		if sent >= q.SenderLimit {
			return errs.ErrSenderQuota
		}
	}

	tag, err := tx.Exec(ctx, bump, m.RecipientID, q.RecipientLimit)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrRecipientQuota
	}

	_, err = tx.Exec(ctx, ins, m.ID, m.RecipientID, m.Envelope.Ciphertext, m.Envelope.Nonce, m.Envelope.SenderPublicKey,
		m.SenderDeviceHash, m.SenderIPHash, string(m.Status), m.Moderated, m.ModerationScore, m.ModerationReason, m.CreatedAt)
	return err
}
