package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/bruh/internal/errs"
	"github.com/and161185/bruh/internal/model"
	"github.com/and161185/bruh/internal/repository"
)

func newMessage() *model.Message {
	return &model.Message{
		ID:          uuid.Must(uuid.NewV4()),
		RecipientID: uuid.Must(uuid.NewV4()),
		Envelope: model.Envelope{
			Ciphertext:      []byte("ciphertext"),
			Nonce:           make([]byte, 24),
			SenderPublicKey: make([]byte, 32),
		},
		SenderDeviceHash: "dev",
		SenderIPHash:     "ip",
		Status:           model.StatusVisible,
		ModerationScore:  0.1,
		CreatedAt:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

var defaultQuotas = repository.Quotas{SenderLimit: 2, RecipientLimit: 50}

func expectLockAndCount(mock pgxmock.PgxPoolIface, sent int) {
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtextextended\(\$1, 0\)\)`).
		WithArgs("dev").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM anonymous_messages WHERE sender_device_hash=\$1`).
		WithArgs("dev").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(sent))
}

func TestLedger_Deliver_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewLedger(db)
	m := newMessage()

	mock.ExpectBegin()
	expectLockAndCount(mock, 1)
	mock.ExpectExec(`UPDATE users SET message_count_received = message_count_received \+ 1`).
		WithArgs(m.RecipientID, int64(50)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO anonymous_messages`).
		WithArgs(m.ID, m.RecipientID, m.Envelope.Ciphertext, m.Envelope.Nonce, m.Envelope.SenderPublicKey,
			"dev", "ip", "visible", false, 0.1, "", m.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, l.Deliver(context.Background(), m, defaultQuotas))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_Deliver_SenderQuotaRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewLedger(db)

	mock.ExpectBegin()
	expectLockAndCount(mock, 2)
	mock.ExpectRollback()

	err := l.Deliver(context.Background(), newMessage(), defaultQuotas)
	require.ErrorIs(t, err, errs.ErrSenderQuota)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_Deliver_RecipientQuotaRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewLedger(db)
	m := newMessage()

	mock.ExpectBegin()
	expectLockAndCount(mock, 0)
	mock.ExpectExec(`UPDATE users SET message_count_received`).
		WithArgs(m.RecipientID, int64(50)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := l.Deliver(context.Background(), m, defaultQuotas)
	require.ErrorIs(t, err, errs.ErrRecipientQuota)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_Deliver_InsertErrorRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewLedger(db)
	m := newMessage()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET message_count_received`).
		WithArgs(m.RecipientID, int64(0)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO anonymous_messages`).
		WithArgs(m.ID, m.RecipientID, m.Envelope.Ciphertext, m.Envelope.Nonce, m.Envelope.SenderPublicKey,
			"dev", "ip", "visible", false, 0.1, "", m.CreatedAt).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	// no sender limit: no lock, no recount
	err := l.Deliver(context.Background(), m, repository.Quotas{})
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}
