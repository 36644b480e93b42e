package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/bruh/internal/instrument"
	"github.com/and161185/bruh/internal/model"
)

// Store is the part of the message repository the worker needs.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Message, error)
	ListUnmoderated(ctx context.Context, limit int) ([]model.Message, error)
	UpdateModeration(ctx context.Context, id uuid.UUID, status model.MessageStatus, score float64, reason string) (model.MessageStatus, error)
}

// Worker re-classifies stored messages in the background.
type Worker struct {
	store   Store
	cls     Classifier
	log     *zap.Logger
	metrics *instrument.Metrics
}

// NewWorker constructs a moderation worker. metrics may be nil.
func NewWorker(store Store, cls Classifier, log *zap.Logger, metrics *instrument.Metrics) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{store: store, cls: cls, log: log, metrics: metrics}
}

// FeaturesOf extracts classifier input from a message.
func FeaturesOf(m *model.Message) Features {
	return Features{
		CiphertextLength: len(m.Envelope.Ciphertext),
		Metadata:         map[string]string{"source": "worker"},
	}
}

// RunOnce classifies up to batch unmoderated messages and returns how many
// were updated. A failure on one message is logged and does not stop the batch.
func (w *Worker) RunOnce(ctx context.Context, batch int) (int, error) {
	msgs, err := w.store.ListUnmoderated(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("list unmoderated: %w", err)
	}
	n := 0
	for i := range msgs {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := w.apply(ctx, &msgs[i]); err != nil {
			w.log.Warn("moderation failed", zap.String("message_id", msgs[i].ID.String()), zap.Error(err))
			continue
		}
		n++
	}
	w.metrics.ModerationProcessed(n)
	return n, nil
}

// Recheck re-classifies a single message regardless of its moderated flag.
func (w *Worker) Recheck(ctx context.Context, id uuid.UUID) (model.MessageStatus, error) {
	m, err := w.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if err := w.apply(ctx, m); err != nil {
		return "", err
	}
	w.metrics.ModerationProcessed(1)
	return m.Status, nil
}

// apply classifies m and persists the verdict. Recipient decisions
// (blocked, deleted) are never overridden, including ones made after m was read.
func (w *Worker) apply(ctx context.Context, m *model.Message) error {
	v, err := w.cls.Classify(ctx, FeaturesOf(m))
	if err != nil {
		return err
	}
	if err := v.Check(); err != nil {
		return err
	}
	status := m.Status
	switch {
	case status == model.StatusBlocked || status == model.StatusDeleted:
	case v.ShouldQuarantine:
		status = model.StatusQuarantined
	default:
		status = model.StatusVisible
	}
	stored, err := w.store.UpdateModeration(ctx, m.ID, status, v.Score, v.Reason)
	if err != nil {
		return err
	}
	if stored != status {
		w.log.Info("recipient decision kept", zap.String("message_id", m.ID.String()), zap.String("status", string(stored)))
	}
	m.Status, m.Moderated, m.ModerationScore, m.ModerationReason = stored, true, v.Score, v.Reason
	return nil
}

// Run calls RunOnce every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, interval time.Duration, batch int) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		n, err := w.RunOnce(ctx, batch)
		switch {
		case err != nil && ctx.Err() == nil:
			w.log.Error("moderation pass", zap.Error(err))
		case n > 0:
			w.log.Info("moderation pass", zap.Int("processed", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
