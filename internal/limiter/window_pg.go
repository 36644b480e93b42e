package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/bruh/internal/errs"
)

// PGWindow keeps send windows in the rate_limits table. Admit is one upsert
// whose DO UPDATE only fires while the window has room (or has ended), so the
// row lock taken by ON CONFLICT serialises concurrent attempts on a key.
type PGWindow struct {
	pool   pgxQuerier
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewPGWindow constructs a PostgreSQL-backed window guard.
func NewPGWindow(q pgxQuerier, limit int, window time.Duration) *PGWindow {
	return &PGWindow{pool: q, limit: limit, window: window, now: time.Now}
}

// Admit implements WindowGuard.
func (l *PGWindow) Admit(ctx context.Context, identifier, resource string) (Window, error) {
	const q = `
INSERT INTO rate_limits (identifier, resource, count, window_start, window_end)
VALUES ($1, $2, 1, $3, $4)
ON CONFLICT (identifier, resource) DO UPDATE
SET
  count        = CASE WHEN rate_limits.window_end <= EXCLUDED.window_start THEN 1 ELSE rate_limits.count + 1 END,
  window_start = CASE WHEN rate_limits.window_end <= EXCLUDED.window_start THEN EXCLUDED.window_start ELSE rate_limits.window_start END,
  window_end   = CASE WHEN rate_limits.window_end <= EXCLUDED.window_start THEN EXCLUDED.window_end ELSE rate_limits.window_end END
WHERE rate_limits.window_end <= EXCLUDED.window_start OR rate_limits.count < $5
RETURNING count, window_start, window_end`

	// timestamptz keeps microseconds; truncate so Refund can match exactly.
	now := l.now().UTC().Truncate(time.Microsecond)
	w := Window{Identifier: identifier, Resource: resource}
	err := l.pool.QueryRow(ctx, q, identifier, resource, now, now.Add(l.window), l.limit).
		Scan(&w.Count, &w.Start, &w.End)
	switch {
	case err == nil:
		return w, nil
	case errors.Is(err, pgx.ErrNoRows):
		return Window{}, l.rejected(ctx, identifier, resource, now)
	default:
		return Window{}, err
	}
}

func (l *PGWindow) rejected(ctx context.Context, identifier, resource string, now time.Time) error {
	const q = `SELECT window_end FROM rate_limits WHERE identifier=$1 AND resource=$2`
	var end time.Time
	if err := l.pool.QueryRow(ctx, q, identifier, resource).Scan(&end); err != nil {
		// The rejection itself is authoritative; only the hint is lost.
		return &errs.RateLimitError{RetryAfter: l.window}
	}
	retry := end.Sub(now)
	if retry < 0 {
		retry = 0
	}
	return &errs.RateLimitError{RetryAfter: retry}
}

// Refund implements WindowGuard.
func (l *PGWindow) Refund(ctx context.Context, w Window) error {
	const q = `
UPDATE rate_limits SET count = count - 1
WHERE identifier=$1 AND resource=$2 AND window_start=$3 AND count > 0`
	_, err := l.pool.Exec(ctx, q, w.Identifier, w.Resource, w.Start)
	return err
}
