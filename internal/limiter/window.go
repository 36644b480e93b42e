package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/bruh/internal/errs"
)

// Memory is an in-process WindowGuard. It is exact within one process and is
// meant for tests and single-node development; clusters use PGWindow or RedisWindow.
type Memory struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*Window
}

// NewMemory constructs an in-process window guard.
func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{limit: limit, window: window, now: time.Now, windows: make(map[string]*Window)}
}

// WithClock replaces the time source.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func windowKey(identifier, resource string) string { return resource + ":" + identifier }

// Admit implements WindowGuard.
func (m *Memory) Admit(_ context.Context, identifier, resource string) (Window, error) {
	now := m.now()
	key := windowKey(identifier, resource)

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.End) {
		w = &Window{Identifier: identifier, Resource: resource, Count: 1, Start: now, End: now.Add(m.window)}
		m.windows[key] = w
		return *w, nil
	}
	if w.Count >= m.limit {
		return Window{}, &errs.RateLimitError{RetryAfter: w.End.Sub(now)}
	}
	w.Count++
	return *w, nil
}

// Refund implements WindowGuard.
func (m *Memory) Refund(_ context.Context, w Window) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.windows[windowKey(w.Identifier, w.Resource)]
	if ok && cur.Start.Equal(w.Start) && cur.Count > 0 {
		cur.Count--
	}
	return nil
}
