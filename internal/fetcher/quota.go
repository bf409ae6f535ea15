package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// QuotaTracker enforces a fixed request quota per rate window. It is
// passed explicitly to the fetcher that spends it and shared by every
// ingestion worker of one run. The count resets at the start of each
// window; a server hint can suspend spending until a later time.
type QuotaTracker struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	used        int
	windowStart time.Time
	suspended   time.Time
	now         func() time.Time
}

// NewQuotaTracker allows limit requests per window. A non-positive limit
// disables the quota.
func NewQuotaTracker(limit int, window time.Duration) *QuotaTracker {
	if window <= 0 {
		window = time.Hour
	}
	return &QuotaTracker{limit: limit, window: window, now: time.Now}
}

// Acquire takes one request from the quota, waiting for the next window
// when the current one is spent.
func (q *QuotaTracker) Acquire(ctx context.Context) error {
	for {
		wait := q.reserve()
		if wait <= 0 {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return eris.Wrap(ctx.Err(), "quota: wait")
		case <-t.C:
		}
	}
}

// reserve spends one unit and returns zero, or returns how long to wait.
func (q *QuotaTracker) reserve() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if now.Before(q.suspended) {
		return q.suspended.Sub(now)
	}
	if q.limit <= 0 {
		return 0
	}
	q.roll(now)
	if q.used < q.limit {
		q.used++
		return 0
	}
	return q.windowStart.Add(q.window).Sub(now)
}

// roll starts a new window when the current one has elapsed.
func (q *QuotaTracker) roll(now time.Time) {
	if q.windowStart.IsZero() || !now.Before(q.windowStart.Add(q.window)) {
		q.windowStart = now
		q.used = 0
	}
}

// Suspend blocks spending until now+d. A shorter suspension never
// shortens a longer one already in force.
func (q *QuotaTracker) Suspend(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	until := q.now().Add(d)
	if until.After(q.suspended) {
		q.suspended = until
	}
}

// Reset starts a fresh window and lifts any suspension.
func (q *QuotaTracker) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.windowStart = q.now()
	q.used = 0
	q.suspended = time.Time{}
}

// Remaining reports requests left in the current window, or -1 when the
// quota is disabled.
func (q *QuotaTracker) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit <= 0 {
		return -1
	}
	q.roll(q.now())
	return q.limit - q.used
}
