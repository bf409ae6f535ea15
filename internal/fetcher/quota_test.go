package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newClockedQuota(limit int, window time.Duration) (*QuotaTracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	q := NewQuotaTracker(limit, window)
	q.now = clock.now
	return q, clock
}

func TestQuotaTracker_WindowResets(t *testing.T) {
	q, clock := newClockedQuota(2, time.Minute)

	assert.Zero(t, q.reserve())
	assert.Zero(t, q.reserve())
	assert.Equal(t, 0, q.Remaining())
	assert.Equal(t, time.Minute, q.reserve())

	clock.t = clock.t.Add(30 * time.Second)
	assert.Equal(t, 30*time.Second, q.reserve())

	clock.t = clock.t.Add(30 * time.Second)
	assert.Zero(t, q.reserve())
	assert.Equal(t, 1, q.Remaining())
}

func TestQuotaTracker_Suspend(t *testing.T) {
	q, clock := newClockedQuota(10, time.Minute)

	q.Suspend(20 * time.Second)
	q.Suspend(5 * time.Second)
	assert.Equal(t, 20*time.Second, q.reserve())

	clock.t = clock.t.Add(20 * time.Second)
	assert.Zero(t, q.reserve())
}

func TestQuotaTracker_Reset(t *testing.T) {
	q, _ := newClockedQuota(1, time.Hour)
	assert.Zero(t, q.reserve())
	q.Suspend(time.Minute)

	q.Reset()
	assert.Equal(t, 1, q.Remaining())
	assert.Zero(t, q.reserve())
}

func TestQuotaTracker_Disabled(t *testing.T) {
	q := NewQuotaTracker(0, time.Minute)
	for range 100 {
		require.NoError(t, q.Acquire(context.Background()))
	}
	assert.Equal(t, -1, q.Remaining())
}

func TestQuotaTracker_AcquireHonorsContext(t *testing.T) {
	q := NewQuotaTracker(1, time.Hour)
	require.NoError(t, q.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := q.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQuotaTracker_AcquireWaitsForWindow(t *testing.T) {
	q := NewQuotaTracker(1, 30*time.Millisecond)
	require.NoError(t, q.Acquire(context.Background()))

	start := time.Now()
	require.NoError(t, q.Acquire(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}
