package effects

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func waitAll(t *testing.T, tr *Tracker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Wait(ctx))
}

func TestTrackIsolatesFailures(t *testing.T) {
	defer goleak.VerifyNone(t)
	tr := NewTracker(10)
	ctx := context.Background()

	release := make(chan struct{})
	start := time.Now()
	tr.Track(ctx, CategoryThreadSync, "blocked", func(context.Context) error {
		<-release
		return nil
	})
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Track does not wait for the effect")

	tr.Track(ctx, CategoryScarUsage, "fails", func(context.Context) error {
		return errors.New("remote said no")
	})
	waitFor(t, tr, "fails")
	tr.Track(ctx, CategoryScarUsage, "panics", func(context.Context) error {
		panic("boom")
	})
	waitFor(t, tr, "panics")
	close(release)
	waitAll(t, tr)

	report := tr.HealthReport(10)
	assert.False(t, report.Healthy)
	assert.Equal(t, CategoryStats{Succeeded: 1}, report.Categories[CategoryThreadSync])
	assert.Equal(t, CategoryStats{Failed: 2}, report.Categories[CategoryScarUsage])
	assert.Empty(t, report.Pending)

	require.Len(t, report.RecentFailures, 2)
	assert.Equal(t, "panics", report.RecentFailures[0].Label, "newest first")
	assert.Contains(t, report.RecentFailures[0].Error, "panic: boom")
	assert.Equal(t, "remote said no", report.RecentFailures[1].Error)

	limited := tr.HealthReport(1)
	assert.Len(t, limited.RecentFailures, 1)
}

// waitFor blocks until the effect with label has finished.
func waitFor(t *testing.T, tr *Tracker, label string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, rec := range tr.Recent() {
			if rec.Label == label {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTrackerHistoryIsBounded(t *testing.T) {
	defer goleak.VerifyNone(t)
	tr := NewTracker(3)

	for i := 0; i < 5; i++ {
		label := string(rune('a' + i))
		tr.Track(context.Background(), CategoryEmbedding, label, func(context.Context) error { return nil })
		waitFor(t, tr, label)
	}
	waitAll(t, tr)

	recent := tr.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, []string{"e", "d", "c"}, []string{recent[0].Label, recent[1].Label, recent[2].Label})
	assert.Equal(t, 5, tr.HealthReport(0).Categories[CategoryEmbedding].Succeeded, "counts outlive the ring")
	assert.True(t, tr.HealthReport(0).Healthy)
}

func TestTrackDetachesFromCallerContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	tr := NewTracker(0)

	ctx, cancel := context.WithCancel(WithSession(context.Background(), "s-42"))
	cancel()

	var seenErr error
	tr.Track(ctx, CategorySessionSync, "upload", func(ctx context.Context) error {
		seenErr = ctx.Err()
		return nil
	})
	waitAll(t, tr)

	assert.NoError(t, seenErr)
	recent := tr.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "s-42", recent[0].SessionID)
	assert.True(t, recent[0].Succeeded())
}

func TestWaitHonorsContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	tr := NewTracker(0)

	release := make(chan struct{})
	tr.Track(context.Background(), CategoryCacheWarm, "slow", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.Wait(ctx), context.DeadlineExceeded)

	report := tr.HealthReport(5)
	require.Len(t, report.Pending, 1)
	assert.Equal(t, StatePending, report.Pending[0].State)
	assert.Equal(t, 1, report.Categories[CategoryCacheWarm].Pending)

	close(release)
	waitAll(t, tr)
	assert.Equal(t, 0, tr.HealthReport(5).Categories[CategoryCacheWarm].Pending)
}
