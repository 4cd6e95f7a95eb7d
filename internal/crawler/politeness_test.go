package crawler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVisitTracker(t *testing.T) {
	t.Parallel()

	tracker := NewVisitTracker()
	require.True(t, tracker.MarkIfNew("https://example.org/first"))
	require.False(t, tracker.MarkIfNew("https://example.org/first"))
	require.True(t, tracker.MarkIfNew("https://example.org/second"))
	require.False(t, tracker.MarkIfNew(""), "empty URLs are never new")
}

func TestVisitTrackerConcurrentClaims(t *testing.T) {
	t.Parallel()

	tracker := NewVisitTracker()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.MarkIfNew("https://example.org/race") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestDomainBlocker(t *testing.T) {
	t.Parallel()

	blocker := NewDomainBlocker(2)
	require.False(t, blocker.IsBlocked("example.org"))
	require.False(t, blocker.MarkForbidden("example.org"))
	require.True(t, blocker.MarkForbidden("example.org"))
	require.True(t, blocker.IsBlocked("EXAMPLE.ORG"), "host comparison should be case-insensitive")
	require.False(t, blocker.IsBlocked("other.org"))
}

func TestDomainBlockerDefaultThreshold(t *testing.T) {
	t.Parallel()

	blocker := NewDomainBlocker(0)
	for i := 1; i < DefaultForbiddenThreshold; i++ {
		require.False(t, blocker.MarkForbidden("example.org"))
	}
	require.True(t, blocker.MarkForbidden("example.org"))

	var nilBlocker *DomainBlocker
	require.False(t, nilBlocker.IsBlocked("example.org"))
}

func TestPauseHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Pause(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second, "pause should exit immediately when context is done")
}

func TestPauseWaits(t *testing.T) {
	t.Parallel()

	start := time.Now()
	require.NoError(t, Pause(context.Background(), 20*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
