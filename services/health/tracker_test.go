package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dearplant/dearplant/models"
)

func newTestTracker(t *testing.T) (*Tracker, *time.Time) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	tracker := NewTracker(Config{
		FailureThreshold: 3,
		Window:           time.Minute,
		Cooldown:         30 * time.Second,
		LatencyAlpha:     0.3,
		SuccessAlpha:     0.1,
	}, logger)

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }
	return tracker, &current
}

func TestTracker_OpensAfterConsecutiveFailures(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.ReportFailure("plantnet", 100*time.Millisecond)
	tracker.ReportFailure("plantnet", 100*time.Millisecond)
	assert.Equal(t, models.BreakerClosed, tracker.State("plantnet"))

	tracker.ReportFailure("plantnet", 100*time.Millisecond)
	assert.Equal(t, models.BreakerOpen, tracker.State("plantnet"))
	assert.False(t, tracker.Allow("plantnet"))
}

func TestTracker_SuccessResetsConsecutiveCount(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.ReportFailure("plantnet", 0)
	tracker.ReportFailure("plantnet", 0)
	tracker.ReportSuccess("plantnet", 50*time.Millisecond)
	tracker.ReportFailure("plantnet", 0)
	tracker.ReportFailure("plantnet", 0)

	assert.Equal(t, models.BreakerClosed, tracker.State("plantnet"))
}

func TestTracker_WindowExpiryResetsCount(t *testing.T) {
	tracker, current := newTestTracker(t)

	tracker.ReportFailure("plantnet", 0)
	tracker.ReportFailure("plantnet", 0)

	// Failures outside the window start a fresh count
	*current = current.Add(2 * time.Minute)
	tracker.ReportFailure("plantnet", 0)
	tracker.ReportFailure("plantnet", 0)

	assert.Equal(t, models.BreakerClosed, tracker.State("plantnet"))
}

func TestTracker_CooldownGrantsSingleProbe(t *testing.T) {
	tracker, current := newTestTracker(t)

	for i := 0; i < 3; i++ {
		tracker.ReportFailure("plantnet", 0)
	}
	require.Equal(t, models.BreakerOpen, tracker.State("plantnet"))
	require.False(t, tracker.Allow("plantnet"))

	*current = current.Add(31 * time.Second)
	assert.Equal(t, models.BreakerHalfOpen, tracker.State("plantnet"))

	// Only the first claimant gets the trial slot
	var wg sync.WaitGroup
	allowed := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- tracker.Allow("plantnet")
		}()
	}
	wg.Wait()
	close(allowed)

	granted := 0
	for ok := range allowed {
		if ok {
			granted++
		}
	}
	assert.Equal(t, 1, granted)
}

func TestTracker_ProbeSuccessCloses(t *testing.T) {
	tracker, current := newTestTracker(t)

	for i := 0; i < 3; i++ {
		tracker.ReportFailure("plantnet", 0)
	}
	*current = current.Add(31 * time.Second)
	require.True(t, tracker.Allow("plantnet"))

	tracker.ReportSuccess("plantnet", 80*time.Millisecond)
	assert.Equal(t, models.BreakerClosed, tracker.State("plantnet"))
	assert.True(t, tracker.Allow("plantnet"))
}

func TestTracker_ProbeFailureReopens(t *testing.T) {
	tracker, current := newTestTracker(t)

	for i := 0; i < 3; i++ {
		tracker.ReportFailure("plantnet", 0)
	}
	*current = current.Add(31 * time.Second)
	require.True(t, tracker.Allow("plantnet"))

	tracker.ReportFailure("plantnet", 0)
	assert.Equal(t, models.BreakerOpen, tracker.State("plantnet"))
	assert.False(t, tracker.Allow("plantnet"))

	// A fresh cooldown grants another probe
	*current = current.Add(31 * time.Second)
	assert.True(t, tracker.Allow("plantnet"))
}

func TestTracker_SkipReleasesProbeSlot(t *testing.T) {
	tracker, current := newTestTracker(t)

	for i := 0; i < 3; i++ {
		tracker.ReportFailure("plantnet", 0)
	}
	*current = current.Add(31 * time.Second)
	require.True(t, tracker.Allow("plantnet"))
	require.False(t, tracker.Allow("plantnet"))

	// The claimant bailed before calling the vendor
	tracker.ReportSkip("plantnet")
	assert.True(t, tracker.Allow("plantnet"))
}

func TestTracker_AuthFailureParksProvider(t *testing.T) {
	tracker, current := newTestTracker(t)

	tracker.MarkUnusable("openweather")
	assert.Equal(t, models.BreakerOpen, tracker.State("openweather"))
	assert.False(t, tracker.Allow("openweather"))

	// Cooldown does not recover an auth-parked provider
	*current = current.Add(10 * time.Minute)
	assert.Equal(t, models.BreakerOpen, tracker.State("openweather"))
	assert.False(t, tracker.Allow("openweather"))

	// A reload re-enables it
	tracker.Configure(models.Provider{ID: "openweather"})
	assert.Equal(t, models.BreakerClosed, tracker.State("openweather"))
	assert.True(t, tracker.Allow("openweather"))
}

func TestTracker_ManualOverrides(t *testing.T) {
	tracker, current := newTestTracker(t)

	tracker.ForceOpen("plantnet")
	assert.False(t, tracker.Allow("plantnet"))

	snap := tracker.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, models.CauseManual, snap[0].Cause)

	// Manual open still honors the cooldown for automatic recovery
	*current = current.Add(31 * time.Second)
	assert.Equal(t, models.BreakerHalfOpen, tracker.State("plantnet"))

	tracker.ForceClose("plantnet")
	assert.Equal(t, models.BreakerClosed, tracker.State("plantnet"))
	assert.True(t, tracker.Allow("plantnet"))
}

func TestTracker_PerProviderThresholdOverride(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.Configure(models.Provider{
		ID:      "plantid",
		Breaker: models.BreakerConfig{FailureThreshold: 1, WindowSeconds: 60, CooldownSeconds: 10},
	})

	tracker.ReportFailure("plantid", 0)
	assert.Equal(t, models.BreakerOpen, tracker.State("plantid"))
}

func TestTracker_LatencyEWMA(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.ReportSuccess("plantnet", 100*time.Millisecond)
	assert.InDelta(t, 100, tracker.LatencyEWMA("plantnet"), 0.01)

	tracker.ReportSuccess("plantnet", 200*time.Millisecond)
	assert.InDelta(t, 100*0.7+200*0.3, tracker.LatencyEWMA("plantnet"), 0.01)
}

func TestTracker_SnapshotCounters(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.ReportSuccess("b", 10*time.Millisecond)
	tracker.ReportFailure("a", 10*time.Millisecond)
	tracker.ReportSkip("a")

	snap := tracker.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ProviderID)
	assert.Equal(t, uint64(1), snap[0].FailureCount)
	assert.Equal(t, uint64(1), snap[0].SkipCount)
	assert.Equal(t, "b", snap[1].ProviderID)
	assert.Equal(t, uint64(1), snap[1].SuccessCount)
}
