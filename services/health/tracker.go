package health

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dearplant/dearplant/models"
)

// Config holds tracker-wide breaker defaults, used when a provider's own
// BreakerConfig leaves a field at zero.
type Config struct {
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration

	// LatencyAlpha is the EWMA weight of a new latency sample
	LatencyAlpha float64

	// SuccessAlpha is the EWMA weight of a new success/failure sample
	SuccessAlpha float64
}

// DefaultConfig returns the default breaker thresholds
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		Cooldown:         30 * time.Second,
		LatencyAlpha:     0.3,
		SuccessAlpha:     0.1,
	}
}

// Tracker owns the per-provider circuit breaker state. State is sharded by
// provider id; every transition is a check-and-act under that provider's own
// lock, so no two reporters can race the same transition.
type Tracker struct {
	defaults Config
	logger   *zap.Logger

	mu        sync.RWMutex
	providers map[string]*providerHealth

	now func() time.Time
}

// providerHealth is the breaker state of one provider.
type providerHealth struct {
	mu sync.Mutex

	id  string
	cfg models.BreakerConfig

	state               models.BreakerState
	cause               models.TransitionCause
	consecutiveFailures int
	windowStart         time.Time
	lastTransitionAt    time.Time

	// probeClaimed serializes the single HalfOpen trial call
	probeClaimed bool

	successCount uint64
	failureCount uint64
	skipCount    uint64
	latencyEWMA  float64 // milliseconds
	successRate  float64 // EWMA of success=1 / failure=0
}

// NewTracker creates a breaker tracker with the given defaults.
func NewTracker(defaults Config, logger *zap.Logger) *Tracker {
	return &Tracker{
		defaults:  defaults,
		logger:    logger,
		providers: make(map[string]*providerHealth),
		now:       time.Now,
	}
}

// Configure installs a provider's breaker thresholds. Called on registry
// reload; existing outcome statistics survive, but a provider parked Open by
// an authentication failure is reset, since reload is how credentials get
// corrected.
func (t *Tracker) Configure(p models.Provider) {
	ph := t.ensure(p.ID)
	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.cfg = p.Breaker
	if ph.state == models.BreakerOpen && ph.cause == models.CauseAuthFailure {
		ph.transition(models.BreakerClosed, models.CauseAutomatic, t.now())
		t.logger.Info("provider re-enabled after configuration reload",
			zap.String("provider_id", p.ID))
	}
}

// Allow reports whether a call to the provider may proceed right now.
// In HalfOpen it grants the single trial slot to the first claimant;
// everyone else is rejected as if the circuit were Open.
func (t *Tracker) Allow(providerID string) bool {
	ph := t.ensure(providerID)
	ph.mu.Lock()
	defer ph.mu.Unlock()

	now := t.now()
	switch ph.state {
	case models.BreakerClosed:
		return true
	case models.BreakerOpen:
		if ph.cause == models.CauseAuthFailure {
			return false
		}
		if now.Sub(ph.lastTransitionAt) >= t.cooldown(ph) {
			ph.transition(models.BreakerHalfOpen, models.CauseAutomatic, now)
			ph.probeClaimed = true
			t.logger.Info("circuit half-open, granting trial call",
				zap.String("provider_id", providerID))
			return true
		}
		return false
	case models.BreakerHalfOpen:
		if !ph.probeClaimed {
			ph.probeClaimed = true
			return true
		}
		return false
	}
	return false
}

// ReportSuccess records a successful call outcome.
func (t *Tracker) ReportSuccess(providerID string, latency time.Duration) {
	ph := t.ensure(providerID)
	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.successCount++
	ph.observe(latency, true, t.defaults)

	switch ph.state {
	case models.BreakerHalfOpen:
		ph.transition(models.BreakerClosed, models.CauseAutomatic, t.now())
		ph.consecutiveFailures = 0
		t.logger.Info("circuit closed after successful trial",
			zap.String("provider_id", providerID))
	case models.BreakerClosed:
		ph.consecutiveFailures = 0
	}
}

// ReportFailure records a failed call outcome and trips the circuit when the
// consecutive failure threshold is reached within the sliding window.
func (t *Tracker) ReportFailure(providerID string, latency time.Duration) {
	ph := t.ensure(providerID)
	ph.mu.Lock()
	defer ph.mu.Unlock()

	now := t.now()
	ph.failureCount++
	ph.observe(latency, false, t.defaults)

	switch ph.state {
	case models.BreakerHalfOpen:
		ph.transition(models.BreakerOpen, models.CauseAutomatic, now)
		t.logger.Warn("trial call failed, circuit re-opened",
			zap.String("provider_id", providerID))
	case models.BreakerClosed:
		window := t.window(ph)
		if ph.consecutiveFailures == 0 || now.Sub(ph.windowStart) > window {
			ph.windowStart = now
			ph.consecutiveFailures = 0
		}
		ph.consecutiveFailures++
		if ph.consecutiveFailures >= t.threshold(ph) {
			ph.transition(models.BreakerOpen, models.CauseAutomatic, now)
			t.logger.Warn("circuit opened",
				zap.String("provider_id", providerID),
				zap.Int("consecutive_failures", ph.consecutiveFailures))
		}
	}
}

// ReportSkip records a candidate bypassed without breaker impact
// (permanent request faults, quota denials).
func (t *Tracker) ReportSkip(providerID string) {
	ph := t.ensure(providerID)
	ph.mu.Lock()
	defer ph.mu.Unlock()
	ph.skipCount++

	// A skipped attempt never reached the vendor. If this caller held the
	// half-open trial slot, hand it back so another caller can probe.
	if ph.state == models.BreakerHalfOpen {
		ph.probeClaimed = false
	}
}

// MarkUnusable parks the provider Open after a credential rejection. The
// breaker will not recover on its own; a configuration reload or a manual
// close is required.
func (t *Tracker) MarkUnusable(providerID string) {
	ph := t.ensure(providerID)
	ph.mu.Lock()
	defer ph.mu.Unlock()

	if ph.state == models.BreakerOpen && ph.cause == models.CauseAuthFailure {
		return
	}
	ph.transition(models.BreakerOpen, models.CauseAuthFailure, t.now())
	t.logger.Error("provider marked unusable, credential rejected",
		zap.String("provider_id", providerID))
}

// ForceOpen is the operator override that opens the circuit. The manual
// cause is recorded so automatic transitions honor the cooldown from the
// override, not from the last automatic transition.
func (t *Tracker) ForceOpen(providerID string) {
	ph := t.ensure(providerID)
	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.transition(models.BreakerOpen, models.CauseManual, t.now())
	t.logger.Warn("circuit forced open by operator", zap.String("provider_id", providerID))
}

// ForceClose is the operator override that closes the circuit and clears the
// failure count.
func (t *Tracker) ForceClose(providerID string) {
	ph := t.ensure(providerID)
	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.transition(models.BreakerClosed, models.CauseManual, t.now())
	ph.consecutiveFailures = 0
	t.logger.Warn("circuit forced closed by operator", zap.String("provider_id", providerID))
}

// State returns the effective selection state of a provider: an Open circuit
// whose cooldown elapsed reports HalfOpen, because a trial call would be
// granted. The state is not mutated; the transition happens in Allow.
func (t *Tracker) State(providerID string) models.BreakerState {
	ph := t.ensure(providerID)
	ph.mu.Lock()
	defer ph.mu.Unlock()
	return t.effectiveLocked(ph)
}

// LatencyEWMA returns the provider's latency EWMA in milliseconds.
func (t *Tracker) LatencyEWMA(providerID string) float64 {
	ph := t.ensure(providerID)
	ph.mu.Lock()
	defer ph.mu.Unlock()
	return ph.latencyEWMA
}

// Snapshot returns a point-in-time view of every tracked provider,
// sorted by provider id.
func (t *Tracker) Snapshot() []models.HealthState {
	t.mu.RLock()
	phs := make([]*providerHealth, 0, len(t.providers))
	for _, ph := range t.providers {
		phs = append(phs, ph)
	}
	t.mu.RUnlock()

	out := make([]models.HealthState, 0, len(phs))
	for _, ph := range phs {
		ph.mu.Lock()
		out = append(out, models.HealthState{
			ProviderID:          ph.id,
			State:               t.effectiveLocked(ph),
			ConsecutiveFailures: ph.consecutiveFailures,
			SuccessCount:        ph.successCount,
			FailureCount:        ph.failureCount,
			SkipCount:           ph.skipCount,
			LatencyEWMAMillis:   ph.latencyEWMA,
			SuccessRateEWMA:     ph.successRate,
			LastTransitionAt:    ph.lastTransitionAt,
			Cause:               ph.cause,
		})
		ph.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}

func (t *Tracker) effectiveLocked(ph *providerHealth) models.BreakerState {
	if ph.state == models.BreakerOpen &&
		ph.cause != models.CauseAuthFailure &&
		t.now().Sub(ph.lastTransitionAt) >= t.cooldown(ph) {
		return models.BreakerHalfOpen
	}
	return ph.state
}

// ensure returns the provider's health shard, creating it lazily on first
// reference. New providers start Closed.
func (t *Tracker) ensure(providerID string) *providerHealth {
	t.mu.RLock()
	ph, ok := t.providers[providerID]
	t.mu.RUnlock()
	if ok {
		return ph
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if ph, ok = t.providers[providerID]; ok {
		return ph
	}
	ph = &providerHealth{
		id:          providerID,
		state:       models.BreakerClosed,
		cause:       models.CauseAutomatic,
		successRate: 1.0,
	}
	t.providers[providerID] = ph
	return ph
}

func (t *Tracker) threshold(ph *providerHealth) int {
	if ph.cfg.FailureThreshold > 0 {
		return ph.cfg.FailureThreshold
	}
	return t.defaults.FailureThreshold
}

func (t *Tracker) window(ph *providerHealth) time.Duration {
	if ph.cfg.WindowSeconds > 0 {
		return ph.cfg.Window()
	}
	return t.defaults.Window
}

func (t *Tracker) cooldown(ph *providerHealth) time.Duration {
	if ph.cfg.CooldownSeconds > 0 {
		return ph.cfg.Cooldown()
	}
	return t.defaults.Cooldown
}

// transition must be called with the provider lock held.
func (ph *providerHealth) transition(state models.BreakerState, cause models.TransitionCause, now time.Time) {
	ph.state = state
	ph.cause = cause
	ph.lastTransitionAt = now
	ph.probeClaimed = false
}

// observe updates the informational EWMAs. Must be called with the provider
// lock held.
func (ph *providerHealth) observe(latency time.Duration, success bool, defaults Config) {
	alpha := defaults.LatencyAlpha
	sample := float64(latency.Milliseconds())
	if latency > 0 {
		if ph.latencyEWMA == 0 {
			ph.latencyEWMA = sample
		} else {
			ph.latencyEWMA = ph.latencyEWMA*(1-alpha) + sample*alpha
		}
	}

	v := 0.0
	if success {
		v = 1.0
	}
	ph.successRate = ph.successRate*(1-defaults.SuccessAlpha) + v*defaults.SuccessAlpha
}
