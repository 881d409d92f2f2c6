package models

import "time"

// BreakerState is the circuit breaker state for a provider.
type BreakerState string

const (
	// BreakerClosed indicates normal operation, calls permitted
	BreakerClosed BreakerState = "closed"

	// BreakerOpen indicates the circuit tripped, calls are not attempted
	BreakerOpen BreakerState = "open"

	// BreakerHalfOpen indicates a single trial call is permitted
	BreakerHalfOpen BreakerState = "half_open"
)

// TransitionCause records why the breaker last changed state.
type TransitionCause string

const (
	// CauseAutomatic marks a transition driven by outcome statistics
	CauseAutomatic TransitionCause = "automatic"

	// CauseManual marks an operator override via the admin surface
	CauseManual TransitionCause = "manual"

	// CauseAuthFailure marks a provider disabled after a credential rejection
	CauseAuthFailure TransitionCause = "auth_failure"
)

// HealthState is a point-in-time view of a provider's breaker state,
// exposed for the admin and metrics surfaces.
type HealthState struct {
	ProviderID          string          `json:"provider_id"`
	State               BreakerState    `json:"state"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	SuccessCount        uint64          `json:"success_count"`
	FailureCount        uint64          `json:"failure_count"`
	SkipCount           uint64          `json:"skip_count"`
	LatencyEWMAMillis   float64         `json:"latency_ewma_ms"`
	SuccessRateEWMA     float64         `json:"success_rate_ewma"`
	LastTransitionAt    time.Time       `json:"last_transition_at"`
	Cause               TransitionCause `json:"cause"`
}
