package models

import "time"

// QuotaScope determines which identity a budget is keyed on.
type QuotaScope string

const (
	// ScopeGlobalProvider caps total calls to a provider across all callers
	ScopeGlobalProvider QuotaScope = "global_provider"

	// ScopePerCallerProvider caps calls per (caller, provider) pair
	ScopePerCallerProvider QuotaScope = "per_caller_provider"
)

// QuotaConfig defines one budget enforced for a provider.
type QuotaConfig struct {
	// Scope selects global or per-caller accounting
	Scope QuotaScope `json:"scope" validate:"required,oneof=global_provider per_caller_provider"`

	// Limit is the maximum number of reservations per window
	Limit int64 `json:"limit" validate:"gt=0"`

	// WindowSeconds is the fixed accounting window length
	WindowSeconds int `json:"window_seconds" validate:"gt=0"`

	// RefundOnFailure refunds a caller-scope reservation when the attempt
	// fails. Provider-scope budgets are always consumed on attempt.
	RefundOnFailure bool `json:"refund_on_failure,omitempty"`
}

// Window returns the accounting window as a duration.
func (c QuotaConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// QuotaBudget is a point-in-time view of one budget window,
// exposed for the admin and metrics surfaces.
type QuotaBudget struct {
	Scope        QuotaScope    `json:"scope"`
	ProviderID   string        `json:"provider_id"`
	CallerID     string        `json:"caller_id,omitempty"`
	WindowStart  time.Time     `json:"window_start"`
	WindowLength time.Duration `json:"window_length"`
	Limit        int64         `json:"limit"`
	Used         int64         `json:"used"`
}
