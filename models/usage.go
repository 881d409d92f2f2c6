package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outcome classifies how an attributed provider attempt ended.
type Outcome string

const (
	// OutcomeSuccess marks a completed call with a usable result
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure marks an attempted call that failed
	OutcomeFailure Outcome = "failure"

	// OutcomeSkipped marks a candidate bypassed without a billable attempt
	OutcomeSkipped Outcome = "skipped"
)

// UsageRecord is one append-only entry of the usage ledger.
// Records are never mutated after creation.
type UsageRecord struct {
	ID         uuid.UUID       `json:"id"`
	ProviderID string          `json:"provider_id"`
	CallerID   string          `json:"caller_id"`
	Category   Category        `json:"category"`
	Timestamp  time.Time       `json:"timestamp"`
	Cost       decimal.Decimal `json:"cost"`
	Outcome    Outcome         `json:"outcome"`

	// ErrorKind carries the adapter error classification for failed attempts
	ErrorKind string `json:"error_kind,omitempty"`

	// LatencyMs is the observed adapter latency for attempted calls
	LatencyMs int64 `json:"latency_ms,omitempty"`
}
