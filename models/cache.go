package models

import (
	"encoding/json"
	"time"
)

// CacheEntry stores a memoized provider response keyed by request fingerprint.
// Entries are immutable once written; a refill is a new entry under the same
// fingerprint, last-write-wins.
type CacheEntry struct {
	Fingerprint string          `json:"fingerprint"`
	Category    Category        `json:"category"`
	ProviderID  string          `json:"provider_id"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	TTL         time.Duration   `json:"ttl"`
}
