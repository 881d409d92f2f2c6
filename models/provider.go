package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category identifies a class of interchangeable external functionality.
type Category string

const (
	CategoryPlantID     Category = "plant-id"
	CategoryWeather     Category = "weather"
	CategoryAIChat      Category = "ai-chat"
	CategoryTranslation Category = "translation"
	CategoryModeration  Category = "moderation"
)

// KnownCategories lists every capability category the application calls out to.
var KnownCategories = []Category{
	CategoryPlantID,
	CategoryWeather,
	CategoryAIChat,
	CategoryTranslation,
	CategoryModeration,
}

// Valid reports whether the category is one of the known capability categories.
func (c Category) Valid() bool {
	for _, k := range KnownCategories {
		if c == k {
			return true
		}
	}
	return false
}

// Provider is one configured vendor implementation of a capability category.
// Provider entries are immutable between registry reloads.
type Provider struct {
	// ID uniquely identifies the provider within its category
	ID string `json:"id" validate:"required"`

	// Category this provider serves
	Category Category `json:"category" validate:"required"`

	// Priority orders the default fallback sequence (lower = preferred)
	Priority int `json:"priority" validate:"gte=0"`

	// CredentialsRef is an opaque reference resolved by the credential store
	CredentialsRef string `json:"credentials_ref"`

	// MaxConcurrency caps in-flight calls to this provider (0 = unlimited)
	MaxConcurrency int64 `json:"max_concurrency" validate:"gte=0"`

	// CostPerCall is the attributed cost of a single billed call
	CostPerCall decimal.Decimal `json:"cost_per_call"`

	// Enabled providers participate in selection
	Enabled bool `json:"enabled"`

	// Breaker holds the circuit breaker thresholds for this provider
	Breaker BreakerConfig `json:"breaker"`

	// Quotas lists the budgets enforced for this provider
	Quotas []QuotaConfig `json:"quotas" validate:"dive"`
}

// BreakerConfig holds circuit breaker thresholds.
// Zero values fall back to the tracker defaults.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the circuit
	FailureThreshold int `json:"failure_threshold" validate:"gte=0"`

	// WindowSeconds is the sliding window within which failures must occur
	WindowSeconds int `json:"window_seconds" validate:"gte=0"`

	// CooldownSeconds is how long the circuit stays open before a trial call
	CooldownSeconds int `json:"cooldown_seconds" validate:"gte=0"`
}

// Window returns the failure window as a duration.
func (c BreakerConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// Cooldown returns the open-state cooldown as a duration.
func (c BreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// SelectionStrategy controls candidate ordering within a priority tier.
type SelectionStrategy string

const (
	// StrategyPriority orders strictly by ascending priority, latency tie-break
	StrategyPriority SelectionStrategy = "priority"

	// StrategyRoundRobin rotates between providers of the same priority
	StrategyRoundRobin SelectionStrategy = "round_robin"
)

// CategorySettings holds per-category orchestration settings.
type CategorySettings struct {
	// Name of the capability category
	Name Category `json:"name" validate:"required"`

	// CacheTTLSeconds enables response caching when > 0
	CacheTTLSeconds int `json:"cache_ttl_seconds" validate:"gte=0"`

	// Strategy selects the candidate ordering strategy (default: priority)
	Strategy SelectionStrategy `json:"strategy,omitempty"`
}

// CacheTTL returns the cache TTL as a duration (zero disables caching).
func (s CategorySettings) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

// RegistryConfig is the unit of configuration pushed through a registry reload.
// It replaces the prior provider set wholesale.
type RegistryConfig struct {
	Categories []CategorySettings `json:"categories" validate:"dive"`
	Providers  []Provider         `json:"providers" validate:"required,dive"`
}
