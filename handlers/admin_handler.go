package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/dearplant/dearplant/app"
	"github.com/dearplant/dearplant/models"
)

// ProviderStatus is the composite per-provider view returned by the
// admin surface: configuration, breaker state, quota windows and spend.
type ProviderStatus struct {
	Provider models.Provider      `json:"provider"`
	Health   models.HealthState   `json:"health"`
	Quotas   []models.QuotaBudget `json:"quotas"`

	Calls     int64           `json:"calls"`
	Successes int64           `json:"successes"`
	Failures  int64           `json:"failures"`
	Skips     int64           `json:"skips"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

// RegistryStatus describes the active configuration generation.
type RegistryStatus struct {
	Version    int64             `json:"version"`
	LoadedAt   time.Time         `json:"loaded_at"`
	Providers  []ProviderStatus  `json:"providers"`
	Cache      CacheStatus       `json:"cache"`
	Ledger     LedgerStatus      `json:"ledger"`
	Categories []models.Category `json:"categories"`

	// CategoryStats aggregates the provider rollups per capability category
	CategoryStats []CategoryStats `json:"category_stats,omitempty"`
}

// CategoryStats is the per-category aggregate of all provider rollups.
type CategoryStats struct {
	Category  models.Category `json:"category"`
	Calls     int64           `json:"calls"`
	Successes int64           `json:"successes"`
	Failures  int64           `json:"failures"`
	Skips     int64           `json:"skips"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

// CacheStatus reports response cache counters.
type CacheStatus struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// LedgerStatus reports usage ledger queue state.
type LedgerStatus struct {
	Pending int    `json:"pending"`
	Dropped uint64 `json:"dropped"`
}

// ListProvidersHandler handles GET /api/v1/admin/providers
func ListProvidersHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthByID := make(map[string]models.HealthState)
		for _, h := range deps.HealthTracker.Snapshot() {
			healthByID[h.ProviderID] = h
		}
		quotasByID := make(map[string][]models.QuotaBudget)
		for _, b := range deps.QuotaManager.Snapshot() {
			quotasByID[b.ProviderID] = append(quotasByID[b.ProviderID], b)
		}
		rollups := deps.UsageSink.Rollups()

		var statuses []ProviderStatus
		for _, p := range deps.Registry.Providers() {
			status := ProviderStatus{
				Provider:  p,
				Health:    healthByID[p.ID],
				Quotas:    quotasByID[p.ID],
				TotalCost: decimal.Zero,
			}
			if roll, ok := rollups[p.ID]; ok {
				status.Calls = roll.Calls
				status.Successes = roll.Successes
				status.Failures = roll.Failures
				status.Skips = roll.Skips
				status.TotalCost = roll.TotalCost
			}
			statuses = append(statuses, status)
		}

		byCategory := make(map[models.Category]*CategoryStats)
		for _, roll := range rollups {
			agg, ok := byCategory[roll.Category]
			if !ok {
				agg = &CategoryStats{Category: roll.Category, TotalCost: decimal.Zero}
				byCategory[roll.Category] = agg
			}
			agg.Calls += roll.Calls
			agg.Successes += roll.Successes
			agg.Failures += roll.Failures
			agg.Skips += roll.Skips
			agg.TotalCost = agg.TotalCost.Add(roll.TotalCost)
		}
		categoryStats := make([]CategoryStats, 0, len(byCategory))
		for _, agg := range byCategory {
			categoryStats = append(categoryStats, *agg)
		}
		sort.Slice(categoryStats, func(i, j int) bool {
			return categoryStats[i].Category < categoryStats[j].Category
		})

		cacheStats := deps.ResponseCache.Stats()
		ledgerStats := deps.UsageLedger.GetStats()

		respondJSON(w, http.StatusOK, SuccessResponse{Data: RegistryStatus{
			Version:       deps.Registry.Version(),
			LoadedAt:      deps.Registry.LoadedAt(),
			Providers:     statuses,
			Categories:    deps.Registry.Categories(),
			CategoryStats: categoryStats,
			Cache: CacheStatus{
				Entries: cacheStats.Entries,
				Hits:    cacheStats.Hits,
				Misses:  cacheStats.Misses,
			},
			Ledger: LedgerStatus{
				Pending: ledgerStats.PendingRecords,
				Dropped: ledgerStats.Dropped,
			},
		}})
	}
}

// ReloadHandler handles POST /api/v1/admin/reload. The body replaces the
// provider registry wholesale; a rejected configuration leaves the
// previous generation serving.
func ReloadHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg models.RegistryConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "invalid registry config: "+err.Error())
			return
		}

		if err := deps.Orchestrator.Reload(cfg); err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		respondJSON(w, http.StatusOK, SuccessResponse{Data: map[string]interface{}{
			"version":   deps.Registry.Version(),
			"loaded_at": deps.Registry.LoadedAt(),
			"providers": len(deps.Registry.Providers()),
		}})
	}
}

// ForceOpenHandler handles POST /api/v1/admin/providers/{id}/open
func ForceOpenHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Orchestrator.ForceOpen(id); err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}
		respondJSON(w, http.StatusOK, SuccessResponse{Data: map[string]string{
			"provider_id": id,
			"state":       string(models.BreakerOpen),
		}})
	}
}

// ForceCloseHandler handles POST /api/v1/admin/providers/{id}/close
func ForceCloseHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Orchestrator.ForceClose(id); err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}
		respondJSON(w, http.StatusOK, SuccessResponse{Data: map[string]string{
			"provider_id": id,
			"state":       string(models.BreakerClosed),
		}})
	}
}

// ListUsageHandler handles GET /api/v1/admin/usage
func ListUsageHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, SuccessResponse{Data: deps.UsageSink.Records()})
	}
}

// FlushCacheHandler handles POST /api/v1/admin/cache/flush
func FlushCacheHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.ResponseCache.Flush()
		respondJSON(w, http.StatusOK, SuccessResponse{Data: map[string]string{"status": "flushed"}})
	}
}
