package registry

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/dearplant/dearplant/models"
	"github.com/dearplant/dearplant/services"
)

// Registry holds the configured provider set per capability category.
// The whole configuration lives in an immutable snapshot behind an atomically
// swapped pointer: readers never lock and never observe a partial reload.
type Registry struct {
	snap     atomic.Pointer[snapshot]
	validate *validator.Validate
	logger   *zap.Logger
}

// snapshot is one immutable generation of the provider configuration.
type snapshot struct {
	version    int64
	loadedAt   time.Time
	byCategory map[models.Category][]models.Provider // enabled, ascending priority
	byID       map[string]models.Provider
	settings   map[models.Category]models.CategorySettings
}

// New creates an empty registry. Callers push configuration via Reload.
func New(logger *zap.Logger) *Registry {
	r := &Registry{
		validate: validator.New(),
		logger:   logger,
	}
	r.snap.Store(&snapshot{
		loadedAt:   time.Now(),
		byCategory: make(map[models.Category][]models.Provider),
		byID:       make(map[string]models.Provider),
		settings:   make(map[models.Category]models.CategorySettings),
	})
	return r
}

// Reload validates the new configuration and replaces the current snapshot.
// Reload is all-or-nothing: any rejection keeps the prior snapshot intact.
func (r *Registry) Reload(cfg models.RegistryConfig) error {
	if len(cfg.Providers) == 0 {
		return services.ErrEmptyConfig
	}
	if err := r.validate.Struct(cfg); err != nil {
		return services.WrapConfig("provider configuration failed validation", err)
	}

	// Provider ids must be unique across the whole configuration, not just
	// within a category: health, quota and usage accounting key by id alone.
	byID := make(map[string]models.Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if !p.Category.Valid() {
			return services.NewDomainError(services.ErrorTypeValidation, "unknown capability category", nil).
				WithDetail("category", string(p.Category))
		}
		if prior, dup := byID[p.ID]; dup {
			return services.NewDomainError(services.ErrorTypeConfig, "duplicate provider id", nil).
				WithDetail("provider_id", p.ID).
				WithDetail("category", string(p.Category)).
				WithDetail("conflicts_with_category", string(prior.Category))
		}
		if err := validateBreaker(p.Breaker); err != nil {
			return err
		}
		byID[p.ID] = p
	}

	settings := make(map[models.Category]models.CategorySettings, len(cfg.Categories))
	for _, s := range cfg.Categories {
		if !s.Name.Valid() {
			return services.NewDomainError(services.ErrorTypeValidation, "unknown capability category", nil).
				WithDetail("category", string(s.Name))
		}
		settings[s.Name] = s
	}

	enabled := lo.Filter(cfg.Providers, func(p models.Provider, _ int) bool { return p.Enabled })
	byCategory := lo.GroupBy(enabled, func(p models.Provider) models.Category { return p.Category })
	for cat := range byCategory {
		list := byCategory[cat]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
		byCategory[cat] = list
	}

	prev := r.snap.Load()
	next := &snapshot{
		version:    prev.version + 1,
		loadedAt:   time.Now(),
		byCategory: byCategory,
		byID:       byID,
		settings:   settings,
	}
	r.snap.Store(next)

	r.logger.Info("provider registry reloaded",
		zap.Int64("version", next.version),
		zap.Int("providers", len(byID)),
		zap.Int("enabled", len(enabled)),
		zap.Int("categories", len(byCategory)))

	return nil
}

// validateBreaker rejects threshold combinations that could never trip or
// never recover. Zero values are legal and fall back to tracker defaults.
func validateBreaker(b models.BreakerConfig) error {
	if b.FailureThreshold < 0 || b.WindowSeconds < 0 || b.CooldownSeconds < 0 {
		return services.ErrInvalidThresholds
	}
	if b.FailureThreshold > 0 && b.WindowSeconds > 0 && b.CooldownSeconds == 0 {
		return services.NewDomainError(services.ErrorTypeConfig, "invalid breaker thresholds", nil).
			WithDetail("reason", "cooldown required when threshold set")
	}
	return nil
}

// Snapshot returns the enabled providers of a category in ascending priority
// order. The returned slice is a copy; callers may not mutate registry state.
func (r *Registry) Snapshot(category models.Category) []models.Provider {
	snap := r.snap.Load()
	list := snap.byCategory[category]
	out := make([]models.Provider, len(list))
	copy(out, list)
	return out
}

// Provider looks up a provider by id across categories.
func (r *Registry) Provider(id string) (models.Provider, bool) {
	p, ok := r.snap.Load().byID[id]
	return p, ok
}

// Providers returns every configured provider, enabled or not.
func (r *Registry) Providers() []models.Provider {
	snap := r.snap.Load()
	return lo.Values(snap.byID)
}

// Settings returns the per-category orchestration settings, if configured.
func (r *Registry) Settings(category models.Category) (models.CategorySettings, bool) {
	s, ok := r.snap.Load().settings[category]
	return s, ok
}

// Categories returns the categories with at least one enabled provider.
func (r *Registry) Categories() []models.Category {
	return lo.Keys(r.snap.Load().byCategory)
}

// Version returns the monotonically increasing snapshot generation.
func (r *Registry) Version() int64 {
	return r.snap.Load().version
}

// LoadedAt returns when the current snapshot was installed.
func (r *Registry) LoadedAt() time.Time {
	return r.snap.Load().loadedAt
}
