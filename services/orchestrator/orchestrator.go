package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/dearplant/dearplant/internal/observability"
	"github.com/dearplant/dearplant/models"
	"github.com/dearplant/dearplant/services"
	"github.com/dearplant/dearplant/services/cache"
	"github.com/dearplant/dearplant/services/health"
	"github.com/dearplant/dearplant/services/providers"
	"github.com/dearplant/dearplant/services/quota"
	"github.com/dearplant/dearplant/services/registry"
	"github.com/dearplant/dearplant/services/selection"
	"github.com/dearplant/dearplant/services/usage"
)

// Settings bounds the invocation pipeline.
type Settings struct {
	// DefaultTimeout applies when the caller context has no deadline
	DefaultTimeout time.Duration

	// AttemptTimeout caps a single provider call
	AttemptTimeout time.Duration

	// AcquireWait caps how long an attempt waits for a concurrency slot
	AcquireWait time.Duration
}

// DefaultSettings returns the default pipeline bounds.
func DefaultSettings() Settings {
	return Settings{
		DefaultTimeout: 30 * time.Second,
		AttemptTimeout: 10 * time.Second,
		AcquireWait:    2 * time.Second,
	}
}

// Request is one capability invocation submitted by the application.
type Request struct {
	// Category of the capability being invoked
	Category models.Category `json:"category"`

	// Payload is the normalized request body for the category
	Payload json.RawMessage `json:"payload"`

	// CallerID attributes the call to a user or feature
	CallerID string `json:"caller_id"`

	// IdempotencyKey scopes cache reuse when the payload alone is ambiguous
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Metadata is passed through to the adapter unchanged
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is the terminal outcome of a successful invocation.
type Result struct {
	// Payload is the normalized response body
	Payload json.RawMessage `json:"payload"`

	// ProviderID that produced the response (original producer for cache hits)
	ProviderID string `json:"provider_id"`

	// Category the request was served under
	Category models.Category `json:"category"`

	// Cached reports whether the response came from the cache
	Cached bool `json:"cached"`

	// Attempts is the number of provider calls made for this invocation
	Attempts int `json:"attempts"`

	// Latency of the winning provider call (zero for cache hits)
	Latency time.Duration `json:"latency"`
}

// Orchestrator routes capability invocations across the configured
// providers. It owns the fallback loop; the registry, health tracker,
// quota manager, cache and ledger are collaborators it drives.
type Orchestrator struct {
	registry *registry.Registry
	health   *health.Tracker
	quota    *quota.Manager
	cache    *cache.ResponseCache
	policy   *selection.Policy
	resolver *providers.Resolver
	ledger   *usage.Ledger
	metrics  *observability.Metrics
	logger   *zap.Logger
	settings Settings

	flight singleflight.Group

	semMu sync.RWMutex
	sems  map[string]*semaphore.Weighted
}

// New creates an orchestrator over the given collaborators.
// metrics may be nil when scraping is disabled.
func New(
	reg *registry.Registry,
	tracker *health.Tracker,
	quotas *quota.Manager,
	responses *cache.ResponseCache,
	resolver *providers.Resolver,
	ledger *usage.Ledger,
	metrics *observability.Metrics,
	logger *zap.Logger,
	settings Settings,
) *Orchestrator {
	if settings.DefaultTimeout <= 0 {
		settings.DefaultTimeout = DefaultSettings().DefaultTimeout
	}
	if settings.AttemptTimeout <= 0 {
		settings.AttemptTimeout = DefaultSettings().AttemptTimeout
	}
	if settings.AcquireWait <= 0 {
		settings.AcquireWait = DefaultSettings().AcquireWait
	}

	return &Orchestrator{
		registry: reg,
		health:   tracker,
		quota:    quotas,
		cache:    responses,
		policy:   selection.NewPolicy(reg, tracker, quotas),
		resolver: resolver,
		ledger:   ledger,
		metrics:  metrics,
		logger:   logger,
		settings: settings,
		sems:     make(map[string]*semaphore.Weighted),
	}
}

// Reload atomically replaces the provider configuration. On success the
// breaker thresholds, quota budgets and concurrency limits of every
// provider are reconfigured; on failure the previous configuration stays
// in effect untouched.
func (o *Orchestrator) Reload(cfg models.RegistryConfig) error {
	if err := o.registry.Reload(cfg); err != nil {
		return err
	}

	sems := make(map[string]*semaphore.Weighted)
	for _, p := range o.registry.Providers() {
		o.health.Configure(p)
		o.quota.Configure(p)
		if p.MaxConcurrency > 0 {
			sems[p.ID] = semaphore.NewWeighted(p.MaxConcurrency)
		}
	}

	o.semMu.Lock()
	o.sems = sems
	o.semMu.Unlock()

	return nil
}

// Invoke executes one capability call: cache lookup first, then the
// fallback chain until a provider succeeds or the chain is exhausted.
func (o *Orchestrator) Invoke(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Category == "" || len(req.Payload) == 0 {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "category and payload are required", nil)
	}
	if !req.Category.Valid() {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "unknown capability category", nil).
			WithDetail("category", string(req.Category))
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.settings.DefaultTimeout)
		defer cancel()
	}

	var ttl time.Duration
	if settings, ok := o.registry.Settings(req.Category); ok {
		ttl = settings.CacheTTL()
	}

	if ttl <= 0 {
		return o.run(ctx, req, "", 0)
	}

	fp := cache.Fingerprint(req.Category, req.Payload, req.IdempotencyKey)
	if entry, ok := o.cache.Get(fp); ok {
		o.metrics.ObserveCache(true)
		o.metrics.ObserveInvocation(string(req.Category), "cached")
		return &Result{
			Payload:    entry.Payload,
			ProviderID: entry.ProviderID,
			Category:   req.Category,
			Cached:     true,
		}, nil
	}
	o.metrics.ObserveCache(false)

	// Collapse concurrent identical requests into one upstream call.
	ch := o.flight.DoChan(fp, func() (interface{}, error) {
		return o.run(ctx, req, fp, ttl)
	})
	select {
	case v := <-ch:
		if v.Err != nil {
			return nil, v.Err
		}
		res := *v.Val.(*Result)
		if v.Shared {
			res.Cached = true
			res.Attempts = 0
		}
		return &res, nil
	case <-ctx.Done():
		return nil, services.NewDomainError(services.ErrorTypeTimeout, "deadline elapsed awaiting in-flight duplicate", ctx.Err()).
			WithDetail("category", string(req.Category))
	}
}

// run walks the fallback chain for one invocation.
func (o *Orchestrator) run(ctx context.Context, req *Request, fp string, ttl time.Duration) (*Result, error) {
	chain := o.policy.Chain(req.Category, req.CallerID)
	if len(chain) == 0 {
		o.metrics.ObserveInvocation(string(req.Category), string(services.ErrorTypeAllProvidersExcluded))
		return nil, services.NewDomainError(services.ErrorTypeAllProvidersExcluded, "no provider eligible for selection", nil).
			WithDetail("category", string(req.Category))
	}

	var (
		attempted   int
		quotaDenied int
		lastKind    providers.ErrorKind
		lastErr     error
	)

	for _, cand := range chain {
		if ctx.Err() != nil {
			break
		}
		p := cand.Provider

		// Re-check at attempt time; the breaker may have moved since
		// selection, and only one caller wins the half-open trial slot.
		if !o.health.Allow(p.ID) {
			continue
		}

		res, err := o.quota.Reserve(p.ID, req.CallerID)
		if err != nil {
			quotaDenied++
			o.health.ReportSkip(p.ID)
			o.record(req, p, models.OutcomeSkipped, "quota_denied", decimal.Zero, 0)
			o.logger.Debug("quota denied, skipping provider",
				zap.String("provider_id", p.ID),
				zap.String("caller_id", req.CallerID))
			continue
		}

		sem := o.semaphore(p.ID)
		if sem != nil {
			if err := o.acquire(ctx, sem); err != nil {
				o.quota.Release(res, models.OutcomeSkipped)
				o.health.ReportSkip(p.ID)
				o.record(req, p, models.OutcomeSkipped, "concurrency_saturated", decimal.Zero, 0)
				continue
			}
		}

		adapter, err := o.resolver.Resolve(p.ID)
		if err != nil {
			if sem != nil {
				sem.Release(1)
			}
			o.quota.Release(res, models.OutcomeSkipped)
			o.health.ReportSkip(p.ID)
			o.logger.Error("configured provider has no adapter",
				zap.String("provider_id", p.ID), zap.Error(err))
			continue
		}

		attempted++
		resp, latency, callErr := o.attempt(ctx, adapter, req)
		if sem != nil {
			sem.Release(1)
		}

		if callErr == nil {
			o.health.ReportSuccess(p.ID, latency)
			o.quota.Release(res, models.OutcomeSuccess)
			o.record(req, p, models.OutcomeSuccess, "", p.CostPerCall, latency)
			o.metrics.ObserveAttempt(string(req.Category), p.ID, "success", latency.Seconds())
			o.metrics.ObserveInvocation(string(req.Category), "success")

			if ttl > 0 {
				o.cache.Put(fp, req.Category, p.ID, resp.Payload, ttl)
			}
			return &Result{
				Payload:    resp.Payload,
				ProviderID: p.ID,
				Category:   req.Category,
				Attempts:   attempted,
				Latency:    latency,
			}, nil
		}

		kind := providers.Classify(callErr)
		lastKind, lastErr = kind, callErr
		cost := decimal.Zero
		if providers.WasBilled(callErr) {
			cost = p.CostPerCall
		}

		switch kind {
		case providers.KindAuth:
			// Credentials are broken, not the vendor. Park the provider
			// until the next reload instead of burning the cooldown cycle.
			o.health.MarkUnusable(p.ID)
		case providers.KindPermanent:
			// The request itself is at fault; retrying the same payload
			// elsewhere may still work, but the breaker stays untouched.
			o.health.ReportSkip(p.ID)
		default:
			o.health.ReportFailure(p.ID, latency)
		}

		o.quota.Release(res, models.OutcomeFailure)
		o.record(req, p, models.OutcomeFailure, string(kind), cost, latency)
		o.metrics.ObserveAttempt(string(req.Category), p.ID, "failure", latency.Seconds())

		o.logger.Warn("provider attempt failed",
			zap.String("provider_id", p.ID),
			zap.String("category", string(req.Category)),
			zap.String("kind", string(kind)),
			zap.Duration("latency", latency),
			zap.Error(callErr))
	}

	return nil, o.exhausted(ctx, req, attempted, quotaDenied, lastKind, lastErr)
}

// attempt runs a single provider call under the attempt deadline.
func (o *Orchestrator) attempt(ctx context.Context, adapter providers.Adapter, req *Request) (*providers.Response, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.settings.AttemptTimeout)
	defer cancel()

	start := time.Now()
	resp, err := adapter.Invoke(attemptCtx, &providers.Request{
		Category: req.Category,
		Payload:  req.Payload,
		CallerID: req.CallerID,
		Metadata: req.Metadata,
	})
	latency := time.Since(start)
	if err != nil {
		return nil, latency, err
	}
	if resp == nil || len(resp.Payload) == 0 {
		return nil, latency, providers.NewPermanentError(adapter.ProviderID(), "empty response payload", nil)
	}
	return resp, latency, nil
}

// acquire waits for a concurrency slot, bounded by AcquireWait and the
// remaining invoke deadline.
func (o *Orchestrator) acquire(ctx context.Context, sem *semaphore.Weighted) error {
	waitCtx, cancel := context.WithTimeout(ctx, o.settings.AcquireWait)
	defer cancel()
	return sem.Acquire(waitCtx, 1)
}

// exhausted maps a finished chain walk without a success to the typed
// failure the caller sees.
func (o *Orchestrator) exhausted(ctx context.Context, req *Request, attempted, quotaDenied int, lastKind providers.ErrorKind, lastErr error) error {
	category := string(req.Category)

	switch {
	case ctx.Err() != nil:
		o.metrics.ObserveInvocation(category, string(services.ErrorTypeTimeout))
		return services.NewDomainError(services.ErrorTypeTimeout, "deadline elapsed before a provider succeeded", ctx.Err()).
			WithDetail("category", category).
			WithDetail("attempted", attempted)

	case attempted > 0:
		errType := services.ErrorTypeProviderUnavailable
		msg := "all attempted providers failed"
		if lastKind == providers.KindPermanent {
			errType = services.ErrorTypeInvalidResponse
			msg = "provider response failed validation"
		}
		if lastKind == providers.KindAuth {
			errType = services.ErrorTypeAuthentication
			msg = "provider credential rejected"
		}
		o.metrics.ObserveInvocation(category, string(errType))
		return services.NewDomainError(errType, msg, lastErr).
			WithDetail("category", category).
			WithDetail("attempted", attempted).
			WithDetail("last_error_kind", string(lastKind))

	case quotaDenied > 0:
		o.metrics.ObserveInvocation(category, string(services.ErrorTypeQuotaExceeded))
		return services.NewDomainError(services.ErrorTypeQuotaExceeded, "quota exhausted across fallback chain", nil).
			WithDetail("category", category).
			WithDetail("denied", quotaDenied)

	default:
		o.metrics.ObserveInvocation(category, string(services.ErrorTypeAllProvidersExcluded))
		return services.NewDomainError(services.ErrorTypeAllProvidersExcluded, "no provider eligible for selection", nil).
			WithDetail("category", category)
	}
}

// record enqueues a usage record; accounting never blocks the caller.
func (o *Orchestrator) record(req *Request, p models.Provider, outcome models.Outcome, errorKind string, cost decimal.Decimal, latency time.Duration) {
	if o.ledger == nil {
		return
	}
	rec := &models.UsageRecord{
		ProviderID: p.ID,
		CallerID:   req.CallerID,
		Category:   req.Category,
		Cost:       cost,
		Outcome:    outcome,
		ErrorKind:  errorKind,
		LatencyMs:  latency.Milliseconds(),
	}
	if err := o.ledger.Record(rec); err != nil && !errors.Is(err, services.ErrLedgerStopped) {
		o.logger.Warn("failed to enqueue usage record",
			zap.String("provider_id", p.ID), zap.Error(err))
	}
}

// ForceOpen manually opens a provider's breaker.
func (o *Orchestrator) ForceOpen(providerID string) error {
	if _, ok := o.registry.Provider(providerID); !ok {
		return services.NewDomainError(services.ErrorTypeValidation, "unknown provider", nil).
			WithDetail("provider_id", providerID)
	}
	o.health.ForceOpen(providerID)
	return nil
}

// ForceClose manually closes a provider's breaker.
func (o *Orchestrator) ForceClose(providerID string) error {
	if _, ok := o.registry.Provider(providerID); !ok {
		return services.NewDomainError(services.ErrorTypeValidation, "unknown provider", nil).
			WithDetail("provider_id", providerID)
	}
	o.health.ForceClose(providerID)
	return nil
}

// semaphore returns the concurrency gate for a provider, or nil when the
// provider is unlimited.
func (o *Orchestrator) semaphore(providerID string) *semaphore.Weighted {
	o.semMu.RLock()
	defer o.semMu.RUnlock()
	return o.sems[providerID]
}
