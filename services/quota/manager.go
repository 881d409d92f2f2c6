package quota

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dearplant/dearplant/models"
)

// Manager enforces per-provider and per-caller budgets over fixed windows.
// Reservation is an atomic check-and-increment per budget: used never
// exceeds limit, even under concurrent reservation attempts. All accounting
// is in-memory; budgets are created lazily on first reference and reset on
// window rollover.
type Manager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	configs map[string][]models.QuotaConfig
	buckets map[bucketKey]*bucket

	now func() time.Time
}

type bucketKey struct {
	scope      models.QuotaScope
	providerID string
	callerID   string // empty for global scope
	window     time.Duration
}

// bucket is one fixed-window counter.
type bucket struct {
	mu          sync.Mutex
	cfg         models.QuotaConfig
	windowStart time.Time
	used        int64
}

// Reservation is a granted set of budget increments for one attempt.
type Reservation struct {
	ID         uuid.UUID
	ProviderID string
	CallerID   string

	grants []grant
}

type grant struct {
	b           *bucket
	windowStart time.Time
	callerScope bool
	refundable  bool
}

// DeniedError reports a rejected reservation and when capacity returns.
type DeniedError struct {
	ProviderID string
	Scope      models.QuotaScope
	Limit      int64
	ResetAt    time.Time
}

// Error implements the error interface
func (e *DeniedError) Error() string {
	return fmt.Sprintf("quota denied for provider %s (%s scope, limit %d, resets %s)",
		e.ProviderID, e.Scope, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// NewManager creates an empty quota manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:  logger,
		configs: make(map[string][]models.QuotaConfig),
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
	}
}

// Configure installs a provider's budgets. Called on registry reload;
// existing windows for the provider are discarded so changed limits take
// effect from a fresh window.
func (m *Manager) Configure(p models.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.configs[p.ID] = p.Quotas
	for key := range m.buckets {
		if key.providerID == p.ID {
			delete(m.buckets, key)
		}
	}
}

// Reserve atomically claims one unit from every budget that applies to the
// (provider, caller) pair. A denial consumes nothing: increments already
// taken for this reservation are rolled back before returning.
func (m *Manager) Reserve(providerID, callerID string) (*Reservation, error) {
	m.mu.RLock()
	cfgs := m.configs[providerID]
	m.mu.RUnlock()

	res := &Reservation{
		ID:         uuid.New(),
		ProviderID: providerID,
		CallerID:   callerID,
	}
	if len(cfgs) == 0 {
		// No budgets configured: unlimited.
		return res, nil
	}

	now := m.now()
	for _, cfg := range cfgs {
		b := m.bucket(providerID, callerID, cfg)
		windowStart, err := b.consume(now, providerID)
		if err != nil {
			m.rollback(res)
			return nil, err
		}
		res.grants = append(res.grants, grant{
			b:           b,
			windowStart: windowStart,
			callerScope: cfg.Scope == models.ScopePerCallerProvider,
			refundable:  cfg.RefundOnFailure,
		})
	}
	return res, nil
}

// Release settles a reservation against the attempt outcome.
// Success consumes everything. Failure consumes provider-scope budgets (the
// call happened) and refunds caller-scope budgets marked refund-on-failure.
// Skipped refunds everything: no external call was made.
func (m *Manager) Release(res *Reservation, outcome models.Outcome) {
	if res == nil {
		return
	}
	switch outcome {
	case models.OutcomeSuccess:
		// consumed
	case models.OutcomeFailure:
		for _, g := range res.grants {
			if g.callerScope && g.refundable {
				g.refund()
			}
		}
	case models.OutcomeSkipped:
		m.rollback(res)
	}
}

// HasHeadroom reports whether every budget applying to the pair currently
// has remaining capacity, without consuming any.
func (m *Manager) HasHeadroom(providerID, callerID string) bool {
	m.mu.RLock()
	cfgs := m.configs[providerID]
	m.mu.RUnlock()

	now := m.now()
	for _, cfg := range cfgs {
		b := m.bucket(providerID, callerID, cfg)
		if !b.hasHeadroom(now) {
			return false
		}
	}
	return true
}

// Snapshot returns a point-in-time view of every active budget window,
// sorted by provider then caller.
func (m *Manager) Snapshot() []models.QuotaBudget {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.QuotaBudget, 0, len(m.buckets))
	for key, b := range m.buckets {
		b.mu.Lock()
		out = append(out, models.QuotaBudget{
			Scope:        key.scope,
			ProviderID:   key.providerID,
			CallerID:     key.callerID,
			WindowStart:  b.windowStart,
			WindowLength: key.window,
			Limit:        b.cfg.Limit,
			Used:         b.used,
		})
		b.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		return out[i].CallerID < out[j].CallerID
	})
	return out
}

func (m *Manager) rollback(res *Reservation) {
	for _, g := range res.grants {
		g.refund()
	}
	res.grants = nil
}

// bucket returns the counter for one (config, provider, caller) combination,
// creating it lazily.
func (m *Manager) bucket(providerID, callerID string, cfg models.QuotaConfig) *bucket {
	key := bucketKey{
		scope:      cfg.Scope,
		providerID: providerID,
		window:     cfg.Window(),
	}
	if cfg.Scope == models.ScopePerCallerProvider {
		key.callerID = callerID
	}

	m.mu.RLock()
	b, ok := m.buckets[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.buckets[key]; ok {
		return b
	}
	b = &bucket{cfg: cfg}
	m.buckets[key] = b
	return b
}

// consume is the atomic check-and-increment. It returns the window the unit
// was taken from so a later refund can detect window rollover.
func (b *bucket) consume(now time.Time, providerID string) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollLocked(now)
	if b.used >= b.cfg.Limit {
		return time.Time{}, &DeniedError{
			ProviderID: providerID,
			Scope:      b.cfg.Scope,
			Limit:      b.cfg.Limit,
			ResetAt:    b.windowStart.Add(b.cfg.Window()),
		}
	}
	b.used++
	return b.windowStart, nil
}

func (b *bucket) hasHeadroom(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked(now)
	return b.used < b.cfg.Limit
}

// rollLocked resets the counter when the fixed window has rolled over.
func (b *bucket) rollLocked(now time.Time) {
	ws := now.Truncate(b.cfg.Window())
	if !ws.Equal(b.windowStart) {
		b.windowStart = ws
		b.used = 0
	}
}

// refund returns one unit, unless the window has rolled since the grant
// (a fresh window already starts at zero).
func (g grant) refund() {
	g.b.mu.Lock()
	defer g.b.mu.Unlock()
	if g.b.windowStart.Equal(g.windowStart) && g.b.used > 0 {
		g.b.used--
	}
}
