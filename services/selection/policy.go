package selection

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/dearplant/dearplant/models"
	"github.com/dearplant/dearplant/services/health"
	"github.com/dearplant/dearplant/services/quota"
	"github.com/dearplant/dearplant/services/registry"
)

// Policy builds the ordered fallback chain for one invocation from the
// registry snapshot, the breaker states and the quota headroom.
//
// Chain order: Closed providers by ascending priority (latency EWMA breaks
// ties), then HalfOpen providers — but only when no Closed provider has
// remaining quota. Open providers never appear. The HalfOpen trial slot
// itself is claimed at attempt time, not here.
type Policy struct {
	registry *registry.Registry
	health   *health.Tracker
	quota    *quota.Manager

	mu sync.Mutex
	rr map[models.Category]int
}

// Candidate is one provider in the fallback chain.
type Candidate struct {
	Provider models.Provider

	// State is the effective breaker state at selection time
	State models.BreakerState
}

// NewPolicy creates a selection policy over the given services.
func NewPolicy(reg *registry.Registry, tracker *health.Tracker, quotas *quota.Manager) *Policy {
	return &Policy{
		registry: reg,
		health:   tracker,
		quota:    quotas,
		rr:       make(map[models.Category]int),
	}
}

// Chain produces the ordered candidate chain for a category and caller.
// An empty chain means every provider is excluded before any attempt.
func (p *Policy) Chain(category models.Category, callerID string) []Candidate {
	providers := p.registry.Snapshot(category)
	if len(providers) == 0 {
		return nil
	}

	var closed, halfOpen []models.Provider
	for _, prov := range providers {
		switch p.health.State(prov.ID) {
		case models.BreakerClosed:
			closed = append(closed, prov)
		case models.BreakerHalfOpen:
			halfOpen = append(halfOpen, prov)
		}
		// Open providers are excluded outright.
	}

	strategy := models.StrategyPriority
	if s, ok := p.registry.Settings(category); ok && s.Strategy != "" {
		strategy = s.Strategy
	}

	offset := 0
	if strategy == models.StrategyRoundRobin {
		p.mu.Lock()
		offset = p.rr[category]
		p.rr[category]++
		p.mu.Unlock()
	}

	p.order(closed, strategy, offset)
	p.order(halfOpen, strategy, offset)

	chain := lo.Map(closed, func(prov models.Provider, _ int) Candidate {
		return Candidate{Provider: prov, State: models.BreakerClosed}
	})

	closedWithQuota := lo.SomeBy(closed, func(prov models.Provider) bool {
		return p.quota.HasHeadroom(prov.ID, callerID)
	})
	if !closedWithQuota {
		for _, prov := range halfOpen {
			chain = append(chain, Candidate{Provider: prov, State: models.BreakerHalfOpen})
		}
	}
	return chain
}

// order sorts providers by ascending priority with latency EWMA tie-break,
// then applies the per-category rotation strategy within priority tiers.
func (p *Policy) order(providers []models.Provider, strategy models.SelectionStrategy, offset int) {
	sort.SliceStable(providers, func(i, j int) bool {
		if providers[i].Priority != providers[j].Priority {
			return providers[i].Priority < providers[j].Priority
		}
		return p.health.LatencyEWMA(providers[i].ID) < p.health.LatencyEWMA(providers[j].ID)
	})

	if strategy != models.StrategyRoundRobin {
		return
	}

	// Rotate each equal-priority tier by the per-category counter.
	for start := 0; start < len(providers); {
		end := start + 1
		for end < len(providers) && providers[end].Priority == providers[start].Priority {
			end++
		}
		rotate(providers[start:end], offset)
		start = end
	}
}

func rotate(tier []models.Provider, offset int) {
	n := len(tier)
	if n < 2 {
		return
	}
	shift := offset % n
	if shift == 0 {
		return
	}
	rotated := append(append([]models.Provider{}, tier[shift:]...), tier[:shift]...)
	copy(tier, rotated)
}
