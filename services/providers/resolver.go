package providers

import (
	"errors"
	"sync"
)

var (
	// ErrAdapterNotFound is returned when no adapter is registered for a provider id
	ErrAdapterNotFound = errors.New("adapter not found")

	// ErrAdapterAlreadyRegistered is returned when registering a duplicate adapter
	ErrAdapterAlreadyRegistered = errors.New("adapter already registered")
)

// Resolver maps configured provider ids to their vendor adapters. Adapters
// are registered at wiring time; the registry may carry providers whose
// adapter is not (yet) registered, and selection skips those.
type Resolver struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewResolver creates an empty adapter resolver
func NewResolver() *Resolver {
	return &Resolver{adapters: make(map[string]Adapter)}
}

// Register registers an adapter under its provider id
func (r *Resolver) Register(adapter Adapter) error {
	if adapter == nil {
		return errors.New("adapter cannot be nil")
	}
	id := adapter.ProviderID()
	if id == "" {
		return errors.New("adapter provider id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[id]; exists {
		return ErrAdapterAlreadyRegistered
	}
	r.adapters[id] = adapter
	return nil
}

// Replace registers an adapter, overwriting any existing registration.
// Used when corrected credentials are pushed for a provider.
func (r *Resolver) Replace(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.ProviderID()] = adapter
}

// Resolve returns the adapter for a provider id
func (r *Resolver) Resolve(providerID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, exists := r.adapters[providerID]
	if !exists {
		return nil, ErrAdapterNotFound
	}
	return adapter, nil
}

// ProviderIDs returns all registered provider ids
func (r *Resolver) ProviderIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	return ids
}
