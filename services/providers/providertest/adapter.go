// Package providertest provides scriptable fake adapters for tests.
package providertest

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/dearplant/dearplant/services/providers"
)

// Script produces the outcome of one fake adapter call.
type Script func(ctx context.Context, call int, req *providers.Request) (*providers.Response, error)

// FakeAdapter is a scriptable in-memory adapter.
type FakeAdapter struct {
	id      string
	calls   atomic.Int64
	latency time.Duration
	script  Script
}

// New creates a fake adapter driven by the given script.
func New(id string, script Script) *FakeAdapter {
	return &FakeAdapter{id: id, script: script}
}

// WithLatency makes each call sleep before resolving, honoring cancellation.
func (f *FakeAdapter) WithLatency(d time.Duration) *FakeAdapter {
	f.latency = d
	return f
}

// ProviderID implements providers.Adapter
func (f *FakeAdapter) ProviderID() string {
	return f.id
}

// Calls returns how many times Invoke was called.
func (f *FakeAdapter) Calls() int64 {
	return f.calls.Load()
}

// Invoke implements providers.Adapter
func (f *FakeAdapter) Invoke(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	call := int(f.calls.Add(1))
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, providers.NewTransientError(f.id, "call canceled", ctx.Err())
		}
	}
	return f.script(ctx, call, req)
}

// Succeeding returns an adapter that always answers with the given payload.
func Succeeding(id string, payload json.RawMessage) *FakeAdapter {
	return New(id, func(_ context.Context, _ int, _ *providers.Request) (*providers.Response, error) {
		return &providers.Response{ProviderID: id, Payload: payload}, nil
	})
}

// Failing returns an adapter that always fails with a transient error.
func Failing(id string) *FakeAdapter {
	return New(id, func(_ context.Context, _ int, _ *providers.Request) (*providers.Response, error) {
		return nil, providers.NewTransientError(id, "upstream unavailable", nil)
	})
}

// TimingOut returns an adapter that always blocks until the context expires.
func TimingOut(id string) *FakeAdapter {
	return New(id, func(ctx context.Context, _ int, _ *providers.Request) (*providers.Response, error) {
		<-ctx.Done()
		return nil, providers.NewTransientError(id, "request timed out", ctx.Err())
	})
}

// RejectingAuth returns an adapter that always reports a credential rejection.
func RejectingAuth(id string) *FakeAdapter {
	return New(id, func(_ context.Context, _ int, _ *providers.Request) (*providers.Response, error) {
		return nil, providers.NewAuthError(id, "credential rejected", nil)
	})
}

// RejectingRequest returns an adapter that always reports a permanent error.
func RejectingRequest(id string) *FakeAdapter {
	return New(id, func(_ context.Context, _ int, _ *providers.Request) (*providers.Response, error) {
		return nil, providers.NewPermanentError(id, "request schema rejected", nil)
	})
}

// FailingThenSucceeding fails the first n calls transiently and then succeeds.
func FailingThenSucceeding(id string, n int, payload json.RawMessage) *FakeAdapter {
	return New(id, func(_ context.Context, call int, _ *providers.Request) (*providers.Response, error) {
		if call <= n {
			return nil, providers.NewTransientError(id, "upstream unavailable", nil)
		}
		return &providers.Response{ProviderID: id, Payload: payload}, nil
	})
}
