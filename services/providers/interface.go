package providers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dearplant/dearplant/models"
)

// Adapter is the unified interface implemented by every vendor adapter of a
// capability category. One concrete adapter exists per vendor; the
// orchestrator depends only on this interface.
type Adapter interface {
	// ProviderID returns the configured provider id this adapter serves
	ProviderID() string

	// Invoke performs one external call. The context carries the per-attempt
	// sub-deadline; adapters must honor cancellation.
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// Request is the normalized request handed to an adapter.
type Request struct {
	// Category of the capability being invoked
	Category models.Category `json:"category"`

	// Payload is the normalized request body for the category
	Payload json.RawMessage `json:"payload"`

	// CallerID identifies the invoking user or feature for attribution
	CallerID string `json:"caller_id"`

	// Metadata for tracking and logging
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Response is the normalized result returned by an adapter.
type Response struct {
	// ProviderID that produced the response
	ProviderID string `json:"provider_id"`

	// Payload is the normalized response body
	Payload json.RawMessage `json:"payload"`

	// Latency of the external call
	Latency time.Duration `json:"latency"`
}

// ErrorKind classifies an adapter failure for retry and breaker accounting.
type ErrorKind string

const (
	// KindTransient covers timeouts and 5xx-class vendor errors; counts
	// toward the breaker and allows fallback to the next provider
	KindTransient ErrorKind = "transient"

	// KindPermanent covers malformed requests and schema violations; the
	// provider is skipped for this call without breaker impact
	KindPermanent ErrorKind = "permanent"

	// KindAuth covers rejected credentials; the provider is unusable until
	// its configuration is corrected
	KindAuth ErrorKind = "auth"
)

// AdapterError represents a classified error from a vendor adapter.
type AdapterError struct {
	// ProviderID that generated the error
	ProviderID string

	// Kind is the failure classification
	Kind ErrorKind

	// StatusCode is the vendor HTTP status, if applicable
	StatusCode int

	// Message is the error message
	Message string

	// Billed reports whether the vendor billed the failed attempt
	Billed bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *AdapterError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *AdapterError) Unwrap() error {
	return e.Cause
}

// NewTransientError creates a transient adapter error
func NewTransientError(providerID, message string, cause error) *AdapterError {
	return &AdapterError{ProviderID: providerID, Kind: KindTransient, Message: message, Cause: cause}
}

// NewPermanentError creates a permanent adapter error
func NewPermanentError(providerID, message string, cause error) *AdapterError {
	return &AdapterError{ProviderID: providerID, Kind: KindPermanent, Message: message, Cause: cause}
}

// NewAuthError creates an authentication adapter error
func NewAuthError(providerID, message string, cause error) *AdapterError {
	return &AdapterError{ProviderID: providerID, Kind: KindAuth, Message: message, Cause: cause}
}

// Classify returns the failure kind of an adapter call error. Plain context
// deadline or cancellation errors are transient: the vendor timed out or the
// caller went away, neither says anything permanent about the request.
func Classify(err error) ErrorKind {
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		return adapterErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindTransient
}

// WasBilled reports whether the vendor billed the failed attempt.
func WasBilled(err error) bool {
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		return adapterErr.Billed
	}
	return false
}
