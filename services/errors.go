package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConfig     ErrorType = "config"

	// ErrorTypeProviderUnavailable: chain exhausted, at least one candidate
	// was attempted and failed
	ErrorTypeProviderUnavailable ErrorType = "provider_unavailable"

	// ErrorTypeAllProvidersExcluded: the chain was empty before any attempt
	ErrorTypeAllProvidersExcluded ErrorType = "all_providers_excluded"

	// ErrorTypeQuotaExceeded: a reservation was denied with no fallback left
	ErrorTypeQuotaExceeded ErrorType = "quota_exceeded"

	// ErrorTypeTimeout: the overall invoke deadline elapsed mid-chain
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeInvalidResponse: a provider replied outside its schema
	ErrorTypeInvalidResponse ErrorType = "invalid_response"

	// ErrorTypeAuthentication: a provider credential was rejected
	ErrorTypeAuthentication ErrorType = "authentication_failure"

	ErrorTypeInternal ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Validation / configuration errors, rejected at reload time
	ErrInvalidInput       = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrUnknownCategory    = NewDomainError(ErrorTypeValidation, "unknown capability category", nil)
	ErrDuplicateProvider  = NewDomainError(ErrorTypeConfig, "duplicate provider id", nil)
	ErrInvalidThresholds  = NewDomainError(ErrorTypeConfig, "invalid breaker thresholds", nil)
	ErrInvalidQuotaConfig = NewDomainError(ErrorTypeConfig, "invalid quota configuration", nil)
	ErrEmptyConfig        = NewDomainError(ErrorTypeConfig, "provider configuration is empty", nil)

	// Invocation failures, the only errors surfaced by Invoke
	ErrProviderUnavailable  = NewDomainError(ErrorTypeProviderUnavailable, "all attempted providers failed", nil)
	ErrAllProvidersExcluded = NewDomainError(ErrorTypeAllProvidersExcluded, "no provider eligible for selection", nil)
	ErrQuotaExceeded        = NewDomainError(ErrorTypeQuotaExceeded, "quota exhausted across fallback chain", nil)
	ErrInvokeTimeout        = NewDomainError(ErrorTypeTimeout, "deadline elapsed before a provider succeeded", nil)
	ErrInvalidResponse      = NewDomainError(ErrorTypeInvalidResponse, "provider response failed schema validation", nil)
	ErrAuthenticationFailed = NewDomainError(ErrorTypeAuthentication, "provider credential rejected", nil)

	// Internal errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal error", nil)
	ErrLedgerStopped = NewDomainError(ErrorTypeInternal, "usage ledger not running", nil)
)

// Error type checking helper functions

// IsProviderUnavailableError checks if an error reports chain exhaustion
func IsProviderUnavailableError(err error) bool {
	return hasType(err, ErrorTypeProviderUnavailable)
}

// IsAllProvidersExcludedError checks if an error reports an empty chain
func IsAllProvidersExcludedError(err error) bool {
	return hasType(err, ErrorTypeAllProvidersExcluded)
}

// IsQuotaExceededError checks if an error is a quota denial
func IsQuotaExceededError(err error) bool {
	return hasType(err, ErrorTypeQuotaExceeded)
}

// IsTimeoutError checks if an error reports an elapsed invoke deadline
func IsTimeoutError(err error) bool {
	return hasType(err, ErrorTypeTimeout)
}

// IsConfigError checks if an error is a configuration rejection
func IsConfigError(err error) bool {
	return hasType(err, ErrorTypeConfig)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

func hasType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(message string, err error) error {
	return NewDomainError(ErrorTypeConfig, message, err)
}
