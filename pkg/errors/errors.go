// Package errors defines the ProviderError taxonomy shared by every
// adapter. Router and pipeline code classify these to decide whether to
// trip a breaker, retry the next candidate, or surface the failure as-is.
package errors

import (
	"fmt"
	"net/http"
	"time"
)

// Kind is the ProviderError variant, per the adapter error contract.
type Kind string

const (
	KindAuthentication  Kind = "authentication"
	KindRateLimit       Kind = "rate_limit"
	KindInvalidRequest  Kind = "invalid_request"
	KindTimeout         Kind = "timeout"
	KindServerError     Kind = "server_error"
	KindResponseParsing Kind = "response_parsing"
	KindAllFailed       Kind = "all_failed"
)

// ProviderError is the standardized error surfaced by every adapter.
type ProviderError struct {
	Kind       Kind
	StatusCode int
	Message    string
	Provider   string
	Model      string
	RetryAfter time.Duration // set for KindRateLimit when the upstream sends Retry-After
	Duration   time.Duration // set for KindTimeout
	Errors     []error       // set for KindAllFailed: one entry per exhausted candidate
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
		e.Kind, e.Message, e.Provider, e.Model, e.StatusCode)
}

func (e *ProviderError) Unwrap() []error { return e.Errors }

// HTTPStatusCode returns the appropriate HTTP status for this error.
func (e *ProviderError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the router should try the next candidate.
// Authentication is retried once (via forced token refresh) by the router
// itself, not here; InvalidRequest never falls back, since a permanent,
// provider-specific rejection of the request content surfaces as 400
// rather than being retried against a different vendor.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindTimeout, KindServerError:
		return true
	default:
		return false
	}
}

func NewAuthenticationError(provider, model, message string) *ProviderError {
	return &ProviderError{Kind: KindAuthentication, StatusCode: http.StatusUnauthorized, Message: message, Provider: provider, Model: model}
}

func NewRateLimitError(provider, model, message string, retryAfter time.Duration) *ProviderError {
	return &ProviderError{Kind: KindRateLimit, StatusCode: http.StatusTooManyRequests, Message: message, Provider: provider, Model: model, RetryAfter: retryAfter}
}

func NewInvalidRequestError(provider, model, message string) *ProviderError {
	return &ProviderError{Kind: KindInvalidRequest, StatusCode: http.StatusBadRequest, Message: message, Provider: provider, Model: model}
}

func NewTimeoutError(provider, model, message string, d time.Duration) *ProviderError {
	return &ProviderError{Kind: KindTimeout, StatusCode: http.StatusGatewayTimeout, Message: message, Provider: provider, Model: model, Duration: d}
}

func NewServerError(provider, model, message string, statusCode int) *ProviderError {
	if statusCode < 500 {
		statusCode = http.StatusBadGateway
	}
	return &ProviderError{Kind: KindServerError, StatusCode: statusCode, Message: message, Provider: provider, Model: model}
}

func NewResponseParsingError(provider, model, message string) *ProviderError {
	return &ProviderError{Kind: KindResponseParsing, StatusCode: http.StatusBadGateway, Message: message, Provider: provider, Model: model}
}

// NewAllFailedError wraps every candidate's terminal error after the
// router exhausts its fallback list.
func NewAllFailedError(model string, errs []error) *ProviderError {
	return &ProviderError{Kind: KindAllFailed, StatusCode: http.StatusServiceUnavailable, Message: "all candidates failed", Model: model, Errors: errs}
}

// FromStatusCode classifies a raw upstream HTTP status into a
// ProviderError when the adapter has no more specific mapping.
func FromStatusCode(provider, model string, statusCode int, body string) *ProviderError {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewAuthenticationError(provider, model, body)
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(provider, model, body, 0)
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return NewInvalidRequestError(provider, model, body)
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return NewTimeoutError(provider, model, body, 0)
	case statusCode >= 500:
		return NewServerError(provider, model, body, statusCode)
	default:
		return NewInvalidRequestError(provider, model, body)
	}
}

// IsBreakerFailure reports whether an outcome counts as a circuit-breaker
// failure: network error, timeout, HTTP 5xx, or 429. Other 4xx codes are
// client errors and never trip the breaker.
func IsBreakerFailure(err error) bool {
	if err == nil {
		return false
	}
	pe, ok := err.(*ProviderError)
	if !ok {
		return true // transport/network errors with no ProviderError wrapper
	}
	switch pe.Kind {
	case KindTimeout, KindServerError, KindRateLimit:
		return true
	default:
		return false
	}
}
