// Package apierr defines the HTTP-facing error taxonomy shared by every
// handler in the proxy. It mirrors the OpenAI-compatible error envelope:
// {"error":{"message","type","code"}}.
package apierr

import "net/http"

// Type is one of the fixed error categories exposed to clients.
type Type string

const (
	TypeBadRequest       Type = "bad_request"
	TypeAuthentication   Type = "authentication_error"
	TypePermission       Type = "permission_error"
	TypeNotFound         Type = "not_found"
	TypeRateLimit        Type = "rate_limit_error"
	TypeInternal         Type = "internal_error"
	TypeNotImplemented   Type = "not_implemented_error"
)

var statusByType = map[Type]int{
	TypeBadRequest:     http.StatusBadRequest,
	TypeAuthentication: http.StatusUnauthorized,
	TypePermission:     http.StatusForbidden,
	TypeNotFound:       http.StatusNotFound,
	TypeRateLimit:      http.StatusTooManyRequests,
	TypeInternal:       http.StatusInternalServerError,
	TypeNotImplemented: http.StatusNotImplemented,
}

// Error is the error type returned by every handler in internal/api.
type Error struct {
	Type    Type
	Message string
	Code    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return e.Type.String() + ": " + e.Message + " (" + e.Code + ")"
	}
	return e.Type.String() + ": " + e.Message
}

// String renders the type as its wire representation.
func (t Type) String() string { return string(t) }

// StatusCode returns the HTTP status code for this error's type.
func (e *Error) StatusCode() int {
	if code, ok := statusByType[e.Type]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func newErr(t Type, message, code string) *Error {
	return &Error{Type: t, Message: message, Code: code}
}

func BadRequest(message string) *Error     { return newErr(TypeBadRequest, message, "bad_request") }
func Unauthorized(message string) *Error   { return newErr(TypeAuthentication, message, "unauthorized") }
func Forbidden(message string) *Error      { return newErr(TypePermission, message, "forbidden") }
func NotFound(message string) *Error       { return newErr(TypeNotFound, message, "not_found") }
func RateLimited(message string) *Error    { return newErr(TypeRateLimit, message, "rate_limited") }
func Internal(message string) *Error       { return newErr(TypeInternal, message, "internal_error") }
func NotImplemented(message string) *Error { return newErr(TypeNotImplemented, message, "not_implemented") }

// BudgetExceeded is a rate_limit_error, matching the HTTP 429 mapping used
// for budget rejection.
func BudgetExceeded(message string) *Error {
	return newErr(TypeRateLimit, message, "budget_exceeded")
}

// ProviderUnhealthy surfaces a breaker-open rejection to the client.
func ProviderUnhealthy(message string) *Error {
	return newErr(TypeRateLimit, message, "provider_unhealthy")
}

// AsError unwraps err into an *Error, falling back to an internal_error
// wrapper so every failure path produces a well-formed envelope.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return Internal(err.Error())
}
