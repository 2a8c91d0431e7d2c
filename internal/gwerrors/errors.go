// Package gwerrors implements the gateway's error taxonomy and the JSON
// envelope returned for every gateway-generated failure.
package gwerrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is the machine-readable error category carried in the envelope.
type Kind string

const (
	Validation          Kind = "VALIDATION"
	Authentication       Kind = "AUTHENTICATION"
	Authorization        Kind = "AUTHORIZATION"
	NotFound             Kind = "NOT_FOUND"
	RateLimited          Kind = "RATE_LIMITED"
	Timeout              Kind = "TIMEOUT"
	CircuitOpen          Kind = "CIRCUIT_OPEN"
	ServiceUnavailable   Kind = "SERVICE_UNAVAILABLE"
	ExternalServiceError Kind = "EXTERNAL_SERVICE_ERROR"
	Internal             Kind = "INTERNAL"
)

// statusForKind is the HTTP status each taxonomy kind maps to.
var statusForKind = map[Kind]int{
	Validation:           http.StatusBadRequest,
	Authentication:       http.StatusUnauthorized,
	Authorization:        http.StatusForbidden,
	NotFound:             http.StatusNotFound,
	RateLimited:          http.StatusTooManyRequests,
	Timeout:              http.StatusGatewayTimeout,
	CircuitOpen:          http.StatusServiceUnavailable,
	ServiceUnavailable:   http.StatusServiceUnavailable,
	ExternalServiceError: http.StatusBadGateway,
	Internal:             http.StatusInternalServerError,
}

// GatewayError is a typed error carrying everything needed to render the
// standard envelope. The message is always safe to show a client; it must
// never include stack traces or internal host details.
type GatewayError struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter int // seconds, only meaningful for RateLimited
	RequestID  string
	underlying error
}

func (e *GatewayError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error { return e.underlying }

// Status returns the HTTP status code for this error's kind.
func (e *GatewayError) Status() int {
	if s, ok := statusForKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates a GatewayError of the given kind with a machine code and message.
func New(kind Kind, code, message string) *GatewayError {
	return &GatewayError{Kind: kind, Code: code, Message: message}
}

// Wrap attaches an underlying error without exposing its text to clients.
func (e *GatewayError) Wrap(err error) *GatewayError {
	cp := *e
	cp.underlying = err
	return &cp
}

// WithRequestID returns a copy of e with RequestID set.
func (e *GatewayError) WithRequestID(id string) *GatewayError {
	cp := *e
	cp.RequestID = id
	return &cp
}

// WithRetryAfter returns a copy of e with RetryAfter set (seconds).
func (e *GatewayError) WithRetryAfter(seconds int) *GatewayError {
	cp := *e
	cp.RetryAfter = seconds
	return &cp
}

// Common sentinel errors, one per taxonomy kind, cloned via With* before use.
var (
	ErrValidation         = New(Validation, "VALIDATION_ERROR", "invalid request")
	ErrAuthentication     = New(Authentication, "AUTHENTICATION_REQUIRED", "authentication required")
	ErrAuthorization      = New(Authorization, "FORBIDDEN", "insufficient privileges")
	ErrNotFound           = New(NotFound, "NOT_FOUND", "resource not found")
	ErrRateLimited        = New(RateLimited, "RATE_LIMITED", "too many requests")
	ErrTimeout            = New(Timeout, "GATEWAY_TIMEOUT", "request exceeded its time budget")
	ErrCircuitOpen        = New(CircuitOpen, "CIRCUIT_OPEN", "service is temporarily unavailable")
	ErrServiceUnavailable = New(ServiceUnavailable, "SERVICE_UNAVAILABLE", "no healthy instance available")
	ErrBadGateway         = New(ExternalServiceError, "BAD_GATEWAY", "upstream request failed")
	ErrInternal           = New(Internal, "INTERNAL_ERROR", "internal gateway error")
)

// envelope is the gateway's standard JSON error response shape.
type envelope struct {
	Success bool          `json:"success"`
	Error   envelopeError `json:"error"`
	Time    string        `json:"timestamp"`
	ReqID   string        `json:"requestId"`
}

type envelopeError struct {
	Type    Kind   `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON renders the standard error envelope to w.
func (e *GatewayError) WriteJSON(w http.ResponseWriter) {
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", e.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	_ = json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error:   envelopeError{Type: e.Kind, Code: e.Code, Message: e.Message},
		Time:    time.Now().UTC().Format(time.RFC3339),
		ReqID:   e.RequestID,
	})
}

// IsGatewayError reports whether err is (or wraps) a *GatewayError.
func IsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	ok := errors.As(err, &ge)
	return ge, ok
}
