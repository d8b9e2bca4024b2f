package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the checkout protocol error taxonomy.
var (
	ErrNotFound            = errors.New("resource not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrRateLimited         = errors.New("rate limited")
	ErrConflict            = errors.New("conflict")
	ErrStateConflict       = errors.New("session state conflict")
	ErrPaymentDeclined     = errors.New("payment declined")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrInternal            = errors.New("internal error")
)

// Error codes surfaced in response bodies.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeValidation           = "VALIDATION_ERROR"
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeOriginNotAllowed     = "ORIGIN_NOT_ALLOWED"
	CodeRateLimited          = "RATE_LIMITED"
	CodeIdempotencyConflict  = "IDEMPOTENCY_CONFLICT"
	CodeIdempotencyInFlight  = "IDEMPOTENCY_IN_PROGRESS"
	CodeStateConflict        = "SESSION_STATE_CONFLICT"
	CodePaymentDeclined      = "PAYMENT_DECLINED"
	CodeGatewayUnavailable   = "PAYMENT_GATEWAY_UNAVAILABLE"
	CodeInternal             = "INTERNAL_ERROR"
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Status  int               `json:"-"`
	Err     error             `json:"-"`

	// RetryAfterSeconds, when non-zero, is surfaced as a Retry-After header
	// on rate-limit and gateway-unavailable responses.
	RetryAfterSeconds int `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Validation creates a 400 error carrying per-field messages.
func Validation(message string, fields map[string]string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
		Fields:  fields,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// AuthenticationFailed creates a 401 error for a bad or missing credential.
func AuthenticationFailed(message string) *AppError {
	return &AppError{
		Code:    CodeAuthenticationFailed,
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// OriginNotAllowed creates a 403 error for a network-origin allowlist rejection.
func OriginNotAllowed(origin string) *AppError {
	return &AppError{
		Code:    CodeOriginNotAllowed,
		Message: fmt.Sprintf("requests from %s are not permitted", origin),
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// RateLimited creates a 429 error carrying a retry hint in seconds.
func RateLimited(retryAfterSeconds int) *AppError {
	return &AppError{
		Code:              CodeRateLimited,
		Message:           "too many requests",
		Status:            http.StatusTooManyRequests,
		Err:               ErrRateLimited,
		RetryAfterSeconds: retryAfterSeconds,
	}
}

// IdempotencyConflict creates a 409 error for a reused key with a different payload.
func IdempotencyConflict() *AppError {
	return &AppError{
		Code:    CodeIdempotencyConflict,
		Message: "idempotency key was already used with a different request body",
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// IdempotencyInProgress creates a 409 error for a key whose first request is still executing.
func IdempotencyInProgress() *AppError {
	return &AppError{
		Code:    CodeIdempotencyInFlight,
		Message: "a request with this idempotency key is still being processed",
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// StateConflict creates a 409 error for an illegal session transition or stale version.
func StateConflict(message string) *AppError {
	return &AppError{
		Code:    CodeStateConflict,
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrStateConflict,
	}
}

// PaymentDeclined creates a 402 error; the session remains open and the caller
// may retry with a fresh delegated token.
func PaymentDeclined(reason string) *AppError {
	return &AppError{
		Code:    CodePaymentDeclined,
		Message: reason,
		Status:  http.StatusPaymentRequired,
		Err:     ErrPaymentDeclined,
	}
}

// GatewayUnavailable creates a 503 error for a retryable gateway infrastructure failure.
func GatewayUnavailable(retryAfterSeconds int) *AppError {
	return &AppError{
		Code:              CodeGatewayUnavailable,
		Message:           "payment gateway is temporarily unavailable, retry with a fresh token",
		Status:            http.StatusServiceUnavailable,
		Err:               ErrGatewayUnavailable,
		RetryAfterSeconds: retryAfterSeconds,
	}
}

// Internal creates a 500 error. The cause is wrapped together with
// ErrInternal so both match errors.Is.
func Internal(err error) *AppError {
	wrapped := ErrInternal
	if err != nil {
		wrapped = fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return &AppError{
		Code:    CodeInternal,
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     wrapped,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrConflict), errors.Is(err, ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
