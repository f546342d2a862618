package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Type classifies an error for clients and for propagation decisions.
type Type string

const (
	TypeValidation      Type = "validation_error"
	TypeAuthentication  Type = "authentication_error"
	TypeRateLimit       Type = "rate_limit_error"
	TypeCostLimit       Type = "cost_limit_error"
	TypeExternalService Type = "external_service_error"
	TypeDatabase        Type = "database_error"
	TypeUnknown         Type = "unknown_error"
)

// Sentinel errors used across packages.
var (
	ErrMissingAuthHeaders  = errors.New("auth: missing required headers")
	ErrTimestampOutOfRange = errors.New("auth: timestamp outside allowed window")
	ErrInvalidSignature    = errors.New("auth: invalid signature")
	ErrUnknownInstallation = errors.New("auth: unknown installation")
	ErrCredentialExpired   = errors.New("auth: credential expired")
	ErrPayloadTooLarge     = errors.New("validation: payload too large")
)

// Error is the typed error carried through handlers and rendered as JSON.
type Error struct {
	Type       Type
	Code       string
	Message    string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(t Type, code, message string, status int) *Error {
	return &Error{Type: t, Code: code, Message: message, Status: status}
}

func Validation(code, message string) *Error {
	return New(TypeValidation, code, message, http.StatusBadRequest)
}

func Authentication(code, message string) *Error {
	return New(TypeAuthentication, code, message, http.StatusUnauthorized)
}

func RateLimit(code, message string, retryAfter time.Duration) *Error {
	e := New(TypeRateLimit, code, message, http.StatusTooManyRequests)
	e.RetryAfter = retryAfter
	return e
}

func CostLimit(code, message string, retryAfter time.Duration) *Error {
	e := New(TypeCostLimit, code, message, http.StatusPaymentRequired)
	e.RetryAfter = retryAfter
	return e
}

func ExternalService(code, message string, err error) *Error {
	e := New(TypeExternalService, code, message, http.StatusBadGateway)
	e.Err = err
	return e
}

func Database(message string, err error) *Error {
	e := New(TypeDatabase, "database_failure", message, http.StatusInternalServerError)
	e.Err = err
	return e
}

func Unknown(err error) *Error {
	e := New(TypeUnknown, "internal_error", "internal server error", http.StatusInternalServerError)
	e.Err = err
	return e
}

// PayloadTooLarge is distinct from plain validation failure: it is raised
// before the body is parsed.
func PayloadTooLarge(limit int64) *Error {
	return New(TypeValidation, "payload_too_large",
		fmt.Sprintf("request body exceeds %d bytes", limit), http.StatusRequestEntityTooLarge)
}

// AsError coerces any error into a typed *Error, defaulting to Unknown.
func AsError(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Unknown(err)
}
