package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine-readable code rendered next to the message.
type ErrorCode string

const (
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeBadGateway   ErrorCode = "BAD_GATEWAY"
)

// AppError carries the HTTP status and public message for a failure. Cause
// is logged, never rendered.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Cause: err}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

// NewNotFoundError renders as "<resource> not found".
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NewBadGatewayError reports a failure of the authorization service or the
// realtime service behind us.
func NewBadGatewayError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeBadGateway, message, http.StatusBadGateway)
}

// Mapping renders errors matching Target (via errors.Is) as the AppError
// New builds.
type Mapping struct {
	Target error
	New    func(cause error) *AppError
}

// Translate returns the AppError of the first mapping whose target err
// matches, an AppError already in the chain, or fallback(err).
func Translate(err error, mappings []Mapping, fallback func(error) *AppError) *AppError {
	for _, m := range mappings {
		if errors.Is(err, m.Target) {
			appErr := m.New(err)
			if appErr.Cause == nil {
				appErr.Cause = err
			}
			return appErr
		}
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}
	return fallback(err)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
