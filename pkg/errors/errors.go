package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"

	ErrCodeNoActiveCall       ErrorCode = "NO_ACTIVE_CALL"
	ErrCodeRecipientBlocked   ErrorCode = "RECIPIENT_BLOCKED"
	ErrCodeUntrustedIdentity  ErrorCode = "UNTRUSTED_IDENTITY"
	ErrCodeUnregisteredUser   ErrorCode = "UNREGISTERED_USER"
	ErrCodeCallCoreStopped    ErrorCode = "CALL_CORE_STOPPED"
	ErrCodeInvalidCallMessage ErrorCode = "INVALID_CALL_MESSAGE"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
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

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrCodeTimeout, fmt.Sprintf("%s timed out", operation), http.StatusGatewayTimeout)
}

// NewNoActiveCallError is returned by control endpoints that need a call in
// progress.
func NewNoActiveCallError() *AppError {
	return NewAppError(ErrCodeNoActiveCall, "no call in progress", http.StatusConflict)
}

func NewRecipientBlockedError(recipient string) *AppError {
	return NewAppError(ErrCodeRecipientBlocked, "recipient is blocked", http.StatusForbidden).
		WithContext("recipient", recipient)
}

func NewUntrustedIdentityError(recipient string) *AppError {
	return NewAppError(ErrCodeUntrustedIdentity, "recipient identity changed", http.StatusConflict).
		WithContext("recipient", recipient)
}

func NewUnregisteredUserError(recipient string) *AppError {
	return NewAppError(ErrCodeUnregisteredUser, "recipient is not registered", http.StatusNotFound).
		WithContext("recipient", recipient)
}

func NewCallCoreStoppedError() *AppError {
	return NewAppError(ErrCodeCallCoreStopped, "call core is shutting down", http.StatusServiceUnavailable)
}

func NewInvalidCallMessageError(cause error) *AppError {
	return WrapError(cause, ErrCodeInvalidCallMessage, "invalid call message", http.StatusBadRequest)
}

// IsAppError checks if err itself is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
