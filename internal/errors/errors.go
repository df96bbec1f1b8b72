package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType classifies failures of the automation pipeline.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeTransient  ErrorType = "transient_execution"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeInternal   ErrorType = "internal"
)

// AppError is the structured error returned across package boundaries.
type AppError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
	err     error
}

func (e *AppError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.err
}

// WithDetails attaches extra context rendered to API callers.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewValidationError is returned for input rejected at the boundary. It is never persisted.
func NewValidationError(msg string, err error) *AppError {
	return &AppError{Type: ErrorTypeValidation, Message: msg, Code: http.StatusBadRequest, err: err}
}

// NewNotFoundError is returned for unknown threshold, alert or task ids.
func NewNotFoundError(msg string, err error) *AppError {
	return &AppError{Type: ErrorTypeNotFound, Message: msg, Code: http.StatusNotFound, err: err}
}

// NewTransientError wraps a gateway or transport failure that may succeed on a later attempt.
func NewTransientError(msg string, err error) *AppError {
	return &AppError{Type: ErrorTypeTransient, Message: msg, Code: http.StatusServiceUnavailable, err: err}
}

// NewConflictError is returned when a lifecycle transition is not allowed from the current state.
func NewConflictError(msg string, err error) *AppError {
	return &AppError{Type: ErrorTypeConflict, Message: msg, Code: http.StatusConflict, err: err}
}

func NewDatabaseError(msg string, err error) *AppError {
	return &AppError{Type: ErrorTypeDatabase, Message: msg, Code: http.StatusInternalServerError, err: err}
}

func NewInternalError(msg string, err error) *AppError {
	return &AppError{Type: ErrorTypeInternal, Message: msg, Code: http.StatusInternalServerError, err: err}
}

func typeOf(err error) (ErrorType, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type, true
	}
	return "", false
}

func IsValidation(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeValidation
}

func IsNotFound(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeNotFound
}

func IsTransient(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeTransient
}

func IsConflict(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeConflict
}

// As exposes the AppError in err's chain, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
