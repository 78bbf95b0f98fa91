package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeConfig          ErrorType = "CONFIG"
	ErrTypeNavigation      ErrorType = "NAVIGATION"
	ErrTypeElementNotFound ErrorType = "ELEMENT_NOT_FOUND"
	ErrTypeDownload        ErrorType = "DOWNLOAD"
	ErrTypeUpload          ErrorType = "UPLOAD"
	ErrTypeTimeout         ErrorType = "TIMEOUT"
	ErrTypeStorage         ErrorType = "STORAGE"
	ErrTypeCancelled       ErrorType = "CANCELLED"
	ErrTypeInternal        ErrorType = "INTERNAL"
)

// Fatal reports whether errors of this type abort the whole run.
func (t ErrorType) Fatal() bool {
	return t == ErrTypeConfig || t == ErrTypeStorage
}

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
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

// Clone returns a copy of e with its own context map
func (e *AppError) Clone() *AppError {
	c := *e
	if e.Context != nil {
		c.Context = make(map[string]interface{}, len(e.Context))
		for k, v := range e.Context {
			c.Context[k] = v
		}
	}
	return &c
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// NewNavigationError creates a page navigation error
func NewNavigationError(message string, cause error) *AppError {
	return NewAppError(ErrTypeNavigation, message, cause)
}

// NewElementNotFoundError creates an error for a failed selector lookup
func NewElementNotFoundError(selector string, cause error) *AppError {
	return NewAppError(ErrTypeElementNotFound, fmt.Sprintf("element %s not found", selector), cause).
		WithContext("selector", selector)
}

// NewDownloadError creates a download capture or persistence error
func NewDownloadError(message string, cause error) *AppError {
	return NewAppError(ErrTypeDownload, message, cause)
}

// NewUploadError creates a remote store upload error
func NewUploadError(message string, cause error) *AppError {
	return NewAppError(ErrTypeUpload, message, cause)
}

// NewTimeoutError creates an error for a step that exceeded its budget
func NewTimeoutError(step string, cause error) *AppError {
	return NewAppError(ErrTypeTimeout, fmt.Sprintf("%s exceeded its time budget", step), cause).
		WithContext("step", step)
}

// NewStorageError creates a local storage error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewCancelledError creates an error for work interrupted by cancellation
func NewCancelledError(message string, cause error) *AppError {
	return NewAppError(ErrTypeCancelled, message, cause)
}

// NewInternalError creates an error for an unexpected fault such as a recovered panic
func NewInternalError(message string, cause error) *AppError {
	return NewAppError(ErrTypeInternal, message, cause)
}

// Classify wraps err as an AppError of type t. Errors that already carry a
// type keep it and come back as a copy, so adding context never touches
// the caller's error; deadline and cancellation causes become TIMEOUT and
// CANCELLED regardless of t.
func Classify(err error, t ErrorType, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Clone()
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return NewTimeoutError(message, err)
	case stderrors.Is(err, context.Canceled):
		return NewCancelledError(message, err)
	}
	return NewAppError(t, message, err)
}

// TypeOf returns the ErrorType carried by err, or "" when err is not an AppError.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// Is reports whether err carries the given ErrorType.
func Is(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}
