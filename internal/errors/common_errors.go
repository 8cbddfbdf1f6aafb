package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the kind of pipeline failure
type ErrorType string

const (
	ErrTypeConfiguration  ErrorType = "CONFIGURATION"
	ErrTypeExtraction     ErrorType = "EXTRACTION"
	ErrTypeDataValidation ErrorType = "DATA_VALIDATION"
	ErrTypeTransformation ErrorType = "TRANSFORMATION"
	ErrTypeDataLoad       ErrorType = "DATA_LOAD"
)

// AppError represents a typed pipeline error
type AppError struct {
	Type      ErrorType
	Source    string
	Message   string
	Cause     error
	Details   []string
	Retryable bool
	Context   map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Type))
	b.WriteString("]")
	if e.Source != "" {
		b.WriteString(" ")
		b.WriteString(e.Source)
		b.WriteString(":")
	}
	b.WriteString(" ")
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Details, "; "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
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

// WithSource tags the error with the data source it belongs to
func (e *AppError) WithSource(source string) *AppError {
	e.Source = source
	return e
}

// NewAppError creates a new pipeline error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewConfigurationError reports missing or invalid settings
func NewConfigurationError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfiguration, message, cause)
}

// NewExtractionError reports a transport or HTTP failure after retries
func NewExtractionError(source, message string, cause error, retryable bool) *AppError {
	err := NewAppError(ErrTypeExtraction, message, cause).WithSource(source)
	err.Retryable = retryable
	return err
}

// NewDataValidationError reports an unexpected response or table shape
func NewDataValidationError(source, message string, details ...string) *AppError {
	err := NewAppError(ErrTypeDataValidation, message, nil).WithSource(source)
	err.Details = details
	return err
}

// NewTransformationError wraps a failed coercion or validation gate
func NewTransformationError(source, message string, details []string, cause error) *AppError {
	err := NewAppError(ErrTypeTransformation, message, cause).WithSource(source)
	err.Details = details
	return err
}

// NewDataLoadError wraps a warehouse failure
func NewDataLoadError(message string, cause error) *AppError {
	return NewAppError(ErrTypeDataLoad, message, cause)
}

// IsType reports whether err or anything it wraps is an AppError of the given type
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Type == errType {
			return true
		}
		return IsType(appErr.Cause, errType)
	}
	return false
}

// TypeOf returns the type of the outermost AppError, or "" when err is not one
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}
