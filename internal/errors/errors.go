package errors

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

var (
	ErrNotFound       = New(http.StatusNotFound, "NOT_FOUND", "Resource not found")
	ErrNoReport       = New(http.StatusNotFound, "NO_REPORT", "No pipeline run has completed yet")
	ErrRunInProgress  = New(http.StatusConflict, "RUN_IN_PROGRESS", "A pipeline run is already in progress")
	ErrInternalServer = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
	ErrPipelineFailed = New(http.StatusInternalServerError, "PIPELINE_FAILED", "Pipeline execution failed")
	ErrInvalidRequest = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
)

// FromError maps a pipeline error onto the API error it should surface as
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch TypeOf(err) {
	case ErrTypeConfiguration:
		return NewWithDetails(http.StatusBadRequest, "CONFIGURATION_ERROR", "Invalid pipeline configuration", err.Error())
	case ErrTypeExtraction:
		return NewWithDetails(http.StatusBadGateway, "EXTRACTION_FAILED", "Upstream extraction failed", err.Error())
	case ErrTypeDataValidation, ErrTypeTransformation:
		return NewWithDetails(http.StatusUnprocessableEntity, "TRANSFORMATION_FAILED", "Data could not be transformed", err.Error())
	case ErrTypeDataLoad:
		return NewWithDetails(http.StatusInternalServerError, "LOAD_FAILED", "Warehouse load failed", err.Error())
	}
	return NewWithDetails(http.StatusInternalServerError, "PIPELINE_FAILED", "Pipeline execution failed", err.Error())
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error"`
}

// NewErrorResponse creates a new error response
func NewErrorResponse(err *APIError) *ErrorResponse {
	return &ErrorResponse{
		Success: false,
		Error:   err,
	}
}

// Render implements the render.Renderer interface
func (e *ErrorResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return e.Error.Render(w, r)
}
