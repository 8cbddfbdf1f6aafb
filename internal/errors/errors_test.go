package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError_Error(t *testing.T) {
	err := New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	assert.Equal(t, "Invalid request format", err.Error())
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Nil(t, err.Details)
}

func TestNewWithDetails(t *testing.T) {
	err := NewWithDetails(http.StatusConflict, "RUN_IN_PROGRESS", "busy", map[string]string{"active_run": "r1"})
	assert.Equal(t, map[string]string{"active_run": "r1"}, err.Details)
}

func TestErrorResponse_Render(t *testing.T) {
	tests := []struct {
		name   string
		err    *APIError
		status int
	}{
		{"not found", ErrNotFound, http.StatusNotFound},
		{"no report", ErrNoReport, http.StatusNotFound},
		{"conflict", ErrRunInProgress, http.StatusConflict},
		{"internal", ErrInternalServer, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			require.NoError(t, render.Render(rec, req, NewErrorResponse(tt.err)))

			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.err.ErrorCode, body.Error.ErrorCode)
		})
	}
}
