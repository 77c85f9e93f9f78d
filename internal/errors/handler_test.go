package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmmcli/internal/dataset"
	"mmmcli/internal/mmm"
	"mmmcli/internal/optimize"
	"mmmcli/internal/shared/testutil"
)

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestErrorHandler_HandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"api error", ErrInvalidRequest, http.StatusBadRequest, TypeValidation},
		{"run not found", ErrRunNotFound, http.StatusNotFound, TypeNotFound},
		{"queue full", ErrQueueFull, http.StatusServiceUnavailable, TypeServiceDown},
		{"not found app error", NewNotFoundError("run"), http.StatusNotFound, TypeNotFound},
		{"data sentinel", fmt.Errorf("prepare: %w", dataset.ErrColumnNotFound), http.StatusUnprocessableEntity, TypeData},
		{"model sentinel", mmm.ErrUnknownModel, http.StatusUnprocessableEntity, TypeModel},
		{"not fitted", mmm.ErrNotFitted, http.StatusConflict, TypeConflict},
		{"optimization", optimize.ErrInfeasibleBounds, http.StatusUnprocessableEntity, TypeOptimization},
		{"storage", NewStorageError("redis", errors.New("down")), http.StatusServiceUnavailable, TypeStorage},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, TypeTimeout},
		{"unknown", errors.New("kaboom"), http.StatusInternalServerError, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := testutil.NewTestLogger(t)
			handler := NewErrorHandler(logger, false)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/abc", nil)
			rec := httptest.NewRecorder()
			handler.HandleError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeProblem(t, rec)
			assert.Equal(t, tt.wantType, body["type"])
			assert.Equal(t, "/api/v1/runs/abc", body["instance"])
			assert.Contains(t, body, "trace_id")
			assert.NotContains(t, body, "stack")
		})
	}
}

func TestErrorHandler_NilError(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, false)

	rec := httptest.NewRecorder()
	handler.HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	assert.Equal(t, 0, rec.Body.Len())
	assert.Equal(t, 0, logs.Count())
}

func TestErrorHandler_LogLevels(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, false)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler.HandleError(httptest.NewRecorder(), req, ErrRunNotFound)
	handler.HandleError(httptest.NewRecorder(), req, errors.New("boom"))

	testutil.AssertLogContains(t, logs, slog.LevelWarn, "request failed")
	testutil.AssertLogContains(t, logs, slog.LevelError, "request failed")
}

func TestErrorHandler_Details(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, true)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)

	rec := httptest.NewRecorder()
	handler.HandleError(rec, req, ErrValidation("model", "unknown"))
	body := decodeProblem(t, rec)
	assert.Equal(t, "VALIDATION_FAILED", body["error_code"])
	assert.Equal(t, "model", body["details"].(map[string]interface{})["field"])
	assert.Contains(t, body, "stack")

	rec = httptest.NewRecorder()
	handler.HandleError(rec, req, NewDataError("load", dataset.ErrMissingValue).WithContext("column", "tv"))
	body = decodeProblem(t, rec)
	assert.Equal(t, "DATA", body["error_type"])
	assert.Equal(t, "tv", body["context"].(map[string]interface{})["column"])
	assert.Contains(t, body["detail"], "missing value")
}

func TestErrorHandler_NotFoundAndMethod(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, false)

	rec := httptest.NewRecorder()
	handler.NotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.MethodNotAllowed(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.True(t, strings.Contains(decodeProblem(t, rec)["detail"].(string), "DELETE"))
}

func TestErrorHandler_HandlePanic(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, true)

	rec := httptest.NewRecorder()
	handler.HandlePanic(rec, httptest.NewRequest(http.MethodGet, "/", nil), "nil map")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "nil map", decodeProblem(t, rec)["panic"])
	testutil.AssertLogContains(t, logs, slog.LevelError, "panic recovered")
}
