package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmmcli/internal/operations"
	"mmmcli/internal/services"
	"mmmcli/internal/shared/testutil"
)

func TestHealthHandler(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	store := services.NewMemoryRunStore()
	runs := services.NewRunService(store, operations.NewManager(nil, nil), services.RunServiceOptions{Workers: 1, Logger: logger})
	h := NewHealthHandler(services.NewHealthService("0.3.0", "2024-03-01", store, runs, nil, logger), logger)
	router := h.Routes()

	tests := []struct {
		name   string
		path   string
		status int
		field  string
		want   interface{}
	}{
		{"health", "/", http.StatusOK, "status", "ok"},
		{"ready", "/ready", http.StatusOK, "status", "ready"},
		{"live", "/live", http.StatusOK, "status", "alive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			require.Equal(t, tt.status, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body[tt.field])
		})
	}

	t.Run("version", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Version(rec, httptest.NewRequest(http.MethodGet, "/api/v1/version", nil))

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "0.3.0", body["version"])
		assert.Equal(t, "2024-03-01", body["build_time"])
	})
}

func TestHealthHandler_NotReady(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	h := NewHealthHandler(services.NewHealthService("0.3.0", "", services.NewMemoryRunStore(), nil, nil, logger), logger)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"not_ready"`)
	assert.True(t, handler.ContainsMessage("readiness check failed"))
}
