package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mmmcli/internal/config"
	apierrors "mmmcli/internal/errors"
	"mmmcli/internal/middleware"
	"mmmcli/internal/operations"
	"mmmcli/internal/optimize"
	"mmmcli/internal/services"
	"mmmcli/internal/shared/testutil"
	v1 "mmmcli/pkg/contracts/api/v1"
)

type mockRunService struct {
	mock.Mock
}

func (m *mockRunService) Submit(ctx context.Context, cfg *config.Config) (*operations.Job, error) {
	args := m.Called(ctx, cfg)
	job, _ := args.Get(0).(*operations.Job)
	return job, args.Error(1)
}

func (m *mockRunService) Get(ctx context.Context, id string) (*operations.Job, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*operations.Job)
	return job, args.Error(1)
}

func (m *mockRunService) List(ctx context.Context, status string, limit int) ([]*operations.Job, error) {
	args := m.Called(ctx, status, limit)
	jobs, _ := args.Get(0).([]*operations.Job)
	return jobs, args.Error(1)
}

func (m *mockRunService) Summary(ctx context.Context, id string) (*services.RunSummary, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*services.RunSummary)
	return s, args.Error(1)
}

func (m *mockRunService) Metrics(ctx context.Context, id string) (*services.RunMetrics, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*services.RunMetrics)
	return s, args.Error(1)
}

func (m *mockRunService) Optimize(ctx context.Context, id string, params services.OptimizeParams) (*optimize.Result, error) {
	args := m.Called(ctx, id, params)
	res, _ := args.Get(0).(*optimize.Result)
	return res, args.Error(1)
}

func (m *mockRunService) Cancel(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func newTestRunsHandler(t *testing.T) (*mockRunService, http.Handler) {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	runs := &mockRunService{}
	h := NewRunsHandler(runs, config.Default(), apierrors.NewErrorHandler(logger, false), logger)
	return runs, middleware.RequestID(h.Routes())
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func problem(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

const validRun = `{
	"data": {
		"source": "s3://mmm-data/weekly.csv",
		"media": ["tv", "radio"],
		"target": "sales",
		"extra": ["price"]
	},
	"model": {"name": " Hill_Adstock ", "number_samples": 200}
}`

func TestRunsHandler_SubmitRun(t *testing.T) {
	runs, h := newTestRunsHandler(t)

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	runs.On("Submit", mock.Anything, mock.MatchedBy(func(cfg *config.Config) bool {
		return cfg.Model.Name == "hill_adstock" &&
			cfg.Model.NumberSamples == 200 &&
			cfg.Data.Source == "s3://mmm-data/weekly.csv" &&
			assert.ObjectsAreEqual([]string{"tv", "radio"}, cfg.Data.Media)
	})).Return(&operations.Job{
		ID:        "run-1",
		Model:     "hill_adstock",
		Status:    operations.JobStatusPending,
		CreatedAt: created,
	}, nil).Once()

	rec := do(h, http.MethodPost, "/", validRun)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/v1/runs/run-1", rec.Header().Get("Location"))

	var body v1.RunAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, "pending", body.Status)
	assert.Equal(t, "/api/v1/runs/run-1/summary", body.Links.Summary)
	assert.True(t, created.Equal(body.CreatedAt))
	runs.AssertExpectations(t)
}

func TestRunsHandler_SubmitRun_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		field  string
	}{
		{
			name:   "missing source",
			body:   `{"data": {"media": ["tv"], "target": "sales"}}`,
			status: http.StatusBadRequest,
			field:  "data.source",
		},
		{
			name:   "duplicate media",
			body:   `{"data": {"source": "weekly.csv", "media": ["tv", "tv"], "target": "sales"}}`,
			status: http.StatusBadRequest,
			field:  "data.media",
		},
		{
			name:   "unknown model",
			body:   `{"data": {"source": "weekly.csv", "media": ["tv"], "target": "sales"}, "model": {"name": "prophet"}}`,
			status: http.StatusBadRequest,
			field:  "model.name",
		},
		{
			name:   "unsupported scheme",
			body:   `{"data": {"source": "ftp://host/weekly.csv", "media": ["tv"], "target": "sales"}}`,
			status: http.StatusBadRequest,
			field:  "data.source",
		},
		{
			name:   "malformed json",
			body:   `{"data": `,
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, h := newTestRunsHandler(t)

			rec := do(h, http.MethodPost, "/", tt.body)

			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := problem(t, rec)
			assert.Equal(t, apierrors.TypeValidation, body["type"])
			assert.NotEmpty(t, body["trace_id"])
			if tt.field != "" {
				assert.Contains(t, rec.Body.String(), `"field":"`+tt.field)
			}
			runs.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
		})
	}
}

func TestRunsHandler_SubmitRun_ServiceError(t *testing.T) {
	runs, h := newTestRunsHandler(t)
	runs.On("Submit", mock.Anything, mock.Anything).
		Return(nil, apierrors.NewConfigError("test_periods leaves no training data", nil)).Once()

	rec := do(h, http.MethodPost, "/", validRun)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apierrors.TypeConfig, problem(t, rec)["type"])
}

func TestRunsHandler_ListRuns(t *testing.T) {
	runs, h := newTestRunsHandler(t)
	runs.On("List", mock.Anything, "completed", 10).Return([]*operations.Job{
		{ID: "a", Status: operations.JobStatusCompleted},
		{ID: "b", Status: operations.JobStatusCompleted},
	}, nil).Once()
	runs.On("List", mock.Anything, "", defaultListLimit).Return([]*operations.Job{}, nil).Once()

	rec := do(h, http.MethodGet, "/?status=completed&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := problem(t, rec)
	assert.EqualValues(t, 2, body["count"])

	rec = do(h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, problem(t, rec)["count"])

	rec = do(h, http.MethodGet, "/?status=sleeping", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodGet, "/?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	runs.AssertExpectations(t)
}

func TestRunsHandler_GetRun(t *testing.T) {
	runs, h := newTestRunsHandler(t)
	runs.On("Get", mock.Anything, "run-1").Return(&operations.Job{ID: "run-1", Status: operations.JobStatusRunning}, nil)
	runs.On("Get", mock.Anything, "missing").Return(nil,
		apierrors.NewAppError(apierrors.ErrTypeNotFound, "run missing not found", services.ErrRunNotFound))

	rec := do(h, http.MethodGet, "/run-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", problem(t, rec)["status"])

	rec = do(h, http.MethodGet, "/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apierrors.TypeNotFound, problem(t, rec)["type"])
}

func TestRunsHandler_SummaryAndMetrics(t *testing.T) {
	runs, h := newTestRunsHandler(t)
	runs.On("Summary", mock.Anything, "run-1").Return(&services.RunSummary{RunID: "run-1", Model: "adstock"}, nil)
	runs.On("Metrics", mock.Anything, "run-1").Return(&services.RunMetrics{RunID: "run-1", Channels: []string{"tv"}}, nil)
	runs.On("Summary", mock.Anything, "run-2").Return(nil,
		apierrors.NewAppError(apierrors.ErrTypeConflict, "run run-2 has not completed", services.ErrRunNotComplete))

	rec := do(h, http.MethodGet, "/run-1/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "adstock", problem(t, rec)["model"])

	rec = do(h, http.MethodGet, "/run-1/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"tv"}, problem(t, rec)["channels"])

	rec = do(h, http.MethodGet, "/run-2/summary", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRunsHandler_OptimizeRun(t *testing.T) {
	runs, h := newTestRunsHandler(t)
	lower := 0.1
	runs.On("Optimize", mock.Anything, "run-1", services.OptimizeParams{
		Budget:         5000,
		Periods:        4,
		BoundsLowerPct: &lower,
	}).Return(&optimize.Result{
		Allocation: []float64{3000, 2000},
		Iterations: 12,
		Converged:  true,
	}, nil).Once()
	runs.On("Optimize", mock.Anything, "run-1", services.OptimizeParams{}).
		Return(&optimize.Result{Allocation: []float64{1, 1}}, nil).Once()
	runs.On("Optimize", mock.Anything, "run-1", services.OptimizeParams{
		BaselineAllocation: []float64{40, 60},
	}).Return(&optimize.Result{Allocation: []float64{50, 50}}, nil).Once()

	rec := do(h, http.MethodPost, "/run-1/optimize", `{"budget": 5000, "periods": 4, "bounds_lower_pct": 0.1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, problem(t, rec)["converged"])

	rec = do(h, http.MethodPost, "/run-1/optimize", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(h, http.MethodPost, "/run-1/optimize", `{"baseline_allocation": [40, 60]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(h, http.MethodPost, "/run-1/optimize", `{"budget": -1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/run-1/optimize", `{"baseline_allocation": [-1, 2]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	runs.AssertExpectations(t)
}

func TestRunsHandler_CancelRun(t *testing.T) {
	runs, h := newTestRunsHandler(t)
	runs.On("Cancel", mock.Anything, "run-1").Return(nil).Once()
	runs.On("Cancel", mock.Anything, "run-2").Return(
		apierrors.NewAppError(apierrors.ErrTypeConflict, "run run-2 already finished", services.ErrRunFinished)).Once()

	rec := do(h, http.MethodDelete, "/run-1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "cancelling", problem(t, rec)["status"])

	rec = do(h, http.MethodDelete, "/run-2", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	runs.AssertExpectations(t)
}

func TestBuildRunConfig(t *testing.T) {
	defaults := config.Default()
	defaults.Data.Media = []string{"tv", "radio", "search"}
	defaults.Optimization.Prices = []float64{1, 2, 3}
	defaults.Optimization.Budget = 100

	testPeriods := 6
	seed := uint64(7)
	lower := 0.3
	req := v1.RunRequest{
		Data: v1.DataRequest{
			Source:      "sheets://sheet-id/Weekly!A1:F60",
			Media:       []string{"tv", "radio"},
			Target:      "sales",
			TestPeriods: &testPeriods,
		},
		Model: &v1.ModelRequest{
			Name: "carryover",
			Seed: &seed,
			CustomPriors: map[string]v1.PriorRequest{
				"exponent": {Distribution: "gamma", Params: []float64{2, 1}},
			},
		},
		Optimization: &v1.OptimizationRequest{
			Enabled:        true,
			Budget:         2500,
			BoundsLowerPct: &lower,

			BaselineAllocation: []float64{300, 200},
		},
		Output: &v1.OutputRequest{Formats: []string{"xlsx"}},
	}

	cfg := BuildRunConfig(defaults, req)

	assert.Equal(t, "sheets://sheet-id/Weekly!A1:F60", cfg.Data.Source)
	assert.Equal(t, []string{"tv", "radio"}, cfg.Data.Media)
	assert.Equal(t, 6, cfg.Data.TestPeriods)
	assert.Equal(t, "carryover", cfg.Model.Name)
	assert.Equal(t, uint64(7), cfg.Model.Seed)
	assert.Equal(t, defaults.Model.NumberWarmup, cfg.Model.NumberWarmup)
	assert.Equal(t, []float64{2, 1}, cfg.Model.CustomPriors["exponent"].Params)
	assert.True(t, cfg.Optimization.Enabled)
	assert.Equal(t, 2500.0, cfg.Optimization.Budget)
	assert.Equal(t, 0.3, cfg.Optimization.BoundsLowerPct)
	assert.Nil(t, cfg.Optimization.Prices, "prices for a different channel set are dropped")
	assert.Equal(t, []float64{300, 200}, cfg.Optimization.BaselineAllocation)
	assert.Equal(t, []string{"xlsx"}, cfg.Output.Formats)

	// defaults are untouched
	assert.Equal(t, []string{"tv", "radio", "search"}, defaults.Data.Media)
	assert.Equal(t, 100.0, defaults.Optimization.Budget)
}
