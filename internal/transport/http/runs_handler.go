package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mmmcli/internal/config"
	apierrors "mmmcli/internal/errors"
	"mmmcli/internal/infrastructure"
	"mmmcli/internal/middleware"
	"mmmcli/internal/operations"
	"mmmcli/internal/optimize"
	"mmmcli/internal/services"
	v1 "mmmcli/pkg/contracts/api/v1"
)

const (
	runsBasePath     = "/api/v1/runs"
	defaultListLimit = 50
	maxListLimit     = 500
)

// RunService is the part of services.RunService the handler depends on
type RunService interface {
	Submit(ctx context.Context, cfg *config.Config) (*operations.Job, error)
	Get(ctx context.Context, id string) (*operations.Job, error)
	List(ctx context.Context, status string, limit int) ([]*operations.Job, error)
	Summary(ctx context.Context, id string) (*services.RunSummary, error)
	Metrics(ctx context.Context, id string) (*services.RunMetrics, error)
	Optimize(ctx context.Context, id string, params services.OptimizeParams) (*optimize.Result, error)
	Cancel(ctx context.Context, id string) error
}

// RunsHandler serves /api/v1/runs
type RunsHandler struct {
	runs      RunService
	defaults  *config.Config
	validator *middleware.ValidationMiddleware
	query     *middleware.QueryParamValidator
	errors    *apierrors.ErrorHandler
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewRunsHandler creates the handler. defaults is the server configuration
// each request is layered on; it is never modified.
func NewRunsHandler(runs RunService, defaults *config.Config, errs *apierrors.ErrorHandler, logger *slog.Logger) *RunsHandler {
	if runs == nil {
		panic("runs service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if defaults == nil {
		defaults = config.Default()
	}
	if errs == nil {
		errs = apierrors.NewErrorHandler(logger, false)
	}
	return &RunsHandler{
		runs:      runs,
		defaults:  defaults,
		validator: middleware.NewValidationMiddleware(logger, errs),
		query:     middleware.NewQueryParamValidator(logger, errs),
		errors:    errs,
		tracer:    otel.Tracer("runs-handler"),
		logger:    logger.With(slog.String("handler", "runs")),
	}
}

// Routes returns a chi router for run endpoints
func (h *RunsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.validator.ValidateRequest)

	r.Post("/", h.SubmitRun)
	r.Get("/", h.ListRuns)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.GetRun)
		r.Delete("/", h.CancelRun)
		r.Get("/summary", h.GetSummary)
		r.Get("/metrics", h.GetMetrics)
		r.Post("/optimize", h.OptimizeRun)
	})
	return r
}

// runRequest binds the request body of POST /runs
type runRequest struct {
	v1.RunRequest
}

// Bind normalizes names before validation
func (req *runRequest) Bind(*http.Request) error {
	d := &req.Data
	d.Source = strings.TrimSpace(d.Source)
	d.Target = strings.TrimSpace(d.Target)
	d.DateColumn = strings.TrimSpace(d.DateColumn)
	trimAll(d.Media)
	trimAll(d.Extra)
	trimAll(d.Costs)
	if req.Model != nil {
		req.Model.Name = strings.ToLower(strings.TrimSpace(req.Model.Name))
	}
	return nil
}

type optimizeRequest struct {
	v1.OptimizeRequest
}

func (req *optimizeRequest) Bind(*http.Request) error { return nil }

func trimAll(names []string) {
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
}

func (h *RunsHandler) start(r *http.Request, name string) (context.Context, trace.Span) {
	return h.tracer.Start(r.Context(), "runs_handler."+name,
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
			attribute.String("component", "runs_handler"),
		),
	)
}

// fail records err on span and writes the problem response
func (h *RunsHandler) fail(w http.ResponseWriter, r *http.Request, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	h.errors.HandleError(w, r, err)
}

// SubmitRun handles POST /api/v1/runs
func (h *RunsHandler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "submit_run")
	defer span.End()
	reqID := middleware.GetReqID(ctx)

	req := &runRequest{}
	if err := render.Bind(r, req); err != nil {
		span.SetAttributes(attribute.String("error.type", "request_decode"))
		h.fail(w, r, span, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validator.ValidateStruct(&req.RunRequest); err != nil {
		span.SetAttributes(attribute.String("error.type", "request_validation"))
		h.fail(w, r, span, err)
		return
	}

	cfg := BuildRunConfig(h.defaults, req.RunRequest)
	job, err := h.runs.Submit(ctx, cfg)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}

	span.SetAttributes(
		attribute.String("run.id", job.ID),
		attribute.String("run.model", job.Model),
	)
	h.logger.InfoContext(ctx, "run accepted",
		slog.String("run_id", job.ID),
		slog.String("model", job.Model),
		slog.String("request_id", reqID),
		slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)),
	)

	links := v1.NewRunLinks(runsBasePath, job.ID)
	w.Header().Set("Location", links.Self)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, v1.RunAccepted{
		RunID:     job.ID,
		Status:    string(job.Status),
		Model:     job.Model,
		CreatedAt: job.CreatedAt,
		Links:     links,
	})
}

// ListRuns handles GET /api/v1/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "list_runs")
	defer span.End()

	status, ok := h.query.ValidateEnum(w, r, "status", []string{
		string(operations.JobStatusPending),
		string(operations.JobStatusRunning),
		string(operations.JobStatusCompleted),
		string(operations.JobStatusFailed),
		string(operations.JobStatusCancelled),
	}, "")
	if !ok {
		return
	}
	limit, ok := h.query.ValidateInt(w, r, "limit", 1, maxListLimit, defaultListLimit)
	if !ok {
		return
	}

	jobs, err := h.runs.List(ctx, status, limit)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	span.SetAttributes(attribute.Int("runs.count", len(jobs)))
	render.JSON(w, r, v1.RunList{Runs: jobs, Count: len(jobs)})
}

// GetRun handles GET /api/v1/runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "get_run")
	defer span.End()

	job, err := h.runs.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, job)
}

// GetSummary handles GET /api/v1/runs/{id}/summary
func (h *RunsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "get_summary")
	defer span.End()

	summary, err := h.runs.Summary(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, summary)
}

// GetMetrics handles GET /api/v1/runs/{id}/metrics
func (h *RunsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "get_metrics")
	defer span.End()

	metrics, err := h.runs.Metrics(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, metrics)
}

// OptimizeRun handles POST /api/v1/runs/{id}/optimize. An empty body
// re-runs the optimizer with the run's own settings.
func (h *RunsHandler) OptimizeRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "optimize_run")
	defer span.End()
	id := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("run.id", id))

	req := &optimizeRequest{}
	if r.ContentLength != 0 {
		if err := render.Bind(r, req); err != nil {
			h.fail(w, r, span, apierrors.InvalidRequestWithError(err))
			return
		}
	}
	if err := h.validator.ValidateStruct(&req.OptimizeRequest); err != nil {
		h.fail(w, r, span, err)
		return
	}

	result, err := h.runs.Optimize(ctx, id, services.OptimizeParams{
		Budget:             req.Budget,
		Prices:             req.Prices,
		Periods:            req.Periods,
		BoundsLowerPct:     req.BoundsLowerPct,
		BoundsUpperPct:     req.BoundsUpperPct,
		BaselineAllocation: req.BaselineAllocation,
	})
	if err != nil {
		h.fail(w, r, span, err)
		return
	}

	h.logger.InfoContext(ctx, "run re-optimized",
		slog.String("run_id", id),
		slog.Int("iterations", result.Iterations),
		slog.Bool("converged", result.Converged),
		slog.String("request_id", middleware.GetReqID(ctx)),
	)
	render.JSON(w, r, result)
}

// CancelRun handles DELETE /api/v1/runs/{id}
func (h *RunsHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "cancel_run")
	defer span.End()
	id := chi.URLParam(r, "id")

	if err := h.runs.Cancel(ctx, id); err != nil {
		h.fail(w, r, span, err)
		return
	}

	h.logger.InfoContext(ctx, "run cancellation requested",
		slog.String("run_id", id),
		slog.String("request_id", middleware.GetReqID(ctx)))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{
		"run_id": id,
		"status": "cancelling",
	})
}

// BuildRunConfig layers req over a copy of defaults
func BuildRunConfig(defaults *config.Config, req v1.RunRequest) *config.Config {
	cfg := defaults.Clone()

	d := req.Data
	cfg.Data.Source = d.Source
	cfg.Data.Media = append([]string(nil), d.Media...)
	cfg.Data.Target = d.Target
	cfg.Data.Extra = append([]string(nil), d.Extra...)
	cfg.Data.Costs = append([]string(nil), d.Costs...)
	setString(&cfg.Data.DateColumn, d.DateColumn)
	setString(&cfg.Data.DateLayout, d.DateLayout)
	setString(&cfg.Data.Sheet, d.Sheet)
	setString(&cfg.Data.MediaScaling, d.MediaScaling)
	setString(&cfg.Data.TargetScaling, d.TargetScaling)
	setString(&cfg.Data.ExtraScaling, d.ExtraScaling)
	if d.TestPeriods != nil {
		cfg.Data.TestPeriods = *d.TestPeriods
	}

	if m := req.Model; m != nil {
		setString(&cfg.Model.Name, m.Name)
		setInt(&cfg.Model.NumberWarmup, m.NumberWarmup)
		setInt(&cfg.Model.NumberSamples, m.NumberSamples)
		setInt(&cfg.Model.NumberChains, m.NumberChains)
		setInt(&cfg.Model.SeasonalityFrequency, m.SeasonalityFrequency)
		if m.DegreesSeasonality != nil {
			cfg.Model.DegreesSeasonality = *m.DegreesSeasonality
		}
		if m.WeekdaySeasonality != nil {
			cfg.Model.WeekdaySeasonality = *m.WeekdaySeasonality
		}
		if m.Seed != nil {
			cfg.Model.Seed = *m.Seed
		}
		if m.MAPIterations != nil {
			cfg.Model.MAPIterations = *m.MAPIterations
		}
		if m.CredibleMass > 0 {
			cfg.Model.CredibleMass = m.CredibleMass
		}
		if len(m.CustomPriors) > 0 {
			cfg.Model.CustomPriors = make(map[string]config.PriorConfig, len(m.CustomPriors))
			for name, p := range m.CustomPriors {
				cfg.Model.CustomPriors[name] = config.PriorConfig{
					Distribution: p.Distribution,
					Params:       append([]float64(nil), p.Params...),
				}
			}
		}
	}

	if o := req.Optimization; o != nil {
		cfg.Optimization.Enabled = o.Enabled
		if o.Budget > 0 {
			cfg.Optimization.Budget = o.Budget
		}
		if len(o.Prices) > 0 {
			cfg.Optimization.Prices = append([]float64(nil), o.Prices...)
		}
		setInt(&cfg.Optimization.Periods, o.Periods)
		setInt(&cfg.Optimization.MaxIterations, o.MaxIterations)
		if o.BoundsLowerPct != nil {
			cfg.Optimization.BoundsLowerPct = *o.BoundsLowerPct
		}
		if o.BoundsUpperPct != nil {
			cfg.Optimization.BoundsUpperPct = *o.BoundsUpperPct
		}
		if o.Tolerance > 0 {
			cfg.Optimization.Tolerance = o.Tolerance
		}
		if len(o.BaselineAllocation) > 0 {
			cfg.Optimization.BaselineAllocation = append([]float64(nil), o.BaselineAllocation...)
		}
	}

	// Server-level prices and baselines only make sense for the channels
	// they were set for.
	if len(cfg.Optimization.Prices) != len(cfg.Data.Media) {
		cfg.Optimization.Prices = nil
	}
	if len(cfg.Optimization.BaselineAllocation) != len(cfg.Data.Media) {
		cfg.Optimization.BaselineAllocation = nil
	}

	if out := req.Output; out != nil && len(out.Formats) > 0 {
		cfg.Output.Formats = append([]string(nil), out.Formats...)
	}
	return cfg
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
