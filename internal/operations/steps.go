package operations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mmmcli/internal/analysis"
	"mmmcli/internal/config"
	"mmmcli/internal/dataset"
	"mmmcli/internal/exporter"
	"mmmcli/internal/infrastructure"
	"mmmcli/internal/mmm"
	"mmmcli/internal/optimize"
	"mmmcli/internal/preprocessing"
	"mmmcli/internal/priors"
)

// LoaderFactory builds the dataset loader for a run's data section.
type LoaderFactory func(ctx context.Context, data config.DataConfig, logger *slog.Logger) (*dataset.Loader, error)

// PipelineDeps are the collaborators shared by all steps
type PipelineDeps struct {
	Logger  *slog.Logger
	Metrics *infrastructure.BusinessMetrics
	// Loaders defaults to NewDataLoader.
	Loaders LoaderFactory
}

// NewPipeline registers the analysis steps:
//
//	prepare -> fit -> evaluate
//	               -> metrics
//	               -> optimize
//	               -> export
func NewPipeline(deps PipelineDeps) (*Registry, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Loaders == nil {
		deps.Loaders = NewDataLoader
	}

	registry := NewRegistry()
	for _, step := range []Step{
		&PrepareStep{BaseStage: NewBaseStage(StepIDPrepare, StepNamePrepare, nil), deps: deps},
		&FitStep{BaseStage: NewBaseStage(StepIDFit, StepNameFit, []string{StepIDPrepare}), deps: deps},
		&EvaluateStep{BaseStage: NewBaseStage(StepIDEvaluate, StepNameEvaluate, []string{StepIDFit})},
		&MetricsStep{BaseStage: NewBaseStage(StepIDMetrics, StepNameMetrics, []string{StepIDFit})},
		&OptimizeStep{BaseStage: NewBaseStage(StepIDOptimize, StepNameOptimize, []string{StepIDFit}), deps: deps},
		&ExportStep{BaseStage: NewBaseStage(StepIDExport, StepNameExport, []string{StepIDFit}), deps: deps},
	} {
		if err := registry.Register(step); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// NewDataLoader returns a loader for local files plus the remote source
// the data section points at.
func NewDataLoader(ctx context.Context, data config.DataConfig, logger *slog.Logger) (*dataset.Loader, error) {
	loader := dataset.NewLoader(logger)
	switch {
	case strings.HasPrefix(data.Source, "s3://"):
		src, err := dataset.NewS3Source(ctx, data.AWSRegion)
		if err != nil {
			return nil, err
		}
		loader.Register("s3", src)
	case strings.HasPrefix(data.Source, "sheets://"):
		src, err := dataset.NewSheetsSource(ctx, data.SheetsCredentials)
		if err != nil {
			return nil, err
		}
		loader.Register("sheets", src)
	}
	return loader, nil
}

// PrepareStep loads the observations, holds out the test window and scales
// both windows with divisors fitted on the training window only.
type PrepareStep struct {
	BaseStage
	deps PipelineDeps
}

// Validate checks that the run names a source and its columns
func (s *PrepareStep) Validate(state *OperationState) error {
	return state.Config.ValidateForRun()
}

// Execute loads, splits and scales the data
func (s *PrepareStep) Execute(ctx context.Context, state *OperationState) error {
	cfg := state.Config.Data
	loader, err := s.deps.Loaders(ctx, cfg, s.deps.Logger)
	if err != nil {
		return err
	}
	table, err := loader.Load(ctx, cfg.Source, dataset.LoadOptions{
		DateColumn: cfg.DateColumn,
		DateLayout: cfg.DateLayout,
		Sheet:      cfg.Sheet,
	})
	if err != nil {
		return err
	}
	obs, err := table.Select(dataset.Selection{
		Media:  cfg.Media,
		Target: cfg.Target,
		Extra:  cfg.Extra,
		Costs:  cfg.Costs,
	})
	if err != nil {
		return err
	}
	train, test, err := obs.Split(cfg.TestPeriods)
	if err != nil {
		return err
	}

	art := state.Artifacts
	art.Observations, art.Train, art.Test = obs, train, test

	if art.MediaScaler, err = newScaler(cfg.MediaScaling); err != nil {
		return err
	}
	if art.TrainMedia, err = art.MediaScaler.FitTransform(train.Media); err != nil {
		return fmt.Errorf("media: %w", err)
	}
	if art.TargetScaler, err = newScaler(cfg.TargetScaling); err != nil {
		return err
	}
	if art.TrainTarget, err = art.TargetScaler.FitTransformVector(train.Target); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	if len(cfg.Extra) > 0 {
		if art.ExtraScaler, err = newScaler(cfg.ExtraScaling); err != nil {
			return err
		}
		if art.TrainExtra, err = art.ExtraScaler.FitTransform(train.Extra); err != nil {
			return fmt.Errorf("extra features: %w", err)
		}
	}

	if test != nil {
		if art.TestMedia, err = art.MediaScaler.Transform(test.Media); err != nil {
			return fmt.Errorf("test media: %w", err)
		}
		if art.ExtraScaler != nil {
			if art.TestExtra, err = art.ExtraScaler.Transform(test.Extra); err != nil {
				return fmt.Errorf("test extra features: %w", err)
			}
		}
	}

	art.Costs = train.ChannelCosts()
	art.CostScaler = preprocessing.NewCustomScaler(preprocessing.WithOperation(preprocessing.OperationMean))
	if art.MediaPrior, err = art.CostScaler.FitTransformVector(art.Costs); err != nil {
		return fmt.Errorf("costs: %w", err)
	}

	s.deps.Logger.InfoContext(ctx, "data prepared",
		slog.String("operation_id", state.ID),
		slog.Int("periods", obs.Len()),
		slog.Int("train_periods", train.Len()),
		slog.Int("test_periods", cfg.TestPeriods),
		slog.Int("channels", len(cfg.Media)),
		slog.Int("extra_features", len(cfg.Extra)))
	return nil
}

func newScaler(op string) (*preprocessing.CustomScaler, error) {
	operation, err := preprocessing.ParseOperation(op)
	if err != nil {
		return nil, err
	}
	return preprocessing.NewCustomScaler(preprocessing.WithOperation(operation)), nil
}

// FitStep samples the model posterior
type FitStep struct {
	BaseStage
	deps PipelineDeps
}

// Execute fits the configured model on the scaled training window
func (s *FitStep) Execute(ctx context.Context, state *OperationState) error {
	cfg := state.Config.Model
	art := state.Artifacts

	custom, err := CustomPriors(cfg.CustomPriors)
	if err != nil {
		return err
	}
	model, err := mmm.New(cfg.Name, mmm.WithLogger(s.deps.Logger))
	if err != nil {
		return err
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("model.name", cfg.Name),
		attribute.Int("model.chains", cfg.NumberChains),
		attribute.Int("model.samples", cfg.NumberSamples),
	)

	start := time.Now()
	err = model.Fit(ctx, mmm.FitInput{
		Media:         art.TrainMedia,
		MediaPrior:    art.MediaPrior,
		Target:        art.TrainTarget,
		ExtraFeatures: art.TrainExtra,
		ChannelNames:  art.Train.Channels,
	}, mmm.FitOptions{
		NumberWarmup:         cfg.NumberWarmup,
		NumberSamples:        cfg.NumberSamples,
		NumberChains:         cfg.NumberChains,
		DegreesSeasonality:   cfg.DegreesSeasonality,
		SeasonalityFrequency: float64(cfg.SeasonalityFrequency),
		WeekdaySeasonality:   cfg.WeekdaySeasonality,
		CustomPriors:         custom,
		Seed:                 cfg.Seed,
		MAPIterations:        cfg.MAPIterations,
	})
	if err != nil {
		return err
	}

	diag := model.Diagnostics()
	infrastructure.RecordFitMetrics(ctx, s.deps.Metrics, cfg.Name, time.Since(start), diag.Divergences, diag.AcceptanceRate)
	infrastructure.AddSpanEvent(ctx, "fit.done", map[string]interface{}{
		"divergences": diag.Divergences,
		"draws":       model.Posterior().NumDraws(),
	})
	art.Model = model
	return nil
}

// CustomPriors converts configured priors into distributions
func CustomPriors(cfg map[string]config.PriorConfig) (map[string]priors.Distribution, error) {
	if len(cfg) == 0 {
		return nil, nil
	}
	out := make(map[string]priors.Distribution, len(cfg))
	for name, p := range cfg {
		dist, err := priors.Parse(p.Distribution, p.Params)
		if err != nil {
			return nil, fmt.Errorf("%w: prior %s: %v", config.ErrInvalidConfig, name, err)
		}
		out[name] = dist
	}
	return out, nil
}

// EvaluateStep scores the posterior predictive mean on the hold-out window
type EvaluateStep struct {
	BaseStage
}

// Validate skips runs without a test window
func (s *EvaluateStep) Validate(state *OperationState) error {
	if state.Artifacts.Test == nil {
		return fmt.Errorf("%w: no test periods", ErrSkipStep)
	}
	return nil
}

// Execute predicts the test window and compares it with the actuals
func (s *EvaluateStep) Execute(ctx context.Context, state *OperationState) error {
	art := state.Artifacts
	pred, err := art.Model.Predict(ctx, art.TestMedia, art.TestExtra, state.Config.Model.Seed)
	if err != nil {
		return err
	}
	predicted, err := art.TargetScaler.InverseTransformVector(pred.Mean())
	if err != nil {
		return err
	}
	quality, err := analysis.Evaluate(art.Test.Target, predicted)
	if err != nil {
		return err
	}
	art.Evaluation = &quality
	return nil
}

// MetricsStep summarises the posterior and attributes the target to channels
type MetricsStep struct {
	BaseStage
}

// Execute computes the summary, channel metrics and contribution frame
func (s *MetricsStep) Execute(ctx context.Context, state *OperationState) error {
	art := state.Artifacts
	mass := state.Config.Model.CredibleMass

	art.Summary = analysis.Summarize(art.Model.Posterior(), mass)

	metrics, err := analysis.ComputePosteriorMetrics(ctx, art.Model, art.TargetScaler, art.Costs, mass)
	if err != nil {
		return err
	}
	art.Metrics = metrics

	frame, err := analysis.BaselineContribution(ctx, art.Model, art.TargetScaler)
	if err != nil {
		return err
	}
	art.Contribution = frame
	return nil
}

// OptimizeStep allocates the configured budget across channels
type OptimizeStep struct {
	BaseStage
	deps PipelineDeps
}

// Validate skips runs with optimization disabled
func (s *OptimizeStep) Validate(state *OperationState) error {
	if !state.Config.Optimization.Enabled {
		return fmt.Errorf("%w: optimization disabled", ErrSkipStep)
	}
	return nil
}

// Execute runs the optimizer with the configured request
func (s *OptimizeStep) Execute(ctx context.Context, state *OperationState) error {
	result, err := Optimize(ctx, state.Artifacts, state.Config.Optimization, s.deps.Logger)
	if err != nil {
		return err
	}
	infrastructure.RecordOptimizationMetrics(ctx, s.deps.Metrics, result.Iterations, result.Converged, result.KPIWithOptim, result.KPIWithoutOptim)
	state.Artifacts.Optimization = result
	return nil
}

// Optimize builds an optimizer request from cfg and runs it against the
// fitted model in art. It is shared by the pipeline and by re-optimisation
// of finished runs.
func Optimize(ctx context.Context, art *Artifacts, cfg config.OptimizationConfig, logger *slog.Logger) (*optimize.Result, error) {
	if art == nil || art.Model == nil {
		return nil, mmm.ErrNotFitted
	}
	prices := cfg.Prices
	if len(prices) == 0 {
		prices = make([]float64, art.Model.NumChannels())
		for i := range prices {
			prices[i] = 1
		}
	}
	periods := cfg.Periods
	if periods <= 0 {
		periods = 1
	}
	budget := cfg.Budget
	if budget <= 0 {
		var err error
		if budget, err = historicalBudget(art, prices, periods); err != nil {
			return nil, err
		}
	}

	extra, err := horizonExtraFeatures(art, periods)
	if err != nil {
		return nil, err
	}

	opt := optimize.New(art.Model, art.MediaScaler, art.TargetScaler, logger)
	return opt.Optimize(ctx, optimize.Request{
		Budget:             budget,
		Prices:             prices,
		Periods:            periods,
		BoundsLowerPct:     cfg.BoundsLowerPct,
		BoundsUpperPct:     cfg.BoundsUpperPct,
		ExtraFeatures:      extra,
		BaselineAllocation: cfg.BaselineAllocation,
		MaxIterations:      cfg.MaxIterations,
		Tolerance:          cfg.Tolerance,
	})
}

// historicalBudget is what the average training period costs at prices,
// times the horizon: dot(prices, mean media) * periods.
func historicalBudget(art *Artifacts, prices []float64, periods int) (float64, error) {
	if art.Train == nil || art.Train.Len() == 0 {
		return 0, fmt.Errorf("%w: no budget given and no training data to derive one", optimize.ErrNonPositiveBudget)
	}
	if len(prices) != len(art.Train.Channels) {
		return 0, fmt.Errorf("%w: %d prices for %d channels", optimize.ErrPriceLengthMismatch, len(prices), len(art.Train.Channels))
	}
	var perPeriod float64
	for _, row := range art.Train.Media {
		for c, v := range row {
			perPeriod += prices[c] * v
		}
	}
	perPeriod /= float64(art.Train.Len())
	return perPeriod * float64(periods), nil
}

// horizonExtraFeatures fills the optimisation horizon with the most recent
// observed extra features, scaled with the training divisors. A horizon
// longer than the history cycles through the observed rows.
func horizonExtraFeatures(art *Artifacts, periods int) ([][]float64, error) {
	if art.ExtraScaler == nil || art.Observations == nil || len(art.Observations.Extra) == 0 {
		return nil, nil
	}
	window := art.Observations.Extra
	if len(window) > periods {
		window = window[len(window)-periods:]
	}
	rows := make([][]float64, periods)
	for t := range rows {
		rows[t] = window[t%len(window)]
	}
	return art.ExtraScaler.Transform(rows)
}

// ExportStep writes the run report to the output directory
type ExportStep struct {
	BaseStage
	deps PipelineDeps
}

// Validate skips runs without an output directory
func (s *ExportStep) Validate(state *OperationState) error {
	if state.Config.Output.Dir == "" {
		return fmt.Errorf("%w: no output directory", ErrSkipStep)
	}
	return nil
}

// Execute writes the report in every configured format
func (s *ExportStep) Execute(ctx context.Context, state *OperationState) error {
	formats, err := exporter.ParseFormats(state.Config.Output.Formats)
	if err != nil {
		return err
	}
	files, err := exporter.NewReportExporter(state.Config.Output.Dir, s.deps.Logger).
		Export(BuildReport(state), formats...)
	if err != nil {
		return err
	}
	state.Artifacts.ReportFiles = files
	return nil
}

// BuildReport collects the artifacts of state into a report
func BuildReport(state *OperationState) *exporter.Report {
	art := state.Artifacts
	report := &exporter.Report{
		RunID:        state.ID,
		Model:        state.Config.Model.Name,
		CreatedAt:    state.StartTime.UTC(),
		Summary:      art.Summary,
		Metrics:      art.Metrics,
		Contribution: art.Contribution,
		Evaluation:   art.Evaluation,
		Optimization: art.Optimization,
	}
	if art.Train != nil {
		report.Channels = art.Train.Channels
	}
	if art.Model != nil && art.Model.Fitted() {
		diag := art.Model.Diagnostics()
		report.Diagnostics = &diag
	}
	return report
}
