package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"mmmcli/internal/config"
	"mmmcli/internal/infrastructure"
	"mmmcli/internal/operations"
	"mmmcli/pkg/contracts"
)

// localPipeline executes one run in process, without the job queue
type localPipeline struct {
	manager   *operations.Manager
	providers *infrastructure.OTelProviders
	logger    *slog.Logger
}

func newLocalPipeline(cfg *config.Config, logger *slog.Logger) (*localPipeline, error) {
	providers, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry, contracts.Version), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	var metrics *infrastructure.BusinessMetrics
	if providers.Meter != nil {
		if metrics, err = infrastructure.CreateBusinessMetrics(providers.Meter); err != nil {
			return nil, fmt.Errorf("failed to create business metrics: %w", err)
		}
	}

	registry, err := operations.NewPipeline(operations.PipelineDeps{Logger: logger, Metrics: metrics})
	if err != nil {
		return nil, err
	}
	return &localPipeline{
		manager: operations.NewManager(registry, operations.NewConfig(),
			operations.WithManagerLogger(logger),
			operations.WithMetrics(metrics)),
		providers: providers,
		logger:    logger,
	}, nil
}

// execute runs steps (all registered steps when empty) for cfg
func (p *localPipeline) execute(ctx context.Context, cfg *config.Config, steps ...string) (*operations.OperationState, error) {
	if err := cfg.ValidateForRun(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ctx = infrastructure.WithTraceID(ctx, id)
	if cfg.Server.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Server.RunTimeout)
		defer cancel()
	}

	progress := operations.ProgressFunc(func(ctx context.Context, u operations.ProgressUpdate) {
		p.logger.InfoContext(ctx, "step progress",
			slog.String("step", u.StepID),
			slog.String("status", string(u.Status)),
			slog.Float64("progress", u.Progress),
			slog.String("eta", u.ETA))
	})

	p.logger.InfoContext(ctx, "run started",
		slog.String("run_id", id),
		slog.String("model", cfg.Model.Name),
		slog.String("source", cfg.Data.Source))
	return p.manager.Execute(ctx, operations.OperationRequest{ID: id, Config: cfg, Steps: steps}, progress)
}

func (p *localPipeline) close(ctx context.Context) {
	if err := p.providers.Shutdown(ctx); err != nil {
		p.logger.WarnContext(ctx, "telemetry shutdown failed", slog.String("error", err.Error()))
	}
}
