package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"mmmcli/internal/config"
	apierrors "mmmcli/internal/errors"
	"mmmcli/internal/infrastructure"
	customMiddleware "mmmcli/internal/middleware"
	"mmmcli/internal/operations"
	"mmmcli/internal/services"
	handlers "mmmcli/internal/transport/http"
	ws "mmmcli/internal/websocket"
	"mmmcli/pkg/contracts"
)

// apiTimeout bounds synchronous API handlers. Runs themselves execute on the
// job queue under Server.RunTimeout.
const apiTimeout = 2 * time.Minute

// Application wires the run service, its transports and telemetry together
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Store         services.RunStore
	Runs          *services.RunService
	Health        *services.HealthService
	Hub           *ws.Hub
	Metrics       *infrastructure.BusinessMetrics
	OTelProviders *infrastructure.OTelProviders
	Logger        *slog.Logger

	errors *apierrors.ErrorHandler
}

// New builds the application from cfg. Nothing is started until Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required: %w", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	providers, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry, contracts.Version), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	var metrics *infrastructure.BusinessMetrics
	if providers.Meter != nil {
		metrics, err = infrastructure.CreateBusinessMetrics(providers.Meter)
		if err != nil {
			return nil, fmt.Errorf("failed to create business metrics: %w", err)
		}
	}

	store, err := services.NewRunStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	registry, err := operations.NewPipeline(operations.PipelineDeps{Logger: logger, Metrics: metrics})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	manager := operations.NewManager(registry, operations.NewConfig(),
		operations.WithManagerLogger(logger),
		operations.WithMetrics(metrics))

	hub := ws.NewHub(logger)
	runs := services.NewRunService(store, manager, services.RunServiceOptions{
		Workers:   cfg.Server.Workers,
		QueueSize: cfg.Server.QueueSize,
		Progress:  hub,
		Metrics:   metrics,
		Logger:    logger,
	})

	a := &Application{
		Config:        cfg,
		Store:         store,
		Runs:          runs,
		Health:        services.NewHealthService(contracts.Version, contracts.BuildTime, store, runs, hub, logger),
		Hub:           hub,
		Metrics:       metrics,
		OTelProviders: providers,
		Logger:        logger,
		errors:        apierrors.NewErrorHandler(logger, false),
	}
	a.setupRouter()
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return a, nil
}

// setupRouter configures the middleware chain and mounts every handler
func (a *Application) setupRouter() {
	r := chi.NewRouter()
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.StripSlashes)
	r.NotFound(a.errors.NotFound)
	r.MethodNotAllowed(a.errors.MethodNotAllowed)

	// The upgrade must see the raw ResponseWriter, so /ws sits outside the
	// wrapping middleware below.
	r.With(customMiddleware.WebSocketTraceMiddleware(a.Logger)).
		Handle(config.WebSocketEndpoint, handlers.NewWebSocketHandler(a.Hub, a.Config.Server.AllowedOrigins, a.Logger))

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle(config.MetricsEndpoint, a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.NewOTelMiddleware(a.Metrics, a.Logger).Handler)
		r.Use(apierrors.NewErrorMiddleware(a.errors, a.Logger).Handler)
		r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
			AllowedOrigins: a.Config.Server.AllowedOrigins,
			Logger:         a.Logger,
		}))
		r.Use(customMiddleware.SecurityHeaders)

		if rl := a.Config.Server.RateLimit; rl.Enabled {
			r.Use(customMiddleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger).Handler)
		}

		r.Route(config.APIBasePath, func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Use(customMiddleware.Timeout(apiTimeout, a.Logger))
			r.Use(customMiddleware.ContentTypeValidator(a.Logger, a.errors, "application/json"))

			health := handlers.NewHealthHandler(a.Health, a.Logger)
			r.Mount("/health", health.Routes())
			r.Get("/version", health.Version)
			r.Mount("/runs", handlers.NewRunsHandler(a.Runs, a.Config, a.errors, a.Logger).Routes())
		})
	})

	a.Router = r
}

// Start launches the hub, the run workers and the HTTP listener. It returns
// once the listener is bound; serve errors are reported on the channel.
func (a *Application) Start(ctx context.Context) (<-chan error, error) {
	a.Logger.InfoContext(ctx, "starting mmm server",
		slog.String("version", contracts.Version),
		slog.Int("port", a.Config.Server.Port),
		slog.Int("workers", a.Config.Server.Workers),
		slog.String("store", a.Config.Store.Backend))

	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}

	a.Hub.Start()
	a.Runs.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			errCh <- err
		}
		close(errCh)
	}()

	a.Logger.InfoContext(ctx, "server listening", slog.String("address", ln.Addr().String()))
	return errCh, nil
}

// Stop drains HTTP traffic, then the run workers, then telemetry
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down")

	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := a.Runs.Stop(timeout); err != nil {
		errs = append(errs, fmt.Errorf("run workers: %w", err))
	}
	a.Hub.Stop()
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("run store: %w", err))
	}
	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		a.Logger.ErrorContext(ctx, "shutdown finished with errors", slog.String("error", err.Error()))
		return err
	}
	a.Logger.InfoContext(ctx, "shutdown complete")
	return nil
}

// Run serves until ctx is cancelled, SIGINT or SIGTERM arrives, or the
// listener fails.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh, err := a.Start(ctx)
	if err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.Logger.InfoContext(ctx, "shutdown signal received")
	case serveErr = <-errCh:
	}

	if err := a.Stop(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(serveErr, err)
	}
	return serveErr
}
