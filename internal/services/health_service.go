package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"mmmcli/internal/infrastructure"
)

// ClientCounter reports connected WebSocket clients
type ClientCounter interface {
	ClientCount() int
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	buildTime string
	store     RunStore
	runs      *RunService
	hub       ClientCounter
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthService creates a new health service. runs and hub may be nil.
func NewHealthService(version, buildTime string, store RunStore, runs *RunService, hub ClientCounter, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		buildTime: buildTime,
		store:     store,
		runs:      runs,
		hub:       hub,
		startTime: time.Now(),
		logger:    logger.With(slog.String("component", "health_service")),
	}
}

// HealthCheck reports liveness plus the state of the run store and queue.
// The overall status is "degraded" when a dependency is not ready.
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   hs.version,
		Runtime:   infrastructure.CollectSystemStats(hs.startTime).FormatStats(),
		Services: map[string]ServiceHealth{
			"store": hs.checkStore(ctx),
			"queue": hs.checkQueue(),
		},
	}
	status.Runtime["go_version"] = runtime.Version()
	if hs.hub != nil {
		status.Runtime["websocket_clients"] = hs.hub.ClientCount()
	}

	for name, s := range status.Services {
		if s.Status != "ready" {
			status.Status = "degraded"
			hs.logger.WarnContext(ctx, "health check dependency not ready",
				slog.String("service", name),
				slog.String("message", s.Message))
		}
	}
	return status
}

// ReadinessCheck reports whether the service can accept runs: the store
// must answer and the queue must exist.
func (hs *HealthService) ReadinessCheck(ctx context.Context) (HealthStatus, bool) {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now().UTC(),
		Version:   hs.version,
		Services: map[string]ServiceHealth{
			"store": hs.checkStore(ctx),
			"queue": hs.checkQueue(),
		},
	}
	for _, s := range status.Services {
		if s.Status != "ready" {
			status.Status = "not_ready"
			return status, false
		}
	}
	return status, true
}

// LivenessCheck reports that the process is serving requests
func (hs *HealthService) LivenessCheck() map[string]interface{} {
	return map[string]interface{}{
		"status":         "alive",
		"uptime_seconds": time.Since(hs.startTime).Seconds(),
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	result := map[string]interface{}{
		"version":    hs.version,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"start_time": hs.startTime.Format(time.RFC3339),
	}
	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}
	return result
}

func (hs *HealthService) checkStore(ctx context.Context) ServiceHealth {
	if hs.store == nil {
		return ServiceHealth{Status: "not_ready", Message: "run store not initialized"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := hs.store.Ping(ctx); err != nil {
		return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("run store unreachable: %v", err)}
	}
	return ServiceHealth{Status: "ready"}
}

func (hs *HealthService) checkQueue() ServiceHealth {
	if hs.runs == nil {
		return ServiceHealth{Status: "not_ready", Message: "run service not initialized"}
	}
	stats := hs.runs.QueueStats()
	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%v of %v queued, %v active", stats["queue_size"], stats["queue_cap"], stats["active_jobs"]),
	}
}
