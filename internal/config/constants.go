package config

import "time"

// Application constants
const (
	// Application Info
	AppName = "mmm"

	// EnvPrefix namespaces every environment variable, e.g. MMM_SERVER_PORT.
	EnvPrefix = "MMM"

	// Model defaults
	DefaultModelName            = "hill_adstock"
	DefaultNumberWarmup         = 1000
	DefaultNumberSamples        = 1000
	DefaultNumberChains         = 2
	DefaultDegreesSeasonality   = 2
	DefaultSeasonalityFrequency = 52
	DefaultMAPIterations        = 400
	DefaultCredibleMass         = 0.9

	// Optimization defaults
	DefaultBoundsPct             = 0.2
	DefaultOptimizationIters     = 200
	DefaultOptimizationTolerance = 1e-8

	// Store
	DefaultRunTTL    = 7 * 24 * time.Hour
	DefaultKeyPrefix = "mmm:run:"

	// Server
	DefaultPort       = 8080
	DefaultRunTimeout      = 2 * time.Hour
	DefaultShutdownTimeout = 30 * time.Second
	DefaultWorkers         = 2
	DefaultQueueSize       = 16

	// API Endpoints
	APIBasePath       = "/api/v1"
	MetricsEndpoint   = "/metrics"
	WebSocketEndpoint = "/ws"
)
