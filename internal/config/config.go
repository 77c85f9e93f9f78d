package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" envconfig:"SERVER"`
	Logging      LoggingConfig      `yaml:"logging" envconfig:"LOGGING"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" envconfig:"TELEMETRY"`
	Store        StoreConfig        `yaml:"store" envconfig:"STORE"`
	Data         DataConfig         `yaml:"data" envconfig:"DATA"`
	Model        ModelConfig        `yaml:"model" envconfig:"MODEL"`
	Optimization OptimizationConfig `yaml:"optimization" envconfig:"OPTIMIZATION"`
	Output       OutputConfig       `yaml:"output" envconfig:"OUTPUT"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RunTimeout      time.Duration   `yaml:"run_timeout" envconfig:"RUN_TIMEOUT" validate:"gt=0"`
	Workers         int             `yaml:"workers" envconfig:"WORKERS" validate:"min=1"`
	QueueSize       int             `yaml:"queue_size" envconfig:"QUEUE_SIZE" validate:"min=1"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	// AllowedOrigins lists browser origins for CORS and WebSocket upgrades.
	// Empty allows any origin.
	AllowedOrigins  []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gte=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"omitempty,oneof=debug info warn warning error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"omitempty,oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig controls tracing and metrics
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	TracingEnabled bool   `yaml:"tracing_enabled" envconfig:"TRACING_ENABLED"`
	TraceExporter  string `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"omitempty,oneof=stdout none"`
	MetricsEnabled bool   `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
}

// StoreConfig selects where run results are kept
type StoreConfig struct {
	Backend       string        `yaml:"backend" envconfig:"BACKEND" validate:"oneof=memory redis"`
	RedisAddr     string        `yaml:"redis_addr" envconfig:"REDIS_ADDR" validate:"required_if=Backend redis"`
	RedisPassword string        `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" envconfig:"REDIS_DB" validate:"gte=0"`
	KeyPrefix     string        `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
	TTL           time.Duration `yaml:"ttl" envconfig:"TTL" validate:"gte=0"`
}

// DataConfig describes the input table and its column mapping
type DataConfig struct {
	// Source is a file path, s3://bucket/key or sheets://id/range.
	Source     string   `yaml:"source" envconfig:"SOURCE"`
	DateColumn string   `yaml:"date_column" envconfig:"DATE_COLUMN"`
	DateLayout string   `yaml:"date_layout" envconfig:"DATE_LAYOUT"`
	Sheet      string   `yaml:"sheet" envconfig:"SHEET"`
	Media      []string `yaml:"media" envconfig:"MEDIA"`
	Target     string   `yaml:"target" envconfig:"TARGET"`
	Extra      []string `yaml:"extra" envconfig:"EXTRA"`
	Costs      []string `yaml:"costs" envconfig:"COSTS"`
	// TestPeriods is the number of trailing periods held out for evaluation.
	TestPeriods int `yaml:"test_periods" envconfig:"TEST_PERIODS" validate:"gte=0"`

	MediaScaling  string `yaml:"media_scaling" envconfig:"MEDIA_SCALING" validate:"oneof=mean median max sum"`
	TargetScaling string `yaml:"target_scaling" envconfig:"TARGET_SCALING" validate:"oneof=mean median max sum"`
	ExtraScaling  string `yaml:"extra_scaling" envconfig:"EXTRA_SCALING" validate:"oneof=mean median max sum"`

	AWSRegion         string `yaml:"aws_region" envconfig:"AWS_REGION"`
	SheetsCredentials string `yaml:"sheets_credentials" envconfig:"SHEETS_CREDENTIALS"`
}

// PriorConfig names a distribution and its parameters, e.g.
// {distribution: half_normal, params: [3]}.
type PriorConfig struct {
	Distribution string    `yaml:"distribution" json:"distribution" validate:"required"`
	Params       []float64 `yaml:"params" json:"params"`
}

// ModelConfig contains the fitting parameters
type ModelConfig struct {
	Name                 string  `yaml:"name" envconfig:"NAME" validate:"oneof=adstock hill_adstock carryover"`
	NumberWarmup         int     `yaml:"number_warmup" envconfig:"NUMBER_WARMUP" validate:"min=1"`
	NumberSamples        int     `yaml:"number_samples" envconfig:"NUMBER_SAMPLES" validate:"min=1"`
	NumberChains         int     `yaml:"number_chains" envconfig:"NUMBER_CHAINS" validate:"min=1"`
	DegreesSeasonality   int     `yaml:"degrees_seasonality" envconfig:"DEGREES_SEASONALITY" validate:"gte=0"`
	SeasonalityFrequency int     `yaml:"seasonality_frequency" envconfig:"SEASONALITY_FREQUENCY" validate:"min=1"`
	WeekdaySeasonality   bool    `yaml:"weekday_seasonality" envconfig:"WEEKDAY_SEASONALITY"`
	Seed                 uint64  `yaml:"seed" envconfig:"SEED"`
	MAPIterations        int     `yaml:"map_iterations" envconfig:"MAP_ITERATIONS" validate:"gte=0"`
	CredibleMass         float64 `yaml:"credible_mass" envconfig:"CREDIBLE_MASS" validate:"gt=0,lt=1"`

	CustomPriors map[string]PriorConfig `yaml:"custom_priors" ignored:"true" validate:"dive"`
}

// OptimizationConfig contains the budget optimization request
type OptimizationConfig struct {
	Enabled        bool      `yaml:"enabled" envconfig:"ENABLED"`
	Budget         float64   `yaml:"budget" envconfig:"BUDGET" validate:"gte=0"`
	Prices         []float64 `yaml:"prices" envconfig:"PRICES" validate:"dive,gt=0"`
	Periods        int       `yaml:"periods" envconfig:"PERIODS" validate:"gte=0"`
	BoundsLowerPct float64   `yaml:"bounds_lower_pct" envconfig:"BOUNDS_LOWER_PCT" validate:"gte=0,lte=1"`
	BoundsUpperPct float64   `yaml:"bounds_upper_pct" envconfig:"BOUNDS_UPPER_PCT" validate:"gte=0"`
	MaxIterations  int       `yaml:"max_iterations" envconfig:"MAX_ITERATIONS" validate:"gte=0"`
	Tolerance      float64   `yaml:"tolerance" envconfig:"TOLERANCE" validate:"gte=0"`

	// BaselineAllocation is the reference mix, in media units per channel,
	// the optimum is compared against. Empty uses the historical mix scaled
	// to the budget.
	BaselineAllocation []float64 `yaml:"baseline_allocation" envconfig:"BASELINE_ALLOCATION" validate:"dive,gte=0"`
}

// OutputConfig controls report files
type OutputConfig struct {
	Dir     string   `yaml:"dir" envconfig:"DIR"`
	Formats []string `yaml:"formats" envconfig:"FORMATS" validate:"dive,oneof=csv xlsx json"`
}

// Load builds the configuration from defaults, then the YAML file at path
// (or the first config.yaml found in the usual locations when path is
// empty), then MMM_* environment variables, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getConfigFilePath()
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg. Keys missing from the file
// keep their current values.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(c.Optimization.Prices) > 0 && len(c.Data.Media) > 0 && len(c.Optimization.Prices) != len(c.Data.Media) {
		return fmt.Errorf("%w: %d prices for %d media columns", ErrInvalidConfig,
			len(c.Optimization.Prices), len(c.Data.Media))
	}
	if n := len(c.Optimization.BaselineAllocation); n > 0 && len(c.Data.Media) > 0 && n != len(c.Data.Media) {
		return fmt.Errorf("%w: baseline allocation has %d channels for %d media columns", ErrInvalidConfig,
			n, len(c.Data.Media))
	}
	if len(c.Data.Costs) > 0 && len(c.Data.Costs) != len(c.Data.Media) {
		return fmt.Errorf("%w: %d cost columns for %d media columns", ErrInvalidConfig,
			len(c.Data.Costs), len(c.Data.Media))
	}
	return nil
}

// ValidateForRun additionally requires a data source and column mapping,
// which the HTTP service receives per request instead.
func (c *Config) ValidateForRun() error {
	if c.Data.Source == "" {
		return fmt.Errorf("%w: data.source is required", ErrInvalidConfig)
	}
	if len(c.Data.Media) == 0 {
		return fmt.Errorf("%w: data.media must name at least one column", ErrInvalidConfig)
	}
	if c.Data.Target == "" {
		return fmt.Errorf("%w: data.target is required", ErrInvalidConfig)
	}
	return nil
}

// Clone returns a deep copy of c, so per-run overrides never leak into the
// server defaults.
func (c *Config) Clone() *Config {
	out := *c
	out.Server.AllowedOrigins = cloneStrings(c.Server.AllowedOrigins)
	out.Data.Media = cloneStrings(c.Data.Media)
	out.Data.Extra = cloneStrings(c.Data.Extra)
	out.Data.Costs = cloneStrings(c.Data.Costs)
	out.Output.Formats = cloneStrings(c.Output.Formats)
	if c.Optimization.Prices != nil {
		out.Optimization.Prices = append([]float64(nil), c.Optimization.Prices...)
	}
	if c.Optimization.BaselineAllocation != nil {
		out.Optimization.BaselineAllocation = append([]float64(nil), c.Optimization.BaselineAllocation...)
	}
	if c.Model.CustomPriors != nil {
		out.Model.CustomPriors = make(map[string]PriorConfig, len(c.Model.CustomPriors))
		for k, p := range c.Model.CustomPriors {
			p.Params = append([]float64(nil), p.Params...)
			out.Model.CustomPriors[k] = p
		}
	}
	return &out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: DefaultShutdownTimeout,
			RunTimeout:      DefaultRunTimeout,
			Workers:         DefaultWorkers,
			QueueSize:       DefaultQueueSize,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   40,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/mmm.log",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    AppName,
			TraceExporter:  "none",
			MetricsEnabled: true,
		},
		Store: StoreConfig{
			Backend:   "memory",
			KeyPrefix: DefaultKeyPrefix,
			TTL:       DefaultRunTTL,
		},
		Data: DataConfig{
			DateLayout:    "2006-01-02",
			MediaScaling:  "mean",
			TargetScaling: "mean",
			ExtraScaling:  "mean",
		},
		Model: ModelConfig{
			Name:                 DefaultModelName,
			NumberWarmup:         DefaultNumberWarmup,
			NumberSamples:        DefaultNumberSamples,
			NumberChains:         DefaultNumberChains,
			DegreesSeasonality:   DefaultDegreesSeasonality,
			SeasonalityFrequency: DefaultSeasonalityFrequency,
			MAPIterations:        DefaultMAPIterations,
			CredibleMass:         DefaultCredibleMass,
		},
		Optimization: OptimizationConfig{
			BoundsLowerPct: DefaultBoundsPct,
			BoundsUpperPct: DefaultBoundsPct,
			MaxIterations:  DefaultOptimizationIters,
			Tolerance:      DefaultOptimizationTolerance,
		},
		Output: OutputConfig{
			Dir:     "reports",
			Formats: []string{"csv", "json"},
		},
	}
}
