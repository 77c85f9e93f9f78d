// Package v1 holds the request and response bodies of the /api/v1 REST API.
package v1

// RunRequest submits one analysis run. Sections left out fall back to the
// server configuration.
type RunRequest struct {
	Data         DataRequest          `json:"data"`
	Model        *ModelRequest        `json:"model,omitempty"`
	Optimization *OptimizationRequest `json:"optimization,omitempty"`
	Output       *OutputRequest       `json:"output,omitempty"`
}

// DataRequest names the dataset and its column roles
type DataRequest struct {
	Source     string   `json:"source" validate:"required,source"`
	DateColumn string   `json:"date_column,omitempty" validate:"omitempty,column"`
	DateLayout string   `json:"date_layout,omitempty"`
	Sheet      string   `json:"sheet,omitempty"`
	Media      []string `json:"media" validate:"required,min=1,unique,dive,column"`
	Target     string   `json:"target" validate:"required,column"`
	Extra      []string `json:"extra,omitempty" validate:"omitempty,unique,dive,column"`
	Costs      []string `json:"costs,omitempty" validate:"omitempty,dive,column"`

	TestPeriods *int `json:"test_periods,omitempty" validate:"omitempty,gte=0"`

	MediaScaling  string `json:"media_scaling,omitempty" validate:"omitempty,oneof=mean median max sum"`
	TargetScaling string `json:"target_scaling,omitempty" validate:"omitempty,oneof=mean median max sum"`
	ExtraScaling  string `json:"extra_scaling,omitempty" validate:"omitempty,oneof=mean median max sum"`
}

// PriorRequest overrides the default prior of one model parameter
type PriorRequest struct {
	Distribution string    `json:"distribution" validate:"required"`
	Params       []float64 `json:"params"`
}

// ModelRequest selects the model and its sampler settings
type ModelRequest struct {
	Name                 string                  `json:"name,omitempty" validate:"omitempty,oneof=adstock hill_adstock carryover"`
	NumberWarmup         int                     `json:"number_warmup,omitempty" validate:"omitempty,min=1,max=100000"`
	NumberSamples        int                     `json:"number_samples,omitempty" validate:"omitempty,min=1,max=100000"`
	NumberChains         int                     `json:"number_chains,omitempty" validate:"omitempty,min=1,max=16"`
	DegreesSeasonality   *int                    `json:"degrees_seasonality,omitempty" validate:"omitempty,gte=0,lte=26"`
	SeasonalityFrequency int                     `json:"seasonality_frequency,omitempty" validate:"omitempty,min=1"`
	WeekdaySeasonality   *bool                   `json:"weekday_seasonality,omitempty"`
	Seed                 *uint64                 `json:"seed,omitempty"`
	MAPIterations        *int                    `json:"map_iterations,omitempty" validate:"omitempty,gte=0"`
	CredibleMass         float64                 `json:"credible_mass,omitempty" validate:"omitempty,gt=0,lt=1"`
	CustomPriors         map[string]PriorRequest `json:"custom_priors,omitempty" validate:"omitempty,dive"`
}

// OptimizationRequest configures the budget optimizer of a run
type OptimizationRequest struct {
	Enabled        bool      `json:"enabled"`
	Budget         float64   `json:"budget,omitempty" validate:"gte=0"`
	Prices         []float64 `json:"prices,omitempty" validate:"omitempty,dive,gt=0"`
	Periods        int       `json:"periods,omitempty" validate:"gte=0"`
	BoundsLowerPct *float64  `json:"bounds_lower_pct,omitempty" validate:"omitempty,gte=0,lte=1"`
	BoundsUpperPct *float64  `json:"bounds_upper_pct,omitempty" validate:"omitempty,gte=0"`
	MaxIterations  int       `json:"max_iterations,omitempty" validate:"gte=0"`
	Tolerance      float64   `json:"tolerance,omitempty" validate:"gte=0"`

	// BaselineAllocation is the media mix the optimum is compared against.
	BaselineAllocation []float64 `json:"baseline_allocation,omitempty" validate:"omitempty,dive,gte=0"`
}

// OutputRequest selects report formats. The directory is always chosen by
// the server.
type OutputRequest struct {
	Formats []string `json:"formats,omitempty" validate:"omitempty,unique,dive,oneof=csv xlsx json"`
}

// OptimizeRequest re-optimizes the budget of a completed run. Zero values keep
// the settings the run was submitted with.
type OptimizeRequest struct {
	Budget         float64   `json:"budget,omitempty" validate:"gte=0"`
	Prices         []float64 `json:"prices,omitempty" validate:"omitempty,dive,gt=0"`
	Periods        int       `json:"periods,omitempty" validate:"gte=0"`
	BoundsLowerPct *float64  `json:"bounds_lower_pct,omitempty" validate:"omitempty,gte=0,lte=1"`
	BoundsUpperPct *float64  `json:"bounds_upper_pct,omitempty" validate:"omitempty,gte=0"`

	BaselineAllocation []float64 `json:"baseline_allocation,omitempty" validate:"omitempty,dive,gte=0"`
}
