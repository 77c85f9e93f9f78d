// Package mmm implements the Bayesian media mix model: a regression of the
// scaled target on saturated, lagged media plus trend, seasonality and
// optional extra features, fitted by adaptive Metropolis sampling.
package mmm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"mmmcli/internal/priors"
)

// ModelName selects the media transform of the model.
type ModelName string

const (
	ModelAdstock     ModelName = "adstock"
	ModelHillAdstock ModelName = "hill_adstock"
	ModelCarryover   ModelName = "carryover"
)

var (
	// ErrUnknownModel is returned for an unrecognised model name.
	ErrUnknownModel = errors.New("unknown model name")
	// ErrShapeMismatch is returned when inputs disagree on dimensions.
	ErrShapeMismatch = errors.New("input shapes are inconsistent")
	// ErrInvalidInput is returned for non-finite or otherwise unusable inputs.
	ErrInvalidInput = errors.New("invalid model input")
	// ErrUnknownPrior is returned when a custom prior names no parameter.
	ErrUnknownPrior = errors.New("custom prior does not match a model parameter")
	// ErrNotFitted is returned when a fitted model is required.
	ErrNotFitted = errors.New("model is not fitted")
)

// ParseModelName validates a model name.
func ParseModelName(name string) (ModelName, error) {
	switch m := ModelName(name); m {
	case ModelAdstock, ModelHillAdstock, ModelCarryover:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
}

// FitInput is the scaled training data.
type FitInput struct {
	// Media is periods x channels.
	Media [][]float64
	// MediaPrior is the per channel scale of the HalfNormal coefficient prior.
	MediaPrior []float64
	// Target has one value per period.
	Target []float64
	// ExtraFeatures is periods x features and may be nil.
	ExtraFeatures [][]float64
	// ChannelNames labels media columns in reports. Optional.
	ChannelNames []string
}

// FitOptions controls sampling and the deterministic model components.
type FitOptions struct {
	NumberWarmup         int
	NumberSamples        int
	NumberChains         int
	DegreesSeasonality   int
	SeasonalityFrequency float64
	WeekdaySeasonality   bool
	CustomPriors         map[string]priors.Distribution
	Seed                 uint64
	// MAPIterations bounds the Nelder-Mead search for chain starting points.
	MAPIterations int
}

// DefaultFitOptions mirrors the defaults used for weekly data.
func DefaultFitOptions() FitOptions {
	return FitOptions{
		NumberWarmup:         1000,
		NumberSamples:        1000,
		NumberChains:         2,
		DegreesSeasonality:   2,
		SeasonalityFrequency: 52,
		MAPIterations:        400,
	}
}

func (o FitOptions) validate() error {
	switch {
	case o.NumberWarmup < 0:
		return fmt.Errorf("%w: number of warmup iterations must not be negative", ErrInvalidInput)
	case o.NumberSamples < 1:
		return fmt.Errorf("%w: number of samples must be positive", ErrInvalidInput)
	case o.NumberChains < 1:
		return fmt.Errorf("%w: number of chains must be positive", ErrInvalidInput)
	case o.DegreesSeasonality < 0:
		return fmt.Errorf("%w: degrees of seasonality must not be negative", ErrInvalidInput)
	case o.DegreesSeasonality > 0 && o.SeasonalityFrequency <= 0:
		return fmt.Errorf("%w: seasonality frequency must be positive", ErrInvalidInput)
	}
	return nil
}

// Diagnostics summarises sampler behaviour. Divergences are proposals whose
// log density was not finite; they do not fail a fit.
type Diagnostics struct {
	Divergences    int           `json:"divergences"`
	AcceptanceRate []float64     `json:"acceptance_rate"`
	StepSize       []float64     `json:"step_size"`
	Duration       time.Duration `json:"duration"`
}

// Model is a media mix model. It is not safe to Fit concurrently; a fitted
// model may be queried from many goroutines.
type Model struct {
	name   ModelName
	logger *slog.Logger

	media        [][]float64
	target       []float64
	extra        [][]float64
	mediaPrior   []float64
	channelNames []string
	opts         FitOptions
	layout       *layout

	posterior   *Posterior
	diagnostics Diagnostics
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger used for fit progress.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) { m.logger = logger }
}

// New creates an unfitted model of the named variant.
func New(name string, opts ...Option) (*Model, error) {
	mn, err := ParseModelName(name)
	if err != nil {
		return nil, err
	}
	m := &Model{name: mn, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Name returns the model variant.
func (m *Model) Name() ModelName { return m.name }

// Fitted reports whether a posterior is available.
func (m *Model) Fitted() bool { return m.posterior != nil }

// Posterior returns the merged posterior draws.
func (m *Model) Posterior() *Posterior { return m.posterior }

// Diagnostics returns sampler diagnostics of the last fit.
func (m *Model) Diagnostics() Diagnostics { return m.diagnostics }

// NumChannels returns the number of media channels the model was fitted on.
func (m *Model) NumChannels() int {
	if len(m.media) == 0 {
		return 0
	}
	return len(m.media[0])
}

// NumExtraFeatures returns the number of extra feature columns.
func (m *Model) NumExtraFeatures() int {
	if len(m.extra) == 0 {
		return 0
	}
	return len(m.extra[0])
}

// NumPeriods returns the length of the training window.
func (m *Model) NumPeriods() int { return len(m.target) }

// ChannelNames returns the media labels supplied at fit time, or generated
// ones.
func (m *Model) ChannelNames() []string {
	if len(m.channelNames) == m.NumChannels() {
		return append([]string(nil), m.channelNames...)
	}
	out := make([]string, m.NumChannels())
	for i := range out {
		out[i] = fmt.Sprintf("channel_%d", i)
	}
	return out
}

// Media returns the scaled training media.
func (m *Model) Media() [][]float64 { return m.media }

// Target returns the scaled training target.
func (m *Model) Target() []float64 { return m.target }

// ExtraFeatures returns the scaled training extra features, possibly nil.
func (m *Model) ExtraFeatures() [][]float64 { return m.extra }

// MediaMean returns the mean of each scaled media column.
func (m *Model) MediaMean() []float64 {
	out := make([]float64, m.NumChannels())
	for _, row := range m.media {
		for c, v := range row {
			out[c] += v
		}
	}
	for c := range out {
		out[c] /= float64(len(m.media))
	}
	return out
}

// Fit samples the posterior. Chains run concurrently and are merged in chain
// order, so a fixed seed yields identical draws.
func (m *Model) Fit(ctx context.Context, in FitInput, opts FitOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if err := validateInput(in); err != nil {
		return err
	}

	channels := len(in.Media[0])
	extra := 0
	if len(in.ExtraFeatures) > 0 {
		extra = len(in.ExtraFeatures[0])
	}
	l, err := buildLayout(m.name, channels, extra, opts.DegreesSeasonality, opts.WeekdaySeasonality, in.MediaPrior, opts.CustomPriors)
	if err != nil {
		return err
	}

	m.media = in.Media
	m.target = in.Target
	m.extra = in.ExtraFeatures
	m.mediaPrior = in.MediaPrior
	m.channelNames = in.ChannelNames
	m.opts = opts
	m.layout = l
	m.posterior = nil

	start := time.Now()
	m.logger.InfoContext(ctx, "fitting media mix model",
		"model", m.name,
		"periods", len(in.Target),
		"channels", channels,
		"extra_features", extra,
		"parameters", l.dim,
		"chains", opts.NumberChains,
		"warmup", opts.NumberWarmup,
		"samples", opts.NumberSamples)

	results := make([]*chainResult, opts.NumberChains)
	g, gctx := errgroup.WithContext(ctx)
	for k := 0; k < opts.NumberChains; k++ {
		k := k
		g.Go(func() error {
			s := newSampler(m.logDensity, l, opts, opts.Seed, uint64(k))
			res, err := s.run(gctx)
			if err != nil {
				return fmt.Errorf("chain %d: %w", k, err)
			}
			results[k] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.posterior = mergeChains(l, results)
	m.diagnostics = Diagnostics{Duration: time.Since(start)}
	for _, r := range results {
		m.diagnostics.Divergences += r.divergences
		m.diagnostics.AcceptanceRate = append(m.diagnostics.AcceptanceRate, r.acceptanceRate())
		m.diagnostics.StepSize = append(m.diagnostics.StepSize, r.stepSize)
	}

	m.logger.InfoContext(ctx, "media mix model fitted",
		"model", m.name,
		"draws", m.posterior.NumDraws(),
		"divergences", m.diagnostics.Divergences,
		"duration", m.diagnostics.Duration.String())
	if m.diagnostics.Divergences > 0 {
		m.logger.WarnContext(ctx, "sampler reported divergent proposals",
			"divergences", m.diagnostics.Divergences)
	}
	return nil
}

func validateInput(in FitInput) error {
	periods := len(in.Target)
	if periods == 0 {
		return fmt.Errorf("%w: target is empty", ErrInvalidInput)
	}
	if len(in.Media) != periods {
		return fmt.Errorf("%w: media has %d periods, target has %d", ErrShapeMismatch, len(in.Media), periods)
	}
	channels := len(in.Media[0])
	if channels == 0 {
		return fmt.Errorf("%w: media has no channels", ErrInvalidInput)
	}
	for t, row := range in.Media {
		if len(row) != channels {
			return fmt.Errorf("%w: media period %d has %d channels, want %d", ErrShapeMismatch, t, len(row), channels)
		}
		for _, v := range row {
			if !finite(v) || v < 0 {
				return fmt.Errorf("%w: media period %d has value %v", ErrInvalidInput, t, v)
			}
		}
	}
	if len(in.MediaPrior) != channels {
		return fmt.Errorf("%w: media prior has %d entries, media has %d channels", ErrShapeMismatch, len(in.MediaPrior), channels)
	}
	for c, v := range in.MediaPrior {
		if !finite(v) || v <= 0 {
			return fmt.Errorf("%w: media prior for channel %d is %v", ErrInvalidInput, c, v)
		}
	}
	for t, v := range in.Target {
		if !finite(v) {
			return fmt.Errorf("%w: target period %d is %v", ErrInvalidInput, t, v)
		}
	}
	if in.ExtraFeatures != nil {
		if len(in.ExtraFeatures) != periods {
			return fmt.Errorf("%w: extra features have %d periods, target has %d", ErrShapeMismatch, len(in.ExtraFeatures), periods)
		}
		width := len(in.ExtraFeatures[0])
		for t, row := range in.ExtraFeatures {
			if len(row) != width {
				return fmt.Errorf("%w: extra features period %d has %d columns, want %d", ErrShapeMismatch, t, len(row), width)
			}
			for _, v := range row {
				if !finite(v) {
					return fmt.Errorf("%w: extra features period %d has value %v", ErrInvalidInput, t, v)
				}
			}
		}
	}
	if in.ChannelNames != nil && len(in.ChannelNames) != channels {
		return fmt.Errorf("%w: %d channel names for %d channels", ErrShapeMismatch, len(in.ChannelNames), channels)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
