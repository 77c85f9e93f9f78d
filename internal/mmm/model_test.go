package mmm

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmmcli/internal/priors"
)

// threePointInput is the two channel example scaled by column means.
func threePointInput() FitInput {
	return FitInput{
		Media:        [][]float64{{0.5, 0.5}, {1, 1}, {1.5, 1.5}},
		MediaPrior:   []float64{1, 1},
		Target:       []float64{0.5, 1, 1.5},
		ChannelNames: []string{"tv", "radio"},
	}
}

func quickOptions(seed uint64) FitOptions {
	opts := DefaultFitOptions()
	opts.NumberWarmup = 300
	opts.NumberSamples = 300
	opts.NumberChains = 2
	opts.DegreesSeasonality = 0
	opts.MAPIterations = 100
	opts.Seed = seed
	return opts
}

func TestParseModelName(t *testing.T) {
	for _, name := range []string{"adstock", "hill_adstock", "carryover"} {
		got, err := ParseModelName(name)
		require.NoError(t, err)
		assert.Equal(t, ModelName(name), got)
	}
	_, err := ParseModelName("geometric")
	assert.ErrorIs(t, err, ErrUnknownModel)

	_, err = New("geometric")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestFit_InputValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FitInput)
		want   error
	}{
		{
			name:   "target shorter than media",
			mutate: func(in *FitInput) { in.Target = in.Target[:2] },
			want:   ErrShapeMismatch,
		},
		{
			name:   "ragged media",
			mutate: func(in *FitInput) { in.Media[1] = []float64{1} },
			want:   ErrShapeMismatch,
		},
		{
			name:   "extra features wrong length",
			mutate: func(in *FitInput) { in.ExtraFeatures = [][]float64{{1}} },
			want:   ErrShapeMismatch,
		},
		{
			name:   "media prior wrong length",
			mutate: func(in *FitInput) { in.MediaPrior = []float64{1} },
			want:   ErrShapeMismatch,
		},
		{
			name:   "nan target",
			mutate: func(in *FitInput) { in.Target[0] = math.NaN() },
			want:   ErrInvalidInput,
		},
		{
			name:   "negative media",
			mutate: func(in *FitInput) { in.Media[0][0] = -1 },
			want:   ErrInvalidInput,
		},
		{
			name:   "empty target",
			mutate: func(in *FitInput) { in.Target = nil },
			want:   ErrInvalidInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := threePointInput()
			tt.mutate(&in)
			m, err := New("adstock")
			require.NoError(t, err)
			err = m.Fit(context.Background(), in, quickOptions(1))
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, m.Fitted())
		})
	}
}

func TestFit_UnknownCustomPrior(t *testing.T) {
	m, err := New("adstock")
	require.NoError(t, err)
	opts := quickOptions(1)
	opts.CustomPriors = map[string]priors.Distribution{
		ParamSlope: priors.Gamma{Concentration: 1, Rate: 1},
	}
	err = m.Fit(context.Background(), threePointInput(), opts)
	assert.ErrorIs(t, err, ErrUnknownPrior)
}

func TestFit_DeterministicWithSeed(t *testing.T) {
	fit := func() *Posterior {
		m, err := New("hill_adstock")
		require.NoError(t, err)
		opts := quickOptions(42)
		opts.NumberWarmup = 100
		opts.NumberSamples = 100
		require.NoError(t, m.Fit(context.Background(), threePointInput(), opts))
		return m.Posterior()
	}
	a, b := fit(), fit()
	for _, name := range a.ParamNames() {
		da, err := a.Param(name)
		require.NoError(t, err)
		db, err := b.Param(name)
		require.NoError(t, err)
		assert.Equal(t, da, db, name)
	}
}

func TestFit_DifferentSeedsDiffer(t *testing.T) {
	fit := func(seed uint64) [][]float64 {
		m, err := New("adstock")
		require.NoError(t, err)
		opts := quickOptions(seed)
		opts.NumberWarmup = 50
		opts.NumberSamples = 50
		require.NoError(t, m.Fit(context.Background(), threePointInput(), opts))
		draws, err := m.Posterior().Param(ParamSigma)
		require.NoError(t, err)
		return draws
	}
	assert.NotEqual(t, fit(1), fit(2))
}

func TestFit_ThreePointScenarioIsMonotonic(t *testing.T) {
	m, err := New("adstock")
	require.NoError(t, err)
	in := threePointInput()
	require.NoError(t, m.Fit(context.Background(), in, quickOptions(7)))

	post := m.Posterior()
	assert.Equal(t, 2, post.NumChains())
	assert.Equal(t, 600, post.NumDraws())

	mean, err := m.FittedMean(context.Background(), in.Media)
	require.NoError(t, err)
	require.Len(t, mean, 3)
	assert.Greater(t, mean[1], mean[0])
	assert.Greater(t, mean[2], mean[1])

	coefs, err := post.Param(ParamCoefMedia)
	require.NoError(t, err)
	for _, draw := range coefs {
		for _, c := range draw {
			assert.GreaterOrEqual(t, c, 0.0)
		}
	}
	for _, rate := range m.Diagnostics().AcceptanceRate {
		assert.Greater(t, rate, 0.0)
	}
}

func TestFit_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m, err := New("carryover")
	require.NoError(t, err)
	err = m.Fit(ctx, threePointInput(), quickOptions(3))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, m.Fitted())
}

func TestPredict(t *testing.T) {
	m, err := New("carryover")
	require.NoError(t, err)
	opts := quickOptions(11)
	opts.NumberWarmup = 100
	opts.NumberSamples = 100
	opts.DegreesSeasonality = 1
	opts.SeasonalityFrequency = 4
	require.NoError(t, m.Fit(context.Background(), threePointInput(), opts))

	future := [][]float64{{1, 1}, {2, 2}}
	p1, err := m.Predict(context.Background(), future, nil, 5)
	require.NoError(t, err)
	p2, err := m.Predict(context.Background(), future, nil, 5)
	require.NoError(t, err)
	assert.Equal(t, p1.Draws, p2.Draws)
	require.Len(t, p1.Draws, 200)
	assert.Len(t, p1.Draws[0], 2)

	lo, hi := p1.Interval(0.05, 0.95)
	for t2 := range lo {
		assert.LessOrEqual(t, lo[t2], hi[t2])
	}

	mean, err := m.PredictMean(context.Background(), future, nil)
	require.NoError(t, err)
	assert.Len(t, mean, 2)

	_, err = m.Predict(context.Background(), [][]float64{{1}}, nil, 5)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = m.PredictMean(context.Background(), future, [][]float64{{1}, {1}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestPredict_NotFitted(t *testing.T) {
	m, err := New("adstock")
	require.NoError(t, err)
	_, err = m.Predict(context.Background(), [][]float64{{1, 1}}, nil, 0)
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = m.Components(context.Background())
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestPredict_ExtraFeaturesRequired(t *testing.T) {
	in := threePointInput()
	in.ExtraFeatures = [][]float64{{0.1}, {0.2}, {0.3}}
	m, err := New("adstock")
	require.NoError(t, err)
	opts := quickOptions(9)
	opts.NumberWarmup = 50
	opts.NumberSamples = 50
	require.NoError(t, m.Fit(context.Background(), in, opts))
	assert.Equal(t, 1, m.NumExtraFeatures())

	_, err = m.PredictMean(context.Background(), [][]float64{{1, 1}}, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	mean, err := m.PredictMean(context.Background(), [][]float64{{1, 1}}, [][]float64{{0.4}})
	require.NoError(t, err)
	assert.Len(t, mean, 1)
}

func TestComponents(t *testing.T) {
	m, err := New("hill_adstock")
	require.NoError(t, err)
	opts := quickOptions(13)
	opts.NumberWarmup = 50
	opts.NumberSamples = 50
	require.NoError(t, m.Fit(context.Background(), threePointInput(), opts))

	comp, err := m.Components(context.Background())
	require.NoError(t, err)
	require.Len(t, comp.Mu, 100)
	require.Len(t, comp.Contributions, 100)
	for _, draw := range comp.Contributions {
		require.Len(t, draw, 3)
		for _, row := range draw {
			require.Len(t, row, 2)
			for _, v := range row {
				assert.GreaterOrEqual(t, v, 0.0)
			}
		}
	}
}

func TestThinned(t *testing.T) {
	m, err := New("adstock")
	require.NoError(t, err)
	opts := quickOptions(17)
	opts.NumberWarmup = 20
	opts.NumberSamples = 50
	require.NoError(t, m.Fit(context.Background(), threePointInput(), opts))

	thin := m.Thinned(10)
	assert.Equal(t, 10, thin.Posterior().NumDraws())
	assert.Equal(t, 100, m.Posterior().NumDraws())
	assert.Same(t, m.Posterior(), m.Thinned(0).Posterior())
}

func TestBuildLayout(t *testing.T) {
	l, err := buildLayout(ModelHillAdstock, 2, 1, 1, true, []float64{1, 2}, nil)
	require.NoError(t, err)
	// 4 scalars, 2 coef_media, 3x2 transform, 2 seasonality, 7 weekday, 1 extra
	assert.Equal(t, 22, l.dim)

	labels := l.names()
	assert.Equal(t, "intercept", labels[0])
	assert.Equal(t, "coef_media[1]", labels[5])
	assert.Equal(t, "coef_extra_features[0]", labels[len(labels)-1])

	x := l.means()
	assert.InDelta(t, 2*math.Sqrt(2/math.Pi), l.view(x, ParamCoefMedia)[1], 1e-12)
	assert.False(t, math.IsInf(l.logPrior(x), -1))

	u := l.unconstrain(x)
	back := make([]float64, l.dim)
	l.constrain(u, back)
	assert.InDeltaSlice(t, x, back, 1e-9)
}

func TestBuildLayout_CustomPriorReplacesFamily(t *testing.T) {
	custom := map[string]priors.Distribution{
		ParamCoefMedia:     priors.HalfNormal{Scale: 5},
		ParamIntercept:     priors.Normal{Loc: 0, Scale: 3},
		ParamRetentionRate: priors.Beta{Concentration1: 2, Concentration0: 2},
	}
	l, err := buildLayout(ModelCarryover, 3, 0, 0, false, []float64{1, 1, 1}, custom)
	require.NoError(t, err)

	means := l.means()
	for _, v := range l.view(means, ParamCoefMedia) {
		assert.InDelta(t, 5*math.Sqrt(2/math.Pi), v, 1e-12)
	}
	assert.Equal(t, 0.0, l.scalar(means, ParamIntercept))
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, l.view(means, ParamRetentionRate))
	assert.False(t, l.has(ParamGammaSeasonality))
	assert.False(t, l.has(ParamWeekday))
}
