package dataset

import (
	"fmt"
	"time"
)

// Selection names the columns of a table that feed the model.
type Selection struct {
	Media  []string
	Target string
	Extra  []string
	// Costs optionally names one spend column per media column, for data
	// where media is measured in impressions rather than spend.
	Costs []string
}

// Observations are the selected series of a dataset in original units.
type Observations struct {
	Dates      []time.Time
	Channels   []string
	ExtraNames []string
	// Media is periods x channels.
	Media  [][]float64
	Target []float64
	// Extra is periods x features, nil without extra features.
	Extra [][]float64
	// Costs is periods x channels of spend, nil when media is spend.
	Costs [][]float64
}

// Select extracts the observations named by sel.
func (t *Table) Select(sel Selection) (*Observations, error) {
	if len(sel.Media) == 0 {
		return nil, fmt.Errorf("%w: no media columns selected", ErrColumnNotFound)
	}
	if sel.Target == "" {
		return nil, fmt.Errorf("%w: no target column selected", ErrColumnNotFound)
	}
	if len(sel.Costs) > 0 && len(sel.Costs) != len(sel.Media) {
		return nil, fmt.Errorf("%d cost columns for %d media columns", len(sel.Costs), len(sel.Media))
	}

	obs := &Observations{
		Dates:      t.dates,
		Channels:   append([]string(nil), sel.Media...),
		ExtraNames: append([]string(nil), sel.Extra...),
	}
	var err error
	if obs.Media, err = t.Matrix(sel.Media); err != nil {
		return nil, err
	}
	if obs.Target, err = t.Column(sel.Target); err != nil {
		return nil, err
	}
	if obs.Extra, err = t.Matrix(sel.Extra); err != nil {
		return nil, err
	}
	if obs.Costs, err = t.Matrix(sel.Costs); err != nil {
		return nil, err
	}
	return obs, nil
}

// Len returns the number of periods.
func (o *Observations) Len() int { return len(o.Target) }

// ChannelCosts sums spend per channel over all periods.
func (o *Observations) ChannelCosts() []float64 {
	src := o.Costs
	if src == nil {
		src = o.Media
	}
	out := make([]float64, len(o.Channels))
	for _, row := range src {
		for c, v := range row {
			out[c] += v
		}
	}
	return out
}

// Split keeps the last testPeriods periods as a hold-out set. A zero
// testPeriods returns a nil test set.
func (o *Observations) Split(testPeriods int) (train, test *Observations, err error) {
	n := o.Len()
	if testPeriods < 0 || testPeriods >= n {
		return nil, nil, fmt.Errorf("%w: %d test periods out of %d", ErrInvalidSplit, testPeriods, n)
	}
	cut := n - testPeriods
	train = o.slice(0, cut)
	if testPeriods > 0 {
		test = o.slice(cut, n)
	}
	return train, test, nil
}

func (o *Observations) slice(from, to int) *Observations {
	out := &Observations{
		Channels:   o.Channels,
		ExtraNames: o.ExtraNames,
		Media:      o.Media[from:to],
		Target:     o.Target[from:to],
	}
	if o.Dates != nil {
		out.Dates = o.Dates[from:to]
	}
	if o.Extra != nil {
		out.Extra = o.Extra[from:to]
	}
	if o.Costs != nil {
		out.Costs = o.Costs[from:to]
	}
	return out
}
