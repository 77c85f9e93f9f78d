package exporter

import (
	"fmt"
	"time"

	"mmmcli/internal/analysis"
	"mmmcli/internal/mmm"
	"mmmcli/internal/optimize"
)

// Report collects the outputs of one analysis run. Nil sections are
// skipped by every format.
type Report struct {
	RunID        string                      `json:"run_id"`
	Model        string                      `json:"model"`
	CreatedAt    time.Time                   `json:"created_at"`
	Channels     []string                    `json:"channels"`
	Diagnostics  *mmm.Diagnostics            `json:"diagnostics,omitempty"`
	Summary      []analysis.ParamSummary     `json:"summary,omitempty"`
	Metrics      *analysis.PosteriorMetrics  `json:"metrics,omitempty"`
	Contribution *analysis.ContributionFrame `json:"contribution,omitempty"`
	Evaluation   *analysis.FitQuality        `json:"evaluation,omitempty"`
	Optimization *optimize.Result            `json:"optimization,omitempty"`
}

// Table is one rectangular section of a report.
type Table struct {
	Name    string
	Headers []string
	Rows    [][]string
}

// Tables renders the non-empty sections in a fixed order.
func (r *Report) Tables() []Table {
	var out []Table
	if len(r.Summary) > 0 {
		out = append(out, r.summaryTable())
	}
	if r.Metrics != nil {
		out = append(out, r.metricsTable())
	}
	if r.Contribution != nil {
		out = append(out, r.contributionTable())
	}
	if r.Evaluation != nil {
		out = append(out, r.evaluationTable())
	}
	if r.Optimization != nil {
		out = append(out, r.optimizationTable())
	}
	return out
}

func (r *Report) summaryTable() Table {
	t := Table{
		Name:    "summary",
		Headers: []string{"parameter", "mean", "sd", "median", "lower", "upper", "ess", "r_hat"},
	}
	for _, s := range r.Summary {
		t.Rows = append(t.Rows, []string{
			s.Name,
			formatFloat(s.Mean),
			formatFloat(s.SD),
			formatFloat(s.Median),
			formatFloat(s.Lower),
			formatFloat(s.Upper),
			formatFloat(s.ESS),
			formatFloat(s.RHat),
		})
	}
	return t
}

func (r *Report) metricsTable() Table {
	t := Table{
		Name: "metrics",
		Headers: []string{
			"channel", "cost",
			"contribution_share", "contribution_share_lower", "contribution_share_upper",
			"contribution", "contribution_lower", "contribution_upper",
			"roi", "roi_lower", "roi_upper",
		},
	}
	for _, m := range r.Metrics.Channels {
		t.Rows = append(t.Rows, []string{
			m.Channel,
			formatFloat(m.Cost),
			formatFloat(m.ContributionShare.Mean),
			formatFloat(m.ContributionShare.Lower),
			formatFloat(m.ContributionShare.Upper),
			formatFloat(m.Contribution.Mean),
			formatFloat(m.Contribution.Lower),
			formatFloat(m.Contribution.Upper),
			formatFloat(m.ROI.Mean),
			formatFloat(m.ROI.Lower),
			formatFloat(m.ROI.Upper),
		})
	}
	return t
}

func (r *Report) contributionTable() Table {
	cf := r.Contribution
	headers := []string{"period", "baseline"}
	headers = append(headers, cf.Channels...)
	headers = append(headers, "predicted", "actual")

	t := Table{Name: "contribution", Headers: headers}
	for i := range cf.Baseline {
		row := []string{formatInt(i), formatFloat(cf.Baseline[i])}
		for _, v := range cf.Media[i] {
			row = append(row, formatFloat(v))
		}
		row = append(row, formatFloat(cf.Predicted[i]), formatFloat(cf.Actual[i]))
		t.Rows = append(t.Rows, row)
	}
	return t
}

func (r *Report) evaluationTable() Table {
	e := r.Evaluation
	return Table{
		Name:    "evaluation",
		Headers: []string{"periods", "mape", "r_square", "rmse"},
		Rows: [][]string{{
			formatInt(e.Periods),
			formatFloat(e.MAPE),
			formatFloat(e.RSquare),
			formatFloat(e.RMSE),
		}},
	}
}

func (r *Report) optimizationTable() Table {
	o := r.Optimization
	t := Table{
		Name: "optimization",
		Headers: []string{
			"channel", "allocation", "spend", "baseline_allocation", "lower_bound", "upper_bound",
		},
	}
	for c := range o.Allocation {
		t.Rows = append(t.Rows, []string{
			r.channelName(c),
			formatFloat(o.Allocation[c]),
			formatFloat(at(o.Spend, c)),
			formatFloat(at(o.BaselineAllocation, c)),
			formatFloat(at(o.LowerBounds, c)),
			formatFloat(at(o.UpperBounds, c)),
		})
	}
	t.Rows = append(t.Rows,
		[]string{"kpi_with_optim", formatFloat(o.KPIWithOptim)},
		[]string{"kpi_without_optim", formatFloat(o.KPIWithoutOptim)},
		[]string{"iterations", formatInt(o.Iterations)},
		[]string{"converged", formatBool(o.Converged)},
	)
	return t
}

func (r *Report) channelName(c int) string {
	if c < len(r.Channels) {
		return r.Channels[c]
	}
	return fmt.Sprintf("channel_%d", c)
}

func at(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}
