package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"mmmcli/internal/operations"
	"mmmcli/internal/optimize"
)

// optimizeOutput is what the optimize command prints
type optimizeOutput struct {
	RunID    string           `json:"run_id"`
	Channels []string         `json:"channels"`
	Budget   float64          `json:"budget"`
	Periods  int              `json:"periods"`
	Result   *optimize.Result `json:"result"`
}

func newOptimizeCommand(opts *rootOptions) *cobra.Command {
	var (
		budget   float64
		periods  int
		prices   []float64
		baseline []float64
	)

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Fit the model and find the budget allocation that maximizes the target",
		Long: `optimize prepares the data, fits the configured model and runs the budget
optimizer. --budget, --periods, --prices and --baseline override the
optimization section of the config file. Without a budget the average
historical spend per period times --periods is allocated. The allocation is
printed as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			cfg.Optimization.Enabled = true
			if flags.Changed("budget") {
				cfg.Optimization.Budget = budget
			}
			if flags.Changed("periods") {
				cfg.Optimization.Periods = periods
			}
			if flags.Changed("prices") {
				cfg.Optimization.Prices = prices
			}
			if flags.Changed("baseline") {
				cfg.Optimization.BaselineAllocation = baseline
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			p, err := newLocalPipeline(cfg, logger)
			if err != nil {
				return err
			}
			defer p.close(cmd.Context())

			state, err := p.execute(cmd.Context(), cfg, operations.StepIDOptimize)
			if err != nil {
				return err
			}

			result := state.Artifacts.Optimization
			out := optimizeOutput{
				RunID:   state.ID,
				Periods: cfg.Optimization.Periods,
				Result:  result,
			}
			if result != nil {
				for _, v := range result.Spend {
					out.Budget += v
				}
			}
			if state.Artifacts.Train != nil {
				out.Channels = state.Artifacts.Train.Channels
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	flags := cmd.Flags()
	flags.Float64Var(&budget, "budget", 0, "total budget to allocate over the horizon")
	flags.IntVar(&periods, "periods", 0, "number of periods the budget covers")
	flags.Float64SliceVar(&prices, "prices", nil, "unit price per media channel, comma separated")
	flags.Float64SliceVar(&baseline, "baseline", nil, "reference allocation in media units per channel, comma separated")
	return cmd
}
