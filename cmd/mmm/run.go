package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mmmcli/internal/exporter"
	"mmmcli/internal/operations"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var (
		model     string
		outputDir string
		formats   []string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline from the config file and write reports",
		Long: `run loads the configured data source, scales it, fits the model, evaluates
it on the held-out periods, computes channel metrics, optionally optimizes
the budget, and writes the reports under output.dir/<run id>.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("model") {
				cfg.Model.Name = model
			}
			if flags.Changed("output-dir") {
				cfg.Output.Dir = outputDir
			}
			if flags.Changed("formats") {
				cfg.Output.Formats = formats
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			p, err := newLocalPipeline(cfg, logger)
			if err != nil {
				return err
			}
			defer p.close(cmd.Context())

			state, err := p.execute(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			report := operations.BuildReport(state)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printReport(cmd.OutOrStdout(), report, state.Artifacts.ReportFiles)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&model, "model", "", "model name: adstock, hill_adstock or carryover")
	flags.StringVar(&outputDir, "output-dir", "", "report directory (overrides output.dir)")
	flags.StringSliceVar(&formats, "formats", nil, "report formats: csv, xlsx, json")
	flags.BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}

// printReport writes a short human summary of report
func printReport(w io.Writer, report *exporter.Report, files []string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", report.RunID)
	fmt.Fprintf(tw, "model\t%s\n", report.Model)
	fmt.Fprintf(tw, "channels\t%s\n", strings.Join(report.Channels, ", "))

	if d := report.Diagnostics; d != nil {
		fmt.Fprintf(tw, "divergences\t%d\n", d.Divergences)
		fmt.Fprintf(tw, "acceptance\t%s\n", formatFloats(d.AcceptanceRate, "%.2f"))
		fmt.Fprintf(tw, "fit time\t%s\n", d.Duration.Round(time.Millisecond))
	}
	if e := report.Evaluation; e != nil {
		fmt.Fprintf(tw, "held-out MAPE\t%.2f%% over %d periods\n", e.MAPE, e.Periods)
		fmt.Fprintf(tw, "held-out R2\t%.3f\n", e.RSquare)
	}
	if m := report.Metrics; m != nil {
		for _, c := range m.Channels {
			fmt.Fprintf(tw, "ROI %s\t%.3f [%.3f, %.3f]\n", c.Channel, c.ROI.Mean, c.ROI.Lower, c.ROI.Upper)
		}
	}
	if o := report.Optimization; o != nil {
		fmt.Fprintf(tw, "allocation\t%s\n", formatFloats(o.Allocation, "%.2f"))
		fmt.Fprintf(tw, "predicted target\t%.2f (historical mix %.2f)\n", o.KPIWithOptim, o.KPIWithoutOptim)
	}
	for i, f := range files {
		label := ""
		if i == 0 {
			label = "reports"
		}
		fmt.Fprintf(tw, "%s\t%s\n", label, f)
	}
	return tw.Flush()
}

func formatFloats(values []float64, format string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf(format, v)
	}
	return strings.Join(parts, " ")
}
