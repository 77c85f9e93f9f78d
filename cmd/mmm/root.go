package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"mmmcli/internal/config"
	"mmmcli/internal/infrastructure"
)

// rootOptions are the persistent flags shared by every subcommand
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "mmm",
		Short: "Media mix modelling: fit, evaluate and optimize marketing budgets",
		Long: `mmm fits Bayesian media mix models to weekly or daily spend data,
reports posterior channel metrics and contributions, and searches for the
budget allocation that maximizes the predicted target.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./config.yaml or configs/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newRunCommand(opts),
		newOptimizeCommand(opts),
		newServeCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// load reads the configuration and initializes the process logger
func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		switch lvl := strings.ToLower(o.logLevel); lvl {
		case "debug", "info", "warn", "warning", "error":
			cfg.Logging.Level = lvl
		default:
			return nil, nil, fmt.Errorf("%w: unknown log level %q", config.ErrInvalidConfig, o.logLevel)
		}
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}
