package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"genwatch/internal/clock"
	"genwatch/internal/config"
	"genwatch/internal/ledger"
	"genwatch/internal/logging"
	"genwatch/internal/stats"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "genwatch",
		Short: "genwatch watches a generator's indicator lamp through a camera",
		Long: `genwatch polls a camera, decides whether the generator indicator lamp is lit,
records run sessions with fuel and cost, and notifies a Telegram chat on every change.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config (default $GENWATCH_CONFIG)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		newRunCmd(opts),
		newReportCmd(opts),
		newSessionsCmd(opts),
		newEventsCmd(opts),
		newFuelCmd(opts),
		newExportCmd(opts),
		newDetectCmd(opts),
	)
	return root
}

// env is what every offline subcommand needs: configuration, clock and the ledger.
type env struct {
	cfg    config.Config
	clock  clock.Real
	ledger *ledger.Ledger
	stats  *stats.Service
	logger *slog.Logger
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return logging.New(cmd.ErrOrStderr(), level)
}

func (o *rootOptions) load(cmd *cobra.Command) (config.Config, clock.Real, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, clock.Real{}, err
	}
	clk, err := clock.Load(cfg.Timezone)
	if err != nil {
		return cfg, clock.Real{}, fmt.Errorf("failed to load timezone: %w", err)
	}
	return cfg, clk, nil
}

// open loads configuration and opens the ledger. Callers must Close the ledger.
func (o *rootOptions) open(cmd *cobra.Command) (*env, error) {
	cfg, clk, err := o.load(cmd)
	if err != nil {
		return nil, err
	}
	logger := o.logger(cmd)
	l, err := ledger.Open(cmdContext(cmd), ledger.Options{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:    cfg,
		clock:  clk,
		ledger: l,
		stats:  stats.New(l, clk, stats.WithCurrency(cfg.Currency)),
		logger: logger,
	}, nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
