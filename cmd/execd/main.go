// Package main is the entry point for the order execution engine.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tradewire/execd/internal/config"
)

// Version information (set by build flags).
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "execd",
		Short: "Order execution and position lifecycle engine",
		Long: `execd submits batches of trade intents to a brokerage venue with
idempotent client order IDs, protective brackets on entries, sell-before-buy
sequencing and ledger reconciliation.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newExecuteCmd())
	root.AddCommand(newReconcileCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("execd version %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			fmt.Println("Configuration is valid!")
			fmt.Printf("  Broker:             %s\n", cfg.Broker.Type)
			fmt.Printf("  Ledger:             %s\n", cfg.Ledger.Path)
			fmt.Printf("  Max open positions: %d\n", cfg.Constraints.MaxOpenPositions)
			fmt.Printf("  Stop loss:          %.1f%%\n", cfg.Risk.StopLossPct*100)
			fmt.Printf("  Take profit:        %.1f%%\n", cfg.Risk.TakeProfitPct*100)
			fmt.Printf("  Grace period:       %dh\n", cfg.Reconcile.GracePeriodHours)
			return nil
		},
	}
}

// newLogger builds the process logger: JSON for machine consumption, text
// when a human asked for verbosity.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if verbose {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
