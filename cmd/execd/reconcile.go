package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tradewire/execd/internal/config"
	"github.com/tradewire/execd/internal/reconcile"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile PENDING positions against the broker",
		Long: `Reconcile queries the broker for its open positions and resolves every
PENDING ledger row: rows confirmed by a broker position are promoted to OPEN
with the broker-reported price and quantity, rows past the grace period with
no confirming position are marked REJECTED, and the rest stay PENDING.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile()
		},
	}
}

func runReconcile() error {
	logger := newLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	engine := reconcile.New(app.store, app.broker, app.alerter, logger)

	result, err := engine.Reconcile(ctx, cfg.GracePeriod())
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	fmt.Printf("Reconciliation complete: %d promoted, %d expired\n", result.Promoted, result.Expired)
	return nil
}
