package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/tradewire/execd/internal/alerting"
	"github.com/tradewire/execd/internal/broker"
	"github.com/tradewire/execd/internal/broker/sim"
	"github.com/tradewire/execd/internal/config"
	"github.com/tradewire/execd/internal/gateway"
	"github.com/tradewire/execd/internal/guard"
	"github.com/tradewire/execd/internal/ledger"
	"github.com/tradewire/execd/internal/metrics"
	"github.com/tradewire/execd/internal/sequencer"
	"github.com/tradewire/execd/internal/types"
	"github.com/tradewire/execd/internal/validate"
	"gopkg.in/yaml.v3"
)

// batchFile is the on-disk batch format. Prices come in as floats and are
// converted to decimals at the boundary; nothing downstream touches float64.
type batchFile struct {
	DeployableCapital float64            `yaml:"deployable_capital"`
	Quotes            map[string]float64 `yaml:"quotes"` // symbol -> current price
	Intents           []intentEntry      `yaml:"intents"`
}

type intentEntry struct {
	Symbol           string  `yaml:"symbol"`
	Side             string  `yaml:"side"`
	Quantity         int64   `yaml:"quantity"`
	AllocatedCapital float64 `yaml:"allocated_capital"`
	LimitPrice       float64 `yaml:"limit_price"`
	Rationale        string  `yaml:"rationale"`
}

func newExecuteCmd() *cobra.Command {
	var batchPath string

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute a batch of trade intents",
		Long: `Execute reads a batch file, runs every intent through the hard-constraint
validator and duplicate guard, submits survivors to the broker (SELLs first,
then BUYs) and prints the execution report as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(batchPath)
		},
	}

	cmd.Flags().StringVarP(&batchPath, "batch", "b", "", "path to batch file (required)")
	_ = cmd.MarkFlagRequired("batch")

	return cmd
}

func runExecute(batchPath string) error {
	logger := newLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	batch, err := loadBatch(batchPath)
	if err != nil {
		return err
	}
	if len(batch.Intents) == 0 {
		return fmt.Errorf("batch file %s contains no intents", batchPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	// Seed the simulated venue with the batch quotes so fills happen at
	// realistic prices.
	if simBroker, ok := app.broker.(*sim.Broker); ok {
		for symbol, q := range batch.Quotes {
			simBroker.SetPrice(symbol, q.Price)
		}
	}

	seq := sequencer.New(
		sequencer.Config{
			FillPollInterval: cfg.FillPollInterval(),
			FillWaitTimeout:  cfg.FillWaitTimeout(),
		},
		app.validator, app.guard, app.gateway, app.broker, app.store, app.alerter, logger,
	)

	report, err := seq.Execute(ctx, *batch)
	if err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}

	if _, err := app.guard.Prune(ctx); err != nil {
		logger.Warn("guard prune failed", "err", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// loadBatch parses the batch file and converts it to engine types.
func loadBatch(path string) (*sequencer.Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}

	var file batchFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}

	batch := &sequencer.Batch{
		DeployableCapital: decimal.NewFromFloat(file.DeployableCapital),
		Quotes:            make(map[string]types.Quote, len(file.Quotes)),
	}

	now := time.Now()
	for symbol, price := range file.Quotes {
		batch.Quotes[symbol] = types.Quote{
			Symbol: symbol,
			Price:  decimal.NewFromFloat(price),
			AsOf:   now,
		}
	}

	for i, entry := range file.Intents {
		side := types.ParseSide(entry.Side)
		if side == types.SideUnknown {
			return nil, fmt.Errorf("intent %d (%s): side %q must be BUY or SELL", i, entry.Symbol, entry.Side)
		}
		batch.Intents = append(batch.Intents, types.TradeIntent{
			Symbol:           entry.Symbol,
			Side:             side,
			Quantity:         entry.Quantity,
			AllocatedCapital: decimal.NewFromFloat(entry.AllocatedCapital),
			LimitPrice:       decimal.NewFromFloat(entry.LimitPrice),
			Rationale:        entry.Rationale,
		})
	}

	return batch, nil
}

// app bundles the wired components shared by the execute and reconcile
// commands.
type app struct {
	store     ledger.Store
	broker    broker.Broker
	alerter   alerting.Alerter
	validator *validate.Validator
	guard     *guard.DuplicateGuard
	gateway   *gateway.Gateway
	metricsrv *metrics.Server
}

func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := ledger.NewSQLiteStore(cfg.Ledger.Path, cfg.BusyWait())
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	brk, err := newBroker(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	var alerter alerting.Alerter
	if cfg.Alerting.Enabled {
		alerter = alerting.NewMultiAlerter(logger, alerting.NewConsoleAlerter(logger))
	}

	a := &app{
		store:   store,
		broker:  brk,
		alerter: alerter,
		validator: validate.New(validate.Config{
			MinPositionValue: cfg.MinPositionValueDecimal(),
			MaxPositionPct:   cfg.MaxPositionPctDecimal(),
			MaxOpenPositions: cfg.Constraints.MaxOpenPositions,
			Location:         cfg.Location(),
			SessionStart:     cfg.Constraints.SessionStart,
			SessionEnd:       cfg.Constraints.SessionEnd,
		}),
		guard: guard.New(store, cfg.Location(), cfg.GuardRetention(), logger),
		gateway: gateway.New(gateway.Config{
			MaxRetries:         cfg.Execution.MaxRetries,
			BackoffInitial:     cfg.BackoffInitial(),
			StopLossPct:        cfg.StopLossPctDecimal(),
			TakeProfitPct:      cfg.TakeProfitPctDecimal(),
			RateLimitPerSecond: cfg.Broker.RateLimitPerSecond,
		}, brk, store, alerter, logger),
	}

	if cfg.Metrics.Enabled {
		a.metricsrv = metrics.NewServer(metrics.ServerConfig{
			Port:        cfg.Metrics.Port,
			MetricsPath: cfg.Metrics.Path,
			HealthPath:  "/health",
		}, logger)
		a.metricsrv.RegisterHealthCheck("ledger", func() metrics.Check {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				return metrics.Check{Detail: err.Error()}
			}
			return metrics.Check{Healthy: true}
		})
		a.metricsrv.RegisterHealthCheck("broker", func() metrics.Check {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := brk.GetPositions(ctx); err != nil {
				return metrics.Check{Detail: err.Error()}
			}
			return metrics.Check{Healthy: true}
		})
		if err := a.metricsrv.Start(); err != nil {
			logger.Warn("metrics server failed to start", "err", err)
		}
	}

	return a, nil
}

func newBroker(cfg *config.Config, logger *slog.Logger) (broker.Broker, error) {
	switch cfg.Broker.Type {
	case "sim":
		return sim.New(sim.Config{}, logger), nil
	default:
		return nil, fmt.Errorf("broker type %q is not wired in this build", cfg.Broker.Type)
	}
}

func (a *app) close(logger *slog.Logger) {
	if a.metricsrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsrv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown failed", "err", err)
		}
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("ledger close failed", "err", err)
	}
}
