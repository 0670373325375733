// Package sequencer orchestrates a batch of trade intents: SELLs first so
// their proceeds fund the BUY phase, with a bounded fill-confirmation wait
// between the phases.
package sequencer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradewire/execd/internal/alerting"
	"github.com/tradewire/execd/internal/broker"
	"github.com/tradewire/execd/internal/gateway"
	"github.com/tradewire/execd/internal/guard"
	"github.com/tradewire/execd/internal/ledger"
	"github.com/tradewire/execd/internal/metrics"
	"github.com/tradewire/execd/internal/types"
	"github.com/tradewire/execd/internal/validate"
	"github.com/tradewire/execd/pkg/id"
)

const (
	phaseSell = "SELL"
	phaseBuy  = "BUY"
)

// Config holds sequencer behavior.
type Config struct {
	FillPollInterval time.Duration
	FillWaitTimeout  time.Duration
}

// DefaultConfig returns the standard polling parameters.
func DefaultConfig() Config {
	return Config{
		FillPollInterval: 2 * time.Second,
		FillWaitTimeout:  60 * time.Second,
	}
}

// Batch is the per-run context: the ordered intents, the quotes captured for
// this cycle, and the capital figure the ceiling constraint is computed
// against. Nothing here is process-global, so runs never cross-contaminate.
type Batch struct {
	Intents           []types.TradeIntent
	Quotes            map[string]types.Quote
	DeployableCapital decimal.Decimal
}

// Sequencer drives a batch through validation, the duplicate guard, the
// gateway and the fill-confirmation wait. Intents are processed one at a
// time within a phase: check-then-record on the guard stays race-free by
// program order, and sells-before-buys needs no explicit barrier.
type Sequencer struct {
	cfg       Config
	validator *validate.Validator
	guard     *guard.DuplicateGuard
	gateway   *gateway.Gateway
	broker    broker.Broker
	store     ledger.Store
	alerter   alerting.Alerter
	recorder  *metrics.Recorder
	logger    *slog.Logger

	now func() time.Time
}

// New creates a sequencer.
func New(cfg Config, validator *validate.Validator, g *guard.DuplicateGuard, gw *gateway.Gateway, brk broker.Broker, store ledger.Store, alerter alerting.Alerter, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FillPollInterval <= 0 {
		cfg.FillPollInterval = 2 * time.Second
	}
	if cfg.FillWaitTimeout <= 0 {
		cfg.FillWaitTimeout = 60 * time.Second
	}

	return &Sequencer{
		cfg:       cfg,
		validator: validator,
		guard:     g,
		gateway:   gw,
		broker:    brk,
		store:     store,
		alerter:   alerter,
		recorder:  metrics.NewRecorder(),
		logger:    logger,
		now:       time.Now,
	}
}

// Execute runs one batch: all SELL intents to terminal status (or timeout),
// then all BUY intents. Every intent gets exactly one outcome in the report;
// per-intent failures are recorded, never suppressed.
func (s *Sequencer) Execute(ctx context.Context, batch Batch) (*types.ExecutionReport, error) {
	report := &types.ExecutionReport{
		BatchID:   id.New(),
		StartedAt: s.now(),
	}

	sells, buys := partition(batch.Intents)

	s.logger.Info("batch started",
		"batch_id", report.BatchID,
		"intents", len(batch.Intents),
		"sells", len(sells),
		"buys", len(buys),
	)

	report.Outcomes = append(report.Outcomes, s.runPhase(ctx, phaseSell, sells, batch)...)
	report.Outcomes = append(report.Outcomes, s.runPhase(ctx, phaseBuy, buys, batch)...)

	report.CompletedAt = s.now()
	s.recorder.RecordBatch()

	submitted, violated, failed := report.Summary()
	s.logger.Info("batch completed",
		"batch_id", report.BatchID,
		"submitted", submitted,
		"violated", violated,
		"failed", failed,
	)

	s.alert(ctx, alerting.EventSeverity(alerting.EventBatchCompleted), "Batch completed",
		"batch_id", report.BatchID,
		"submitted", submitted,
		"violated", violated,
		"failed", failed,
	)

	return report, nil
}

// partition splits the batch into SELL and BUY lists, preserving relative
// order within each phase.
func partition(intents []types.TradeIntent) (sells, buys []types.TradeIntent) {
	for _, intent := range intents {
		if intent.Side == types.SideSell {
			sells = append(sells, intent)
		} else {
			buys = append(buys, intent)
		}
	}
	return sells, buys
}

// runPhase submits every intent of one phase in order, then blocks until all
// of the phase's orders report a terminal status or the wait times out.
func (s *Sequencer) runPhase(ctx context.Context, phase string, intents []types.TradeIntent, batch Batch) []types.IntentOutcome {
	if len(intents) == 0 {
		return nil
	}

	outcomes := make([]types.IntentOutcome, 0, len(intents))
	// order index in outcomes by broker order ID, for the fill wait below.
	pending := make(map[string]int)

	for _, intent := range intents {
		outcome := s.processIntent(ctx, phase, intent, batch)
		outcomes = append(outcomes, outcome)

		if !outcome.Submitted() {
			continue
		}
		switch outcome.Status {
		case types.OrderStatusSubmitted.String():
			if rec := s.lookupBrokerID(ctx, outcome.OrderID); rec != "" {
				pending[rec] = len(outcomes) - 1
			}
		case types.OrderStatusFilled.String():
			// Filled synchronously at submission; no wait needed.
			if intent.Side == types.SideSell {
				s.closePositionForSymbol(ctx, intent.Symbol)
			}
		}
	}

	if len(pending) > 0 {
		s.awaitTerminal(ctx, phase, pending, outcomes)
	}

	return outcomes
}

// processIntent runs one intent through validation, the duplicate guard and
// the gateway. Violations are final: they never reach the network layer.
func (s *Sequencer) processIntent(ctx context.Context, phase string, intent types.TradeIntent, batch Batch) types.IntentOutcome {
	outcome := types.IntentOutcome{Intent: intent, Phase: phase}

	quote := batch.Quotes[intent.Symbol]

	duplicate, err := s.guard.Check(ctx, intent.Symbol, intent.Side)
	if err != nil {
		outcome.Error = "duplicate guard check: " + err.Error()
		return outcome
	}

	openCount, err := s.store.CountOpenPositions(ctx)
	if err != nil {
		outcome.Error = "count open positions: " + err.Error()
		return outcome
	}

	violations := s.validator.Validate(intent, validate.Snapshot{
		Price:             quote.Price,
		Now:               s.now(),
		OpenPositions:     openCount,
		DeployableCapital: batch.DeployableCapital,
		AlreadyAttempted:  duplicate,
	})
	if len(violations) > 0 {
		outcome.Violations = validate.Reasons(violations)
		for _, v := range violations {
			s.recorder.RecordViolation(v.Code)
		}
		if duplicate {
			s.recorder.RecordDuplicateBlocked()
		}
		s.logger.Warn("intent rejected by pre-flight checks",
			"symbol", intent.Symbol,
			"side", intent.Side,
			"violations", outcome.Violations,
		)
		return outcome
	}

	result, err := s.gateway.Submit(ctx, intent, quote)
	if err != nil {
		if result != nil && result.Order != nil {
			outcome.OrderID = result.Order.OrderID
			outcome.Status = result.Order.Status.String()
		}
		outcome.Error = err.Error()
		s.alert(ctx, alerting.EventSeverity(alerting.EventOrderRejected), "Order submission failed",
			"symbol", intent.Symbol,
			"side", intent.Side.String(),
			"error", err.Error(),
		)
		return outcome
	}

	outcome.OrderID = result.Order.OrderID
	outcome.Status = result.Order.Status.String()
	if result.Position != nil {
		outcome.PositionID = result.Position.PositionID
	}

	// Recorded atomically with the successful submission; a unique-constraint
	// failure here means an external writer beat us to it this trading day.
	if err := s.guard.Record(ctx, intent.Symbol, intent.Side); err != nil && !errors.Is(err, types.ErrDuplicateIntent) {
		s.logger.Warn("failed to record guard entry",
			"symbol", intent.Symbol,
			"side", intent.Side,
			"err", err,
		)
	}

	return outcome
}

// lookupBrokerID fetches the broker order ID for a just-written ledger row.
func (s *Sequencer) lookupBrokerID(ctx context.Context, orderID string) string {
	rec, err := s.store.GetOrder(ctx, orderID)
	if err != nil || rec == nil {
		return ""
	}
	return rec.BrokerOrderID
}

// awaitTerminal polls order status until every order of the phase reaches a
// terminal state or the wait times out. On timeout the batch proceeds anyway
// rather than deadlocking: the order stays outstanding at the broker and the
// reconciliation engine resolves its bookkeeping later.
func (s *Sequencer) awaitTerminal(ctx context.Context, phase string, pending map[string]int, outcomes []types.IntentOutcome) {
	timer := metrics.NewTimer()
	defer timer.ObserveFillWait()

	deadline := s.now().Add(s.cfg.FillWaitTimeout)
	ticker := time.NewTicker(s.cfg.FillPollInterval)
	defer ticker.Stop()

	for len(pending) > 0 {
		for brokerID, idx := range pending {
			state, err := s.broker.GetOrderStatus(ctx, brokerID)
			if err != nil {
				s.logger.Warn("order status query failed",
					"broker_order_id", brokerID,
					"err", err,
				)
				continue
			}

			if !state.Status.IsFinal() {
				continue
			}

			outcomes[idx].Status = state.Status.String()
			s.resolveOrder(ctx, outcomes[idx].OrderID, state)
			delete(pending, brokerID)
		}

		if len(pending) == 0 {
			return
		}

		if !s.now().Before(deadline) {
			open := make([]string, 0, len(pending))
			for brokerID := range pending {
				open = append(open, brokerID)
			}
			// Liveness over strict ordering: partial settlement is
			// acceptable but must be visible.
			s.logger.Warn("phase fill wait timed out, proceeding with orders still open",
				"phase", phase,
				"open_orders", open,
				"timeout", s.cfg.FillWaitTimeout,
			)
			s.alert(ctx, alerting.EventSeverity(alerting.EventPhaseTimeout), "Phase fill wait timed out",
				"phase", phase,
				"open_orders", len(open),
			)
			return
		}

		select {
		case <-ctx.Done():
			s.logger.Warn("fill wait cancelled", "phase", phase, "err", ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

// resolveOrder moves the ledger order row to the observed terminal status.
// A SELL fill also closes the matching OPEN position: the exit order filling
// is what terminates the position lifecycle.
func (s *Sequencer) resolveOrder(ctx context.Context, orderID string, state *broker.OrderState) {
	if err := s.store.ResolveOrder(ctx, orderID, state.Status, s.now()); err != nil {
		s.logger.Error("failed to resolve order in ledger",
			"order_id", orderID,
			"status", state.Status,
			"err", err,
		)
		return
	}

	s.recorder.RecordOrder(state.Symbol, state.Side.String(), state.Status.String())

	if state.Side == types.SideSell && state.Status == types.OrderStatusFilled {
		s.closePositionForSymbol(ctx, state.Symbol)
	}
}

func (s *Sequencer) closePositionForSymbol(ctx context.Context, symbol string) {
	open, err := s.store.GetPositionsByStatus(ctx, types.PositionStatusOpen)
	if err != nil {
		s.logger.Error("failed to query open positions", "err", err)
		return
	}

	for _, pos := range open {
		if pos.Symbol != symbol {
			continue
		}
		if err := s.store.ClosePosition(ctx, pos.PositionID, s.now()); err != nil {
			s.logger.Error("failed to close position",
				"position_id", pos.PositionID,
				"symbol", symbol,
				"err", err,
			)
			continue
		}
		s.logger.Info("position closed",
			"position_id", pos.PositionID,
			"symbol", symbol,
		)
	}
}

func (s *Sequencer) alert(ctx context.Context, severity alerting.Severity, message string, fields ...any) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Alert(ctx, severity, message, fields...); err != nil {
		s.logger.Warn("failed to send alert", "err", err)
	}
}
