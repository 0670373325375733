// Package gateway wraps the broker's order-placement calls with idempotent
// client identifiers, protective brackets, retry with backoff, and ledger
// bookkeeping.
package gateway

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradewire/execd/internal/alerting"
	"github.com/tradewire/execd/internal/broker"
	"github.com/tradewire/execd/internal/ledger"
	"github.com/tradewire/execd/internal/metrics"
	"github.com/tradewire/execd/internal/types"
	"github.com/tradewire/execd/pkg/id"
	"golang.org/x/time/rate"
)

// Config holds gateway behavior.
type Config struct {
	MaxRetries         int             // attempts for transient failures
	BackoffInitial     time.Duration   // first retry delay, doubled per attempt
	StopLossPct        decimal.Decimal // bracket stop distance below entry
	TakeProfitPct      decimal.Decimal // bracket target distance above entry
	RateLimitPerSecond int
}

// DefaultConfig returns the standard retry/bracket parameters.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		BackoffInitial:     time.Second,
		StopLossPct:        decimal.RequireFromString("0.08"),
		TakeProfitPct:      decimal.RequireFromString("0.16"),
		RateLimitPerSecond: 4,
	}
}

// Result is the bookkeeping outcome of one submission.
type Result struct {
	Order    *ledger.OrderRecord
	Position *ledger.PositionRecord // nil unless a BUY entry was accepted
}

// Gateway submits orders to the broker and records every outcome in the
// ledger.
type Gateway struct {
	cfg      Config
	broker   broker.Broker
	store    ledger.Store
	alerter  alerting.Alerter
	recorder *metrics.Recorder
	limiter  *rate.Limiter
	logger   *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a gateway.
func New(cfg Config, brk broker.Broker, store ledger.Store, alerter alerting.Alerter, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 4
	}

	return &Gateway{
		cfg:      cfg,
		broker:   brk,
		store:    store,
		alerter:  alerter,
		recorder: metrics.NewRecorder(),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitPerSecond),
		logger:   logger,
		now:      time.Now,
	}
}

// Submit validates nothing (the sequencer runs the validator and the guard
// first), submits the intent to the broker and records the outcome. For BUY
// entries a protective bracket is attached and a PENDING position row with
// computed risk fields is written on acceptance.
func (g *Gateway) Submit(ctx context.Context, intent types.TradeIntent, quote types.Quote) (*Result, error) {
	submittedAt := g.now()
	qty := intent.ResolveQuantity(quote.Price)
	if qty <= 0 {
		return nil, fmt.Errorf("%w: intent resolves to zero shares", types.ErrInvalidQuantity)
	}

	clientOrderID := clientOrderID(intent, qty, submittedAt)

	orderType := types.OrderTypeMarket
	if intent.LimitPrice.IsPositive() {
		orderType = types.OrderTypeLimit
	}

	req := broker.OrderRequest{
		ClientOrderID: clientOrderID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Quantity:      qty,
		OrderType:     orderType,
		LimitPrice:    intent.LimitPrice,
	}

	var stopLoss, takeProfit decimal.Decimal
	if intent.Side == types.SideBuy {
		entry := quote.Price
		if orderType == types.OrderTypeLimit {
			entry = intent.LimitPrice
		}
		stopLoss = entry.Mul(decimal.NewFromInt(1).Sub(g.cfg.StopLossPct))
		takeProfit = entry.Mul(decimal.NewFromInt(1).Add(g.cfg.TakeProfitPct))
		req.Bracket = &broker.BracketLegs{StopLoss: stopLoss, TakeProfit: takeProfit}
	}

	record := ledger.OrderRecord{
		OrderID:       id.New(),
		ClientOrderID: clientOrderID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Quantity:      qty,
		OrderType:     orderType,
		Status:        types.OrderStatusSubmitted,
		SubmittedAt:   submittedAt,
	}

	timer := metrics.NewTimer()
	result, err := g.submitWithRetry(ctx, req)
	timer.ObserveSubmit()

	if err != nil {
		return g.recordFailure(ctx, record, err)
	}

	record.BrokerOrderID = result.BrokerOrderID
	if result.Status.IsFinal() {
		record.Status = result.Status
		resolvedAt := g.now()
		record.ResolvedAt = &resolvedAt
	}

	out := &Result{Order: &record}

	if intent.Side == types.SideBuy {
		entry := quote.Price
		if orderType == types.OrderTypeLimit {
			entry = intent.LimitPrice
		}
		riskPerShare := entry.Sub(stopLoss)
		out.Position = &ledger.PositionRecord{
			PositionID:   id.New(),
			Symbol:       intent.Symbol,
			Status:       types.PositionStatusPending,
			EntryPrice:   entry,
			Quantity:     qty,
			StopLoss:     stopLoss,
			TakeProfit:   takeProfit,
			RiskPerShare: riskPerShare,
			TotalRisk:    riskPerShare.Mul(decimal.NewFromInt(qty)),
			EntryOrderID: record.OrderID,
			SubmittedAt:  submittedAt,
		}
	}

	// The broker has accepted the order; from here every bookkeeping
	// failure is a data-integrity event, never a silent drop.
	if err := g.persist(ctx, out); err != nil {
		return out, err
	}

	g.recorder.RecordOrder(record.Symbol, record.Side.String(), record.Status.String())
	g.logger.Info("order submitted",
		"order_id", record.OrderID,
		"client_order_id", record.ClientOrderID,
		"broker_order_id", record.BrokerOrderID,
		"symbol", record.Symbol,
		"side", record.Side,
		"quantity", record.Quantity,
		"type", record.OrderType,
	)

	return out, nil
}

// submitWithRetry retries transient failures with exponential backoff. A
// bracket-leg failure after entry acceptance cancels the entry immediately:
// no filled position may ever exist without a protective order in flight.
func (g *Gateway) submitWithRetry(ctx context.Context, req broker.OrderRequest) (*broker.SubmitResult, error) {
	backoff := g.cfg.BackoffInitial

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		result, err := g.broker.SubmitOrder(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var bracketErr *broker.BracketError
		if errors.As(err, &bracketErr) {
			g.logger.Error("bracket legs failed after entry acceptance, cancelling entry",
				"client_order_id", req.ClientOrderID,
				"entry_broker_id", bracketErr.EntryBrokerID,
				"err", bracketErr.Err,
			)
			if cancelErr := g.broker.CancelOrder(ctx, bracketErr.EntryBrokerID); cancelErr != nil {
				// Cancellation itself failed: the venue may hold an
				// unprotected order. Loudest possible escalation.
				g.alert(ctx, alerting.EventSeverity(alerting.EventUnprotectedEntry), "Unprotected entry could not be cancelled",
					"client_order_id", req.ClientOrderID,
					"entry_broker_id", bracketErr.EntryBrokerID,
					"cancel_error", cancelErr.Error(),
				)
				g.recorder.RecordInconsistency("uncancelled_unprotected_entry")
				return nil, fmt.Errorf("%w: cancel failed: %v", types.ErrUnprotectedEntry, cancelErr)
			}
			return nil, fmt.Errorf("%w: entry %s cancelled", types.ErrUnprotectedEntry, bracketErr.EntryBrokerID)
		}

		if !broker.IsTransient(err) {
			return nil, fmt.Errorf("%w: %v", types.ErrBrokerRejected, err)
		}

		if attempt == g.cfg.MaxRetries {
			break
		}

		g.logger.Warn("transient broker failure, retrying",
			"client_order_id", req.ClientOrderID,
			"attempt", attempt,
			"backoff", backoff,
			"err", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", types.ErrRetriesExhausted, g.cfg.MaxRetries, lastErr)
}

// recordFailure writes the terminal-failure order row. The broker holds no
// order for it (rejections and exhausted retries never produced an accepted
// entry; bracket failures were cancelled), so a ledger miss here is an
// ordinary error, not an integrity event.
func (g *Gateway) recordFailure(ctx context.Context, record ledger.OrderRecord, submitErr error) (*Result, error) {
	resolvedAt := g.now()
	record.ResolvedAt = &resolvedAt
	if errors.Is(submitErr, types.ErrUnprotectedEntry) {
		record.Status = types.OrderStatusCancelled
	} else {
		record.Status = types.OrderStatusRejected
	}

	if err := g.store.InsertOrder(ctx, record); err != nil {
		g.logger.Error("failed to record order failure",
			"order_id", record.OrderID,
			"err", err,
		)
		return nil, errors.Join(submitErr, err)
	}

	g.recorder.RecordOrder(record.Symbol, record.Side.String(), record.Status.String())
	return &Result{Order: &record}, submitErr
}

// persist writes the accepted order (and PENDING position for BUYs). The
// store already retries contention with a bounded wait; if it still fails
// the broker has an order we have no record of — a CRITICAL inconsistency
// requiring manual reconciliation.
func (g *Gateway) persist(ctx context.Context, out *Result) error {
	if err := g.store.InsertOrder(ctx, *out.Order); err != nil {
		return g.escalateInconsistency(ctx, out.Order, "order", err)
	}

	if out.Position != nil {
		if err := g.store.InsertPosition(ctx, *out.Position); err != nil {
			return g.escalateInconsistency(ctx, out.Order, "position", err)
		}
		g.recorder.RecordPositionPending(out.Position.Symbol)
	}

	return nil
}

func (g *Gateway) escalateInconsistency(ctx context.Context, order *ledger.OrderRecord, kind string, err error) error {
	g.logger.Error("CRITICAL: ledger write failed after broker acceptance",
		"kind", kind,
		"order_id", order.OrderID,
		"client_order_id", order.ClientOrderID,
		"broker_order_id", order.BrokerOrderID,
		"err", err,
	)
	g.recorder.RecordInconsistency("ledger_write_failed")
	g.alert(ctx, alerting.EventSeverity(alerting.EventLedgerInconsistent), "Ledger write failed after broker acceptance",
		"kind", kind,
		"client_order_id", order.ClientOrderID,
		"broker_order_id", order.BrokerOrderID,
		"error", err.Error(),
	)
	return fmt.Errorf("%w: %s for %s: %v", types.ErrLedgerInconsistent, kind, order.ClientOrderID, err)
}

func (g *Gateway) alert(ctx context.Context, severity alerting.Severity, message string, fields ...any) {
	if g.alerter == nil {
		return
	}
	if err := g.alerter.Alert(ctx, severity, message, fields...); err != nil {
		g.logger.Warn("failed to send alert", "err", err)
	}
}

// clientOrderID derives the idempotency key deterministically from the
// intent contents plus the submission timestamp, so a retried call carrying
// the same key is recognized by the broker as the same order. The uuid
// suffix disambiguates distinct submissions of identical contents across
// trading days.
func clientOrderID(intent types.TradeIntent, qty int64, submittedAt time.Time) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%d|%d",
		intent.Symbol, intent.Side, qty, submittedAt.UnixNano())))
	return fmt.Sprintf("EXC-%s-%s", hex.EncodeToString(h[:6]), uuid.New().String()[:8])
}
