// Package sim provides a simulated broker for paper runs and tests.
package sim

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradewire/execd/internal/broker"
	"github.com/tradewire/execd/internal/types"
)

// Config holds simulated venue behavior.
type Config struct {
	// FillDelay defers fills: orders are acknowledged SUBMITTED and become
	// FILLED once the delay elapses. Zero fills immediately.
	FillDelay time.Duration
	// SlippagePct shifts the fill away from the reference price (positive
	// hurts: buys fill higher, sells lower).
	SlippagePct decimal.Decimal
}

// Broker implements broker.Broker in memory. It honours idempotent client
// order IDs (a resubmitted ID returns the original acknowledgement rather
// than creating a second order) and supports scripted failures for tests.
type Broker struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	ordersByID map[string]*simOrder // broker order id -> order
	byClientID map[string]*simOrder // client order id -> order
	positions  map[string]*broker.Position
	prices     map[string]decimal.Decimal
	nextID     atomic.Int64

	// Scripted behaviors (tests).
	failSubmits []error // consumed per SubmitOrder call, nil = succeed
	bracketErr  error   // fail bracket legs after accepting the entry
	cancelled   []string
}

type simOrder struct {
	state    broker.OrderState
	bracket  *broker.BracketLegs
	fillAt   time.Time
	refPrice decimal.Decimal
}

// New creates a simulated broker.
func New(cfg Config, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		cfg:        cfg,
		logger:     logger,
		ordersByID: make(map[string]*simOrder),
		byClientID: make(map[string]*simOrder),
		positions:  make(map[string]*broker.Position),
		prices:     make(map[string]decimal.Decimal),
	}
	b.nextID.Store(1)
	return b
}

// SetPrice sets the reference price used for fills of a symbol.
func (b *Broker) SetPrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
}

// SetPosition seeds a broker-side position (reconciliation tests).
func (b *Broker) SetPosition(symbol string, qty int64, avgPrice decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[symbol] = &broker.Position{Symbol: symbol, Quantity: qty, AvgPrice: avgPrice}
}

// ScriptSubmitFailures queues per-call submit outcomes: each SubmitOrder
// consumes one entry, nil meaning success. Once the script is exhausted all
// submits succeed.
func (b *Broker) ScriptSubmitFailures(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failSubmits = append(b.failSubmits, errs...)
}

// ScriptBracketFailure makes the next bracketed submit accept the entry but
// fail the protective legs.
func (b *Broker) ScriptBracketFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bracketErr = err
}

// CancelledOrders returns broker order IDs cancelled so far.
func (b *Broker) CancelledOrders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.cancelled))
	copy(out, b.cancelled)
	return out
}

// SubmitOrder acknowledges an order, applying scripted failures first.
func (b *Broker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (*broker.SubmitResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.failSubmits) > 0 {
		err := b.failSubmits[0]
		b.failSubmits = b.failSubmits[1:]
		if err != nil {
			return nil, err
		}
	}

	// Idempotent submission: a known client order ID is the same order.
	if existing, ok := b.byClientID[req.ClientOrderID]; ok {
		return &broker.SubmitResult{
			BrokerOrderID: existing.state.BrokerOrderID,
			ClientOrderID: req.ClientOrderID,
			Status:        existing.state.Status,
			SubmittedAt:   existing.state.UpdatedAt,
		}, nil
	}

	now := time.Now()
	brokerID := "SIM-" + padID(b.nextID.Add(1))

	if req.Bracket != nil && b.bracketErr != nil {
		err := b.bracketErr
		b.bracketErr = nil

		// Entry was accepted before the legs failed; it stays open at the
		// venue until cancelled.
		o := &simOrder{
			state: broker.OrderState{
				BrokerOrderID: brokerID,
				ClientOrderID: req.ClientOrderID,
				Symbol:        req.Symbol,
				Side:          req.Side,
				Quantity:      req.Quantity,
				Status:        types.OrderStatusSubmitted,
				UpdatedAt:     now,
			},
		}
		b.ordersByID[brokerID] = o
		b.byClientID[req.ClientOrderID] = o

		return nil, &broker.BracketError{EntryBrokerID: brokerID, Err: err}
	}

	price := b.prices[req.Symbol]
	o := &simOrder{
		state: broker.OrderState{
			BrokerOrderID: brokerID,
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Quantity:      req.Quantity,
			Status:        types.OrderStatusSubmitted,
			UpdatedAt:     now,
		},
		bracket:  req.Bracket,
		fillAt:   now.Add(b.cfg.FillDelay),
		refPrice: price,
	}
	b.ordersByID[brokerID] = o
	b.byClientID[req.ClientOrderID] = o

	if b.cfg.FillDelay == 0 {
		b.fillLocked(o)
	}

	b.logger.Debug("sim order accepted",
		"broker_order_id", brokerID,
		"client_order_id", req.ClientOrderID,
		"symbol", req.Symbol,
		"side", req.Side,
		"quantity", req.Quantity,
	)

	return &broker.SubmitResult{
		BrokerOrderID: brokerID,
		ClientOrderID: req.ClientOrderID,
		Status:        o.state.Status,
		SubmittedAt:   now,
	}, nil
}

// fillLocked marks an order filled at the reference price plus slippage and
// updates the venue position book. Caller holds b.mu.
func (b *Broker) fillLocked(o *simOrder) {
	if o.state.Status.IsFinal() {
		return
	}

	fill := o.refPrice
	if fill.IsZero() {
		fill = decimal.NewFromInt(100) // venue default when no reference price seeded
	}
	if b.cfg.SlippagePct.IsPositive() {
		slip := fill.Mul(b.cfg.SlippagePct)
		if o.state.Side == types.SideBuy {
			fill = fill.Add(slip)
		} else {
			fill = fill.Sub(slip)
		}
	}

	o.state.Status = types.OrderStatusFilled
	o.state.FilledQty = o.state.Quantity
	o.state.AvgFillPrice = fill
	o.state.UpdatedAt = time.Now()

	pos, ok := b.positions[o.state.Symbol]
	if !ok {
		pos = &broker.Position{Symbol: o.state.Symbol}
		b.positions[o.state.Symbol] = pos
	}
	if o.state.Side == types.SideBuy {
		pos.Quantity += o.state.FilledQty
		pos.AvgPrice = fill
	} else {
		pos.Quantity -= o.state.FilledQty
		if pos.Quantity <= 0 {
			delete(b.positions, o.state.Symbol)
		}
	}
}

// GetOrderStatus reports the order's current state, applying deferred fills.
func (b *Broker) GetOrderStatus(ctx context.Context, brokerOrderID string) (*broker.OrderState, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.ordersByID[brokerOrderID]
	if !ok {
		return nil, broker.ErrUnknownOrder
	}

	if !o.state.Status.IsFinal() && !time.Now().Before(o.fillAt) {
		b.fillLocked(o)
	}

	state := o.state
	return &state, nil
}

// GetPositions returns the venue's open positions.
func (b *Broker) GetPositions(ctx context.Context) ([]broker.Position, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]broker.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out, nil
}

// CancelOrder cancels a non-terminal order.
func (b *Broker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.ordersByID[brokerOrderID]
	if !ok {
		return broker.ErrUnknownOrder
	}
	if !o.state.Status.IsFinal() {
		o.state.Status = types.OrderStatusCancelled
		o.state.UpdatedAt = time.Now()
	}
	b.cancelled = append(b.cancelled, brokerOrderID)
	return nil
}

func padID(n int64) string {
	const digits = "0123456789"
	buf := [8]byte{'0', '0', '0', '0', '0', '0', '0', '0'}
	for i := 7; i >= 0 && n > 0; i-- {
		buf[i] = digits[n%10]
		n /= 10
	}
	return string(buf[:])
}
