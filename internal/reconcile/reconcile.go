// Package reconcile resolves drift between the local ledger and the
// broker's authoritative state.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/tradewire/execd/internal/alerting"
	"github.com/tradewire/execd/internal/broker"
	"github.com/tradewire/execd/internal/ledger"
	"github.com/tradewire/execd/internal/metrics"
	"github.com/tradewire/execd/internal/types"
)

const staleNote = "stale - no confirming fill"

// Result summarizes one reconciliation pass.
type Result struct {
	Promoted int
	Expired  int
}

// Engine is the sole writer permitted to transition PENDING position rows,
// which keeps it free of races with the gateway's initial insert.
type Engine struct {
	store    ledger.Store
	broker   broker.Broker
	alerter  alerting.Alerter
	recorder *metrics.Recorder
	logger   *slog.Logger

	now func() time.Time
}

// New creates a reconciliation engine.
func New(store ledger.Store, brk broker.Broker, alerter alerting.Alerter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		broker:   brk,
		alerter:  alerter,
		recorder: metrics.NewRecorder(),
		logger:   logger,
		now:      time.Now,
	}
}

// Reconcile compares PENDING position rows against the broker's open
// positions. A matching broker position promotes the row to OPEN with the
// broker-reported price and quantity (authoritative over the intended
// values); a row older than maxAge with no confirming position is marked
// REJECTED; anything else stays PENDING within its grace period.
//
// Idempotent: a second pass with no new broker information changes nothing,
// because only PENDING rows are considered and each transition removes the
// row from that set.
func (e *Engine) Reconcile(ctx context.Context, maxAge time.Duration) (Result, error) {
	var result Result

	pending, err := e.store.GetPositionsByStatus(ctx, types.PositionStatusPending)
	if err != nil {
		return result, err
	}
	if len(pending) == 0 {
		return result, nil
	}

	brokerPositions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return result, err
	}

	bySymbol := make(map[string]broker.Position, len(brokerPositions))
	for _, p := range brokerPositions {
		bySymbol[p.Symbol] = p
	}

	now := e.now()
	for _, row := range pending {
		confirmed, ok := bySymbol[row.Symbol]
		if ok && confirmed.Quantity > 0 {
			if err := e.promote(ctx, row, confirmed, now); err != nil {
				e.logger.Error("failed to promote position",
					"position_id", row.PositionID,
					"symbol", row.Symbol,
					"err", err,
				)
				continue
			}
			result.Promoted++
			continue
		}

		if row.Age(now) > maxAge {
			if err := e.store.RejectPosition(ctx, row.PositionID, staleNote); err != nil {
				e.logger.Error("failed to expire position",
					"position_id", row.PositionID,
					"symbol", row.Symbol,
					"err", err,
				)
				continue
			}
			e.recorder.RecordPositionResolved(row.Symbol)
			e.logger.Warn("position expired without confirming fill",
				"position_id", row.PositionID,
				"symbol", row.Symbol,
				"age", row.Age(now).Round(time.Minute),
			)
			result.Expired++
		}
		// Still within the grace period: leave PENDING.
	}

	e.recorder.RecordReconcile(result.Promoted, result.Expired)
	e.logger.Info("reconciliation completed",
		"pending", len(pending),
		"promoted", result.Promoted,
		"expired", result.Expired,
	)

	if e.alerter != nil && (result.Promoted > 0 || result.Expired > 0) {
		if err := e.alerter.Alert(ctx, alerting.EventSeverity(alerting.EventReconcileCompleted), "Reconciliation completed",
			"promoted", result.Promoted,
			"expired", result.Expired,
		); err != nil {
			e.logger.Warn("failed to send reconcile alert", "err", err)
		}
	}

	return result, nil
}

// promote moves the row to OPEN and marks its entry order FILLED, closing
// the bookkeeping loop for the OPEN-implies-filled-entry invariant.
func (e *Engine) promote(ctx context.Context, row ledger.PositionRecord, confirmed broker.Position, now time.Time) error {
	fillQty := row.Quantity
	if confirmed.Quantity < fillQty {
		// Broker reports fewer shares than intended: its view wins.
		fillQty = confirmed.Quantity
	}

	if !confirmed.AvgPrice.GreaterThan(row.StopLoss) {
		// The fill gapped through the protective stop. The store keeps the
		// risk figures computed at submission so they stay positive; the
		// position itself needs eyes on it.
		e.logger.Warn("fill at or below recorded stop",
			"position_id", row.PositionID,
			"symbol", row.Symbol,
			"fill_price", confirmed.AvgPrice,
			"stop_loss", row.StopLoss,
		)
		if e.alerter != nil {
			if err := e.alerter.Alert(ctx, alerting.SeverityWarning, "Fill at or below recorded stop",
				"position_id", row.PositionID,
				"symbol", row.Symbol,
				"fill_price", confirmed.AvgPrice.String(),
				"stop_loss", row.StopLoss.String(),
			); err != nil {
				e.logger.Warn("failed to send below-stop alert", "err", err)
			}
		}
	}

	if err := e.store.PromotePosition(ctx, row.PositionID, confirmed.AvgPrice, fillQty, now); err != nil {
		return err
	}

	if err := e.store.ResolveOrder(ctx, row.EntryOrderID, types.OrderStatusFilled, now); err != nil {
		e.logger.Warn("promoted position but failed to resolve entry order",
			"position_id", row.PositionID,
			"entry_order_id", row.EntryOrderID,
			"err", err,
		)
	}

	e.recorder.RecordPositionResolved(row.Symbol)
	e.logger.Info("position promoted to OPEN",
		"position_id", row.PositionID,
		"symbol", row.Symbol,
		"fill_price", confirmed.AvgPrice,
		"fill_qty", fillQty,
	)

	return nil
}
