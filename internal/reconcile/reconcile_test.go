package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradewire/execd/internal/alerting"
	"github.com/tradewire/execd/internal/broker/sim"
	"github.com/tradewire/execd/internal/ledger"
	"github.com/tradewire/execd/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, *ledger.SQLiteStore, *sim.Broker, *alerting.MockAlerter) {
	t.Helper()

	store, err := ledger.NewSQLiteStore(filepath.Join(t.TempDir(), "reconcile.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	brk := sim.New(sim.Config{}, nil)
	alerter := alerting.NewMockAlerter()
	return New(store, brk, alerter, nil), store, brk, alerter
}

func seedPending(t *testing.T, store *ledger.SQLiteStore, positionID, symbol string, age time.Duration) {
	t.Helper()
	ctx := context.Background()

	submittedAt := time.Now().UTC().Add(-age)

	order := ledger.OrderRecord{
		OrderID:       "order-" + positionID,
		ClientOrderID: "EXC-" + positionID,
		Symbol:        symbol,
		Side:          types.SideBuy,
		Quantity:      10,
		OrderType:     types.OrderTypeMarket,
		Status:        types.OrderStatusSubmitted,
		SubmittedAt:   submittedAt,
	}
	if err := store.InsertOrder(ctx, order); err != nil {
		t.Fatalf("InsertOrder() error = %v", err)
	}

	entry := decimal.NewFromInt(100)
	stop := decimal.NewFromInt(92)
	if err := store.InsertPosition(ctx, ledger.PositionRecord{
		PositionID:   positionID,
		Symbol:       symbol,
		Status:       types.PositionStatusPending,
		EntryPrice:   entry,
		Quantity:     10,
		StopLoss:     stop,
		TakeProfit:   decimal.NewFromInt(116),
		RiskPerShare: entry.Sub(stop),
		TotalRisk:    entry.Sub(stop).Mul(decimal.NewFromInt(10)),
		EntryOrderID: order.OrderID,
		SubmittedAt:  submittedAt,
	}); err != nil {
		t.Fatalf("InsertPosition() error = %v", err)
	}
}

func TestPromoteConfirmedPosition(t *testing.T) {
	engine, store, brk, _ := newTestEngine(t)
	ctx := context.Background()

	seedPending(t, store, "pos-1", "NVDA", time.Hour)
	// Broker confirms the fill at a slightly worse price and partial size.
	brk.SetPosition("NVDA", 8, decimal.RequireFromString("101.25"))

	result, err := engine.Reconcile(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Promoted != 1 || result.Expired != 0 {
		t.Errorf("result = %+v, want 1 promoted", result)
	}

	pos, err := store.GetPosition(ctx, "pos-1")
	if err != nil {
		t.Fatalf("GetPosition() error = %v", err)
	}
	if pos.Status != types.PositionStatusOpen {
		t.Errorf("status = %v, want OPEN", pos.Status)
	}
	// Broker values win over the intended ones.
	if !pos.EntryPrice.Equal(decimal.RequireFromString("101.25")) {
		t.Errorf("entry price = %s, want broker-reported 101.25", pos.EntryPrice)
	}
	if pos.Quantity != 8 {
		t.Errorf("quantity = %d, want broker-reported 8", pos.Quantity)
	}

	// The entry order is resolved FILLED so OPEN always implies a filled entry.
	order, err := store.GetOrder(ctx, "order-pos-1")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if order.Status != types.OrderStatusFilled {
		t.Errorf("entry order status = %v, want FILLED", order.Status)
	}
}

func TestPromoteFillBelowStopKeepsRiskPositive(t *testing.T) {
	engine, store, brk, alerter := newTestEngine(t)
	ctx := context.Background()

	// Stop recorded at 92, but the broker reports the fill gapped down to 90.
	seedPending(t, store, "pos-gap", "NVDA", time.Hour)
	brk.SetPosition("NVDA", 10, decimal.NewFromInt(90))

	result, err := engine.Reconcile(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Promoted != 1 {
		t.Fatalf("result = %+v, want 1 promoted", result)
	}

	pos, err := store.GetPosition(ctx, "pos-gap")
	if err != nil {
		t.Fatalf("GetPosition() error = %v", err)
	}
	if pos.Status != types.PositionStatusOpen {
		t.Errorf("status = %v, want OPEN", pos.Status)
	}
	if !pos.EntryPrice.Equal(decimal.NewFromInt(90)) {
		t.Errorf("entry price = %s, want broker-reported 90", pos.EntryPrice)
	}
	// Recomputing risk from a fill below the stop would go negative; the
	// submission-time figures are kept instead.
	if !pos.RiskPerShare.IsPositive() {
		t.Errorf("risk per share = %s, must stay positive", pos.RiskPerShare)
	}
	if !pos.RiskPerShare.Equal(decimal.NewFromInt(8)) {
		t.Errorf("risk per share = %s, want submission-time 8", pos.RiskPerShare)
	}
	if !pos.TotalRisk.Equal(decimal.NewFromInt(80)) {
		t.Errorf("total risk = %s, want 80", pos.TotalRisk)
	}

	if !alerter.HasAlertWithSeverity(alerting.SeverityWarning) {
		t.Error("expected a WARNING alert for the below-stop fill")
	}
	if !alerter.HasAlertContaining("below recorded stop") {
		t.Error("expected the alert to name the below-stop condition")
	}
}

func TestExpireStalePosition(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedPending(t, store, "pos-stale", "NVDA", 25*time.Hour)

	result, err := engine.Reconcile(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Expired != 1 || result.Promoted != 0 {
		t.Errorf("result = %+v, want 1 expired", result)
	}

	pos, _ := store.GetPosition(ctx, "pos-stale")
	if pos.Status != types.PositionStatusRejected {
		t.Errorf("status = %v, want REJECTED", pos.Status)
	}
	if pos.Note != "stale - no confirming fill" {
		t.Errorf("note = %q", pos.Note)
	}
}

func TestFreshUnconfirmedStaysPending(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedPending(t, store, "pos-fresh", "NVDA", time.Hour)

	result, err := engine.Reconcile(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Promoted != 0 || result.Expired != 0 {
		t.Errorf("result = %+v, want no changes", result)
	}

	pos, _ := store.GetPosition(ctx, "pos-fresh")
	if pos.Status != types.PositionStatusPending {
		t.Errorf("status = %v, want PENDING within the grace period", pos.Status)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	engine, store, brk, _ := newTestEngine(t)
	ctx := context.Background()

	seedPending(t, store, "pos-1", "NVDA", time.Hour)
	brk.SetPosition("NVDA", 10, decimal.NewFromInt(101))

	first, err := engine.Reconcile(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if first.Promoted != 1 {
		t.Fatalf("first pass promoted = %d, want 1", first.Promoted)
	}

	// Second pass with unchanged broker state changes nothing.
	second, err := engine.Reconcile(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Reconcile() second pass error = %v", err)
	}
	if second.Promoted != 0 || second.Expired != 0 {
		t.Errorf("second pass = %+v, want no-op", second)
	}

	pos, _ := store.GetPosition(ctx, "pos-1")
	if !pos.EntryPrice.Equal(decimal.NewFromInt(101)) {
		t.Errorf("entry price = %s, second pass must not rewrite it", pos.EntryPrice)
	}
}

func TestMixedBatch(t *testing.T) {
	engine, store, brk, _ := newTestEngine(t)
	ctx := context.Background()

	seedPending(t, store, "pos-confirmed", "NVDA", time.Hour)
	seedPending(t, store, "pos-stale", "TSLA", 48*time.Hour)
	seedPending(t, store, "pos-waiting", "AMD", time.Hour)

	brk.SetPosition("NVDA", 10, decimal.NewFromInt(100))

	result, err := engine.Reconcile(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Promoted != 1 || result.Expired != 1 {
		t.Errorf("result = %+v, want 1 promoted and 1 expired", result)
	}

	waiting, _ := store.GetPosition(ctx, "pos-waiting")
	if waiting.Status != types.PositionStatusPending {
		t.Errorf("unconfirmed fresh row status = %v, want PENDING", waiting.Status)
	}
}
