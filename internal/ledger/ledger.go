// Package ledger provides the durable record of order attempts, fills,
// rejections and position lifecycle rows. It is the only component that
// touches the backing storage; everything else reads and writes through the
// Store interface.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradewire/execd/internal/types"
)

// Store defines the interface for ledger persistence.
type Store interface {
	// Order operations. OrderRecord rows are append-only: status and
	// resolution timestamp may move forward, rows are never deleted.
	InsertOrder(ctx context.Context, order OrderRecord) error
	GetOrder(ctx context.Context, orderID string) (*OrderRecord, error)
	GetOrderByClientID(ctx context.Context, clientOrderID string) (*OrderRecord, error)
	GetOrdersByStatus(ctx context.Context, status types.OrderStatus) ([]OrderRecord, error)
	ResolveOrder(ctx context.Context, orderID string, status types.OrderStatus, resolvedAt time.Time) error

	// Position operations.
	InsertPosition(ctx context.Context, position PositionRecord) error
	GetPosition(ctx context.Context, positionID string) (*PositionRecord, error)
	GetPositionsByStatus(ctx context.Context, status types.PositionStatus) ([]PositionRecord, error)
	PromotePosition(ctx context.Context, positionID string, fillPrice decimal.Decimal, fillQty int64, openedAt time.Time) error
	RejectPosition(ctx context.Context, positionID string, note string) error
	ClosePosition(ctx context.Context, positionID string, closedAt time.Time) error
	CountOpenPositions(ctx context.Context) (int, error)

	// Duplicate-guard operations. RecordGuardEntry fails on the unique
	// (symbol, side, trading_day) constraint, which is the atomicity point.
	HasGuardEntry(ctx context.Context, symbol string, side types.Side, tradingDay string) (bool, error)
	RecordGuardEntry(ctx context.Context, symbol string, side types.Side, tradingDay string) error
	PruneGuardEntries(ctx context.Context, before string) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// OrderRecord is one order attempt as recorded by the gateway.
type OrderRecord struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          types.Side
	Quantity      int64
	OrderType     types.OrderType
	Status        types.OrderStatus
	BrokerOrderID string
	SubmittedAt   time.Time
	ResolvedAt    *time.Time
}

// PositionRecord is one position lifecycle row. Invariants: RiskPerShare =
// EntryPrice - StopLoss > 0 for long entries, TotalRisk = RiskPerShare *
// Quantity, and an OPEN row always references a FILLED entry order.
type PositionRecord struct {
	PositionID   string
	Symbol       string
	Status       types.PositionStatus
	EntryPrice   decimal.Decimal
	Quantity     int64
	StopLoss     decimal.Decimal
	TakeProfit   decimal.Decimal
	RiskPerShare decimal.Decimal
	TotalRisk    decimal.Decimal
	EntryOrderID string
	SubmittedAt  time.Time
	OpenedAt     *time.Time
	ClosedAt     *time.Time
	Note         string
}

// Age returns how long the row has been waiting since submission.
func (p PositionRecord) Age(now time.Time) time.Duration {
	return now.Sub(p.SubmittedAt)
}
