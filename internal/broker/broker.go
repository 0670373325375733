// Package broker defines the contract with the external execution venue.
// All calls are synchronous request/response; the engine does not depend on
// broker-side webhooks or streaming.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradewire/execd/internal/types"
)

// Transient broker errors. The gateway retries these with backoff.
var (
	ErrTimeout     = errors.New("broker request timed out")
	ErrRateLimited = errors.New("rate limited by broker")
	ErrUnavailable = errors.New("broker temporarily unavailable")
)

// Terminal broker rejections. Never retried; escalated upstream.
var (
	ErrInvalidSymbol     = errors.New("broker rejected: invalid symbol")
	ErrInsufficientFunds = errors.New("broker rejected: insufficient buying power")
	ErrDuplicateClientID = errors.New("broker rejected: duplicate client order id")
)

// ErrUnknownOrder reports a status or cancel request for an order ID the
// broker has no record of.
var ErrUnknownOrder = errors.New("broker has no record of order")

// IsTransient reports whether the gateway may retry the error.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUnavailable)
}

// BracketError reports a bracket-leg failure after the broker already
// accepted the entry. The gateway must cancel EntryBrokerID so no filled
// position can exist without protective orders in flight.
type BracketError struct {
	EntryBrokerID string
	Err           error
}

func (e *BracketError) Error() string {
	return fmt.Sprintf("bracket legs failed for accepted entry %s: %v", e.EntryBrokerID, e.Err)
}

func (e *BracketError) Unwrap() error { return e.Err }

// BracketLegs are the protective exit orders attached to a BUY entry,
// submitted atomically with it.
type BracketLegs struct {
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// OrderRequest is one order submission.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          types.Side
	Quantity      int64
	OrderType     types.OrderType
	LimitPrice    decimal.Decimal
	Bracket       *BracketLegs // nil for plain orders
}

// SubmitResult is the broker's acknowledgement of a submission.
type SubmitResult struct {
	BrokerOrderID string
	ClientOrderID string
	Status        types.OrderStatus
	SubmittedAt   time.Time
}

// OrderState is one order as reported by the broker's status query.
type OrderState struct {
	BrokerOrderID string
	ClientOrderID string
	Symbol        string
	Side          types.Side
	Quantity      int64
	Status        types.OrderStatus
	FilledQty     int64
	AvgFillPrice  decimal.Decimal
	UpdatedAt     time.Time
}

// Position is one open position as reported by the broker. The broker's
// view is authoritative over the local ledger during reconciliation.
type Position struct {
	Symbol   string
	Quantity int64
	AvgPrice decimal.Decimal
}

// Broker is the venue-facing contract consumed by the gateway and the
// reconciliation engine.
type Broker interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (*SubmitResult, error)
	GetOrderStatus(ctx context.Context, brokerOrderID string) (*OrderState, error)
	GetPositions(ctx context.Context) ([]Position, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
}
