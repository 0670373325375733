// Package types defines shared types used across the execution engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a trade intent.
type Side int

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ParseSide parses a side string as delivered by the allocator.
func ParseSide(s string) Side {
	switch s {
	case "BUY", "buy":
		return SideBuy
	case "SELL", "sell":
		return SideSell
	default:
		return SideUnknown
	}
}

// MarshalYAML implements yaml.Marshaler.
func (s Side) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Side) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*s = ParseSide(raw)
	return nil
}

// OrderType represents the order type hint on an intent.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus represents the state of an order in the ledger.
// Transitions are forward-only: SUBMITTED is the only non-terminal state.
type OrderStatus int

const (
	OrderStatusSubmitted OrderStatus = iota
	OrderStatusFilled
	OrderStatusRejected
	OrderStatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsFinal returns true if the order has reached a terminal state.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// PositionStatus represents the lifecycle state of a position.
type PositionStatus int

const (
	PositionStatusPending PositionStatus = iota
	PositionStatusOpen
	PositionStatusClosed
	PositionStatusRejected
)

func (s PositionStatus) String() string {
	switch s {
	case PositionStatusPending:
		return "PENDING"
	case PositionStatusOpen:
		return "OPEN"
	case PositionStatusClosed:
		return "CLOSED"
	case PositionStatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// TradeIntent is a desired BUY/SELL action produced by the external
// allocator. Immutable once delivered for a given batch. Quantity wins when
// both Quantity and AllocatedCapital are set; a zero Quantity means "derive
// from AllocatedCapital at the current price".
type TradeIntent struct {
	Symbol           string          `json:"symbol" yaml:"symbol"`
	Side             Side            `json:"side" yaml:"side"`
	Quantity         int64           `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	AllocatedCapital decimal.Decimal `json:"allocated_capital,omitempty" yaml:"allocated_capital,omitempty"`
	LimitPrice       decimal.Decimal `json:"limit_price,omitempty" yaml:"limit_price,omitempty"` // zero = market
	Rationale        string          `json:"rationale,omitempty" yaml:"rationale,omitempty"`
}

// Quote is the current market snapshot for one symbol, supplied by the
// caller per execution cycle. The engine never fetches prices itself.
type Quote struct {
	Symbol string
	Price  decimal.Decimal
	AsOf   time.Time
}

// ResolveQuantity returns the share count for the intent at the given price:
// the explicit quantity if set, otherwise allocated capital divided by price,
// floored. Returns zero when neither resolves to a positive count.
func (t TradeIntent) ResolveQuantity(price decimal.Decimal) int64 {
	if t.Quantity > 0 {
		return t.Quantity
	}
	if t.AllocatedCapital.IsPositive() && price.IsPositive() {
		return t.AllocatedCapital.Div(price).IntPart()
	}
	return 0
}

// ExecutionReport is the synchronous output of one batch run: one outcome
// per intent, successes and failures alike.
type ExecutionReport struct {
	BatchID     string          `json:"batch_id"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Outcomes    []IntentOutcome `json:"outcomes"`
}

// IntentOutcome records what happened to a single intent within a batch.
type IntentOutcome struct {
	Intent     TradeIntent `json:"intent"`
	Phase      string      `json:"phase"` // SELL or BUY
	OrderID    string      `json:"order_id,omitempty"`
	PositionID string      `json:"position_id,omitempty"`
	Status     string      `json:"status,omitempty"`
	Violations []string    `json:"violations,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Submitted reports whether the intent reached the broker.
func (o IntentOutcome) Submitted() bool {
	return o.OrderID != "" && len(o.Violations) == 0 && o.Error == ""
}

// Summary counts outcomes by disposition.
func (r *ExecutionReport) Summary() (submitted, violated, failed int) {
	for _, o := range r.Outcomes {
		switch {
		case len(o.Violations) > 0:
			violated++
		case o.Error != "":
			failed++
		default:
			submitted++
		}
	}
	return submitted, violated, failed
}
