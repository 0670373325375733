package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestResolveQuantity(t *testing.T) {
	price := decimal.NewFromInt(50)

	tests := []struct {
		name   string
		intent TradeIntent
		price  decimal.Decimal
		want   int64
	}{
		{
			name:   "explicit quantity wins over capital",
			intent: TradeIntent{Quantity: 10, AllocatedCapital: decimal.NewFromInt(10000)},
			price:  price,
			want:   10,
		},
		{
			name:   "capital divided by price, floored",
			intent: TradeIntent{AllocatedCapital: decimal.NewFromInt(1025)},
			price:  price,
			want:   20,
		},
		{
			name:   "no quantity and no capital",
			intent: TradeIntent{},
			price:  price,
			want:   0,
		},
		{
			name:   "capital but no price",
			intent: TradeIntent{AllocatedCapital: decimal.NewFromInt(1000)},
			price:  decimal.Zero,
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.intent.ResolveQuantity(tt.price)
			if got != tt.want {
				t.Errorf("ResolveQuantity() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		in   string
		want Side
	}{
		{"BUY", SideBuy},
		{"buy", SideBuy},
		{"SELL", SideSell},
		{"sell", SideSell},
		{"HOLD", SideUnknown},
		{"", SideUnknown},
	}

	for _, tt := range tests {
		if got := ParseSide(tt.in); got != tt.want {
			t.Errorf("ParseSide(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOrderStatusIsFinal(t *testing.T) {
	if OrderStatusSubmitted.IsFinal() {
		t.Error("SUBMITTED must not be terminal")
	}
	for _, s := range []OrderStatus{OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled} {
		if !s.IsFinal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestReportSummary(t *testing.T) {
	report := &ExecutionReport{
		Outcomes: []IntentOutcome{
			{OrderID: "o1", Status: "FILLED"},
			{Violations: []string{"NO_PRICE: no valid current price"}},
			{Error: "broker rejected"},
			{OrderID: "o2", Status: "SUBMITTED"},
		},
	}

	submitted, violated, failed := report.Summary()
	if submitted != 2 || violated != 1 || failed != 1 {
		t.Errorf("Summary() = (%d, %d, %d), want (2, 1, 1)", submitted, violated, failed)
	}
}

func TestOutcomeSubmitted(t *testing.T) {
	if !(IntentOutcome{OrderID: "o1"}).Submitted() {
		t.Error("outcome with order ID and no failures must count as submitted")
	}
	if (IntentOutcome{OrderID: "o1", Error: "boom"}).Submitted() {
		t.Error("outcome with an error must not count as submitted")
	}
	if (IntentOutcome{Violations: []string{"DUPLICATE"}}).Submitted() {
		t.Error("violated outcome must not count as submitted")
	}
}
