package validate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradewire/execd/internal/types"
)

func testConfig() Config {
	return Config{
		MinPositionValue: decimal.NewFromInt(500),
		MaxPositionPct:   decimal.RequireFromString("0.25"),
		MaxOpenPositions: 10,
		Location:         time.UTC,
		SessionStart:     "09:30",
		SessionEnd:       "16:00",
	}
}

func inSession() time.Time {
	return time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
}

func okSnapshot() Snapshot {
	return Snapshot{
		Price:             decimal.NewFromInt(100),
		Now:               inSession(),
		OpenPositions:     3,
		DeployableCapital: decimal.NewFromInt(100000),
	}
}

func TestValidIntentPasses(t *testing.T) {
	v := New(testConfig())

	violations := v.Validate(types.TradeIntent{
		Symbol:   "NVDA",
		Side:     types.SideBuy,
		Quantity: 10,
	}, okSnapshot())

	if len(violations) != 0 {
		t.Errorf("violations = %v, want none", violations)
	}
}

func TestAllViolationsCollected(t *testing.T) {
	v := New(testConfig())

	// Empty symbol, no side, no price, no quantity, outside session and a
	// duplicate, all at once. Every failed rule must be reported.
	violations := v.Validate(types.TradeIntent{}, Snapshot{
		Now:              time.Date(2026, 8, 21, 3, 0, 0, 0, time.UTC),
		AlreadyAttempted: true,
	})

	want := map[string]bool{
		"NO_SYMBOL":       false,
		"NO_SIDE":         false,
		"NO_PRICE":        false,
		"NO_QUANTITY":     false,
		"OUTSIDE_SESSION": false,
		"DUPLICATE":       false,
	}
	for _, viol := range violations {
		if _, ok := want[viol.Code]; ok {
			want[viol.Code] = true
		} else {
			t.Errorf("unexpected violation %s", viol.Code)
		}
	}
	for code, seen := range want {
		if !seen {
			t.Errorf("missing violation %s", code)
		}
	}
}

func TestPositionValueBounds(t *testing.T) {
	v := New(testConfig())
	snap := okSnapshot()

	// 4 shares at 100 = 400, below the 500 floor.
	violations := v.Validate(types.TradeIntent{
		Symbol: "NVDA", Side: types.SideBuy, Quantity: 4,
	}, snap)
	if !hasCode(violations, "BELOW_MIN_VALUE") {
		t.Errorf("violations = %v, want BELOW_MIN_VALUE", violations)
	}

	// 300 shares at 100 = 30000, above 25% of 100000.
	violations = v.Validate(types.TradeIntent{
		Symbol: "NVDA", Side: types.SideBuy, Quantity: 300,
	}, snap)
	if !hasCode(violations, "ABOVE_MAX_VALUE") {
		t.Errorf("violations = %v, want ABOVE_MAX_VALUE", violations)
	}
}

func TestMaxPositionsAppliesToBuysOnly(t *testing.T) {
	v := New(testConfig())
	snap := okSnapshot()
	snap.OpenPositions = 10

	violations := v.Validate(types.TradeIntent{
		Symbol: "NVDA", Side: types.SideBuy, Quantity: 10,
	}, snap)
	if !hasCode(violations, "MAX_POSITIONS") {
		t.Errorf("violations = %v, want MAX_POSITIONS for BUY at cap", violations)
	}

	// SELLs reduce exposure; the cap never blocks them.
	violations = v.Validate(types.TradeIntent{
		Symbol: "NVDA", Side: types.SideSell, Quantity: 10,
	}, snap)
	if hasCode(violations, "MAX_POSITIONS") {
		t.Errorf("violations = %v, SELL must not hit MAX_POSITIONS", violations)
	}
}

func TestSessionWindow(t *testing.T) {
	v := New(testConfig())
	intent := types.TradeIntent{Symbol: "NVDA", Side: types.SideBuy, Quantity: 10}

	tests := []struct {
		name string
		hour int
		min  int
		ok   bool
	}{
		{"before open", 9, 0, false},
		{"at open", 9, 30, true},
		{"midday", 12, 0, true},
		{"at close", 16, 0, true},
		{"after close", 16, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := okSnapshot()
			snap.Now = time.Date(2026, 8, 21, tt.hour, tt.min, 0, 0, time.UTC)

			violations := v.Validate(intent, snap)
			got := !hasCode(violations, "OUTSIDE_SESSION")
			if got != tt.ok {
				t.Errorf("within session = %v, want %v (violations %v)", got, tt.ok, violations)
			}
		})
	}
}

func TestEmptySessionMeansUnrestricted(t *testing.T) {
	cfg := testConfig()
	cfg.SessionStart = ""
	cfg.SessionEnd = ""
	v := New(cfg)

	snap := okSnapshot()
	snap.Now = time.Date(2026, 8, 21, 3, 0, 0, 0, time.UTC)

	violations := v.Validate(types.TradeIntent{
		Symbol: "NVDA", Side: types.SideBuy, Quantity: 10,
	}, snap)
	if hasCode(violations, "OUTSIDE_SESSION") {
		t.Errorf("violations = %v, unset window must not restrict", violations)
	}
}

func TestDuplicateViolation(t *testing.T) {
	v := New(testConfig())
	snap := okSnapshot()
	snap.AlreadyAttempted = true

	violations := v.Validate(types.TradeIntent{
		Symbol: "NVDA", Side: types.SideBuy, Quantity: 10,
	}, snap)
	if !hasCode(violations, "DUPLICATE") {
		t.Errorf("violations = %v, want DUPLICATE", violations)
	}
}

func TestQuantityFromAllocatedCapital(t *testing.T) {
	v := New(testConfig())

	// 2000 capital at price 100 resolves to 20 shares, value 2000: valid.
	violations := v.Validate(types.TradeIntent{
		Symbol:           "NVDA",
		Side:             types.SideBuy,
		AllocatedCapital: decimal.NewFromInt(2000),
	}, okSnapshot())
	if len(violations) != 0 {
		t.Errorf("violations = %v, want none", violations)
	}

	// 50 capital at price 100 floors to zero shares.
	violations = v.Validate(types.TradeIntent{
		Symbol:           "NVDA",
		Side:             types.SideBuy,
		AllocatedCapital: decimal.NewFromInt(50),
	}, okSnapshot())
	if !hasCode(violations, "NO_QUANTITY") {
		t.Errorf("violations = %v, want NO_QUANTITY", violations)
	}
}

func hasCode(violations []Violation, code string) bool {
	for _, v := range violations {
		if v.Code == code {
			return true
		}
	}
	return false
}
