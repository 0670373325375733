package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tradewire/execd/internal/types"
)

func writeBatch(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadBatch(t *testing.T) {
	path := writeBatch(t, `
deployable_capital: 100000
quotes:
  NVDA: 512.40
  TSLA: 240.10
intents:
  - symbol: TSLA
    side: SELL
    quantity: 25
  - symbol: NVDA
    side: BUY
    allocated_capital: 15000
    rationale: momentum
`)

	batch, err := loadBatch(path)
	if err != nil {
		t.Fatalf("loadBatch() error = %v", err)
	}

	if !batch.DeployableCapital.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("deployable capital = %s, want 100000", batch.DeployableCapital)
	}
	if len(batch.Intents) != 2 {
		t.Fatalf("intents = %d, want 2", len(batch.Intents))
	}

	sell := batch.Intents[0]
	if sell.Side != types.SideSell || sell.Quantity != 25 {
		t.Errorf("first intent = %+v, want SELL 25 TSLA", sell)
	}

	buy := batch.Intents[1]
	if buy.Side != types.SideBuy || !buy.AllocatedCapital.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("second intent = %+v, want BUY with 15000 capital", buy)
	}
	if buy.Rationale != "momentum" {
		t.Errorf("rationale = %q", buy.Rationale)
	}

	quote, ok := batch.Quotes["NVDA"]
	if !ok {
		t.Fatal("NVDA quote missing")
	}
	if !quote.Price.Equal(decimal.RequireFromString("512.4")) {
		t.Errorf("NVDA price = %s, want 512.4", quote.Price)
	}
}

func TestLoadBatchRejectsUnknownSide(t *testing.T) {
	path := writeBatch(t, `
intents:
  - symbol: NVDA
    side: HOLD
    quantity: 10
`)

	if _, err := loadBatch(path); err == nil {
		t.Error("unknown side must fail to load")
	}
}

func TestLoadBatchMissingFile(t *testing.T) {
	if _, err := loadBatch("no-such-batch.yaml"); err == nil {
		t.Error("missing file must fail to load")
	}
}
