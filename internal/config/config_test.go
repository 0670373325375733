package config

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/tradewire/execd/internal/types"
)

const validYAML = `
broker:
  type: sim
ledger:
  path: test.db
constraints:
  min_position_value: 500
  max_position_pct: 0.25
  max_open_positions: 10
  session_start: "09:30"
  session_end: "16:00"
risk:
  stop_loss_pct: 0.08
  take_profit_pct: 0.16
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}

	if cfg.Broker.Type != "sim" {
		t.Errorf("broker type = %q, want sim", cfg.Broker.Type)
	}
	if cfg.Constraints.MaxOpenPositions != 10 {
		t.Errorf("max open positions = %d, want 10", cfg.Constraints.MaxOpenPositions)
	}
}

func TestDefaultsApplied(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}

	if cfg.BusyWait() != 30*time.Second {
		t.Errorf("busy wait = %v, want 30s", cfg.BusyWait())
	}
	if cfg.Execution.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", cfg.Execution.MaxRetries)
	}
	if cfg.BackoffInitial() != time.Second {
		t.Errorf("backoff = %v, want 1s", cfg.BackoffInitial())
	}
	if cfg.FillPollInterval() != 2*time.Second {
		t.Errorf("fill poll = %v, want 2s", cfg.FillPollInterval())
	}
	if cfg.FillWaitTimeout() != 60*time.Second {
		t.Errorf("fill wait = %v, want 60s", cfg.FillWaitTimeout())
	}
	if cfg.GracePeriod() != 24*time.Hour {
		t.Errorf("grace period = %v, want 24h", cfg.GracePeriod())
	}
	if cfg.Constraints.Timezone != "America/New_York" {
		t.Errorf("timezone = %q, want America/New_York", cfg.Constraints.Timezone)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	bad := `
broker:
  type: carrier-pigeon
constraints:
  max_position_pct: 2.0
  max_open_positions: 0
  session_start: "nine-thirty"
risk:
  stop_loss_pct: 0
  take_profit_pct: -1
`
	_, err := LoadFromBytes([]byte(bad))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}

	// Every broken field must be reported, not just the first.
	for _, want := range []string{
		"broker.type",
		"ledger.path",
		"constraints.max_position_pct",
		"constraints.max_open_positions",
		"constraints.session_start",
		"risk.stop_loss_pct",
		"risk.take_profit_pct",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("TEST_LEDGER_PATH", "/tmp/expanded.db")

	yaml := strings.Replace(validYAML, "path: test.db", "path: ${TEST_LEDGER_PATH}", 1)
	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}

	if cfg.Ledger.Path != "/tmp/expanded.db" {
		t.Errorf("ledger path = %q, want expanded env value", cfg.Ledger.Path)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("does-not-exist.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want file-not-exist", err)
	}
}
