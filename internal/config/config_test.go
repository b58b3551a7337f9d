package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_AppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
engine_name: tradingcore-test
instance_id: inst-1
risk_limits:
  position_limits:
    AAPL: 1000
  max_drawdown_pct: 15
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.EngineName != "tradingcore-test" {
		t.Fatalf("engine name = %q, want tradingcore-test", cfg.EngineName)
	}
	if cfg.EventQueueSize != 100000 {
		t.Fatalf("event queue size = %d, want default 100000", cfg.EventQueueSize)
	}
	if cfg.Risk.PositionLimits["AAPL"] != 1000 {
		t.Fatalf("position limit for AAPL = %v, want 1000", cfg.Risk.PositionLimits["AAPL"])
	}
	if cfg.Risk.MaxDrawdownPct == nil || *cfg.Risk.MaxDrawdownPct != 15 {
		t.Fatalf("max drawdown pct = %v, want 15", cfg.Risk.MaxDrawdownPct)
	}
	if cfg.Risk.DrawdownWindowDays != 1 {
		t.Fatalf("drawdown window days = %d, want default 1", cfg.Risk.DrawdownWindowDays)
	}
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected an error loading a nonexistent config file")
	}
}
