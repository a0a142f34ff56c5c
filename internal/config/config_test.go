package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	return path
}

func TestLoad_OverridesDefaultsFromYAML(t *testing.T) {
	path := writeTempConfig(t, `
symbols: ["EURUSD"]
strategy_config:
  crt_entry_timeframe: M15
  min_rr: 3
  crt_high_timeframe: D1
`)
	cfg, err := Load([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD"}, cfg.Symbols)
	assert.Equal(t, "M15", cfg.StrategyConfig.CRTEntryTimeframe)
	assert.Equal(t, 3.0, cfg.StrategyConfig.MinRR)
	// untouched defaults survive the partial override
	assert.Equal(t, 5, cfg.RiskManagement.MaxTradesPerDay)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := writeTempConfig(t, `
symbols: ["EURUSD"]
not_a_real_field: true
`)
	_, err := Load([]string{"-config", path})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_MissingFileRejected(t *testing.T) {
	_, err := Load([]string{"-config", "/nonexistent/path/config.yaml"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate_RejectsEmptySymbols(t *testing.T) {
	cfg := Default()
	err := Validate(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate_RejectsBadTimeframe(t *testing.T) {
	cfg := Default()
	cfg.Symbols = []string{"EURUSD"}
	cfg.StrategyConfig.CRTEntryTimeframe = "M3"
	assert.ErrorIs(t, Validate(cfg), ErrInvalidConfig)
}

func TestValidate_RejectsMinRRBelowOne(t *testing.T) {
	cfg := Default()
	cfg.Symbols = []string{"EURUSD"}
	cfg.StrategyConfig.MinRR = 0.5
	assert.ErrorIs(t, Validate(cfg), ErrInvalidConfig)
}

func TestValidate_AcceptsDefaultWithSymbols(t *testing.T) {
	cfg := Default()
	cfg.Symbols = []string{"EURUSD", "GBPUSD"}
	assert.NoError(t, Validate(cfg))
}
