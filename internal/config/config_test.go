package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearTradingEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"TRADING_MODE", "TRADING_ENABLED", "BROKER_API_KEY", "BROKER_API_SECRET",
		"MAX_LEVERAGE", "MAX_POSITIONS", "STATE_DIR",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearTradingEnv(t)
	t.Setenv("STATE_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModePaper, cfg.TradingMode)
	assert.False(t, cfg.TradingEnabled)
	assert.Equal(t, 10, cfg.Risk.MaxLeverage)
	assert.Equal(t, 5, cfg.Risk.MaxPositions)
	assert.Equal(t, "0.3", cfg.Risk.MaxConcentration.String())
}

func TestLoad_InvalidTradingMode(t *testing.T) {
	clearTradingEnv(t)
	t.Setenv("STATE_DIR", t.TempDir())
	t.Setenv("TRADING_MODE", "BOGUS")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_MainnetRequiresCredentials(t *testing.T) {
	clearTradingEnv(t)
	t.Setenv("STATE_DIR", t.TempDir())
	t.Setenv("TRADING_MODE", "MAINNET")
	t.Setenv("TRADING_ENABLED", "true")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_BadDecimal(t *testing.T) {
	clearTradingEnv(t)
	t.Setenv("STATE_DIR", t.TempDir())
	t.Setenv("MAX_POSITION_SIZE_USDT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}
