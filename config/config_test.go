package config

import (
	"testing"
	"time"

	"fibgrid/internal/adapters/logger"
	"fibgrid/internal/levels"
	"fibgrid/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allKeys lists every variable LoadConfig reads, so tests can pin the whole
// environment regardless of what the host process carries.
var allKeys = []string{
	"BINANCE_API_KEY", "BINANCE_API_SECRET", "USE_TESTNET",
	"SYMBOL", "LEVERAGE", "PRICE_MIN", "PRICE_MAX", "MAX_POSITION",
	"LEVEL_COUNT", "LEVEL_MODE", "CHECK_INTERVAL_SEC",
	"GRID_ENABLED", "CAPITAL", "ZONE_BOUNDARY", "ZONE_DROP_NORMAL", "ZONE_DROP_LARGE",
	"MAX_DAILY_LOSS", "MAX_DAILY_TRADES", "DB_PATH",
	"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "TELEGRAM_ENABLED",
	"METRICS_ADDR", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
	}
}

func TestLoadConfigFull(t *testing.T) {
	clearEnv(t)
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")
	t.Setenv("USE_TESTNET", "false")
	t.Setenv("SYMBOL", "ETHUSDT")
	t.Setenv("LEVERAGE", "10")
	t.Setenv("PRICE_MIN", "90")
	t.Setenv("PRICE_MAX", "150")
	t.Setenv("MAX_POSITION", "30")
	t.Setenv("LEVEL_COUNT", "12")
	t.Setenv("LEVEL_MODE", "ZONE")
	t.Setenv("CHECK_INTERVAL_SEC", "10")
	t.Setenv("GRID_ENABLED", "true")
	t.Setenv("CAPITAL", "5000")
	t.Setenv("ZONE_BOUNDARY", "125")
	t.Setenv("ZONE_DROP_NORMAL", "1.5")
	t.Setenv("ZONE_DROP_LARGE", "4")
	t.Setenv("MAX_DAILY_LOSS", "200")
	t.Setenv("MAX_DAILY_TRADES", "12")
	t.Setenv("DB_PATH", "/tmp/fibgrid-test.db")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("TELEGRAM_ENABLED", "true")
	t.Setenv("METRICS_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "key", cfg.APIKey)
	assert.Equal(t, "secret", cfg.SecretKey)
	assert.False(t, cfg.UseTestnet)
	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, 10, cfg.Leverage)
	assert.Equal(t, 90.0, cfg.PriceMin)
	assert.Equal(t, 150.0, cfg.PriceMax)
	assert.Equal(t, 30, cfg.MaxPosition)
	assert.Equal(t, 12, cfg.LevelCount)
	assert.Equal(t, LevelModeZone, cfg.LevelMode)
	assert.Equal(t, 10*time.Second, cfg.CheckInterval)
	assert.True(t, cfg.GridEnabled)
	assert.Equal(t, 5000.0, cfg.Capital)
	assert.Equal(t, 125.0, cfg.Zone.Boundary)
	assert.Equal(t, 1.5, cfg.Zone.DropNormal)
	assert.Equal(t, 4.0, cfg.Zone.DropLarge)
	assert.Equal(t, 200.0, cfg.MaxDailyLoss)
	assert.Equal(t, 12, cfg.MaxDailyTrades)
	assert.Equal(t, "/tmp/fibgrid-test.db", cfg.DBPath)
	assert.Equal(t, "tok", cfg.TelegramBotToken)
	assert.Equal(t, "42", cfg.TelegramChatID)
	assert.True(t, cfg.TelegramEnabled)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.UseTestnet)
	assert.Equal(t, "SOLUSDT", cfg.Symbol)
	assert.Equal(t, 5, cfg.Leverage)
	assert.Equal(t, 100.0, cfg.PriceMin)
	assert.Equal(t, 160.0, cfg.PriceMax)
	assert.Equal(t, 40, cfg.MaxPosition)
	assert.Equal(t, 15, cfg.LevelCount)
	assert.Equal(t, LevelModeStep, cfg.LevelMode)
	assert.Equal(t, 30*time.Second, cfg.CheckInterval)
	assert.False(t, cfg.GridEnabled)
	assert.Equal(t, 0.0, cfg.Capital)
	assert.Equal(t, levels.DefaultZoneConfig(), cfg.Zone)
	assert.Equal(t, 0.0, cfg.MaxDailyLoss)
	assert.Equal(t, 0, cfg.MaxDailyTrades)
	assert.Equal(t, "./data/fibgrid.db", cfg.DBPath)
	assert.False(t, cfg.TelegramEnabled)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
}

func TestLoadConfigCollectsErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEVEL_MODE", "spline")
	t.Setenv("LEVEL_COUNT", "99")
	t.Setenv("CHECK_INTERVAL_SEC", "abc")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
	assert.Contains(t, err.Error(), "BINANCE_API_KEY")
	assert.Contains(t, err.Error(), "BINANCE_API_SECRET")
	assert.Contains(t, err.Error(), "LEVEL_MODE")
	assert.Contains(t, err.Error(), "LEVEL_COUNT")
	assert.Contains(t, err.Error(), "CHECK_INTERVAL_SEC")
}

func TestLoadConfigTelegramRequiresCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")
	t.Setenv("TELEGRAM_ENABLED", "true")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
	assert.Contains(t, err.Error(), "TELEGRAM_ENABLED requires")
}

func TestLoadConfigRangeOrdering(t *testing.T) {
	clearEnv(t)
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")
	t.Setenv("PRICE_MIN", "160")
	t.Setenv("PRICE_MAX", "100")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PRICE_MAX must be greater than PRICE_MIN")
}
