package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"fibgrid/internal/adapters/logger"
	"fibgrid/internal/levels"
	"fibgrid/internal/ports"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey     string
	SecretKey  string
	UseTestnet bool

	// Instrument and ladder
	Symbol      string
	Leverage    int     // 0 leaves the account leverage untouched
	PriceMin    float64 // Bottom of the operating range
	PriceMax    float64 // Top of the operating range
	MaxPosition int     // Contracts held at the bottom of the range
	LevelCount  int
	LevelMode   string // "step" (discrete ratios) or "zone" (legacy two-zone)

	// Strategy loop
	CheckInterval time.Duration

	// Two-zone grid overlay
	GridEnabled bool
	Capital     float64 // Cash ceiling for grid entries; 0 disables the check
	Zone        levels.ZoneConfig

	// Risk limits (0 disables each)
	MaxDailyLoss   float64
	MaxDailyTrades int

	// Database
	DBPath string

	// Telegram notifications
	TelegramBotToken string
	TelegramChatID   string
	TelegramEnabled  bool

	// Metrics listener address; empty disables the HTTP endpoint
	MetricsAddr string

	// Logging
	LogLevel logger.LogLevel
}

// Level mode selectors.
const (
	LevelModeStep = "step"
	LevelModeZone = "zone"
)

// LoadConfig loads configuration from environment variables (.env file).
// All validation failures are collected and reported in one error.
func LoadConfig() (*Config, error) {
	// Load .env when present; pure environment variables work too.
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.UseTestnet = getEnvAsBool("USE_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Instrument and ladder
	cfg.Symbol = getEnv("SYMBOL", "SOLUSDT")
	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}

	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage < 0 {
		errs = append(errs, "LEVERAGE cannot be negative")
	}

	cfg.PriceMin, err = getEnvAsFloatRequired("PRICE_MIN", 100)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PRICE_MIN: %v", err))
	} else if cfg.PriceMin <= 0 {
		errs = append(errs, "PRICE_MIN must be positive")
	}

	cfg.PriceMax, err = getEnvAsFloatRequired("PRICE_MAX", 160)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PRICE_MAX: %v", err))
	} else if cfg.PriceMax <= cfg.PriceMin {
		errs = append(errs, "PRICE_MAX must be greater than PRICE_MIN")
	}

	cfg.MaxPosition, err = getEnvAsIntRequired("MAX_POSITION", 40)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION: %v", err))
	} else if cfg.MaxPosition <= 0 {
		errs = append(errs, "MAX_POSITION must be positive")
	}

	cfg.LevelCount, err = getEnvAsIntRequired("LEVEL_COUNT", 15)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVEL_COUNT: %v", err))
	} else if cfg.LevelCount < levels.MinLevels || cfg.LevelCount > levels.MaxLevels {
		errs = append(errs, fmt.Sprintf("LEVEL_COUNT must be between %d and %d", levels.MinLevels, levels.MaxLevels))
	}

	cfg.LevelMode = strings.ToLower(getEnv("LEVEL_MODE", LevelModeStep))
	if cfg.LevelMode != LevelModeStep && cfg.LevelMode != LevelModeZone {
		errs = append(errs, fmt.Sprintf("LEVEL_MODE must be %q or %q", LevelModeStep, LevelModeZone))
	}

	// Strategy loop
	intervalSec, err := getEnvAsIntRequired("CHECK_INTERVAL_SEC", 30)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid CHECK_INTERVAL_SEC: %v", err))
	} else if intervalSec <= 0 {
		errs = append(errs, "CHECK_INTERVAL_SEC must be positive")
	}
	cfg.CheckInterval = time.Duration(intervalSec) * time.Second

	// Two-zone grid overlay
	cfg.GridEnabled = getEnvAsBool("GRID_ENABLED", false)

	cfg.Capital, err = getEnvAsFloatRequired("CAPITAL", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid CAPITAL: %v", err))
	} else if cfg.Capital < 0 {
		errs = append(errs, "CAPITAL cannot be negative")
	}

	// Zone profile: production defaults with the three commonly tuned
	// knobs overridable. NewZoneModel validates the combination.
	cfg.Zone = levels.DefaultZoneConfig()
	cfg.Zone.Boundary = getEnvAsFloat("ZONE_BOUNDARY", cfg.Zone.Boundary)
	cfg.Zone.DropNormal = getEnvAsFloat("ZONE_DROP_NORMAL", cfg.Zone.DropNormal)
	cfg.Zone.DropLarge = getEnvAsFloat("ZONE_DROP_LARGE", cfg.Zone.DropLarge)

	// Risk limits
	cfg.MaxDailyLoss, err = getEnvAsFloatRequired("MAX_DAILY_LOSS", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DAILY_LOSS: %v", err))
	} else if cfg.MaxDailyLoss < 0 {
		errs = append(errs, "MAX_DAILY_LOSS cannot be negative")
	}

	cfg.MaxDailyTrades, err = getEnvAsIntRequired("MAX_DAILY_TRADES", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DAILY_TRADES: %v", err))
	} else if cfg.MaxDailyTrades < 0 {
		errs = append(errs, "MAX_DAILY_TRADES cannot be negative")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/fibgrid.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Telegram
	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")
	cfg.TelegramEnabled = getEnvAsBool("TELEGRAM_ENABLED", false)
	if cfg.TelegramEnabled && (cfg.TelegramBotToken == "" || cfg.TelegramChatID == "") {
		errs = append(errs, "TELEGRAM_ENABLED requires TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID")
	}

	// Metrics
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s: %w", strings.Join(errs, "; "), ports.ErrConfigurationError)
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
