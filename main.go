package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"math/rand"
	"net/http"
	"time"

	"fibgrid/config"
	"fibgrid/internal/adapters/binanceclient"
	"fibgrid/internal/adapters/logger"
	"fibgrid/internal/adapters/sqlite"
	"fibgrid/internal/adapters/telegram"
	"fibgrid/internal/app"
	"fibgrid/internal/ledger"
	"fibgrid/internal/levels"
	"fibgrid/internal/metrics"
	"fibgrid/internal/risk"
)

func main() {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Ledger Store (Database Adapter)
	store, err := sqlite.NewStore(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize ledger store")
		log.Fatalf("FATAL: Failed to initialize ledger store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing ledger store")
		}
	}()
	appLogger.Info(ctx, "Ledger store initialized", map[string]interface{}{"path": cfg.DBPath})

	// 4. Initialize Position Ledger
	book, err := ledger.New(ledger.Config{
		Store:  store,
		Logger: appLogger,
		Symbol: cfg.Symbol,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize position ledger")
		log.Fatalf("FATAL: Failed to initialize position ledger: %v", err)
	}

	// 5. Build the Price Level Model
	model, err := buildModel(cfg)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to build price level model")
		log.Fatalf("FATAL: Failed to build price level model: %v", err)
	}
	appLogger.Info(ctx, "Price level model built", map[string]interface{}{
		"mode":      cfg.LevelMode,
		"levels":    len(model.Levels()),
		"price_min": cfg.PriceMin,
		"price_max": cfg.PriceMax,
	})

	// 6. Initialize Exchange Client (Binance Adapter)
	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.UseTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	if err := client.Ping(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Exchange is unreachable")
		log.Fatalf("FATAL: Exchange is unreachable: %v", err)
	}
	if err := client.SetServerTime(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to synchronize server time")
		log.Fatalf("FATAL: Failed to synchronize server time: %v", err)
	}
	appLogger.Info(ctx, "Binance client initialized", map[string]interface{}{"testnet": cfg.UseTestnet})

	// 7. Initialize Notifications
	notifier, err := telegram.New(telegram.Config{
		BotToken: cfg.TelegramBotToken,
		ChatID:   cfg.TelegramChatID,
		Enabled:  cfg.TelegramEnabled,
		Logger:   appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Telegram notifier")
		log.Fatalf("FATAL: Failed to initialize Telegram notifier: %v", err)
	}

	// 8. Start the Metrics Listener (optional)
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		go func() {
			appLogger.Info(ctx, "Metrics listener started", map[string]interface{}{"addr": cfg.MetricsAddr})
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				appLogger.Error(ctx, err, "Metrics listener stopped")
			}
		}()
	}

	// 9. Assemble and Run the Strategy Service
	svc, err := app.New(app.Config{
		Symbol:        cfg.Symbol,
		Leverage:      cfg.Leverage,
		CheckInterval: cfg.CheckInterval,
		GridEnabled:   cfg.GridEnabled,
		Capital:       cfg.Capital,
		Model:         model,
		Ledger:        book,
		Market:        client,
		Positions:     client,
		Gateway:       client,
		Notifier:      notifier,
		Risk: risk.NewManager(risk.Config{
			MaxPosition:    float64(cfg.MaxPosition),
			MaxDailyLoss:   cfg.MaxDailyLoss,
			MaxDailyTrades: cfg.MaxDailyTrades,
		}),
		Logger: appLogger,
		Rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize strategy service")
		log.Fatalf("FATAL: Failed to initialize strategy service: %v", err)
	}

	if err := svc.Run(ctx); err != nil {
		appLogger.Error(ctx, err, "Strategy service exited with error")
		log.Fatalf("FATAL: Strategy service exited with error: %v", err)
	}

	appLogger.Info(ctx, "Application finished gracefully")
}

// buildModel constructs the configured price level variant.
func buildModel(cfg *config.Config) (levels.Model, error) {
	lvlCfg := levels.Config{
		PriceMin:    cfg.PriceMin,
		PriceMax:    cfg.PriceMax,
		MaxPosition: cfg.MaxPosition,
		LevelCount:  cfg.LevelCount,
	}
	if cfg.LevelMode == config.LevelModeZone {
		return levels.NewZoneModel(lvlCfg, cfg.Zone)
	}
	return levels.NewStepModel(lvlCfg)
}
