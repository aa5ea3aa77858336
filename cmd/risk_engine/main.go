package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"risk_engine/internal/bootstrap"
	"risk_engine/internal/cache"
	"risk_engine/internal/config"
	"risk_engine/internal/core"
	"risk_engine/internal/index"
	"risk_engine/internal/infrastructure/health"
	"risk_engine/internal/infrastructure/metrics"
	"risk_engine/internal/mock"
	"risk_engine/internal/order"
	"risk_engine/internal/risk"
	"risk_engine/internal/storage"
	"risk_engine/pkg/concurrency"
	"risk_engine/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/risk_engine.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("risk_engine version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	logger := app.Logger
	cfg := app.Cfg

	logger.Info("Starting risk_engine",
		"version", version,
		"interval", cfg.Engine.Interval(),
		"timeframe", cfg.Engine.Timeframe)

	var tel *telemetry.Telemetry
	if cfg.Telemetry.EnableMetrics {
		tel, err = telemetry.Setup(cfg.App.Name)
		if err != nil {
			logger.Warn("Failed to initialize telemetry", "error", err.Error())
		}
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		logger.Fatal("Failed to open position store", "error", err.Error())
	}
	defer store.Close()

	trailingStore, err := buildTrailingStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect trailing config store", "error", err.Error())
	}

	registry := index.NewRegistry(logger)

	// Cold-start recovery: re-index every persisted open position
	rebuildCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	positions, err := store.ListOpenPositions(rebuildCtx)
	if err != nil {
		cancel()
		logger.Fatal("Failed to list open positions", "error", err.Error())
	}
	err = registry.RebuildFromPositions(rebuildCtx, positions, func(ctx context.Context, positionID string) (*core.TrailingConfig, error) {
		return trailingStore.Get(ctx, positionID)
	})
	cancel()
	if err != nil {
		logger.Fatal("Failed to rebuild risk indices", "error", err.Error())
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "symbol_eval",
		MaxWorkers:  cfg.Engine.SymbolWorkers,
		MaxCapacity: cfg.Engine.SymbolQueueSize,
	}, logger)
	defer pool.Stop()

	market, gateway := buildCollaborators(logger)
	executor := order.NewExecutor(gateway, logger, order.Config{
		RateLimit:       cfg.Order.RateLimit,
		RateBurst:       cfg.Order.RateBurst,
		CallTimeout:     time.Duration(cfg.Order.CallTimeoutSeconds) * time.Second,
		BreakerFailures: cfg.Order.BreakerFailures,
		BreakerWindow:   cfg.Order.BreakerWindow,
		BreakerDelay:    time.Duration(cfg.Order.BreakerDelaySecs) * time.Second,
	})

	evaluator := risk.NewEvaluator(registry, market, executor, store, trailingStore,
		logger, cfg.Engine.Interval(), cfg.Engine.Timeframe, pool)

	healthMgr := health.NewManager(logger)
	healthMgr.Register("risk_evaluator", evaluator.CheckHealth)

	metricsSrv := metrics.NewServer(cfg.Telemetry.MetricsPort, logger, registry, healthMgr)
	metricsSrv.Start()

	runErr := app.Run(bootstrap.RunnerFunc(func(ctx context.Context) error {
		if err := evaluator.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return evaluator.Stop()
	}))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown failed", "error", err.Error())
	}
	if tel != nil {
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err.Error())
		}
	}

	if runErr != nil {
		os.Exit(1)
	}
}

// buildTrailingStore selects the trailing-config backend
func buildTrailingStore(cfg *config.Config, logger core.ILogger) (core.ITrailingConfigStore, error) {
	switch cfg.Cache.Backend {
	case "redis":
		logger.Info("Using redis trailing config store", "addr", cfg.Cache.RedisAddr)
		return cache.NewRedisTrailingStore(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword.Value(), cfg.Cache.RedisDB, cfg.Cache.TTL())
	default:
		logger.Info("Using in-memory trailing config store")
		return cache.NewMemoryTrailingStore(), nil
	}
}

// buildCollaborators wires the market-data feed and order gateway. The real
// implementations live with the ingestion and connectivity services; until
// they register here the engine runs against the in-process mocks, mirroring
// how the trading stack runs in paper mode.
func buildCollaborators(logger core.ILogger) (core.IMarketData, order.Gateway) {
	logger.Warn("No venue integration configured, running with mock collaborators")
	return mock.NewMarketData(), mock.NewGateway()
}
