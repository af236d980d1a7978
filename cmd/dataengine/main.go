package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"cashbreak/internal/config"
	"cashbreak/internal/engine"
	"cashbreak/internal/metrics"
	"cashbreak/internal/store"
	"cashbreak/internal/supervisor"
)

func main() {
	fmt.Println("cashbreak data engine - tick feed -> streams")

	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	rdb, err := store.NewRedis(store.RedisConfig{
		Addr:     cfg.GetRedisAddress(),
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer rdb.Close()

	ctx := context.Background()
	pool, err := store.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := store.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("Failed to ensure schema", zap.Error(err))
	}

	m := metrics.New()
	if cfg.Metrics.Enabled {
		m.Serve(cfg.Metrics.DataEnginePort, logger)
	}

	creds := store.NewCredentialStore(pool)
	dataEngine := engine.NewDataEngine(creds, rdb, rdb, cfg, m, logger.Named("data_engine"))

	sup := supervisor.NewSupervisor(logger)
	_ = sup.AddWorker(supervisor.WorkerConfig{
		Name:           "data-engine",
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     60 * time.Second,
		BackoffFactor:  2.0,
	}, dataEngine.Run)

	if err := sup.Start(); err != nil {
		logger.Fatal("Failed to start supervisor", zap.Error(err))
	}

	waitForShutdown(logger)
	_ = sup.Stop()
	logger.Info("Data engine stopped")
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "configs/config.yaml"
	}
	return config.NewConfigLoader().LoadConfig(path)
}

func waitForShutdown(logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
}
