package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"cashbreak/internal/broker"
	"cashbreak/internal/config"
	"cashbreak/internal/engine"
	"cashbreak/internal/store"
)

// One-shot pre-open job: caches the previous day OHLC per symbol so the
// workers can read it at startup.
func main() {
	fmt.Println("cashbreak reference loader - previous day OHLC")

	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "configs/config.yaml"
	}
	cfg, err := config.NewConfigLoader().LoadConfig(path)
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

	creds, err := store.NewCredentialStore(pool).Active(ctx)
	if err != nil {
		logger.Fatal("Auth failed", zap.Error(err))
	}

	client := broker.NewClient(cfg.Broker.RestURL, creds.AppID, creds.AccessToken,
		cfg.HTTPTimeoutDuration(), logger)
	cache := store.NewPrevDayCache(rdb, logger)

	loader := engine.NewRefLoader(client, cache, cfg.Universe.Symbols, logger.Named("ref_loader"))
	if err := loader.Run(ctx); err != nil {
		logger.Fatal("Reference load failed", zap.Error(err))
	}
}
