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
	"cashbreak/internal/metrics"
	"cashbreak/internal/reconciler"
	"cashbreak/internal/store"
	"cashbreak/internal/supervisor"
)

func main() {
	fmt.Println("cashbreak order socket - trade reconciler")

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

	m := metrics.New()
	if cfg.Metrics.Enabled {
		m.Serve(cfg.Metrics.OrderSockPort, logger)
	}

	rec := reconciler.New(
		store.NewTradeStore(pool),
		store.NewCredentialStore(pool),
		rdb,
		cfg.Broker.OrderWSURL,
		m,
		logger.Named("order_socket"),
	)

	// Restart semantics mirror the supervised-child design: a token reload
	// respawns immediately, a crash respawns after a 5 second backoff.
	sup := supervisor.NewSupervisor(logger)
	_ = sup.AddWorker(supervisor.WorkerConfig{
		Name:           "order-reconciler",
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}, rec.Run)

	if err := sup.Start(); err != nil {
		logger.Fatal("Failed to start supervisor", zap.Error(err))
	}

	waitForShutdown(logger)
	_ = sup.Stop()
	logger.Info("Order socket stopped")
}

func waitForShutdown(logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
}
