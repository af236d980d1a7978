package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"cashbreak/internal/broker"
	"cashbreak/internal/config"
	"cashbreak/internal/metrics"
	"cashbreak/internal/store"
	"cashbreak/internal/strategy"
	"cashbreak/internal/supervisor"
)

func main() {
	fmt.Println("cashbreak algo worker - breakdown strategy")

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
		logger.Fatal("Initialization error", zap.Error(err))
	}
	logger.Info("Authenticated", zap.String("app_id", creds.AppID))

	settings, err := store.NewSettingsStore(pool).Get(ctx)
	if err != nil {
		logger.Fatal("Failed to load settings", zap.Error(err))
	}

	prevDay, err := store.NewPrevDayCache(rdb, logger).LoadAll(ctx)
	if err != nil {
		logger.Fatal("Failed to load previous day cache", zap.Error(err))
	}

	m := metrics.New()
	if cfg.Metrics.Enabled {
		m.Serve(cfg.Metrics.AlgoWorkerPort, logger)
	}

	client := broker.NewClient(cfg.Broker.RestURL, creds.AppID, creds.AccessToken,
		cfg.HTTPTimeoutDuration(), logger)

	// Unique consumer name so extra instances share the group and split
	// the message load.
	consumer := fmt.Sprintf("WORKER-%s", uuid.NewString()[:8])

	worker := strategy.NewWorker(
		rdb,
		store.NewTradeStore(pool),
		store.NewLimits(rdb),
		client,
		settings,
		prevDay,
		cfg.Worker.ConsumerGroup,
		consumer,
		int64(cfg.Worker.ReadCount),
		cfg.ReadBlockDuration(),
		m,
		logger.Named("algo_worker"),
	)

	sup := supervisor.NewSupervisor(logger)
	_ = sup.AddWorker(supervisor.WorkerConfig{
		Name:           "algo-worker",
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     60 * time.Second,
		BackoffFactor:  2.0,
	}, worker.Run)

	if err := sup.Start(); err != nil {
		logger.Fatal("Failed to start supervisor", zap.Error(err))
	}

	waitForShutdown(logger)
	_ = sup.Stop()
	logger.Info("Algo worker stopped")
}

func waitForShutdown(logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
}
