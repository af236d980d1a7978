package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis wraps the shared Redis handle with the stream, hash, and pub/sub
// surface the trading pipeline uses.
type Redis struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// RedisConfig holds Redis client configuration
type RedisConfig struct {
	Addr     string
	DB       int
	Password string
	PoolSize int
}

// NewRedis creates the shared Redis client and verifies connectivity.
func NewRedis(config RedisConfig, logger *zap.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		DB:       config.DB,
		Password: config.Password,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis client connected",
		zap.String("addr", config.Addr),
		zap.Int("db", config.DB))

	return &Redis{rdb: rdb, logger: logger}, nil
}

// Client exposes the underlying handle for components that need scripts or
// dedicated pub/sub connections.
func (r *Redis) Client() *redis.Client {
	return r.rdb
}

// XAdd appends an entry to a stream.
func (r *Redis) XAdd(ctx context.Context, stream string, values map[string]interface{}) error {
	if err := r.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to add to stream %s: %w", stream, err)
	}
	return nil
}

// EnsureGroup creates a consumer group with MKSTREAM at the given start
// cursor. An already-existing group is not an error.
func (r *Redis) EnsureGroup(ctx context.Context, stream, group, start string) error {
	err := r.rdb.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("failed to create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// ReadGroup blocks up to block for new entries on the given streams as the
// named consumer. A nil result means the read timed out empty.
func (r *Redis) ReadGroup(ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration) ([]redis.XStream, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  append(append([]string{}, streams...), cursorsFor(len(streams))...),
		Count:    count,
		Block:    block,
	}

	result, err := r.rdb.XReadGroup(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from streams: %w", err)
	}
	return result, nil
}

// Ack acknowledges a processed message for the consumer group.
func (r *Redis) Ack(ctx context.Context, stream, group, id string) error {
	if err := r.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("failed to ack %s on %s: %w", id, stream, err)
	}
	return nil
}

// HSet writes one hash field.
func (r *Redis) HSet(ctx context.Context, key, field string, value interface{}) error {
	if err := r.rdb.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("failed to hset %s/%s: %w", key, field, err)
	}
	return nil
}

// HGetAll reads a full hash.
func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	vals, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to hgetall %s: %w", key, err)
	}
	return vals, nil
}

// Subscribe opens a dedicated pub/sub subscription on the given channel and
// returns the message channel. The caller owns the subscription lifetime.
func (r *Redis) Subscribe(ctx context.Context, channel string) (*redis.PubSub, <-chan *redis.Message, error) {
	pubsub := r.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	r.logger.Info("Subscribed to channel", zap.String("channel", channel))
	return pubsub, pubsub.Channel(), nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func cursorsFor(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = ">"
	}
	return out
}
