package engine

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cashbreak/internal/broker"
	"cashbreak/internal/config"
	"cashbreak/internal/events"
	"cashbreak/internal/metrics"
	"cashbreak/internal/model"
	"cashbreak/internal/store"
	"cashbreak/internal/supervisor"
)

// CredentialSource yields the current active broker credentials. Re-read
// on every (re)start so a token refresh takes effect.
type CredentialSource interface {
	Active(ctx context.Context) (model.Credentials, error)
}

// StreamPublisher appends entries to the shared streams.
type StreamPublisher interface {
	XAdd(ctx context.Context, stream string, values map[string]interface{}) error
}

// TokenListener opens a pub/sub subscription on a channel.
type TokenListener interface {
	Subscribe(ctx context.Context, channel string) (*redis.PubSub, <-chan *redis.Message, error)
}

// DataEngine owns the market data socket and fans every tick out to the
// tick stream while aggregating per-symbol one-minute candles onto the
// candle stream.
type DataEngine struct {
	creds    CredentialSource
	pub      StreamPublisher
	listener TokenListener
	cfg      *config.Config
	metrics  *metrics.Metrics
	logger   *zap.Logger

	agg *Aggregator
}

func NewDataEngine(creds CredentialSource, pub StreamPublisher, listener TokenListener, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *DataEngine {
	return &DataEngine{
		creds:    creds,
		pub:      pub,
		listener: listener,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		agg:      NewAggregator(),
	}
}

// Run connects and pumps the feed until the context ends or the socket
// fails. A dead token or a token-update signal maps to
// supervisor.ErrRestart so the supervisor respawns us against freshly
// loaded credentials; a missing credential record is a transient error the
// supervisor backs off on.
func (e *DataEngine) Run(ctx context.Context) error {
	creds, err := e.creds.Active(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoCredentials) {
			e.logger.Error("No active credentials, waiting")
			select {
			case <-time.After(10 * time.Second):
			case <-ctx.Done():
				return nil
			}
		}
		return err
	}
	e.logger.Info("Data engine token loaded", zap.String("app_id", creds.AppID))

	sockCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	restartCh := make(chan struct{}, 1)
	if err := e.listenTokenUpdates(sockCtx, restartCh); err != nil {
		return err
	}

	socket := broker.NewDataSocket(
		e.cfg.Broker.DataWSURL,
		creds.SocketToken(),
		e.cfg.Universe.Symbols,
		e.cfg.Universe.BatchSize,
		e.cfg.BatchDelayDuration(),
		e.handleTick,
		e.logger,
	)

	e.metrics.SocketConnected.WithLabelValues("data").Set(1)
	defer e.metrics.SocketConnected.WithLabelValues("data").Set(0)

	sockErr := make(chan error, 1)
	go func() {
		sockErr <- socket.Run(sockCtx)
	}()

	select {
	case <-ctx.Done():
		return nil
	case <-restartCh:
		e.logger.Info("New token signal received, restarting data engine")
		return supervisor.ErrRestart
	case err := <-sockErr:
		if errors.Is(err, broker.ErrTokenExpired) {
			e.logger.Error("Token 403 on data socket, restarting for fresh credentials")
			return supervisor.ErrRestart
		}
		if err != nil {
			e.metrics.Reconnects.WithLabelValues("data").Inc()
		}
		return err
	}
}

// listenTokenUpdates subscribes to the token-update channel. Any message,
// payload ignored, requests a restart so the new token is read from
// persistence.
func (e *DataEngine) listenTokenUpdates(ctx context.Context, restartCh chan<- struct{}) error {
	if e.listener == nil {
		return nil
	}
	pubsub, msgs, err := e.listener.Subscribe(ctx, events.TokenUpdateChannel)
	if err != nil {
		return err
	}
	e.logger.Info("Listening for token updates")

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case restartCh <- struct{}{}:
				default:
				}
			}
		}
	}()
	return nil
}

// handleTick runs serially inside the socket read loop. Publish failures
// are logged and swallowed; the feed must never be torn down by a slow or
// absent Redis.
func (e *DataEngine) handleTick(update broker.TickUpdate) {
	now := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tick := events.Tick{
		Symbol: update.Symbol,
		LTP:    update.LTP,
		TS:     float64(now.UnixNano()) / 1e9,
	}
	if err := e.pub.XAdd(ctx, events.StreamTicks, tick.Values()); err != nil {
		e.logger.Error("Failed to publish tick", zap.String("symbol", update.Symbol), zap.Error(err))
	}
	e.metrics.TicksProcessed.WithLabelValues(update.Symbol).Inc()

	closed := e.agg.Process(update.Symbol, update.LTP, update.VolTradedToday, now)
	if closed == nil {
		return
	}

	values, err := closed.Values()
	if err != nil {
		e.logger.Error("Failed to serialize candle", zap.String("symbol", closed.Symbol), zap.Error(err))
		return
	}
	if err := e.pub.XAdd(ctx, events.StreamCandles, values); err != nil {
		e.logger.Error("Failed to publish candle", zap.String("symbol", closed.Symbol), zap.Error(err))
		return
	}
	e.metrics.CandlesEmitted.WithLabelValues(closed.Symbol).Inc()
	e.logger.Debug("Candle closed",
		zap.String("symbol", closed.Symbol),
		zap.Float64("close", closed.Close),
		zap.Float64("volume", closed.Volume))
}
