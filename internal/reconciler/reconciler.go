package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cashbreak/internal/broker"
	"cashbreak/internal/events"
	"cashbreak/internal/metrics"
	"cashbreak/internal/model"
	"cashbreak/internal/store"
	"cashbreak/internal/supervisor"
)

// ReconcileStore is the trade persistence surface the reconciler needs.
type ReconcileStore interface {
	FindIDByEntryOrder(ctx context.Context, orderID string) (int64, bool, error)
	FindIDByExitOrder(ctx context.Context, orderID string) (int64, bool, error)
	WithLockedTrade(ctx context.Context, id int64, fn func(t *model.Trade) error) error
}

// CredentialSource yields the current active broker credentials.
type CredentialSource interface {
	Active(ctx context.Context) (model.Credentials, error)
}

// Reconciler owns the order-update socket and reconciles every broker
// update against the local trade rows. It runs under the supervisor: a
// token-update signal or a 403 maps to ErrRestart so the next spawn reads
// fresh credentials from the database.
type Reconciler struct {
	trades  ReconcileStore
	creds   CredentialSource
	redis   *store.Redis
	wsURL   string
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(trades ReconcileStore, creds CredentialSource, redis *store.Redis, wsURL string, m *metrics.Metrics, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		trades:  trades,
		creds:   creds,
		redis:   redis,
		wsURL:   wsURL,
		metrics: m,
		logger:  logger,
	}
}

// Run loads credentials, starts the token-update listener, and pumps the
// order socket until something forces a restart.
func (r *Reconciler) Run(ctx context.Context) error {
	creds, err := r.creds.Active(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoCredentials) {
			r.logger.Error("No active credentials, waiting")
			select {
			case <-time.After(10 * time.Second):
			case <-ctx.Done():
				return nil
			}
		}
		return err
	}

	token := creds.SocketToken()
	prefix := token
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}
	r.logger.Info("Order socket initializing", zap.String("token_prefix", prefix))

	sockCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	restartCh := make(chan struct{}, 1)
	if err := r.listenTokenUpdates(sockCtx, restartCh); err != nil {
		return err
	}

	socket := broker.NewOrderSocket(r.wsURL, token, r.onOrder, r.logger)

	r.metrics.SocketConnected.WithLabelValues("order").Set(1)
	defer r.metrics.SocketConnected.WithLabelValues("order").Set(0)

	sockErr := make(chan error, 1)
	go func() {
		sockErr <- socket.Run(sockCtx)
	}()

	select {
	case <-ctx.Done():
		return nil
	case <-restartCh:
		r.logger.Info("New token signal received, restarting worker")
		return supervisor.ErrRestart
	case err := <-sockErr:
		if errors.Is(err, broker.ErrTokenExpired) {
			r.logger.Error("Token expired on order socket, restarting")
			return supervisor.ErrRestart
		}
		if err != nil {
			r.metrics.Reconnects.WithLabelValues("order").Inc()
		}
		return err
	}
}

// listenTokenUpdates subscribes to the token-update channel on a dedicated
// connection. Any message, payload ignored, requests a restart.
func (r *Reconciler) listenTokenUpdates(ctx context.Context, restartCh chan<- struct{}) error {
	pubsub, msgs, err := r.redis.Subscribe(ctx, events.TokenUpdateChannel)
	if err != nil {
		return err
	}
	r.logger.Info("Listening for token updates")

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

func (r *Reconciler) onOrder(update events.OrderUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.HandleOrderUpdate(ctx, update); err != nil {
		r.logger.Error("Reconciliation failed",
			zap.String("order_id", update.ID), zap.Error(err))
	}
}

// HandleOrderUpdate reconciles one broker update against the trade rows.
// Updates may arrive out of order and more than once; every transition is
// guarded on the current status so replays are no-ops.
func (r *Reconciler) HandleOrderUpdate(ctx context.Context, u events.OrderUpdate) error {
	r.logger.Info("Order update",
		zap.String("id", u.ID), zap.Int("status", u.Status))
	r.metrics.OrderUpdates.WithLabelValues(statusLabel(u.Status)).Inc()

	if id, found, err := r.trades.FindIDByEntryOrder(ctx, u.ID); err != nil {
		return err
	} else if found {
		return r.trades.WithLockedTrade(ctx, id, func(t *model.Trade) error {
			return r.reconcileEntry(t, u)
		})
	}

	if id, found, err := r.trades.FindIDByExitOrder(ctx, u.ID); err != nil {
		return err
	} else if found {
		return r.trades.WithLockedTrade(ctx, id, func(t *model.Trade) error {
			return r.reconcileExit(t, u)
		})
	}

	// Not ours: manual orders on the same account pass through here.
	return nil
}

func (r *Reconciler) reconcileEntry(t *model.Trade, u events.OrderUpdate) error {
	switch u.Status {
	case events.OrderStatusTraded:
		if t.Status != model.StatusPendingEntry {
			return nil
		}
		t.Status = model.StatusOpen
		t.ActualEntryPrice = decimal.NewFromFloat(u.TradedPrice)
		r.logger.Info("ENTRY CONFIRMED",
			zap.String("symbol", t.Symbol), zap.Float64("price", u.TradedPrice))

	case events.OrderStatusCancelled, events.OrderStatusRejected:
		if t.Status != model.StatusPending && t.Status != model.StatusPendingEntry {
			return nil
		}
		t.Status = model.StatusFailed
		r.logger.Warn("Entry order failed", zap.String("symbol", t.Symbol))
	}
	return nil
}

func (r *Reconciler) reconcileExit(t *model.Trade, u events.OrderUpdate) error {
	switch u.Status {
	case events.OrderStatusTraded:
		if t.Status != model.StatusPendingExit {
			return nil
		}
		entry := t.EffectiveEntry()
		t.Status = model.StatusClosed
		t.ActualExitPrice = decimal.NewFromFloat(u.TradedPrice)
		// Short convention: profit when covered below entry.
		t.PnL = decimal.NewFromFloat((entry - u.TradedPrice) * float64(t.Quantity))
		r.logger.Info("EXIT CONFIRMED",
			zap.String("symbol", t.Symbol), zap.String("pnl", t.PnL.String()))

	case events.OrderStatusCancelled, events.OrderStatusRejected:
		if t.Status != model.StatusPendingExit {
			return nil
		}
		// Re-arm: the algo worker retries the exit on the next
		// qualifying tick.
		t.Status = model.StatusOpen
		t.ExitOrderID = ""
		t.ExitReason = model.ReasonOrderFailed
		r.logger.Warn("Exit order failed, reverted to OPEN", zap.String("symbol", t.Symbol))
	}
	return nil
}

func statusLabel(status int) string {
	switch status {
	case events.OrderStatusCancelled:
		return "cancelled"
	case events.OrderStatusTraded:
		return "traded"
	case events.OrderStatusTransit:
		return "transit"
	case events.OrderStatusRejected:
		return "rejected"
	case events.OrderStatusPending:
		return "pending"
	default:
		return "unknown"
	}
}
