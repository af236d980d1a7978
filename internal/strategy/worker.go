package strategy

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
)

// TradeStore is the persistence surface the worker mutates trades through.
type TradeStore interface {
	Create(ctx context.Context, t *model.Trade) error
	IDsBySymbolStatus(ctx context.Context, symbol string, status model.TradeStatus) ([]int64, error)
	CountForSymbolToday(ctx context.Context, symbol string, now time.Time) (int, error)
	WithLockedTrade(ctx context.Context, id int64, fn func(t *model.Trade) error) error
}

// LimitCounter enforces the authoritative daily trade caps.
type LimitCounter interface {
	Reserve(ctx context.Context, date, symbol string, globalLimit, symbolLimit int) (store.LimitResult, error)
	Rollback(ctx context.Context, date, symbol string) error
}

// OrderPlacer submits orders to the broker.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req broker.OrderRequest) (string, error)
}

// Worker consumes the candle and tick streams, detects breakdown setups,
// and manages the full entry/exit lifecycle under the trade-count caps.
// Horizontal scaling is more instances in the same consumer group.
type Worker struct {
	redis    *store.Redis
	trades   TradeStore
	limits   LimitCounter
	orders   OrderPlacer
	settings model.Settings
	prevDay  map[string]model.PrevDayOHLC

	group     string
	consumer  string
	readCount int64
	readBlock time.Duration

	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewWorker(redis *store.Redis, trades TradeStore, limits LimitCounter, orders OrderPlacer,
	settings model.Settings, prevDay map[string]model.PrevDayOHLC,
	group, consumer string, readCount int64, readBlock time.Duration,
	m *metrics.Metrics, logger *zap.Logger) *Worker {
	return &Worker{
		redis:     redis,
		trades:    trades,
		limits:    limits,
		orders:    orders,
		settings:  settings,
		prevDay:   prevDay,
		group:     group,
		consumer:  consumer,
		readCount: readCount,
		readBlock: readBlock,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Run joins the consumer group on both streams and processes messages
// until the context ends. The candle cursor starts at the beginning of the
// stream so setups detected before this worker came up are not lost; the
// tick cursor starts at now because stale ticks have no trading value.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.redis.EnsureGroup(ctx, events.StreamCandles, w.group, "0"); err != nil {
		return err
	}
	if err := w.redis.EnsureGroup(ctx, events.StreamTicks, w.group, "$"); err != nil {
		return err
	}

	w.logger.Info("Algo worker loop started",
		zap.String("group", w.group),
		zap.String("consumer", w.consumer))

	streams := []string{events.StreamCandles, events.StreamTicks}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		result, err := w.redis.ReadGroup(ctx, w.group, w.consumer, streams, w.readCount, w.readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("Stream read failed, retrying", zap.Error(err))
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		for _, stream := range result {
			for _, msg := range stream.Messages {
				var handleErr error
				switch stream.Stream {
				case events.StreamCandles:
					handleErr = w.handleCandle(ctx, msg.Values)
				case events.StreamTicks:
					handleErr = w.handleTick(ctx, msg.Values)
				}

				if handleErr != nil {
					// Leave unacked: the message stays claimable for a
					// retry pass. Malformed payloads never reach here.
					w.logger.Error("Error processing message",
						zap.String("stream", stream.Stream),
						zap.String("id", msg.ID),
						zap.Error(handleErr))
					continue
				}
				if err := w.redis.Ack(ctx, stream.Stream, w.group, msg.ID); err != nil {
					w.logger.Error("Ack failed", zap.String("id", msg.ID), zap.Error(err))
				}
			}
		}
	}
}

// handleCandle runs pattern recognition on one closed candle and persists
// a PENDING setup when it qualifies. The setup does not count against any
// cap until a tick triggers it.
func (w *Worker) handleCandle(ctx context.Context, values map[string]interface{}) error {
	candle, err := events.ParseCandle(values)
	if err != nil {
		// Poison-pill tolerance: log and ack rather than wedge the group.
		w.logger.Warn("Dropping malformed candle", zap.Error(err))
		return nil
	}

	pdlInfo, ok := w.prevDay[candle.Symbol]
	if !ok {
		return nil
	}
	pdl := pdlInfo.Low

	if !IsBreakdown(candle, pdl) {
		return nil
	}

	turnover := Turnover(candle)
	if turnover <= TurnoverFloor {
		return nil
	}

	// Advisory pre-filter only; the Redis counter decides at trigger time.
	count, err := w.trades.CountForSymbolToday(ctx, candle.Symbol, w.now())
	if err != nil {
		return err
	}
	if count >= w.settings.MaxTradesPerSymbol {
		return nil
	}

	plan, ok := BuildPlan(candle, w.settings.RiskPerTradeAmount.InexactFloat64(), w.settings.RiskRewardRatio.InexactFloat64())
	if !ok {
		return nil
	}

	ts, err := time.Parse(time.RFC3339, candle.TS)
	if err != nil {
		w.logger.Warn("Dropping candle with bad timestamp",
			zap.String("symbol", candle.Symbol), zap.String("ts", candle.TS))
		return nil
	}

	trade := &model.Trade{
		Symbol:          candle.Symbol,
		Status:          model.StatusPending,
		CandleTimestamp: ts,
		CandleOpen:      decimal.NewFromFloat(candle.Open),
		CandleHigh:      decimal.NewFromFloat(candle.High),
		CandleLow:       decimal.NewFromFloat(candle.Low),
		CandleClose:     decimal.NewFromFloat(candle.Close),
		PrevDayLow:      decimal.NewFromFloat(pdl),
		EntryLevel:      decimal.NewFromFloat(plan.EntryLevel),
		StopLoss:        decimal.NewFromFloat(plan.StopLoss),
		TargetPrice:     decimal.NewFromFloat(plan.TargetPrice),
		Quantity:        plan.Quantity,
	}
	if err := w.trades.Create(ctx, trade); err != nil {
		return err
	}

	w.metrics.SignalsDetected.Inc()
	w.logger.Info("SIGNAL",
		zap.String("symbol", candle.Symbol),
		zap.Float64("turnover", turnover),
		zap.Float64("entry_level", plan.EntryLevel))
	return nil
}

// handleTick runs the execution state machine for one LTP update: trigger
// pending entries, then manage open positions.
func (w *Worker) handleTick(ctx context.Context, values map[string]interface{}) error {
	tick, err := events.ParseTick(values)
	if err != nil {
		w.logger.Warn("Dropping malformed tick", zap.Error(err))
		return nil
	}

	if err := w.processEntries(ctx, tick.Symbol, tick.LTP); err != nil {
		return err
	}
	return w.processExits(ctx, tick.Symbol, tick.LTP)
}

// processEntries triggers every PENDING trade whose entry level the tape
// has crossed, enforcing the caps atomically at the moment of trigger.
func (w *Worker) processEntries(ctx context.Context, symbol string, ltp float64) error {
	ids, err := w.trades.IDsBySymbolStatus(ctx, symbol, model.StatusPending)
	if err != nil {
		return err
	}

	for _, id := range ids {
		err := w.trades.WithLockedTrade(ctx, id, func(t *model.Trade) error {
			if t.Status != model.StatusPending {
				return nil
			}
			if ltp > t.EntryLevel.InexactFloat64() {
				return nil
			}
			return w.triggerEntry(ctx, t, ltp)
		})
		if err != nil && !errors.Is(err, store.ErrLockSkipped) {
			return err
		}
	}
	return nil
}

// triggerEntry runs under the row lock. The Redis reservation and the
// order placement happen inside it so a failure can roll both back before
// anyone else sees the trade.
func (w *Worker) triggerEntry(ctx context.Context, t *model.Trade, ltp float64) error {
	date := store.TradingDate(w.now())

	result, err := w.limits.Reserve(ctx, date, t.Symbol,
		w.settings.MaxTradesPerDay, w.settings.MaxTradesPerSymbol)
	if err != nil {
		// Counter authority unavailable: abort, preserve the PENDING row.
		return err
	}

	switch result {
	case store.LimitGlobalHit:
		t.Status = model.StatusExpired
		t.ExitReason = model.ReasonGlobalLimit
		w.metrics.TradesExpired.WithLabelValues("global").Inc()
		return nil
	case store.LimitSymbolHit:
		t.Status = model.StatusExpired
		t.ExitReason = model.ReasonSymbolLimit
		w.metrics.TradesExpired.WithLabelValues("symbol").Inc()
		return nil
	}

	w.logger.Info("ENTRY TRIGGER",
		zap.String("symbol", t.Symbol), zap.Float64("ltp", ltp))

	start := time.Now()
	orderID, err := w.orders.PlaceOrder(ctx, broker.MarketOrder(t.Symbol, t.Quantity, broker.SideSell))
	w.metrics.OrderLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		if rbErr := w.limits.Rollback(ctx, date, t.Symbol); rbErr != nil {
			w.logger.Error("Limit rollback failed", zap.Error(rbErr))
		}
		w.metrics.LimitRollbacks.Inc()
		t.Status = model.StatusFailed
		w.logger.Error("Order placement failed, limits rolled back",
			zap.String("symbol", t.Symbol), zap.Error(err))
		return nil
	}

	t.Status = model.StatusPendingEntry
	t.EntryOrderID = orderID
	w.metrics.EntriesPlaced.Inc()
	w.logger.Info("Entry order placed",
		zap.String("symbol", t.Symbol), zap.String("order_id", orderID))
	return nil
}

// processExits manages every OPEN trade on the symbol: stop/target exits
// first, break-even trailing otherwise.
func (w *Worker) processExits(ctx context.Context, symbol string, ltp float64) error {
	ids, err := w.trades.IDsBySymbolStatus(ctx, symbol, model.StatusOpen)
	if err != nil {
		return err
	}

	for _, id := range ids {
		err := w.trades.WithLockedTrade(ctx, id, func(t *model.Trade) error {
			if t.Status != model.StatusOpen {
				return nil
			}
			return w.manageOpen(ctx, t, ltp)
		})
		if err != nil && !errors.Is(err, store.ErrLockSkipped) {
			return err
		}
	}
	return nil
}

func (w *Worker) manageOpen(ctx context.Context, t *model.Trade, ltp float64) error {
	sl := t.StopLoss.InexactFloat64()
	tgt := t.TargetPrice.InexactFloat64()

	if ltp >= sl || ltp <= tgt {
		reason := model.ReasonTarget
		if ltp >= sl {
			reason = model.ReasonStopLoss
		}

		orderID, err := w.orders.PlaceOrder(ctx, broker.MarketOrder(t.Symbol, t.Quantity, broker.SideBuy))
		if err != nil {
			// Stay OPEN; the next qualifying tick retries the exit.
			w.logger.Error("Exit order failed",
				zap.String("symbol", t.Symbol), zap.Error(err))
			return nil
		}

		t.Status = model.StatusPendingExit
		t.ExitOrderID = orderID
		t.ExitReason = reason
		w.metrics.ExitsPlaced.WithLabelValues(reason).Inc()
		w.logger.Info("EXIT TRIGGER",
			zap.String("symbol", t.Symbol),
			zap.String("reason", reason),
			zap.String("order_id", orderID))
		return nil
	}

	if !t.IsBreakevenMoved {
		entry := t.EffectiveEntry()
		risk := sl - entry
		if (entry - ltp) >= risk*w.settings.BreakevenTriggerR.InexactFloat64() {
			if !t.ActualEntryPrice.IsZero() {
				t.StopLoss = t.ActualEntryPrice
			} else {
				t.StopLoss = t.EntryLevel
			}
			t.IsBreakevenMoved = true
			w.logger.Info("Stop moved to breakeven",
				zap.String("symbol", t.Symbol), zap.Float64("stop", entry))
		}
	}
	return nil
}
