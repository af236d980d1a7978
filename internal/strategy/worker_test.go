package strategy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cashbreak/internal/broker"
	"cashbreak/internal/events"
	"cashbreak/internal/metrics"
	"cashbreak/internal/model"
	"cashbreak/internal/store"
)

// --- fakes ---

type fakeTrades struct {
	trades map[int64]*model.Trade
	nextID int64
	count  int // advisory per-symbol count returned to the worker
}

func newFakeTrades() *fakeTrades {
	return &fakeTrades{trades: make(map[int64]*model.Trade)}
}

func (f *fakeTrades) Create(_ context.Context, t *model.Trade) error {
	f.nextID++
	t.ID = f.nextID
	cp := *t
	f.trades[t.ID] = &cp
	return nil
}

func (f *fakeTrades) IDsBySymbolStatus(_ context.Context, symbol string, status model.TradeStatus) ([]int64, error) {
	var ids []int64
	for id, t := range f.trades {
		if t.Symbol == symbol && t.Status == status {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeTrades) CountForSymbolToday(_ context.Context, _ string, _ time.Time) (int, error) {
	return f.count, nil
}

func (f *fakeTrades) WithLockedTrade(_ context.Context, id int64, fn func(t *model.Trade) error) error {
	t, ok := f.trades[id]
	if !ok {
		return store.ErrLockSkipped
	}
	cp := *t
	if err := fn(&cp); err != nil {
		return err
	}
	f.trades[id] = &cp
	return nil
}

type fakeLimits struct {
	counts map[string]int
}

func newFakeLimits() *fakeLimits {
	return &fakeLimits{counts: make(map[string]int)}
}

func (f *fakeLimits) Reserve(_ context.Context, date, symbol string, globalLimit, symbolLimit int) (store.LimitResult, error) {
	gk, sk := store.GlobalKey(date), store.SymbolKey(date, symbol)
	if f.counts[gk] >= globalLimit {
		return store.LimitGlobalHit, nil
	}
	if f.counts[sk] >= symbolLimit {
		return store.LimitSymbolHit, nil
	}
	f.counts[gk]++
	f.counts[sk]++
	return store.LimitAllowed, nil
}

func (f *fakeLimits) Rollback(_ context.Context, date, symbol string) error {
	for _, k := range []string{store.GlobalKey(date), store.SymbolKey(date, symbol)} {
		if f.counts[k] > 0 {
			f.counts[k]--
		}
	}
	return nil
}

type fakePlacer struct {
	fail   bool
	nextID int
	orders []broker.OrderRequest
}

func (f *fakePlacer) PlaceOrder(_ context.Context, req broker.OrderRequest) (string, error) {
	if f.fail {
		return "", errors.New("broker says no")
	}
	f.nextID++
	f.orders = append(f.orders, req)
	return fmt.Sprintf("ORD-%d", f.nextID), nil
}

// --- harness ---

type harness struct {
	worker *Worker
	trades *fakeTrades
	limits *fakeLimits
	placer *fakePlacer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	trades := newFakeTrades()
	limits := newFakeLimits()
	placer := &fakePlacer{}

	settings := model.Settings{
		MaxTradesPerDay:    10,
		MaxTradesPerSymbol: 2,
		RiskPerTradeAmount: decimal.NewFromFloat(500),
		RiskRewardRatio:    decimal.NewFromFloat(2.5),
		BreakevenTriggerR:  decimal.NewFromFloat(1.25),
	}
	prevDay := map[string]model.PrevDayOHLC{
		"NSE:X-EQ": {Low: 2000, High: 2050, Open: 2030, Close: 2010},
	}

	w := NewWorker(nil, trades, limits, placer, settings, prevDay,
		"ALGO_GROUP", "WORKER-test", 10, time.Second, metrics.New(), zap.NewNop())
	return &harness{worker: w, trades: trades, limits: limits, placer: placer}
}

func candleValues(t *testing.T, c events.Candle) map[string]interface{} {
	t.Helper()
	values, err := c.Values()
	require.NoError(t, err)
	return values
}

func tickValues(symbol string, ltp float64) map[string]interface{} {
	return events.Tick{Symbol: symbol, LTP: ltp, TS: 1}.Values()
}

func breakdownCandle() events.Candle {
	return events.Candle{
		Symbol: "NSE:X-EQ",
		Open:   2005, High: 2008, Low: 1995, Close: 1998,
		Volume: 100_000,
		TS:     "2025-11-03T10:15:00+05:30",
	}
}

func (h *harness) openTrade(entry, stop, target float64) int64 {
	h.trades.nextID++
	id := h.trades.nextID
	h.trades.trades[id] = &model.Trade{
		ID:               id,
		Symbol:           "NSE:X-EQ",
		Status:           model.StatusOpen,
		EntryLevel:       decimal.NewFromFloat(entry),
		ActualEntryPrice: decimal.NewFromFloat(entry),
		StopLoss:         decimal.NewFromFloat(stop),
		TargetPrice:      decimal.NewFromFloat(target),
		Quantity:         10,
	}
	return id
}

// --- candle path ---

func TestCandleCreatesPendingTrade(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.worker.handleCandle(context.Background(), candleValues(t, breakdownCandle())))

	require.Len(t, h.trades.trades, 1)
	trade := h.trades.trades[1]
	assert.Equal(t, model.StatusPending, trade.Status)
	assert.InDelta(t, 1994.601, trade.EntryLevel.InexactFloat64(), 1e-6)
	assert.InDelta(t, 2008.4016, trade.StopLoss.InexactFloat64(), 1e-6)
	assert.InDelta(t, 1960.0995, trade.TargetPrice.InexactFloat64(), 1e-6)
	assert.Equal(t, 36, trade.Quantity)
	assert.Equal(t, decimal.NewFromFloat(2000).String(), trade.PrevDayLow.String())
}

func TestCandleLowTurnoverSkipped(t *testing.T) {
	h := newHarness(t)
	c := breakdownCandle()
	c.Volume = 1000 // turnover 1,998,000 < 1 crore

	require.NoError(t, h.worker.handleCandle(context.Background(), candleValues(t, c)))
	assert.Empty(t, h.trades.trades)
}

func TestCandleUnknownSymbolSkipped(t *testing.T) {
	h := newHarness(t)
	c := breakdownCandle()
	c.Symbol = "NSE:UNKNOWN-EQ"

	require.NoError(t, h.worker.handleCandle(context.Background(), candleValues(t, c)))
	assert.Empty(t, h.trades.trades)
}

func TestCandleAdvisoryCapSkips(t *testing.T) {
	h := newHarness(t)
	h.trades.count = 2 // already at max_trades_per_symbol

	require.NoError(t, h.worker.handleCandle(context.Background(), candleValues(t, breakdownCandle())))
	assert.Empty(t, h.trades.trades)
}

func TestCandleMalformedPayloadAcked(t *testing.T) {
	h := newHarness(t)

	// Handler returns nil so the message gets acked instead of wedging
	// the consumer group.
	err := h.worker.handleCandle(context.Background(), map[string]interface{}{"data": "{not json"})
	assert.NoError(t, err)
	assert.Empty(t, h.trades.trades)
}

// --- tick path: entries ---

func TestTickTriggersEntry(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.worker.handleCandle(context.Background(), candleValues(t, breakdownCandle())))

	require.NoError(t, h.worker.handleTick(context.Background(), tickValues("NSE:X-EQ", 1990)))

	trade := h.trades.trades[1]
	assert.Equal(t, model.StatusPendingEntry, trade.Status)
	assert.NotEmpty(t, trade.EntryOrderID)

	require.Len(t, h.placer.orders, 1)
	order := h.placer.orders[0]
	assert.Equal(t, broker.SideSell, order.Side)
	assert.Equal(t, broker.TypeMarket, order.Type)
	assert.Equal(t, 36, order.Qty)
	assert.Equal(t, broker.ProductIntraday, order.ProductType)

	date := store.TradingDate(time.Now())
	assert.Equal(t, 1, h.limits.counts[store.GlobalKey(date)])
	assert.Equal(t, 1, h.limits.counts[store.SymbolKey(date, "NSE:X-EQ")])
}

func TestTickAboveEntryLevelDoesNothing(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.worker.handleCandle(context.Background(), candleValues(t, breakdownCandle())))

	require.NoError(t, h.worker.handleTick(context.Background(), tickValues("NSE:X-EQ", 1995)))

	assert.Equal(t, model.StatusPending, h.trades.trades[1].Status)
	assert.Empty(t, h.placer.orders)
}

func TestGlobalLimitExpiresAtTrigger(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.worker.handleCandle(context.Background(), candleValues(t, breakdownCandle())))

	date := store.TradingDate(time.Now())
	h.limits.counts[store.GlobalKey(date)] = 10

	require.NoError(t, h.worker.handleTick(context.Background(), tickValues("NSE:X-EQ", 1990)))

	trade := h.trades.trades[1]
	assert.Equal(t, model.StatusExpired, trade.Status)
	assert.Equal(t, model.ReasonGlobalLimit, trade.ExitReason)
	assert.Empty(t, h.placer.orders)
	// Counter untouched.
	assert.Equal(t, 10, h.limits.counts[store.GlobalKey(date)])
}

func TestSymbolLimitExpiresAtTrigger(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.worker.handleCandle(context.Background(), candleValues(t, breakdownCandle())))

	date := store.TradingDate(time.Now())
	h.limits.counts[store.SymbolKey(date, "NSE:X-EQ")] = 2

	require.NoError(t, h.worker.handleTick(context.Background(), tickValues("NSE:X-EQ", 1990)))

	trade := h.trades.trades[1]
	assert.Equal(t, model.StatusExpired, trade.Status)
	assert.Equal(t, model.ReasonSymbolLimit, trade.ExitReason)
	assert.Empty(t, h.placer.orders)
}

func TestPlacementFailureRollsBackCounters(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.worker.handleCandle(context.Background(), candleValues(t, breakdownCandle())))

	date := store.TradingDate(time.Now())
	h.limits.counts[store.GlobalKey(date)] = 4
	h.placer.fail = true

	require.NoError(t, h.worker.handleTick(context.Background(), tickValues("NSE:X-EQ", 1990)))

	trade := h.trades.trades[1]
	assert.Equal(t, model.StatusFailed, trade.Status)
	assert.Empty(t, trade.EntryOrderID)
	// Counters back at their pre-attempt values.
	assert.Equal(t, 4, h.limits.counts[store.GlobalKey(date)])
	assert.Equal(t, 0, h.limits.counts[store.SymbolKey(date, "NSE:X-EQ")])
}

// --- tick path: exits and break-even ---

func TestBreakevenTrailThenStopOut(t *testing.T) {
	h := newHarness(t)
	id := h.openTrade(1000, 1010, 975)

	// (entry - ltp) = 12.5 == risk 10 * trigger 1.25: stop moves to entry.
	require.NoError(t, h.worker.handleTick(context.Background(), tickValues("NSE:X-EQ", 987.5)))

	trade := h.trades.trades[id]
	assert.True(t, trade.IsBreakevenMoved)
	assert.InDelta(t, 1000, trade.StopLoss.InexactFloat64(), 1e-9)
	assert.Equal(t, model.StatusOpen, trade.Status)
	assert.Empty(t, h.placer.orders)

	// Next tick at the moved stop covers the short.
	require.NoError(t, h.worker.handleTick(context.Background(), tickValues("NSE:X-EQ", 1000.5)))

	trade = h.trades.trades[id]
	assert.Equal(t, model.StatusPendingExit, trade.Status)
	assert.Equal(t, model.ReasonStopLoss, trade.ExitReason)
	require.Len(t, h.placer.orders, 1)
	assert.Equal(t, broker.SideBuy, h.placer.orders[0].Side)
}

func TestBreakevenNotMovedBelowThreshold(t *testing.T) {
	h := newHarness(t)
	id := h.openTrade(1000, 1010, 975)

	require.NoError(t, h.worker.handleTick(context.Background(), tickValues("NSE:X-EQ", 988)))

	trade := h.trades.trades[id]
	assert.False(t, trade.IsBreakevenMoved)
	assert.InDelta(t, 1010, trade.StopLoss.InexactFloat64(), 1e-9)
}

func TestTargetExit(t *testing.T) {
	h := newHarness(t)
	id := h.openTrade(1000, 1010, 975)

	require.NoError(t, h.worker.handleTick(context.Background(), tickValues("NSE:X-EQ", 974)))

	trade := h.trades.trades[id]
	assert.Equal(t, model.StatusPendingExit, trade.Status)
	assert.Equal(t, model.ReasonTarget, trade.ExitReason)
	assert.NotEmpty(t, trade.ExitOrderID)
}

func TestExitPlacementFailureStaysOpen(t *testing.T) {
	h := newHarness(t)
	id := h.openTrade(1000, 1010, 975)
	h.placer.fail = true

	require.NoError(t, h.worker.handleTick(context.Background(), tickValues("NSE:X-EQ", 1011)))

	// Still OPEN so the next qualifying tick retries.
	trade := h.trades.trades[id]
	assert.Equal(t, model.StatusOpen, trade.Status)
	assert.Empty(t, trade.ExitOrderID)
}
