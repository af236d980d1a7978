package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cashbreak/internal/broker"
	"cashbreak/internal/model"
)

func dayTS(daysAgo int) int64 {
	return time.Now().AddDate(0, 0, -daysAgo).Unix()
}

func TestSelectPrevDayUsesLastCompleted(t *testing.T) {
	candles := []broker.DailyCandle{
		{TS: dayTS(2), Close: 100},
		{TS: dayTS(1), Close: 105},
	}
	prev, ok := SelectPrevDay(candles, time.Now())
	require.True(t, ok)
	assert.Equal(t, 105.0, prev.Close)
}

func TestSelectPrevDaySkipsTodayFormingCandle(t *testing.T) {
	candles := []broker.DailyCandle{
		{TS: dayTS(1), Close: 105},
		{TS: dayTS(0), Close: 110}, // today, still forming
	}
	prev, ok := SelectPrevDay(candles, time.Now())
	require.True(t, ok)
	assert.Equal(t, 105.0, prev.Close)
}

func TestSelectPrevDayOnlyTodayMeansNoReference(t *testing.T) {
	candles := []broker.DailyCandle{{TS: dayTS(0), Close: 110}}
	_, ok := SelectPrevDay(candles, time.Now())
	assert.False(t, ok)
}

func TestSelectPrevDayEmpty(t *testing.T) {
	_, ok := SelectPrevDay(nil, time.Now())
	assert.False(t, ok)
}

type fakeFetcher struct {
	candles map[string][]broker.DailyCandle
	errs    map[string]error
}

func (f *fakeFetcher) History(_ context.Context, req broker.HistoryRequest) ([]broker.DailyCandle, error) {
	if err := f.errs[req.Symbol]; err != nil {
		return nil, err
	}
	return f.candles[req.Symbol], nil
}

type fakeCache struct {
	entries map[string]model.PrevDayOHLC
}

func (f *fakeCache) Put(_ context.Context, symbol string, ohlc model.PrevDayOHLC) error {
	f.entries[symbol] = ohlc
	return nil
}

func TestRefLoaderCachesAndSkips(t *testing.T) {
	fetcher := &fakeFetcher{
		candles: map[string][]broker.DailyCandle{
			"NSE:A-EQ": {{TS: dayTS(1), Open: 10, High: 12, Low: 9, Close: 11, Volume: 500}},
			"NSE:B-EQ": {{TS: dayTS(0), Close: 20}}, // only today's forming candle
		},
		errs: map[string]error{"NSE:C-EQ": assert.AnError},
	}
	cache := &fakeCache{entries: make(map[string]model.PrevDayOHLC)}

	loader := NewRefLoader(fetcher, cache, []string{"NSE:A-EQ", "NSE:B-EQ", "NSE:C-EQ"}, zap.NewNop())
	loader.pause = time.Millisecond

	require.NoError(t, loader.Run(context.Background()))

	require.Len(t, cache.entries, 1)
	got := cache.entries["NSE:A-EQ"]
	assert.Equal(t, 9.0, got.Low)
	assert.Equal(t, 500.0, got.Volume)
}
