package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"cashbreak/internal/broker"
	"cashbreak/internal/model"
)

// HistoryFetcher fetches daily candles from the broker REST API.
type HistoryFetcher interface {
	History(ctx context.Context, req broker.HistoryRequest) ([]broker.DailyCandle, error)
}

// CacheWriter writes one symbol's previous-day candle to the shared cache.
type CacheWriter interface {
	Put(ctx context.Context, symbol string, ohlc model.PrevDayOHLC) error
}

// RefLoader is the one-shot pre-open job that caches the last completed
// previous-day OHLCV per symbol. Symbols it skips are simply not tradable
// today.
type RefLoader struct {
	fetcher HistoryFetcher
	cache   CacheWriter
	symbols []string
	pause   time.Duration
	logger  *zap.Logger
}

func NewRefLoader(fetcher HistoryFetcher, cache CacheWriter, symbols []string, logger *zap.Logger) *RefLoader {
	return &RefLoader{
		fetcher: fetcher,
		cache:   cache,
		symbols: symbols,
		pause:   100 * time.Millisecond,
		logger:  logger,
	}
}

// Run fetches and caches every symbol, pacing REST calls to respect broker
// rate limits. Per-symbol failures are logged and skipped; the job always
// runs to the end of the universe.
func (l *RefLoader) Run(ctx context.Context) error {
	today := time.Now()
	// Look back 5 calendar days so weekends and holidays still leave at
	// least one completed session in range.
	rangeFrom := today.AddDate(0, 0, -5).Format("2006-01-02")
	rangeTo := today.Format("2006-01-02")

	l.logger.Info("Fetching daily history",
		zap.Int("symbols", len(l.symbols)),
		zap.String("from", rangeFrom),
		zap.String("to", rangeTo))

	cached := 0
	for _, symbol := range l.symbols {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.pause):
		}

		candles, err := l.fetcher.History(ctx, broker.HistoryRequest{
			Symbol:     symbol,
			Resolution: "D",
			DateFormat: "1",
			RangeFrom:  rangeFrom,
			RangeTo:    rangeTo,
			ContFlag:   "1",
		})
		if err != nil {
			l.logger.Warn("History fetch failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		prev, ok := SelectPrevDay(candles, today)
		if !ok {
			continue
		}

		ohlc := model.PrevDayOHLC{
			TS:     prev.TS,
			Open:   prev.Open,
			High:   prev.High,
			Low:    prev.Low,
			Close:  prev.Close,
			Volume: prev.Volume,
		}
		if err := l.cache.Put(ctx, symbol, ohlc); err != nil {
			l.logger.Error("Cache write failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		cached++
		if cached%50 == 0 {
			l.logger.Info("Progress", zap.Int("cached", cached), zap.Int("total", len(l.symbols)))
		}
	}

	l.logger.Info("Previous day data cached", zap.Int("symbols", cached))
	return nil
}

// SelectPrevDay picks the most recent completed daily candle. When fetched
// after market open the last candle is today's forming one and the one
// before it is used; a lone today-candle means no reference exists.
func SelectPrevDay(candles []broker.DailyCandle, today time.Time) (broker.DailyCandle, bool) {
	if len(candles) == 0 {
		return broker.DailyCandle{}, false
	}

	last := candles[len(candles)-1]
	lastDate := time.Unix(last.TS, 0)
	if sameDay(lastDate, today) {
		if len(candles) > 1 {
			return candles[len(candles)-2], true
		}
		return broker.DailyCandle{}, false
	}
	return last, true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
