package engine

import (
	"time"

	"cashbreak/internal/events"
)

// accumulator is the in-flight candle for one symbol. Volume is tracked as
// the delta of the broker's cumulative day volume across the minute.
type accumulator struct {
	minute      int64
	open        float64
	high        float64
	low         float64
	close       float64
	startDayVol int64
}

// Aggregator builds one-minute candles from the tick tape. Minutes are
// classified on the local wall clock, never on broker timestamps, so the
// boundary is consistent across every symbol. The socket callback invokes
// Process serially, so no locking is needed.
type Aggregator struct {
	candles map[string]*accumulator
}

func NewAggregator() *Aggregator {
	return &Aggregator{candles: make(map[string]*accumulator)}
}

// Process ingests one tick. When the tick opens a new minute, the previous
// candle is finalized and returned exactly once; otherwise nil.
func (a *Aggregator) Process(symbol string, ltp float64, dayVol int64, now time.Time) *events.Candle {
	minute := now.Unix() / 60

	c, exists := a.candles[symbol]
	if !exists {
		a.candles[symbol] = &accumulator{
			minute: minute, open: ltp, high: ltp, low: ltp, close: ltp,
			startDayVol: dayVol,
		}
		return nil
	}

	if minute > c.minute {
		vol := dayVol - c.startDayVol
		if vol < 0 {
			vol = 0
		}
		closed := &events.Candle{
			Symbol: symbol,
			Open:   c.open,
			High:   c.high,
			Low:    c.low,
			Close:  c.close,
			Volume: float64(vol),
			TS:     time.Unix(c.minute*60, 0).Format(time.RFC3339),
		}
		a.candles[symbol] = &accumulator{
			minute: minute, open: ltp, high: ltp, low: ltp, close: ltp,
			startDayVol: dayVol,
		}
		return closed
	}

	if ltp > c.high {
		c.high = ltp
	}
	if ltp < c.low {
		c.low = ltp
	}
	c.close = ltp
	return nil
}
