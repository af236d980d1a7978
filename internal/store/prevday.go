package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"cashbreak/internal/model"
)

// PrevDayKey is the hash holding symbol -> previous-day OHLCV JSON.
const PrevDayKey = "prev_day_ohlc"

// PrevDayCache is the write-once-read-many previous-day reference store.
// The loader populates it before market open; the workers bulk-load it at
// startup and never consult Redis again until their next restart.
type PrevDayCache struct {
	redis  *Redis
	logger *zap.Logger
}

func NewPrevDayCache(r *Redis, logger *zap.Logger) *PrevDayCache {
	return &PrevDayCache{redis: r, logger: logger}
}

// Put writes one symbol's previous-day candle.
func (c *PrevDayCache) Put(ctx context.Context, symbol string, ohlc model.PrevDayOHLC) error {
	data, err := json.Marshal(ohlc)
	if err != nil {
		return fmt.Errorf("marshal prev day ohlc for %s: %w", symbol, err)
	}
	return c.redis.HSet(ctx, PrevDayKey, symbol, string(data))
}

// LoadAll reads the full cache into memory. Entries that fail to decode are
// skipped; a missing symbol simply means it is not tradable today.
func (c *PrevDayCache) LoadAll(ctx context.Context) (map[string]model.PrevDayOHLC, error) {
	raw, err := c.redis.HGetAll(ctx, PrevDayKey)
	if err != nil {
		return nil, err
	}

	out := make(map[string]model.PrevDayOHLC, len(raw))
	for symbol, payload := range raw {
		var ohlc model.PrevDayOHLC
		if err := json.Unmarshal([]byte(payload), &ohlc); err != nil {
			c.logger.Warn("Skipping malformed prev day entry",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		out[symbol] = ohlc
	}

	c.logger.Info("Loaded previous day data", zap.Int("symbols", len(out)))
	return out, nil
}
