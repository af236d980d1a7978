package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LimitResult is the outcome of an atomic trade-count reservation.
type LimitResult int

const (
	LimitAllowed   LimitResult = 1
	LimitGlobalHit LimitResult = -1
	LimitSymbolHit LimitResult = -2
)

const counterTTLSeconds = 86400

// Daily caps are authoritative in Redis, not in the trade table. Both
// counters are checked and incremented in a single server-side script so
// two workers racing on the same tick can never both pass a full limit.
var checkAndIncrScript = redis.NewScript(`
local global_count = tonumber(redis.call('GET', KEYS[1]) or 0)
local symbol_count = tonumber(redis.call('GET', KEYS[2]) or 0)
local global_limit = tonumber(ARGV[1])
local symbol_limit = tonumber(ARGV[2])

if global_count >= global_limit then
    return -1
end

if symbol_count >= symbol_limit then
    return -2
end

redis.call('INCR', KEYS[1])
redis.call('INCR', KEYS[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
redis.call('EXPIRE', KEYS[2], ARGV[3])

return 1
`)

// rollbackScript undoes a reservation after a failed order placement.
// Floored at zero so a stray rollback can never go negative.
var rollbackScript = redis.NewScript(`
local global_val = tonumber(redis.call('GET', KEYS[1]) or 0)
local symbol_val = tonumber(redis.call('GET', KEYS[2]) or 0)

if global_val > 0 then redis.call('DECR', KEYS[1]) end
if symbol_val > 0 then redis.call('DECR', KEYS[2]) end
return 1
`)

// Limits enforces the daily global and per-symbol trade caps.
type Limits struct {
	rdb *redis.Client
}

func NewLimits(r *Redis) *Limits {
	return &Limits{rdb: r.Client()}
}

// GlobalKey returns the daily global counter key for a trading date.
func GlobalKey(date string) string {
	return fmt.Sprintf("daily_count:%s", date)
}

// SymbolKey returns the daily per-symbol counter key for a trading date.
func SymbolKey(date, symbol string) string {
	return fmt.Sprintf("symbol_count:%s:%s", date, symbol)
}

// TradingDate formats t as the key-derivation date string.
func TradingDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// Reserve atomically checks both caps and increments both counters when
// allowed. The TTL guarantees yesterday's counters never leak into today.
func (l *Limits) Reserve(ctx context.Context, date, symbol string, globalLimit, symbolLimit int) (LimitResult, error) {
	keys := []string{GlobalKey(date), SymbolKey(date, symbol)}
	res, err := checkAndIncrScript.Run(ctx, l.rdb, keys, globalLimit, symbolLimit, counterTTLSeconds).Int()
	if err != nil {
		return 0, fmt.Errorf("limit check script: %w", err)
	}
	return LimitResult(res), nil
}

// Rollback decrements both counters after a reservation whose order
// placement failed.
func (l *Limits) Rollback(ctx context.Context, date, symbol string) error {
	keys := []string{GlobalKey(date), SymbolKey(date, symbol)}
	if err := rollbackScript.Run(ctx, l.rdb, keys).Err(); err != nil {
		return fmt.Errorf("limit rollback script: %w", err)
	}
	return nil
}
