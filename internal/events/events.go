package events

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Stream names are part of the interop contract with external consumers
// (scanner, dashboard) and must not change.
const (
	StreamTicks   = "market_ticks"
	StreamCandles = "candle_stream_1m"
)

// TokenUpdateChannel is the pub/sub channel the auth flow publishes on when
// a new access token has been written. Payload is ignored.
const TokenUpdateChannel = "fyers_token_update"

// Tick is one LTP update as carried on the tick stream.
type Tick struct {
	Symbol string  `json:"symbol"`
	LTP    float64 `json:"ltp"`
	TS     float64 `json:"ts"` // unix seconds, local clock of the producer
}

// Values returns the flat field map used for XADD.
func (t Tick) Values() map[string]interface{} {
	return map[string]interface{}{
		"symbol": t.Symbol,
		"ltp":    t.LTP,
		"ts":     t.TS,
	}
}

// Candle is one closed one-minute candle. On the stream it travels as a
// single "data" field holding this JSON document.
type Candle struct {
	Symbol string  `json:"symbol"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	TS     string  `json:"ts"` // ISO-8601 minute boundary
}

// Values serializes the candle into the single-field stream entry.
func (c Candle) Values() (map[string]interface{}, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal candle: %w", err)
	}
	return map[string]interface{}{"data": string(data)}, nil
}

// ParseTick decodes the flat tick fields of a stream entry. Malformed
// entries are rejected rather than propagated partially.
func ParseTick(values map[string]interface{}) (Tick, error) {
	var t Tick
	sym, ok := stringField(values, "symbol")
	if !ok || sym == "" {
		return t, fmt.Errorf("tick missing symbol")
	}
	ltp, ok := floatField(values, "ltp")
	if !ok {
		return t, fmt.Errorf("tick missing ltp for %s", sym)
	}
	ts, _ := floatField(values, "ts")
	t.Symbol = sym
	t.LTP = ltp
	t.TS = ts
	return t, nil
}

// ParseCandle unwraps the "data" field of a candle stream entry.
func ParseCandle(values map[string]interface{}) (Candle, error) {
	var c Candle
	raw, ok := stringField(values, "data")
	if !ok {
		return c, fmt.Errorf("candle entry missing data field")
	}
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return c, fmt.Errorf("unmarshal candle: %w", err)
	}
	if c.Symbol == "" {
		return c, fmt.Errorf("candle missing symbol")
	}
	return c, nil
}

// Broker order status codes as delivered on the order socket.
const (
	OrderStatusCancelled = 1
	OrderStatusTraded    = 2
	OrderStatusTransit   = 4
	OrderStatusRejected  = 5
	OrderStatusPending   = 6
)

// OrderUpdate is one reconciliation event from the broker order feed.
type OrderUpdate struct {
	ID          string  `json:"id"`
	Status      int     `json:"status"`
	TradedPrice float64 `json:"tradedPrice"`
	Qty         int     `json:"qty"`
	Symbol      string  `json:"symbol"`
}

// ParseOrderUpdate decodes an order socket payload. Updates without an
// order id carry nothing to reconcile and are rejected.
func ParseOrderUpdate(payload []byte) (OrderUpdate, error) {
	var u OrderUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		return u, fmt.Errorf("unmarshal order update: %w", err)
	}
	if u.ID == "" {
		return u, fmt.Errorf("order update missing id")
	}
	return u, nil
}

// Stream entry values arrive untyped from the consumer-group read; numbers
// may be strings, floats, or ints depending on how they were XADDed.

func stringField(values map[string]interface{}, key string) (string, bool) {
	v, ok := values[key]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

func floatField(values map[string]interface{}, key string) (float64, bool) {
	v, ok := values[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
