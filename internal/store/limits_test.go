package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCounterKeys(t *testing.T) {
	assert.Equal(t, "daily_count:2025-11-03", GlobalKey("2025-11-03"))
	assert.Equal(t, "symbol_count:2025-11-03:NSE:SBIN-EQ", SymbolKey("2025-11-03", "NSE:SBIN-EQ"))
}

func TestTradingDate(t *testing.T) {
	ts := time.Date(2025, 11, 3, 9, 20, 0, 0, time.Local)
	assert.Equal(t, "2025-11-03", TradingDate(ts))
}
