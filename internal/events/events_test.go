package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTickFromStreamStrings(t *testing.T) {
	// Redis hands stream values back as strings.
	tick, err := ParseTick(map[string]interface{}{
		"symbol": "NSE:SBIN-EQ",
		"ltp":    "601.35",
		"ts":     "1735900200.25",
	})
	require.NoError(t, err)
	assert.Equal(t, "NSE:SBIN-EQ", tick.Symbol)
	assert.Equal(t, 601.35, tick.LTP)
	assert.Equal(t, 1735900200.25, tick.TS)
}

func TestParseTickRejectsMissingFields(t *testing.T) {
	_, err := ParseTick(map[string]interface{}{"ltp": "100"})
	assert.Error(t, err)

	_, err = ParseTick(map[string]interface{}{"symbol": "NSE:SBIN-EQ"})
	assert.Error(t, err)

	_, err = ParseTick(map[string]interface{}{"symbol": "NSE:SBIN-EQ", "ltp": "not-a-number"})
	assert.Error(t, err)
}

func TestCandleValuesRoundTrip(t *testing.T) {
	in := Candle{
		Symbol: "NSE:TCS-EQ",
		Open:   4000, High: 4010, Low: 3990, Close: 3995,
		Volume: 12345,
		TS:     "2025-11-03T10:15:00+05:30",
	}
	values, err := in.Values()
	require.NoError(t, err)
	require.Contains(t, values, "data")

	out, err := ParseCandle(values)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseCandleRejectsMalformed(t *testing.T) {
	_, err := ParseCandle(map[string]interface{}{"data": "{broken"})
	assert.Error(t, err)

	_, err = ParseCandle(map[string]interface{}{})
	assert.Error(t, err)

	_, err = ParseCandle(map[string]interface{}{"data": `{"open":1}`})
	assert.Error(t, err, "candle without symbol is useless")
}

func TestParseOrderUpdate(t *testing.T) {
	u, err := ParseOrderUpdate([]byte(`{"id":"24110300001","status":2,"tradedPrice":1994.25,"qty":36,"symbol":"NSE:X-EQ"}`))
	require.NoError(t, err)
	assert.Equal(t, "24110300001", u.ID)
	assert.Equal(t, OrderStatusTraded, u.Status)
	assert.Equal(t, 1994.25, u.TradedPrice)

	_, err = ParseOrderUpdate([]byte(`{"status":2}`))
	assert.Error(t, err, "missing id carries nothing to reconcile")

	_, err = ParseOrderUpdate([]byte(`not json`))
	assert.Error(t, err)
}
