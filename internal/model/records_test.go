package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSocketTokenAddsAppIDPrefix(t *testing.T) {
	c := Credentials{AppID: "AB1234-100", AccessToken: "eyJraWQi"}
	assert.Equal(t, "AB1234-100:eyJraWQi", c.SocketToken())
}

func TestSocketTokenKeepsExistingPrefix(t *testing.T) {
	c := Credentials{AppID: "AB1234-100", AccessToken: "AB1234-100:eyJraWQi"}
	assert.Equal(t, "AB1234-100:eyJraWQi", c.SocketToken())
}

func TestEffectiveEntryPrefersFillPrice(t *testing.T) {
	tr := Trade{
		EntryLevel:       decimal.NewFromFloat(1994.60),
		ActualEntryPrice: decimal.NewFromFloat(1994.25),
	}
	assert.InDelta(t, 1994.25, tr.EffectiveEntry(), 1e-9)

	tr.ActualEntryPrice = decimal.Decimal{}
	assert.InDelta(t, 1994.60, tr.EffectiveEntry(), 1e-9)
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 10, s.MaxTradesPerDay)
	assert.Equal(t, 2, s.MaxTradesPerSymbol)
	assert.Equal(t, "500", s.RiskPerTradeAmount.String())
	assert.Equal(t, "2.5", s.RiskRewardRatio.String())
	assert.Equal(t, "1.25", s.BreakevenTriggerR.String())
}
