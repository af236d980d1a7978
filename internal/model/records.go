package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Credentials is the single active broker credential record. It is written
// by the external auth flow; every process in this repo only reads it.
type Credentials struct {
	AppID       string
	SecretKey   string
	AccessToken string
	IsActive    bool
	UpdatedAt   time.Time
}

// SocketToken returns the token in the app_id:access_token form the broker
// sockets require. Stored tokens sometimes already carry the prefix.
func (c Credentials) SocketToken() string {
	if strings.Contains(c.AccessToken, ":") {
		return c.AccessToken
	}
	return c.AppID + ":" + c.AccessToken
}

// Settings holds the global risk parameters for the strategy.
type Settings struct {
	MaxTradesPerDay    int
	MaxTradesPerSymbol int
	RiskPerTradeAmount decimal.Decimal
	RiskRewardRatio    decimal.Decimal
	BreakevenTriggerR  decimal.Decimal
	VolumeThreshold    int64
}

// DefaultSettings mirrors the values a fresh install starts with.
func DefaultSettings() Settings {
	return Settings{
		MaxTradesPerDay:    10,
		MaxTradesPerSymbol: 2,
		RiskPerTradeAmount: decimal.NewFromFloat(500.00),
		RiskRewardRatio:    decimal.NewFromFloat(2.5),
		BreakevenTriggerR:  decimal.NewFromFloat(1.25),
		VolumeThreshold:    500000,
	}
}

// PrevDayOHLC is one completed prior-session daily candle, cached per
// symbol before market open.
type PrevDayOHLC struct {
	TS     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}
