package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the lifecycle state of a strategy trade.
type TradeStatus string

const (
	StatusPending      TradeStatus = "PENDING"       // monitoring, waiting for the break
	StatusPendingEntry TradeStatus = "PENDING_ENTRY" // entry order placed
	StatusOpen         TradeStatus = "OPEN"          // position open
	StatusPendingExit  TradeStatus = "PENDING_EXIT"  // exit order placed
	StatusClosed       TradeStatus = "CLOSED"
	StatusExpired      TradeStatus = "EXPIRED" // setup hit a trade-count limit at trigger time
	StatusFailed       TradeStatus = "FAILED"
)

// Exit reasons recorded on the trade row. The dashboard displays these
// verbatim, so the strings are part of the contract.
const (
	ReasonGlobalLimit = "Global Limit Reached"
	ReasonSymbolLimit = "Symbol Limit Reached"
	ReasonStopLoss    = "Stop Loss"
	ReasonTarget      = "Target"
	ReasonOrderFailed = "Order Failed"
)

// Trade is the central entity of the cash breakdown strategy: one row per
// detected setup, mutated by the algo worker and the order reconciler.
type Trade struct {
	ID     int64
	Symbol string
	Status TradeStatus

	// Snapshot of the candle that triggered the setup.
	CandleTimestamp time.Time
	CandleOpen      decimal.Decimal
	CandleHigh      decimal.Decimal
	CandleLow       decimal.Decimal
	CandleClose     decimal.Decimal
	PrevDayLow      decimal.Decimal

	// Plan.
	EntryLevel       decimal.Decimal // trigger price
	StopLoss         decimal.Decimal
	TargetPrice      decimal.Decimal
	Quantity         int
	IsBreakevenMoved bool

	// Execution.
	EntryOrderID     string
	ExitOrderID      string
	ActualEntryPrice decimal.Decimal
	ActualExitPrice  decimal.Decimal

	// Outcome.
	PnL        decimal.Decimal
	ExitReason string
	CreatedAt  time.Time
}

// EffectiveEntry returns the fill price when the broker reported one,
// otherwise the planned entry level. Break-even and PnL math use this.
func (t *Trade) EffectiveEntry() float64 {
	if !t.ActualEntryPrice.IsZero() {
		return t.ActualEntryPrice.InexactFloat64()
	}
	return t.EntryLevel.InexactFloat64()
}
