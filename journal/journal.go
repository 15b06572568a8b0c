// Package journal records trades and equity snapshots. Records are
// append-only; nothing is ever updated in place.
package journal

import (
	"strconv"
	"time"
)

// Side of an executed fill.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Exit reason codes.
const (
	ReasonEntry      = "ENTRY"
	ReasonStopLoss   = "STOP_LOSS"
	ReasonTrendExit  = "TREND_EXIT"
	ReasonForcedExit = "FORCED_EXIT"
)

// ReasonPartial builds the reason code for one ladder rung, e.g.
// "PARTIAL_0.5" for a +0.5% trigger.
func ReasonPartial(triggerPct float64) string {
	return "PARTIAL_" + strconv.FormatFloat(triggerPct, 'f', -1, 64)
}

// TradeRecord is one immutable fill log entry. For partial exits Reason is
// "PARTIAL_<pct>" with pct the rung's trigger percentage.
type TradeRecord struct {
	ID         string
	Side       Side
	Instrument string
	Time       time.Time
	Price      float64 // executed fill price
	Quantity   float64
	CashAfter  float64 // account cash after this fill settled
	PnlPct     float64 // (fill - entry) / entry * 100; zero for buys
	Reason     string
}

// EquitySnapshot is the account value at a point in time: cash plus the
// mark-to-market value of open positions.
type EquitySnapshot struct {
	Time     time.Time
	Cash     float64
	Holdings float64
	Equity   float64
}

// Journal is the sink every state transition writes through.
type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}
