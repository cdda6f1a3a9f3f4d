package common

import (
	"time"

	"github.com/allenneverland/backtest-server/pkg/utility"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

// Position is a per-instrument holding. Quantity is signed, negative for
// short exposure. Mutated only by the portfolio in response to trades.
type Position struct {
	Quantity      fixed.Point `json:"quantity"`
	AvgCost       fixed.Point `json:"avg_cost"`
	RealizedPnL   fixed.Point `json:"realized_pnl"`
	UnrealizedPnL fixed.Point `json:"unrealized_pnl"`
	MarketValue   fixed.Point `json:"market_value"`
	OpenTime      time.Time   `json:"open_time"`

	Source      string              `json:"src,omitempty"`
	Symbol      string              `json:"symbol,omitempty"`
	ExecutionId utility.ExecutionID `json:"eid,omitempty"`
	TraceID     utility.TraceID     `json:"tid,omitempty"`
	TimeStamp   time.Time           `json:"ts"`
}

func (p Position) IsFlat() bool  { return p.Quantity.IsZero() }
func (p Position) IsLong() bool  { return p.Quantity.IsPos() }
func (p Position) IsShort() bool { return p.Quantity.IsNeg() }

// Exposure is the absolute market value of the holding at the given price.
func (p Position) Exposure(price fixed.Point) fixed.Point {
	return p.Quantity.Abs().Mul(price)
}
