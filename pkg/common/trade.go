package common

import (
	"time"

	"github.com/allenneverland/backtest-server/pkg/utility"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

type PositionEffect int

const (
	PositionEffectOpen PositionEffect = iota
	PositionEffectClose
	PositionEffectAdjust
)

func (e PositionEffect) String() string {
	switch e {
	case PositionEffectOpen:
		return "open"
	case PositionEffectClose:
		return "close"
	case PositionEffectAdjust:
		return "adjust"
	default:
		return "unknown"
	}
}

// Trade is the settled outcome of an order. Append-only, owned by the run's
// result log.
type Trade struct {
	Direction  Direction      `json:"direction"`
	Quantity   fixed.Point    `json:"quantity"`
	Price      fixed.Point    `json:"price"`
	Commission fixed.Point    `json:"commission"`
	Slippage   fixed.Point    `json:"slippage"`
	Effect     PositionEffect `json:"effect"`

	Source       string              `json:"src,omitempty"`
	Symbol       string              `json:"symbol,omitempty"`
	ExecutionId  utility.ExecutionID `json:"eid,omitempty"`
	TraceID      utility.TraceID     `json:"tid,omitempty"`
	OrderTraceID utility.TraceID     `json:"order_tid,omitempty"`
	TimeStamp    time.Time           `json:"ts"`
}

// Notional is the unsigned traded amount, price times quantity.
func (t Trade) Notional() fixed.Point {
	return t.Price.Mul(t.Quantity)
}

// SignedAmount is the cash-flow sign convention used by the portfolio:
// positive when cash leaves the account (buy/cover), negative when it
// comes back (sell/short).
func (t Trade) SignedAmount() fixed.Point {
	switch t.Direction {
	case DirectionBuy, DirectionCover:
		return t.Notional()
	default:
		return t.Notional().Neg()
	}
}
