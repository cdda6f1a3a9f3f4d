package common

import (
	"time"

	"github.com/allenneverland/backtest-server/pkg/utility"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

type Direction int

const (
	DirectionBuy Direction = iota
	DirectionSell
	DirectionShort
	DirectionCover
)

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return "buy"
	case DirectionSell:
		return "sell"
	case DirectionShort:
		return "short"
	case DirectionCover:
		return "cover"
	default:
		return "unknown"
	}
}

// IsRiskIncreasing reports whether the direction opens new exposure rather
// than reducing an existing position.
func (d Direction) IsRiskIncreasing() bool {
	return d == DirectionBuy || d == DirectionShort
}

// Signal is a strategy's stated trading intent, pre risk-check. It is
// produced by one sandbox step and consumed by validation within the same
// step.
type Signal struct {
	Direction Direction   `json:"direction"`
	Quantity  fixed.Point `json:"quantity"`
	Type      OrderType   `json:"type"`
	Price     fixed.Point `json:"price,omitempty"`
	StopPrice fixed.Point `json:"stop_price,omitempty"`
	Comment   string      `json:"comment,omitempty"`

	Source      string              `json:"src,omitempty"`
	Symbol      string              `json:"symbol,omitempty"`
	ExecutionId utility.ExecutionID `json:"eid,omitempty"`
	TraceID     utility.TraceID     `json:"tid,omitempty"`
	TimeStamp   time.Time           `json:"ts"`
}

type SignalRejected struct {
	OriginalSignal Signal `json:"original_signal"`
	Rule           string `json:"rule"`
	Reason         string `json:"reason,omitempty"`

	Source      string              `json:"src,omitempty"`
	ExecutionId utility.ExecutionID `json:"eid,omitempty"`
	TraceID     utility.TraceID     `json:"tid,omitempty"`
	TimeStamp   time.Time           `json:"ts"`
}
