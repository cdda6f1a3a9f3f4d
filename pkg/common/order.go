package common

import (
	"time"

	"github.com/allenneverland/backtest-server/pkg/utility"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

type OrderType int

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
	OrderTypeStop
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "market"
	case OrderTypeLimit:
		return "limit"
	case OrderTypeStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Order is a risk-approved signal ready for matching. Created by the risk
// validator, consumed exactly once by the matching engine. Orders do not
// persist across events, there are no GTC semantics.
type Order struct {
	Direction Direction   `json:"direction"`
	Type      OrderType   `json:"type"`
	Quantity  fixed.Point `json:"quantity"`
	Price     fixed.Point `json:"price,omitempty"`
	StopPrice fixed.Point `json:"stop_price,omitempty"`

	Source        string              `json:"src,omitempty"`
	Symbol        string              `json:"symbol,omitempty"`
	ExecutionId   utility.ExecutionID `json:"eid,omitempty"`
	TraceID       utility.TraceID     `json:"tid,omitempty"`
	SignalTraceID utility.TraceID     `json:"signal_tid,omitempty"`
	TimeStamp     time.Time           `json:"ts"`
}
