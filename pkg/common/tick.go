package common

import (
	"time"

	"github.com/allenneverland/backtest-server/pkg/utility"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

type Tick struct {
	Ask       fixed.Point `json:"ask"`
	Bid       fixed.Point `json:"bid"`
	AskVolume fixed.Point `json:"ask_volume"`
	BidVolume fixed.Point `json:"bid_volume"`

	Source      string              `json:"src,omitempty"`
	Symbol      string              `json:"symbol,omitempty"`
	ExecutionId utility.ExecutionID `json:"eid,omitempty"`
	TraceID     utility.TraceID     `json:"tid,omitempty"`
	TimeStamp   time.Time           `json:"ts"`
}

func (t Tick) Mid() fixed.Point {
	return t.Ask.Add(t.Bid).Div(fixed.Two)
}

func (t Tick) AggregatedVolume() fixed.Point {
	return t.AskVolume.Add(t.BidVolume)
}
