package common

import (
	"time"

	"github.com/allenneverland/backtest-server/pkg/utility"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

type Equity struct {
	Source      string              `json:"src,omitempty"`
	ExecutionId utility.ExecutionID `json:"eid,omitempty"`
	TraceID     utility.TraceID     `json:"tid,omitempty"`
	TimeStamp   time.Time           `json:"ts"`
	Cash        fixed.Point         `json:"cash"`
	Value       fixed.Point         `json:"value"`
}
