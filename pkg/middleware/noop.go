package middleware

import (
	"context"

	"github.com/allenneverland/backtest-server/pkg/common"
)

// Handler sinks for chains that only care about the wrapped behavior.
var (
	NoopSignal          = func(context.Context, common.Signal) {}
	NoopSignalRejection = func(context.Context, common.SignalRejected) {}
	NoopOrder           = func(context.Context, common.Order) {}
	NoopTrade           = func(context.Context, common.Trade) {}
	NoopPosition        = func(context.Context, common.Position) {}
	NoopEquity          = func(context.Context, common.Equity) {}
	NoopProgress        = func(context.Context, common.Progress) {}
)
