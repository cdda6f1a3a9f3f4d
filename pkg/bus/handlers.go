package bus

import (
	"context"

	"github.com/allenneverland/backtest-server/pkg/common"
)

type RecordHandler[T any] = func(context.Context, T)

type SignalHandler RecordHandler[common.Signal]
type SignalRejectionHandler RecordHandler[common.SignalRejected]
type OrderHandler RecordHandler[common.Order]
type TradeHandler RecordHandler[common.Trade]
type PositionHandler RecordHandler[common.Position]
type EquityHandler RecordHandler[common.Equity]
type ProgressHandler RecordHandler[common.Progress]

func MergeHandlers[T any](handlers ...RecordHandler[T]) RecordHandler[T] {
	return func(ctx context.Context, record T) {
		for _, handler := range handlers {
			handler(ctx, record)
		}
	}
}
