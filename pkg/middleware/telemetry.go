package middleware

import (
	"context"

	"go.uber.org/zap"

	"github.com/allenneverland/backtest-server/pkg/bus"
	"github.com/allenneverland/backtest-server/pkg/common"
)

// Telemetry counts records flowing through the chain. Counters are owned
// by the run's single thread, reads happen after the run drains.
type Telemetry struct {
	logger *zap.Logger

	signalCounter          int64
	signalRejectionCounter int64
	orderCounter           int64
	tradeCounter           int64
	positionCounter        int64
	equityCounter          int64
}

func NewTelemetry(logger *zap.Logger) *Telemetry {
	return &Telemetry{
		logger: logger,
	}
}

func (t *Telemetry) WithSignal(handler bus.SignalHandler) bus.SignalHandler {
	return func(ctx context.Context, signal common.Signal) {
		t.signalCounter++
		handler(ctx, signal)
	}
}

func (t *Telemetry) WithSignalRejection(handler bus.SignalRejectionHandler) bus.SignalRejectionHandler {
	return func(ctx context.Context, rejection common.SignalRejected) {
		t.signalRejectionCounter++
		handler(ctx, rejection)
	}
}

func (t *Telemetry) WithOrder(handler bus.OrderHandler) bus.OrderHandler {
	return func(ctx context.Context, order common.Order) {
		t.orderCounter++
		handler(ctx, order)
	}
}

func (t *Telemetry) WithTrade(handler bus.TradeHandler) bus.TradeHandler {
	return func(ctx context.Context, trade common.Trade) {
		t.tradeCounter++
		handler(ctx, trade)
	}
}

func (t *Telemetry) WithPosition(handler bus.PositionHandler) bus.PositionHandler {
	return func(ctx context.Context, position common.Position) {
		t.positionCounter++
		handler(ctx, position)
	}
}

func (t *Telemetry) WithEquity(handler bus.EquityHandler) bus.EquityHandler {
	return func(ctx context.Context, equity common.Equity) {
		t.equityCounter++
		handler(ctx, equity)
	}
}

func (t *Telemetry) PrintStatistics() {
	t.logger.Info("record statistics",
		zap.Int64("signals", t.signalCounter),
		zap.Int64("signal_rejections", t.signalRejectionCounter),
		zap.Int64("orders", t.orderCounter),
		zap.Int64("trades", t.tradeCounter),
		zap.Int64("positions", t.positionCounter),
		zap.Int64("equity_points", t.equityCounter))
}
