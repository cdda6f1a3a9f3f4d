package middleware

import (
	"context"
	"log/slog"

	"github.com/allenneverland/backtest-server/pkg/bus"
	"github.com/allenneverland/backtest-server/pkg/common"
)

type MonitorFlags uint16

const (
	MonitorNone MonitorFlags = 1 << iota
	MonitorAll
	MonitorSignals
	MonitorSignalRejections
	MonitorOrders
	MonitorTrades
	MonitorPositions
	MonitorEquity
	MonitorProgress
)

// Monitor logs selected record streams as they pass through the chain.
type Monitor struct {
	flags MonitorFlags
}

func NewMonitor(flags MonitorFlags) *Monitor {
	return &Monitor{
		flags: flags,
	}
}

func (m *Monitor) enabled(flag MonitorFlags) bool {
	return m.flags&flag != 0 || m.flags&MonitorAll != 0
}

func (m *Monitor) WithSignal(handler bus.SignalHandler) bus.SignalHandler {
	return func(ctx context.Context, signal common.Signal) {
		if m.enabled(MonitorSignals) {
			slog.Info("record", "signal", signal)
		}
		handler(ctx, signal)
	}
}

func (m *Monitor) WithSignalRejection(handler bus.SignalRejectionHandler) bus.SignalRejectionHandler {
	return func(ctx context.Context, rejection common.SignalRejected) {
		if m.enabled(MonitorSignalRejections) {
			slog.Info("record", "signal_rejected", rejection)
		}
		handler(ctx, rejection)
	}
}

func (m *Monitor) WithOrder(handler bus.OrderHandler) bus.OrderHandler {
	return func(ctx context.Context, order common.Order) {
		if m.enabled(MonitorOrders) {
			slog.Info("record", "order", order)
		}
		handler(ctx, order)
	}
}

func (m *Monitor) WithTrade(handler bus.TradeHandler) bus.TradeHandler {
	return func(ctx context.Context, trade common.Trade) {
		if m.enabled(MonitorTrades) {
			slog.Info("record", "trade", trade)
		}
		handler(ctx, trade)
	}
}

func (m *Monitor) WithPosition(handler bus.PositionHandler) bus.PositionHandler {
	return func(ctx context.Context, position common.Position) {
		if m.enabled(MonitorPositions) {
			slog.Info("record", "position", position)
		}
		handler(ctx, position)
	}
}

func (m *Monitor) WithEquity(handler bus.EquityHandler) bus.EquityHandler {
	return func(ctx context.Context, equity common.Equity) {
		if m.enabled(MonitorEquity) {
			slog.Info("record", "equity", equity)
		}
		handler(ctx, equity)
	}
}

func (m *Monitor) WithProgress(handler bus.ProgressHandler) bus.ProgressHandler {
	return func(ctx context.Context, progress common.Progress) {
		if m.enabled(MonitorProgress) {
			slog.Info("record", "progress", progress)
		}
		handler(ctx, progress)
	}
}
