package middleware

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/allenneverland/backtest-server/pkg/bus"
	"github.com/allenneverland/backtest-server/pkg/common"
)

// LedgerWriter is the persistence surface the ledger needs. The storage
// package implements it.
type LedgerWriter interface {
	InsertTrade(ctx context.Context, runID uuid.UUID, trade common.Trade) error
	InsertEquityPoint(ctx context.Context, runID uuid.UUID, equity common.Equity) error
	InsertRejection(ctx context.Context, runID uuid.UUID, rejection common.SignalRejected) error
}

// Ledger persists the run's durable records as they flow by. Writes are
// synchronous so the stored equity curve keeps the stream's order; a write
// fault is logged and the run continues.
type Ledger struct {
	writer LedgerWriter
	runID  uuid.UUID
}

func NewLedger(writer LedgerWriter, runID uuid.UUID) *Ledger {
	return &Ledger{
		writer: writer,
		runID:  runID,
	}
}

func (l *Ledger) WithTrade(handler bus.TradeHandler) bus.TradeHandler {
	return func(ctx context.Context, trade common.Trade) {
		if err := l.writer.InsertTrade(ctx, l.runID, trade); err != nil {
			slog.Warn("unable to insert trade", "error", err, "run_id", l.runID)
		}
		handler(ctx, trade)
	}
}

func (l *Ledger) WithEquity(handler bus.EquityHandler) bus.EquityHandler {
	return func(ctx context.Context, equity common.Equity) {
		if err := l.writer.InsertEquityPoint(ctx, l.runID, equity); err != nil {
			slog.Warn("unable to insert equity point", "error", err, "run_id", l.runID)
		}
		handler(ctx, equity)
	}
}

func (l *Ledger) WithSignalRejection(handler bus.SignalRejectionHandler) bus.SignalRejectionHandler {
	return func(ctx context.Context, rejection common.SignalRejected) {
		if err := l.writer.InsertRejection(ctx, l.runID, rejection); err != nil {
			slog.Warn("unable to insert rejection", "error", err, "run_id", l.runID)
		}
		handler(ctx, rejection)
	}
}
