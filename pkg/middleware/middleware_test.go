package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/allenneverland/backtest-server/pkg/common"
)

func TestMonitor_FlagGating(t *testing.T) {
	tests := []struct {
		name  string
		flags MonitorFlags
		check MonitorFlags
		want  bool
	}{
		{"none", MonitorNone, MonitorTrades, false},
		{"all covers everything", MonitorAll, MonitorTrades, true},
		{"specific flag", MonitorTrades, MonitorTrades, true},
		{"other flag", MonitorSignals, MonitorTrades, false},
		{"combined", MonitorSignals | MonitorTrades, MonitorTrades, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(tt.flags)
			if got := m.enabled(tt.check); got != tt.want {
				t.Errorf("enabled = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestMonitor_ForwardsToNext(t *testing.T) {
	m := NewMonitor(MonitorNone)

	var forwarded bool
	handler := m.WithTrade(func(_ context.Context, trade common.Trade) {
		forwarded = trade.Symbol == "ACME"
	})
	handler(context.Background(), common.Trade{Symbol: "ACME"})

	if !forwarded {
		t.Error("disabled monitor must still forward the record")
	}
}

func TestTelemetry_Counters(t *testing.T) {
	tm := NewTelemetry(zap.NewNop())

	signal := tm.WithSignal(NoopSignal)
	trade := tm.WithTrade(NoopTrade)
	equity := tm.WithEquity(NoopEquity)

	ctx := context.Background()
	signal(ctx, common.Signal{})
	signal(ctx, common.Signal{})
	trade(ctx, common.Trade{})
	equity(ctx, common.Equity{})

	if tm.signalCounter != 2 || tm.tradeCounter != 1 || tm.equityCounter != 1 {
		t.Errorf("counters = %d/%d/%d; want 2/1/1",
			tm.signalCounter, tm.tradeCounter, tm.equityCounter)
	}
	if tm.orderCounter != 0 {
		t.Errorf("order counter = %d; want 0", tm.orderCounter)
	}
}

type fakeWriter struct {
	trades     []common.Trade
	equity     []common.Equity
	rejections []common.SignalRejected
	runIDs     []uuid.UUID
	fail       bool
}

func (w *fakeWriter) InsertTrade(_ context.Context, runID uuid.UUID, trade common.Trade) error {
	if w.fail {
		return errors.New("disk full")
	}
	w.runIDs = append(w.runIDs, runID)
	w.trades = append(w.trades, trade)
	return nil
}

func (w *fakeWriter) InsertEquityPoint(_ context.Context, runID uuid.UUID, equity common.Equity) error {
	if w.fail {
		return errors.New("disk full")
	}
	w.equity = append(w.equity, equity)
	return nil
}

func (w *fakeWriter) InsertRejection(_ context.Context, runID uuid.UUID, rejection common.SignalRejected) error {
	if w.fail {
		return errors.New("disk full")
	}
	w.rejections = append(w.rejections, rejection)
	return nil
}

func TestLedger_PersistsInStreamOrder(t *testing.T) {
	writer := &fakeWriter{}
	runID := uuid.New()
	ledger := NewLedger(writer, runID)

	trade := ledger.WithTrade(NoopTrade)
	equity := ledger.WithEquity(NoopEquity)
	rejection := ledger.WithSignalRejection(NoopSignalRejection)

	ctx := context.Background()
	trade(ctx, common.Trade{Symbol: "AAAA"})
	trade(ctx, common.Trade{Symbol: "BBBB"})
	equity(ctx, common.Equity{})
	rejection(ctx, common.SignalRejected{Rule: "notional"})

	if len(writer.trades) != 2 || writer.trades[0].Symbol != "AAAA" || writer.trades[1].Symbol != "BBBB" {
		t.Errorf("trades = %+v", writer.trades)
	}
	if len(writer.equity) != 1 || len(writer.rejections) != 1 {
		t.Errorf("equity = %d rejections = %d", len(writer.equity), len(writer.rejections))
	}
	for _, id := range writer.runIDs {
		if id != runID {
			t.Errorf("run id = %s; want %s", id, runID)
		}
	}
}

func TestLedger_WriteFaultDoesNotStopChain(t *testing.T) {
	ledger := NewLedger(&fakeWriter{fail: true}, uuid.New())

	var forwarded bool
	handler := ledger.WithTrade(func(context.Context, common.Trade) {
		forwarded = true
	})
	handler(context.Background(), common.Trade{})

	if !forwarded {
		t.Error("persistence fault must not break the chain")
	}
}
