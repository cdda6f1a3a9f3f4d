package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/market"
)

func testInstruments(symbols ...string) []common.Instrument {
	out := make([]common.Instrument, len(symbols))
	for i, symbol := range symbols {
		out[i] = common.Instrument{Symbol: symbol, Class: common.AssetClassEquity, Currency: "USD"}
	}
	return out
}

func TestGenerator_MergesSeriesInTimestampOrder(t *testing.T) {
	provider := market.NewSyntheticProvider(7, testInstruments("AAAA", "BBBB"))
	from := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	to := from.Add(30 * time.Minute)

	g := NewGenerator(provider, []string{"AAAA", "BBBB"}, from, to, market.FrequencyM1)
	if err := g.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer g.Close()

	var previous time.Time
	count := 0
	for {
		ev, err := g.Next(context.Background())
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if ev.Time.Before(previous) {
			t.Errorf("stream went backwards: %s after %s", ev.Time, previous)
		}
		previous = ev.Time
		count++
	}

	// 31 one-minute bars per instrument, inclusive range.
	if count != 62 {
		t.Errorf("expected 62 events, got %d", count)
	}
}

func TestGenerator_EmitsSessionBoundaries(t *testing.T) {
	provider := market.NewSyntheticProvider(7, testInstruments("AAAA"))
	from := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC) // a Monday
	to := from.Add(4 * time.Hour)

	calendar := NewWeekdayCalendar(9*time.Hour, 11*time.Hour, time.UTC)
	g := NewGenerator(provider, []string{"AAAA"}, from, to, market.FrequencyH1, WithCalendar(calendar))
	if err := g.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer g.Close()

	var types []Type
	for {
		ev, err := g.Next(context.Background())
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if ev.Type != TypeBar {
			types = append(types, ev.Type)
		}
	}

	if len(types) != 2 || types[0] != TypeSessionOpen || types[1] != TypeSessionClose {
		t.Errorf("expected [session_open session_close], got %v", types)
	}
}

func TestGenerator_MissingInstrumentFailsWithoutTolerance(t *testing.T) {
	provider := market.NewSyntheticProvider(7, testInstruments("AAAA"))
	from := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	g := NewGenerator(provider, []string{"AAAA", "MISSING"}, from, to, market.FrequencyM1)
	err := g.Open(context.Background())
	if !errors.Is(err, market.ErrDataGap) {
		t.Errorf("expected ErrDataGap, got %v", err)
	}
}

func TestGenerator_MissingInstrumentSkippedWithTolerance(t *testing.T) {
	provider := market.NewSyntheticProvider(7, testInstruments("AAAA"))
	from := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	to := from.Add(5 * time.Minute)

	g := NewGenerator(provider, []string{"AAAA", "MISSING"}, from, to, market.FrequencyM1, WithGapTolerance())
	if err := g.Open(context.Background()); err != nil {
		t.Fatalf("Open with tolerance: %v", err)
	}
	defer g.Close()

	count := 0
	for {
		ev, err := g.Next(context.Background())
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if ev.Symbol == "MISSING" {
			t.Error("got event for the skipped instrument")
		}
		count++
	}
	if count != 6 {
		t.Errorf("expected 6 events from the surviving instrument, got %d", count)
	}
}

func TestGenerator_PumpFillsQueue(t *testing.T) {
	provider := market.NewSyntheticProvider(7, testInstruments("AAAA"))
	from := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	to := from.Add(9 * time.Minute)

	g := NewGenerator(provider, []string{"AAAA"}, from, to, market.FrequencyM1)
	if err := g.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer g.Close()

	q := NewQueue(16)
	n, err := g.Pump(context.Background(), q, 4)
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if n != 4 || q.Len() != 4 {
		t.Errorf("expected 4 queued events, got n=%d len=%d", n, q.Len())
	}

	// Draining the rest hits end of stream.
	n, err = g.Pump(context.Background(), q, 100)
	if !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
	if n != 6 {
		t.Errorf("expected 6 remaining events, got %d", n)
	}
}

func TestGenerator_ResetRestartsStream(t *testing.T) {
	provider := market.NewSyntheticProvider(7, testInstruments("AAAA"))
	from := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	to := from.Add(3 * time.Minute)

	g := NewGenerator(provider, []string{"AAAA"}, from, to, market.FrequencyM1)
	if err := g.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer g.Close()

	first, err := g.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	if err := g.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	again, err := g.Next(context.Background())
	if err != nil {
		t.Fatalf("Next after reset: %v", err)
	}
	if !again.Time.Equal(first.Time) || again.Symbol != first.Symbol {
		t.Errorf("reset did not restart the stream: %v vs %v", again, first)
	}
}
