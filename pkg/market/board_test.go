package market

import (
	"context"
	"testing"
	"time"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

var boardTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestBoard_BarQuotesBothSidesAtClose(t *testing.T) {
	b := NewBoard()
	b.Update(Datum{
		Symbol: "ACME",
		Time:   boardTime,
		Bar: &common.Bar{
			Symbol:    "ACME",
			TimeStamp: boardTime,
			Close:     fixed.MustFromString("101.5"),
			Volume:    fixed.FromInt(1000, 0),
		},
	})

	q, ok := b.Quote("ACME")
	if !ok {
		t.Fatal("quote missing after bar update")
	}
	if !q.Bid.Eq(fixed.MustFromString("101.5")) || !q.Ask.Eq(fixed.MustFromString("101.5")) {
		t.Errorf("quote = %s/%s; want both at close", q.Bid, q.Ask)
	}
	if !b.Price("ACME").Eq(fixed.MustFromString("101.5")) {
		t.Errorf("price = %s; want 101.5", b.Price("ACME"))
	}
}

func TestBoard_TickQuotesBidAsk(t *testing.T) {
	b := NewBoard()
	b.Update(Datum{
		Symbol: "ACME",
		Time:   boardTime,
		Tick: &common.Tick{
			Symbol:    "ACME",
			TimeStamp: boardTime,
			Bid:       fixed.MustFromString("100"),
			Ask:       fixed.MustFromString("100.2"),
		},
	})

	q, _ := b.Quote("acme")
	if !q.Bid.Eq(fixed.MustFromString("100")) || !q.Ask.Eq(fixed.MustFromString("100.2")) {
		t.Errorf("quote = %s/%s", q.Bid, q.Ask)
	}
	if !q.Mid().Eq(fixed.MustFromString("100.1")) {
		t.Errorf("mid = %s; want 100.1", q.Mid())
	}
}

func TestBoard_UnknownSymbol(t *testing.T) {
	b := NewBoard()
	if _, ok := b.Quote("NOPE"); ok {
		t.Error("quote for unknown symbol")
	}
	if !b.Price("NOPE").IsZero() {
		t.Error("price for unknown symbol should be zero")
	}
}

func TestSyntheticProvider_DeterministicPerSeed(t *testing.T) {
	read := func(seed int64) []string {
		p := NewSyntheticProvider(seed, []common.Instrument{{Symbol: "ACME"}})
		series, err := p.OpenSeries(context.Background(), "ACME",
			boardTime, boardTime.Add(10*time.Minute), FrequencyM1)
		if err != nil {
			t.Fatalf("OpenSeries: %v", err)
		}
		defer series.Close()

		var closes []string
		for {
			datum, err := series.Next(context.Background())
			if err != nil {
				break
			}
			closes = append(closes, datum.Bar.Close.String())
		}
		return closes
	}

	first := read(7)
	second := read(7)
	other := read(8)

	if len(first) != 11 {
		t.Fatalf("bars = %d; want 11 over the inclusive range", len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("bar %d differs for same seed: %s vs %s", i, first[i], second[i])
		}
	}
	same := true
	for i := range first {
		if first[i] != other[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical series")
	}
}

func TestSyntheticProvider_UnknownSymbolIsGap(t *testing.T) {
	p := NewSyntheticProvider(7, nil)
	if _, err := p.OpenSeries(context.Background(), "ACME", boardTime, boardTime.Add(time.Minute), FrequencyM1); err == nil {
		t.Error("expected ErrDataGap for unregistered symbol")
	}

	open := NewSyntheticProvider(7, nil, WithOpenUniverse())
	if _, err := open.OpenSeries(context.Background(), "ACME", boardTime, boardTime.Add(time.Minute), FrequencyM1); err != nil {
		t.Errorf("open universe refused symbol: %v", err)
	}
	instrument, ok := open.Instrument("acme")
	if !ok || instrument.Symbol != "ACME" {
		t.Errorf("instrument = %+v ok=%v", instrument, ok)
	}
}
