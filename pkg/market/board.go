package market

import (
	"strings"
	"time"

	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

// Quote is the last known market state for one instrument.
type Quote struct {
	Symbol string
	Time   time.Time
	Bid    fixed.Point
	Ask    fixed.Point
	Volume fixed.Point
}

func (q Quote) Mid() fixed.Point {
	return q.Bid.Add(q.Ask).Div(fixed.Two)
}

func (q Quote) Valid() bool {
	return !q.Time.IsZero() && q.Bid.IsPos() && q.Ask.IsPos()
}

// Board tracks the latest quote per instrument within one run. It is owned
// by the run's single thread of control and needs no locking.
type Board struct {
	quotes map[string]Quote
}

func NewBoard() *Board {
	return &Board{quotes: make(map[string]Quote)}
}

func (b *Board) Update(d Datum) {
	symbol := strings.ToUpper(d.Symbol)
	switch {
	case d.Tick != nil:
		b.quotes[symbol] = Quote{
			Symbol: symbol,
			Time:   d.Tick.TimeStamp,
			Bid:    d.Tick.Bid,
			Ask:    d.Tick.Ask,
			Volume: d.Tick.AggregatedVolume(),
		}
	case d.Bar != nil:
		// Bars quote both sides at the close, spread is folded into the
		// slippage model instead.
		b.quotes[symbol] = Quote{
			Symbol: symbol,
			Time:   d.Bar.TimeStamp,
			Bid:    d.Bar.Close,
			Ask:    d.Bar.Close,
			Volume: d.Bar.Volume,
		}
	}
}

func (b *Board) Quote(symbol string) (Quote, bool) {
	q, ok := b.quotes[strings.ToUpper(symbol)]
	return q, ok
}

// Price is the mid price of the latest quote, zero when the instrument has
// not traded yet.
func (b *Board) Price(symbol string) fixed.Point {
	q, ok := b.Quote(symbol)
	if !ok {
		return fixed.Zero
	}
	return q.Mid()
}

func (b *Board) Symbols() []string {
	symbols := make([]string, 0, len(b.quotes))
	for symbol := range b.quotes {
		symbols = append(symbols, symbol)
	}
	return symbols
}
