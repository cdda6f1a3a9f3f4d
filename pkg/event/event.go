package event

import (
	"time"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/utility"
)

// Type enumerates the event kinds in delivery-priority order: session
// boundaries first, then fills, then market data, then position updates.
// The numeric value doubles as the tie-break for equal timestamps.
type Type uint8

const (
	TypeSessionOpen Type = iota
	TypeSessionClose
	TypeOrderFilled
	TypeBar
	TypeTick
	TypePositionChanged
)

func (t Type) String() string {
	switch t {
	case TypeSessionOpen:
		return "session_open"
	case TypeSessionClose:
		return "session_close"
	case TypeOrderFilled:
		return "order_filled"
	case TypeBar:
		return "bar"
	case TypeTick:
		return "tick"
	case TypePositionChanged:
		return "position_changed"
	default:
		return "unknown"
	}
}

// Priority is the fixed type-priority used as the ordering tie-break.
func (t Type) Priority() int {
	return int(t)
}

// Event is one element of the run's totally ordered stream. Immutable once
// constructed, owned by the queue until consumed.
type Event struct {
	Type    Type
	Time    time.Time
	Symbol  string
	TraceID utility.TraceID

	// Exactly one payload is set, matching Type.
	Bar      *common.Bar
	Tick     *common.Tick
	Trade    *common.Trade
	Position *common.Position

	// Insertion sequence assigned by the queue, final ordering tie-break.
	seq uint64
}

func SessionOpen(t time.Time) Event {
	return Event{Type: TypeSessionOpen, Time: t, TraceID: utility.CreateTraceID()}
}

func SessionClose(t time.Time) Event {
	return Event{Type: TypeSessionClose, Time: t, TraceID: utility.CreateTraceID()}
}

func FromBar(bar *common.Bar) Event {
	return Event{Type: TypeBar, Time: bar.TimeStamp, Symbol: bar.Symbol, TraceID: bar.TraceID, Bar: bar}
}

func FromTick(tick *common.Tick) Event {
	return Event{Type: TypeTick, Time: tick.TimeStamp, Symbol: tick.Symbol, TraceID: tick.TraceID, Tick: tick}
}

func OrderFilled(trade *common.Trade) Event {
	return Event{Type: TypeOrderFilled, Time: trade.TimeStamp, Symbol: trade.Symbol, TraceID: trade.TraceID, Trade: trade}
}

func PositionChanged(position *common.Position) Event {
	return Event{Type: TypePositionChanged, Time: position.TimeStamp, Symbol: position.Symbol, TraceID: position.TraceID, Position: position}
}

// Before is the total order over events: timestamp, then type priority,
// then insertion sequence.
func (e Event) Before(o Event) bool {
	if !e.Time.Equal(o.Time) {
		return e.Time.Before(o.Time)
	}
	if e.Type != o.Type {
		return e.Type.Priority() < o.Type.Priority()
	}
	return e.seq < o.seq
}
