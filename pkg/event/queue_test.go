package event

import (
	"errors"
	"testing"
	"time"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

func testBar(symbol string, at time.Time) *common.Bar {
	return &common.Bar{
		Symbol:    symbol,
		TimeStamp: at,
		Open:      fixed.Hundred,
		High:      fixed.Hundred,
		Low:       fixed.Hundred,
		Close:     fixed.Hundred,
		Volume:    fixed.FromInt(1000, 0),
	}
}

func testTick(symbol string, at time.Time) *common.Tick {
	return &common.Tick{
		Symbol:    symbol,
		TimeStamp: at,
		Bid:       fixed.Hundred,
		Ask:       fixed.Hundred,
	}
}

func TestQueue_TimestampOrder(t *testing.T) {
	q := NewQueue(8)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	// Pushed out of order on purpose.
	for _, offset := range []int{5, 1, 3, 2, 4} {
		if err := q.Push(FromBar(testBar("ACME", base.Add(time.Duration(offset)*time.Minute)))); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	var previous time.Time
	for q.Len() > 0 {
		ev, ok := q.Pop()
		if !ok {
			t.Fatal("Pop returned no event with non-empty queue")
		}
		if ev.Time.Before(previous) {
			t.Errorf("events out of order: %s before %s", ev.Time, previous)
		}
		previous = ev.Time
	}
}

func TestQueue_TypePriorityBreaksTimestampTies(t *testing.T) {
	q := NewQueue(8)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	// Same instant, pushed in reverse priority order.
	if err := q.Push(FromTick(testTick("ACME", at))); err != nil {
		t.Fatalf("Push tick: %v", err)
	}
	if err := q.Push(FromBar(testBar("ACME", at))); err != nil {
		t.Fatalf("Push bar: %v", err)
	}
	if err := q.Push(OrderFilled(&common.Trade{Symbol: "ACME", TimeStamp: at, Quantity: fixed.One, Price: fixed.Hundred})); err != nil {
		t.Fatalf("Push fill: %v", err)
	}
	if err := q.Push(SessionOpen(at)); err != nil {
		t.Fatalf("Push session open: %v", err)
	}

	want := []Type{TypeSessionOpen, TypeOrderFilled, TypeBar, TypeTick}
	for i, wantType := range want {
		ev, ok := q.Pop()
		if !ok {
			t.Fatalf("queue drained early at %d", i)
		}
		if ev.Type != wantType {
			t.Errorf("position %d: got %s, want %s", i, ev.Type, wantType)
		}
	}
}

func TestQueue_InsertionOrderBreaksFullTies(t *testing.T) {
	q := NewQueue(8)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	first := testBar("AAAA", at)
	second := testBar("BBBB", at)
	if err := q.Push(FromBar(first)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := q.Push(FromBar(second)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	ev, _ := q.Pop()
	if ev.Symbol != "AAAA" {
		t.Errorf("expected insertion order to win the tie, got %s first", ev.Symbol)
	}
	ev, _ = q.Pop()
	if ev.Symbol != "BBBB" {
		t.Errorf("expected BBBB second, got %s", ev.Symbol)
	}
}

func TestQueue_RejectsZeroTimestamp(t *testing.T) {
	q := NewQueue(1)
	err := q.Push(Event{Type: TypeBar})
	if !errors.Is(err, ErrInvalidTimestamp) {
		t.Errorf("expected ErrInvalidTimestamp, got %v", err)
	}
	if q.Len() != 0 {
		t.Error("malformed event was queued")
	}
}

func TestQueue_PeekDoesNotRemove(t *testing.T) {
	q := NewQueue(2)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := q.Push(SessionOpen(at)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if _, ok := q.Peek(); !ok {
		t.Fatal("Peek found nothing")
	}
	if q.Len() != 1 {
		t.Error("Peek removed the event")
	}
}
