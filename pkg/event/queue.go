package event

import (
	"container/heap"
	"errors"
)

// ErrInvalidTimestamp is returned when an event with a zero timestamp is
// pushed. Malformed events are rejected at insertion, never silently dropped.
var ErrInvalidTimestamp = errors.New("event has no timestamp")

// Queue is a binary-heap priority queue ordered by (timestamp, type
// priority, insertion sequence) ascending. It is owned by one run and is
// not safe for concurrent use.
type Queue struct {
	items eventHeap
	seq   uint64
}

func NewQueue(capacity int) *Queue {
	q := &Queue{}
	if capacity > 0 {
		q.items = make(eventHeap, 0, capacity)
	}
	return q
}

func (q *Queue) Push(e Event) error {
	if e.Time.IsZero() {
		return ErrInvalidTimestamp
	}
	q.seq++
	e.seq = q.seq
	heap.Push(&q.items, e)
	return nil
}

func (q *Queue) Pop() (Event, bool) {
	if len(q.items) == 0 {
		return Event{}, false
	}
	return heap.Pop(&q.items).(Event), true
}

func (q *Queue) Peek() (Event, bool) {
	if len(q.items) == 0 {
		return Event{}, false
	}
	return q.items[0], true
}

func (q *Queue) Len() int {
	return len(q.items)
}

type eventHeap []Event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].Before(h[j]) }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(Event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
