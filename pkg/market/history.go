package market

import (
	"strings"

	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

// History keeps a bounded window of recent closes per instrument for the
// indicator helpers exposed to strategy scripts.
type History struct {
	capacity int
	rings    map[string]*ring
}

type ring struct {
	buf   []fixed.Point
	head  int
	count int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 256
	}
	return &History{
		capacity: capacity,
		rings:    make(map[string]*ring),
	}
}

func (h *History) Push(symbol string, close fixed.Point) {
	symbol = strings.ToUpper(symbol)
	r, ok := h.rings[symbol]
	if !ok {
		r = &ring{buf: make([]fixed.Point, h.capacity)}
		h.rings[symbol] = r
	}
	r.buf[r.head] = close
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Window returns up to n most recent closes, oldest first.
func (h *History) Window(symbol string, n int) []fixed.Point {
	r, ok := h.rings[strings.ToUpper(symbol)]
	if !ok || n <= 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	out := make([]fixed.Point, n)
	for i := 0; i < n; i++ {
		idx := (r.head - n + i + len(r.buf)) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return out
}

func (h *History) SMA(symbol string, n int) (fixed.Point, bool) {
	window := h.Window(symbol, n)
	if len(window) < n || n == 0 {
		return fixed.Zero, false
	}
	return fixed.Mean(window), true
}

func (h *History) Highest(symbol string, n int) (fixed.Point, bool) {
	window := h.Window(symbol, n)
	if len(window) == 0 {
		return fixed.Zero, false
	}
	highest := window[0]
	for _, p := range window[1:] {
		highest = highest.Max(p)
	}
	return highest, true
}

func (h *History) Lowest(symbol string, n int) (fixed.Point, bool) {
	window := h.Window(symbol, n)
	if len(window) == 0 {
		return fixed.Zero, false
	}
	lowest := window[0]
	for _, p := range window[1:] {
		lowest = lowest.Min(p)
	}
	return lowest, true
}
