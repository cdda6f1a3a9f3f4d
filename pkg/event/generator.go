package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/allenneverland/backtest-server/pkg/market"
)

const generatorComponentName = "event.generator"

// ErrEndOfStream is returned by Generator.Next once every series is
// exhausted and the final session boundary has been emitted.
var ErrEndOfStream = errors.New("end of stream")

// Generator projects per-instrument historical series into the unified
// event stream. It pulls from the data provider incrementally, one head
// element per series, and never materializes the full stream.
type Generator struct {
	provider    market.Provider
	calendar    Calendar
	symbols     []string
	from, to    time.Time
	freq        market.Frequency
	gapTolerant bool

	series []market.Series
	heads  []*market.Datum

	session            Session
	haveSession        bool
	sessionOpenEmitted bool
	sessionCursor      time.Time

	opened bool
}

type GeneratorOption func(*Generator)

func WithCalendar(calendar Calendar) GeneratorOption {
	return func(g *Generator) {
		g.calendar = calendar
	}
}

// WithGapTolerance makes missing per-instrument data a skip instead of a
// hard ErrDataGap.
func WithGapTolerance() GeneratorOption {
	return func(g *Generator) {
		g.gapTolerant = true
	}
}

func NewGenerator(provider market.Provider, symbols []string, from, to time.Time, freq market.Frequency, options ...GeneratorOption) *Generator {
	g := &Generator{
		provider: provider,
		calendar: AlwaysOpenCalendar{},
		symbols:  symbols,
		from:     from,
		to:       to,
		freq:     freq,
	}
	for _, option := range options {
		option(g)
	}
	return g
}

// Open opens one series per instrument and primes their head elements.
// An instrument with no data in range fails with market.ErrDataGap unless
// gap tolerance was requested.
func (g *Generator) Open(ctx context.Context) error {
	if g.opened {
		return errors.New("generator already open")
	}

	g.series = make([]market.Series, len(g.symbols))
	g.heads = make([]*market.Datum, len(g.symbols))

	for i, symbol := range g.symbols {
		series, err := g.provider.OpenSeries(ctx, symbol, g.from, g.to, g.freq)
		if err != nil {
			if g.gapTolerant && errors.Is(err, market.ErrDataGap) {
				slog.Warn("skipping instrument with no data",
					"component", generatorComponentName, "symbol", symbol)
				continue
			}
			g.closeSeries()
			return fmt.Errorf("open %s: %w", symbol, err)
		}
		g.series[i] = series

		datum, err := series.Next(ctx)
		switch {
		case err == nil:
			g.heads[i] = &datum
		case errors.Is(err, market.ErrEndOfSeries):
			if !g.gapTolerant {
				g.closeSeries()
				return fmt.Errorf("%s has no data in range: %w", symbol, market.ErrDataGap)
			}
			slog.Warn("instrument series is empty",
				"component", generatorComponentName, "symbol", symbol)
		default:
			g.closeSeries()
			return fmt.Errorf("prime %s: %w", symbol, err)
		}
	}

	g.sessionCursor = g.from
	g.haveSession = false
	g.sessionOpenEmitted = false
	g.opened = true
	return nil
}

func (g *Generator) Close() {
	g.closeSeries()
	g.opened = false
}

// Reset reopens every series from the start of the range, making the
// stream restartable.
func (g *Generator) Reset(ctx context.Context) error {
	g.Close()
	return g.Open(ctx)
}

// Next returns the next event in (timestamp, type priority) order.
func (g *Generator) Next(ctx context.Context) (Event, error) {
	if !g.opened {
		return Event{}, errors.New("generator is not open")
	}

	g.advanceSession()

	headIdx := g.earliestHead()
	if headIdx < 0 {
		// Data exhausted, flush the close of the session left open.
		if g.haveSession && g.sessionOpenEmitted && !g.session.Close.After(g.to) {
			ev := SessionClose(g.session.Close)
			g.haveSession = false
			return ev, nil
		}
		return Event{}, ErrEndOfStream
	}

	headEvent := g.headEvent(headIdx)

	if g.haveSession {
		var sessionEvent Event
		if !g.sessionOpenEmitted {
			sessionEvent = SessionOpen(g.session.Open)
		} else {
			sessionEvent = SessionClose(g.session.Close)
		}
		if !sessionEvent.Time.After(g.to) && sessionEvent.Before(headEvent) {
			if g.sessionOpenEmitted {
				g.sessionCursor = g.session.Close
				g.haveSession = false
			} else {
				g.sessionOpenEmitted = true
			}
			return sessionEvent, nil
		}
	}

	if err := g.refill(ctx, headIdx); err != nil {
		return Event{}, err
	}
	return headEvent, nil
}

// Pump transfers up to n events into the queue. It returns the number of
// events pushed; err is ErrEndOfStream once the stream is exhausted.
func (g *Generator) Pump(ctx context.Context, q *Queue, n int) (int, error) {
	for i := 0; i < n; i++ {
		ev, err := g.Next(ctx)
		if err != nil {
			return i, err
		}
		if err := q.Push(ev); err != nil {
			return i, fmt.Errorf("push event: %w", err)
		}
	}
	return n, nil
}

func (g *Generator) advanceSession() {
	if g.haveSession {
		return
	}
	session, ok := g.calendar.NextSession(g.sessionCursor)
	if !ok || session.Open.After(g.to) {
		return
	}
	g.session = session
	g.haveSession = true
	g.sessionOpenEmitted = false
}

func (g *Generator) earliestHead() int {
	best := -1
	for i, head := range g.heads {
		if head == nil {
			continue
		}
		if best < 0 || g.headEvent(i).Before(g.headEvent(best)) {
			best = i
		}
	}
	return best
}

func (g *Generator) headEvent(i int) Event {
	head := g.heads[i]
	if head.Tick != nil {
		return FromTick(head.Tick)
	}
	return FromBar(head.Bar)
}

func (g *Generator) refill(ctx context.Context, i int) error {
	datum, err := g.series[i].Next(ctx)
	switch {
	case err == nil:
		g.heads[i] = &datum
		return nil
	case errors.Is(err, market.ErrEndOfSeries):
		g.heads[i] = nil
		return nil
	default:
		return fmt.Errorf("read %s: %w", g.symbols[i], err)
	}
}

func (g *Generator) closeSeries() {
	for i, series := range g.series {
		if series != nil {
			_ = series.Close()
			g.series[i] = nil
		}
		if g.heads != nil {
			g.heads[i] = nil
		}
	}
}
