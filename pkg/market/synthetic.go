package market

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/utility"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

const syntheticComponentName = "market.synthetic"

// SyntheticProvider generates bar series from a seeded random walk. The same
// seed always produces the same series, which keeps backtests against it
// reproducible. Used by tests and the demo runner.
type SyntheticProvider struct {
	seed         int64
	startPrice   fixed.Point
	drift        float64
	volatility   float64
	volume       fixed.Point
	openUniverse bool
	instruments  map[string]common.Instrument
}

type SyntheticOption func(*SyntheticProvider)

func WithStartPrice(price fixed.Point) SyntheticOption {
	return func(p *SyntheticProvider) {
		p.startPrice = price
	}
}

func WithWalk(drift, volatility float64) SyntheticOption {
	return func(p *SyntheticProvider) {
		p.drift = drift
		p.volatility = volatility
	}
}

// WithOpenUniverse serves any requested symbol with a default equity
// instrument instead of requiring prior registration.
func WithOpenUniverse() SyntheticOption {
	return func(p *SyntheticProvider) {
		p.openUniverse = true
	}
}

func NewSyntheticProvider(seed int64, instruments []common.Instrument, options ...SyntheticOption) *SyntheticProvider {
	m := make(map[string]common.Instrument, len(instruments))
	for _, instrument := range instruments {
		m[strings.ToUpper(instrument.Symbol)] = instrument
	}
	p := &SyntheticProvider{
		seed:        seed,
		startPrice:  fixed.Hundred,
		volatility:  0.01,
		volume:      fixed.FromInt(10000, 0),
		instruments: m,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

func (p *SyntheticProvider) Instrument(symbol string) (common.Instrument, bool) {
	symbol = strings.ToUpper(symbol)
	instrument, ok := p.instruments[symbol]
	if !ok && p.openUniverse {
		return common.Instrument{
			Symbol:   symbol,
			Class:    common.AssetClassEquity,
			Digits:   2,
			TickSize: fixed.FromInt64(1, 2),
			LotSize:  fixed.One,
			Currency: "USD",
		}, true
	}
	return instrument, ok
}

func (p *SyntheticProvider) OpenSeries(_ context.Context, symbol string, from, to time.Time, freq Frequency) (Series, error) {
	symbol = strings.ToUpper(symbol)
	if _, ok := p.instruments[symbol]; !ok && !p.openUniverse {
		return nil, ErrDataGap
	}
	period := freq.Period()
	if period == 0 {
		period = time.Minute
	}

	// Per-symbol sub-seed so instruments do not mirror each other
	var sub int64
	for _, c := range symbol {
		sub = sub*31 + int64(c)
	}

	return &syntheticSeries{
		symbol: symbol,
		rng:    rand.New(rand.NewSource(p.seed ^ sub)),
		next:   from.Truncate(period),
		to:     to,
		period: period,
		price:  p.startPrice,
		drift:  p.drift,
		vol:    p.volatility,
		volume: p.volume,
	}, nil
}

type syntheticSeries struct {
	symbol string
	rng    *rand.Rand
	next   time.Time
	to     time.Time
	period time.Duration
	price  fixed.Point
	drift  float64
	vol    float64
	volume fixed.Point
}

func (s *syntheticSeries) Next(_ context.Context) (Datum, error) {
	if s.next.After(s.to) {
		return Datum{}, ErrEndOfSeries
	}

	open := s.price
	change := fixed.FromFloat64(1 + s.drift + s.vol*s.rng.NormFloat64())
	close := open.Mul(change).Rescale(6)
	if !close.IsPos() {
		close = open
	}

	bar := &common.Bar{
		Source:    syntheticComponentName,
		Symbol:    s.symbol,
		TraceID:   utility.CreateTraceID(),
		TimeStamp: s.next,
		Period:    s.period,
		Open:      open,
		High:      open.Max(close),
		Low:       open.Min(close),
		Close:     close,
		Volume:    s.volume,
	}

	s.price = close
	s.next = s.next.Add(s.period)
	return Datum{Symbol: s.symbol, Time: bar.TimeStamp, Bar: bar}, nil
}

func (s *syntheticSeries) Close() error {
	return nil
}
