package market

import (
	"context"
	"errors"
	"time"

	"github.com/allenneverland/backtest-server/pkg/common"
)

var (
	// ErrEndOfSeries is returned by Series.Next once the series is exhausted.
	ErrEndOfSeries = errors.New("end of series")
	// ErrDataGap is returned when a requested instrument/time range has no
	// data and the caller has not opted into gap-tolerant mode.
	ErrDataGap = errors.New("no data for requested range")
)

// Datum is one element of a historical series, either a bar or a tick.
type Datum struct {
	Symbol string
	Time   time.Time
	Bar    *common.Bar
	Tick   *common.Tick
}

// Series is a lazy, forward-only cursor over one instrument's history.
type Series interface {
	Next(ctx context.Context) (Datum, error)
	Close() error
}

// Provider hands out per-instrument series. Implementations are read-only,
// the engine never mutates historical data.
type Provider interface {
	OpenSeries(ctx context.Context, symbol string, from, to time.Time, freq Frequency) (Series, error)
	Instrument(symbol string) (common.Instrument, bool)
}
