package market

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/utility"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

const duckDBComponentName = "market.duckdb"

// DuckDBProvider serves bar and tick series from a duckdb database. Tables
// follow the <symbol>_bars_<freq> / <symbol>_ticks naming convention and an
// instruments table carries the reference data.
type DuckDBProvider struct {
	dataSourceName string
	db             *sql.DB
	instruments    map[string]common.Instrument
}

func NewDuckDBProvider(dataSourceName string) *DuckDBProvider {
	return &DuckDBProvider{
		dataSourceName: dataSourceName,
		instruments:    make(map[string]common.Instrument),
	}
}

func (p *DuckDBProvider) Connect(ctx context.Context) error {
	db, err := sql.Open("duckdb", p.dataSourceName)
	if err != nil {
		return fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping %q: %w", p.dataSourceName, err)
	}
	p.db = db
	return p.loadInstruments(ctx)
}

func (p *DuckDBProvider) Close() {
	if p.db != nil {
		_ = p.db.Close()
	}
}

func (p *DuckDBProvider) Instrument(symbol string) (common.Instrument, bool) {
	instrument, ok := p.instruments[strings.ToUpper(symbol)]
	return instrument, ok
}

func (p *DuckDBProvider) loadInstruments(ctx context.Context) error {
	rows, err := p.db.QueryContext(ctx,
		`SELECT symbol, class, digits, tick_size, lot_size, currency FROM instruments`)
	if err != nil {
		return fmt.Errorf("query instruments: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			instrument common.Instrument
			class      string
			tickSize   float64
			lotSize    float64
		)
		if err := rows.Scan(&instrument.Symbol, &class, &instrument.Digits,
			&tickSize, &lotSize, &instrument.Currency); err != nil {
			return fmt.Errorf("scan instrument: %w", err)
		}
		instrument.Class = common.AssetClass(class)
		instrument.TickSize = fixed.FromFloat64(tickSize)
		instrument.LotSize = fixed.FromFloat64(lotSize)
		p.instruments[strings.ToUpper(instrument.Symbol)] = instrument
	}
	return rows.Err()
}

func (p *DuckDBProvider) OpenSeries(ctx context.Context, symbol string, from, to time.Time, freq Frequency) (Series, error) {
	table := tableName(symbol, freq)

	var query string
	if freq == FrequencyTick {
		query = fmt.Sprintf(
			`SELECT ts, ask, bid, ask_volume, bid_volume FROM %s WHERE ts BETWEEN ? AND ? ORDER BY ts`, table)
	} else {
		query = fmt.Sprintf(
			`SELECT ts, open, high, low, close, volume FROM %s WHERE ts BETWEEN ? AND ? ORDER BY ts`, table)
	}

	rows, err := p.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("open series %s: %w", table, err)
	}
	return &duckDBSeries{
		symbol: strings.ToUpper(symbol),
		freq:   freq,
		rows:   rows,
	}, nil
}

func tableName(symbol string, freq Frequency) string {
	symbol = strings.ToLower(symbol)
	if freq == FrequencyTick {
		return symbol + "_ticks"
	}
	return fmt.Sprintf("%s_bars_%s", symbol, freq)
}

type duckDBSeries struct {
	symbol string
	freq   Frequency
	rows   *sql.Rows
}

func (s *duckDBSeries) Next(_ context.Context) (Datum, error) {
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return Datum{}, fmt.Errorf("scan rows: %w", err)
		}
		return Datum{}, ErrEndOfSeries
	}

	if s.freq == FrequencyTick {
		var (
			ts                   time.Time
			ask, bid             float64
			askVolume, bidVolume float64
		)
		if err := s.rows.Scan(&ts, &ask, &bid, &askVolume, &bidVolume); err != nil {
			return Datum{}, fmt.Errorf("scan tick row: %w", err)
		}
		tick := &common.Tick{
			Ask:       fixed.FromFloat64(ask),
			Bid:       fixed.FromFloat64(bid),
			AskVolume: fixed.FromFloat64(askVolume),
			BidVolume: fixed.FromFloat64(bidVolume),
			Source:    duckDBComponentName,
			Symbol:    s.symbol,
			TraceID:   utility.CreateTraceID(),
			TimeStamp: ts,
		}
		return Datum{Symbol: s.symbol, Time: ts, Tick: tick}, nil
	}

	var (
		ts                             time.Time
		open, high, low, close, volume float64
	)
	if err := s.rows.Scan(&ts, &open, &high, &low, &close, &volume); err != nil {
		return Datum{}, fmt.Errorf("scan bar row: %w", err)
	}
	bar := &common.Bar{
		Source:    duckDBComponentName,
		Symbol:    s.symbol,
		TraceID:   utility.CreateTraceID(),
		TimeStamp: ts,
		Period:    s.freq.Period(),
		Open:      fixed.FromFloat64(open),
		High:      fixed.FromFloat64(high),
		Low:       fixed.FromFloat64(low),
		Close:     fixed.FromFloat64(close),
		Volume:    fixed.FromFloat64(volume),
	}
	return Datum{Symbol: s.symbol, Time: ts, Bar: bar}, nil
}

func (s *duckDBSeries) Close() error {
	return s.rows.Close()
}
