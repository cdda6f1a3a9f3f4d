package market

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/exp/mmap"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/utility"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

const binaryComponentName = "market.binary"

// BinaryTick is the fixed-size on-disk record of the flat-file tick store.
type BinaryTick struct {
	TimeStamp int64
	Ask       float64
	Bid       float64
	AskVolume float64
	BidVolume float64
}

func (b BinaryTick) ToTick(symbol string, tick *common.Tick) {
	tick.Source = binaryComponentName
	tick.Symbol = symbol
	tick.TraceID = utility.CreateTraceID()
	tick.TimeStamp = time.Unix(0, b.TimeStamp)
	tick.Ask = fixed.FromFloat64(b.Ask)
	tick.Bid = fixed.FromFloat64(b.Bid)
	tick.AskVolume = fixed.FromFloat64(b.AskVolume)
	tick.BidVolume = fixed.FromFloat64(b.BidVolume)
}

// BinarySource memory-maps one fixed-record file and reads entries by index.
type BinarySource[T any] struct {
	dataSourceName string
	reader         *mmap.ReaderAt
	bufferPool     *sync.Pool
}

func NewBinarySource[T any](dataSourceName string) *BinarySource[T] {
	return &BinarySource[T]{
		dataSourceName: dataSourceName,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buffer := make([]byte, int(unsafe.Sizeof(*new(T))))
				return &buffer
			},
		},
	}
}

func (s *BinarySource[T]) Open() error {
	var err error
	s.reader, err = mmap.Open(s.dataSourceName)
	if err != nil {
		return fmt.Errorf("unable to open data source %q: %w", s.dataSourceName, err)
	}
	return nil
}

func (s *BinarySource[T]) Close() {
	_ = s.reader.Close()
}

func (s *BinarySource[T]) Read(index int64, data *T) error {
	buffer := s.bufferPool.Get().(*[]byte)
	defer s.bufferPool.Put(buffer)

	offset := index * int64(len(*buffer))

	n, err := s.reader.ReadAt(*buffer, offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("unable to read: %w", err)
	}
	if n < len(*buffer) {
		return ErrEndOfSeries
	}

	*data = *(*T)(unsafe.Pointer(&(*buffer)[0])) // #nosec G103
	return nil
}

func (s *BinarySource[T]) EntryCount() (int64, error) {
	var entry T
	entrySize := int64(unsafe.Sizeof(entry))
	if entrySize == 0 {
		return 0, fmt.Errorf("size of T is zero")
	}

	fileInfo, err := os.Stat(s.dataSourceName)
	if err != nil {
		return 0, fmt.Errorf("unable to get data source %q stats: %w", s.dataSourceName, err)
	}

	totalSize := fileInfo.Size()
	if totalSize%entrySize != 0 {
		return 0, fmt.Errorf("file size is not a multiple of entry size")
	}

	return totalSize / entrySize, nil
}

// BinaryProvider serves tick series out of per-symbol flat files in a
// directory, one <symbol>.ticks file each.
type BinaryProvider struct {
	dir         string
	instruments map[string]common.Instrument
}

func NewBinaryProvider(dir string, instruments []common.Instrument) *BinaryProvider {
	m := make(map[string]common.Instrument, len(instruments))
	for _, instrument := range instruments {
		m[strings.ToUpper(instrument.Symbol)] = instrument
	}
	return &BinaryProvider{dir: dir, instruments: m}
}

func (p *BinaryProvider) Instrument(symbol string) (common.Instrument, bool) {
	instrument, ok := p.instruments[strings.ToUpper(symbol)]
	return instrument, ok
}

func (p *BinaryProvider) OpenSeries(_ context.Context, symbol string, from, to time.Time, freq Frequency) (Series, error) {
	if freq != FrequencyTick {
		return nil, fmt.Errorf("binary provider only serves tick data, got %q", freq)
	}

	source := NewBinarySource[BinaryTick](fmt.Sprintf("%s/%s.ticks", p.dir, strings.ToLower(symbol)))
	if err := source.Open(); err != nil {
		return nil, err
	}

	series := &binaryTickSeries{
		source: source,
		symbol: strings.ToUpper(symbol),
		from:   from.UnixNano(),
		to:     to.UnixNano(),
	}
	if err := series.lookupStartIndex(); err != nil {
		source.Close()
		return nil, fmt.Errorf("%w: %s", ErrDataGap, err)
	}
	return series, nil
}

type binaryTickSeries struct {
	source *BinarySource[BinaryTick]
	symbol string
	from   int64
	to     int64
	idx    int64
}

func (t *binaryTickSeries) Next(_ context.Context) (Datum, error) {
	var binTick BinaryTick
	if err := t.source.Read(t.idx, &binTick); err != nil {
		return Datum{}, err
	}
	t.idx++

	if binTick.TimeStamp > t.to {
		return Datum{}, ErrEndOfSeries
	}

	var tick common.Tick
	binTick.ToTick(t.symbol, &tick)
	return Datum{Symbol: t.symbol, Time: tick.TimeStamp, Tick: &tick}, nil
}

func (t *binaryTickSeries) Close() error {
	t.source.Close()
	return nil
}

// lookupStartIndex binary-searches the first entry at or after the range start.
func (t *binaryTickSeries) lookupStartIndex() error {
	entryCount, err := t.source.EntryCount()
	if err != nil {
		return fmt.Errorf("error getting entry count: %w", err)
	}
	if entryCount == 0 {
		return fmt.Errorf("entry count is zero")
	}

	var entry BinaryTick

	low := int64(0)
	high := entryCount - 1

	for low <= high {
		mid := (low + high) / 2

		if err := t.source.Read(mid, &entry); err != nil {
			return fmt.Errorf("error reading entry at index %d: %w", mid, err)
		}

		if entry.TimeStamp < t.from {
			low = mid + 1
		} else {
			high = mid - 1
		}
	}

	if low >= entryCount {
		return fmt.Errorf("no entry found with timestamp >= from")
	}

	t.idx = low
	return nil
}
