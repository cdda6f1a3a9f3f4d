package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/allenneverland/backtest-server/pkg/common"
)

type RecordId uint8

const (
	SignalRecord RecordId = iota
	SignalRejectionRecord
	OrderRecord
	TradeRecord
	PositionRecord
	EquityRecord
	ProgressRecord
)

var ErrCapacityReached = errors.New("record capacity reached")

type record struct {
	id   RecordId
	data interface{}
}

// Router fans run-produced records out to the observer handlers (audit,
// ledger, progress watchers). Records queue on Post and are delivered in
// order on Drain, which the orchestrator calls between loop steps so
// observers always see a settled world.
type Router struct {
	records chan record

	SignalHandler          SignalHandler
	SignalRejectionHandler SignalRejectionHandler
	OrderHandler           OrderHandler
	TradeHandler           TradeHandler
	PositionHandler        PositionHandler
	EquityHandler          EquityHandler
	ProgressHandler        ProgressHandler

	runTime       time.Duration
	postCount     uint64
	postFails     uint64
	dispatchCount uint64
	dispatchFails uint64
}

func NewRouter(recordCapacity int) *Router {
	return &Router{
		records: make(chan record, recordCapacity),
	}
}

func (r *Router) Post(id RecordId, data interface{}) error {
	select {
	case r.records <- record{id, data}:
		r.postCount++
		return nil
	default:
		r.postFails++
		return fmt.Errorf("%w: record %d dropped", ErrCapacityReached, id)
	}
}

// Drain delivers every queued record and returns. Dispatch faults are
// logged, a broken observer must not stop the run.
func (r *Router) Drain(ctx context.Context) {
	start := time.Now()
	defer func() {
		r.runTime += time.Since(start)
	}()

	for {
		select {
		case rec := <-r.records:
			r.dispatchCount++
			if err := r.dispatch(ctx, rec); err != nil {
				r.dispatchFails++
				slog.Warn("record dispatch failed", "error", err, "record", rec.id)
			}
		default:
			return
		}
	}
}

func (r *Router) Statistics() Statistics {
	s := Statistics{
		RunTime:       r.runTime,
		PostCount:     r.postCount,
		PostFails:     r.postFails,
		DispatchCount: r.dispatchCount,
		DispatchFails: r.dispatchFails,
	}
	if r.runTime > 0 {
		s.Throughput = float64(r.postCount) / r.runTime.Seconds()
	}
	return s
}

func (r *Router) dispatch(ctx context.Context, rec record) error {
	switch rec.id {
	case SignalRecord:
		signal, ok := rec.data.(common.Signal)
		if !ok {
			return errors.New("invalid type assertion for signal record")
		}
		if r.SignalHandler != nil {
			r.SignalHandler(ctx, signal)
		}
	case SignalRejectionRecord:
		rejection, ok := rec.data.(common.SignalRejected)
		if !ok {
			return errors.New("invalid type assertion for signal rejection record")
		}
		if r.SignalRejectionHandler != nil {
			r.SignalRejectionHandler(ctx, rejection)
		}
	case OrderRecord:
		order, ok := rec.data.(common.Order)
		if !ok {
			return errors.New("invalid type assertion for order record")
		}
		if r.OrderHandler != nil {
			r.OrderHandler(ctx, order)
		}
	case TradeRecord:
		trade, ok := rec.data.(common.Trade)
		if !ok {
			return errors.New("invalid type assertion for trade record")
		}
		if r.TradeHandler != nil {
			r.TradeHandler(ctx, trade)
		}
	case PositionRecord:
		position, ok := rec.data.(common.Position)
		if !ok {
			return errors.New("invalid type assertion for position record")
		}
		if r.PositionHandler != nil {
			r.PositionHandler(ctx, position)
		}
	case EquityRecord:
		equity, ok := rec.data.(common.Equity)
		if !ok {
			return errors.New("invalid type assertion for equity record")
		}
		if r.EquityHandler != nil {
			r.EquityHandler(ctx, equity)
		}
	case ProgressRecord:
		progress, ok := rec.data.(common.Progress)
		if !ok {
			return errors.New("invalid type assertion for progress record")
		}
		if r.ProgressHandler != nil {
			r.ProgressHandler(ctx, progress)
		}
	default:
		return fmt.Errorf("unknown record id %d", rec.id)
	}
	return nil
}
