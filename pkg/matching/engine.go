package matching

import (
	"errors"
	"fmt"
	"time"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/market"
	"github.com/allenneverland/backtest-server/pkg/portfolio"
	"github.com/allenneverland/backtest-server/pkg/utility"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

const componentName = "matching.engine"

// ErrNoLiquidity means the market carries no usable price for the order's
// instrument at the order's time.
var ErrNoLiquidity = errors.New("no liquidity at order time")

// Engine simulates order execution against the latest market data and
// settles fills into the run's portfolio. One instance per run.
type Engine struct {
	slippage    SlippageModel
	commissions *CommissionTable
	maxOrderQty fixed.Point
	// volumeCap limits a fill to a fraction of the quote's volume;
	// zero disables the constraint.
	volumeCap fixed.Point

	instrument func(symbol string) (common.Instrument, bool)
}

type Option func(*Engine)

func WithSlippageModel(model SlippageModel) Option {
	return func(e *Engine) {
		e.slippage = model
	}
}

func WithCommissionTable(table *CommissionTable) Option {
	return func(e *Engine) {
		e.commissions = table
	}
}

func WithMaxOrderQuantity(quantity fixed.Point) Option {
	return func(e *Engine) {
		e.maxOrderQty = quantity
	}
}

func WithVolumeCap(fraction fixed.Point) Option {
	return func(e *Engine) {
		e.volumeCap = fraction
	}
}

func WithInstrumentLookup(lookup func(symbol string) (common.Instrument, bool)) Option {
	return func(e *Engine) {
		e.instrument = lookup
	}
}

func NewEngine(options ...Option) *Engine {
	e := &Engine{
		slippage:    NewFixedBpsSlippage(fixed.Zero),
		commissions: NewCommissionTable(NewRateCommission(fixed.Zero, fixed.Zero)),
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// Execute simulates one order against the given quote. A nil trade with a
// nil error means the order did not cross (limit not reached, stop not
// armed) and is discarded, orders never persist across events.
func (e *Engine) Execute(pf *portfolio.Portfolio, order common.Order, quote market.Quote, now time.Time) (*common.Trade, error) {
	if !quote.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrNoLiquidity, order.Symbol)
	}

	reference := e.referencePrice(order, quote)
	quantity := e.fillQuantity(order, quote)
	if !quantity.IsPos() {
		return nil, nil
	}

	price := e.slippage.Adjust(reference, order.Direction, quantity, quote.Volume)

	switch order.Type {
	case common.OrderTypeLimit:
		if !limitCrossed(order, price) {
			return nil, nil
		}
	case common.OrderTypeStop:
		if !stopArmed(order, reference) {
			return nil, nil
		}
		// Once armed the stop behaves as a market order at the
		// slippage-adjusted price.
	}

	var class common.AssetClass
	if e.instrument != nil {
		if instrument, ok := e.instrument(order.Symbol); ok {
			class = instrument.Class
		}
	}

	notional := price.Mul(quantity)
	commission := e.commissions.Commission(class, notional, quantity)

	trade := common.Trade{
		Direction:    order.Direction,
		Quantity:     quantity,
		Price:        price,
		Commission:   commission,
		Slippage:     price.Sub(reference).Abs(),
		Effect:       effect(pf, order),
		Source:       componentName,
		Symbol:       order.Symbol,
		ExecutionId:  utility.GetExecutionID(),
		TraceID:      utility.CreateTraceID(),
		OrderTraceID: order.TraceID,
		TimeStamp:    now,
	}

	if err := pf.ApplyTrade(trade); err != nil {
		return nil, fmt.Errorf("settle trade: %w", err)
	}
	return &trade, nil
}

// referencePrice picks the side of the book the order would hit.
func (e *Engine) referencePrice(order common.Order, quote market.Quote) fixed.Point {
	if order.Direction == common.DirectionBuy || order.Direction == common.DirectionCover {
		return quote.Ask
	}
	return quote.Bid
}

// fillQuantity applies the partial-fill constraints; the remainder of an
// oversized order is discarded.
func (e *Engine) fillQuantity(order common.Order, quote market.Quote) fixed.Point {
	quantity := order.Quantity
	if e.maxOrderQty.IsPos() {
		quantity = quantity.Min(e.maxOrderQty)
	}
	if e.volumeCap.IsPos() && quote.Volume.IsPos() {
		quantity = quantity.Min(quote.Volume.Mul(e.volumeCap))
	}
	return quantity
}

func limitCrossed(order common.Order, price fixed.Point) bool {
	if !order.Price.IsPos() {
		return false
	}
	if order.Direction == common.DirectionBuy || order.Direction == common.DirectionCover {
		return price.Lte(order.Price)
	}
	return price.Gte(order.Price)
}

func stopArmed(order common.Order, reference fixed.Point) bool {
	if !order.StopPrice.IsPos() {
		return false
	}
	if order.Direction == common.DirectionBuy || order.Direction == common.DirectionCover {
		return reference.Gte(order.StopPrice)
	}
	return reference.Lte(order.StopPrice)
}

func effect(pf *portfolio.Portfolio, order common.Order) common.PositionEffect {
	position, ok := pf.Position(order.Symbol)
	if !ok || position.IsFlat() {
		return common.PositionEffectOpen
	}
	increasing := position.IsLong() == (order.Direction == common.DirectionBuy || order.Direction == common.DirectionCover)
	if increasing {
		return common.PositionEffectAdjust
	}
	if order.Quantity.Gte(position.Quantity.Abs()) {
		return common.PositionEffectClose
	}
	return common.PositionEffectAdjust
}
