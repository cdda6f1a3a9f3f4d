package portfolio

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/market"
	"github.com/allenneverland/backtest-server/pkg/utility"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

const componentName = "portfolio"

// ErrInsufficientCash means a buy would drive the shared cash pool
// negative. The validator and matching engine are expected to agree on
// buying power, so hitting this is an internal fault, not a user error.
var ErrInsufficientCash = errors.New("insufficient cash")

// Portfolio is the single source of truth for capital within one run: one
// cash pool shared across all instruments plus the per-instrument positions.
// ApplyTrade is the only mutator. The portfolio is owned by the run's
// single thread of control and is not locked.
type Portfolio struct {
	cash      fixed.Point
	positions map[string]common.Position
}

func New(initialCash fixed.Point) *Portfolio {
	return &Portfolio{
		cash:      initialCash,
		positions: make(map[string]common.Position),
	}
}

func (p *Portfolio) AvailableCash() fixed.Point {
	return p.cash
}

func (p *Portfolio) Position(symbol string) (common.Position, bool) {
	position, ok := p.positions[strings.ToUpper(symbol)]
	return position, ok
}

func (p *Portfolio) Positions() []common.Position {
	out := make([]common.Position, 0, len(p.positions))
	for _, position := range p.positions {
		out = append(out, position)
	}
	return out
}

// TotalEquity is cash plus the market value of every open position at the
// board's latest prices.
func (p *Portfolio) TotalEquity(board *market.Board) fixed.Point {
	equity := p.cash
	for symbol, position := range p.positions {
		if position.IsFlat() {
			continue
		}
		price := board.Price(symbol)
		if price.IsZero() {
			// No quote yet, fall back to cost
			price = position.AvgCost
		}
		equity = equity.Add(position.Quantity.Mul(price))
	}
	return equity
}

// ApplyTrade settles one trade: cash and the affected position move in a
// single atomic update so a reader within the same event step never
// observes a torn state.
//
// Cash invariant: cash_after = cash_before - signed(amount) - commission.
func (p *Portfolio) ApplyTrade(trade common.Trade) error {
	if !trade.Quantity.IsPos() {
		return fmt.Errorf("trade quantity must be positive, got %s", trade.Quantity)
	}

	newCash := p.cash.Sub(trade.SignedAmount()).Sub(trade.Commission)
	if newCash.IsNeg() {
		return fmt.Errorf("%w: applying %s %s %s@%s leaves %s",
			ErrInsufficientCash, trade.Direction, trade.Quantity, trade.Symbol, trade.Price, newCash)
	}

	symbol := strings.ToUpper(trade.Symbol)
	position := p.positions[symbol]
	updated, err := settle(position, trade)
	if err != nil {
		return err
	}

	updated.Source = componentName
	updated.Symbol = symbol
	updated.ExecutionId = utility.GetExecutionID()
	updated.TraceID = utility.CreateTraceID()
	updated.TimeStamp = trade.TimeStamp

	p.cash = newCash
	p.positions[symbol] = updated
	return nil
}

// MarkToMarket refreshes unrealized P&L and market value from the latest
// quotes. Read-only with respect to cash and cost basis.
func (p *Portfolio) MarkToMarket(board *market.Board, now time.Time) []common.Position {
	var changed []common.Position
	for symbol, position := range p.positions {
		if position.IsFlat() {
			continue
		}
		price := board.Price(symbol)
		if price.IsZero() {
			continue
		}
		position.MarketValue = position.Quantity.Mul(price)
		position.UnrealizedPnL = position.Quantity.Mul(price.Sub(position.AvgCost))
		position.TimeStamp = now
		p.positions[symbol] = position
		changed = append(changed, position)
	}
	return changed
}

// settle folds one trade into a position using weighted-average cost.
// Increasing exposure reweights the average cost, reducing it realizes
// P&L against the existing basis.
func settle(position common.Position, trade common.Trade) (common.Position, error) {
	delta := trade.Quantity
	if trade.Direction == common.DirectionSell || trade.Direction == common.DirectionShort {
		delta = delta.Neg()
	}

	oldQty := position.Quantity
	newQty := oldQty.Add(delta)

	switch {
	case oldQty.IsZero():
		position.AvgCost = trade.Price
		position.OpenTime = trade.TimeStamp
	case oldQty.IsPos() == delta.IsPos():
		// Same side, reweight average cost
		oldNotional := oldQty.Abs().Mul(position.AvgCost)
		addNotional := delta.Abs().Mul(trade.Price)
		position.AvgCost = oldNotional.Add(addNotional).Div(oldQty.Abs().Add(delta.Abs()))
	default:
		// Reducing or flipping: realize P&L on the closed portion
		closedQty := delta.Abs().Min(oldQty.Abs())
		pnl := trade.Price.Sub(position.AvgCost).Mul(closedQty)
		if oldQty.IsNeg() {
			pnl = pnl.Neg()
		}
		position.RealizedPnL = position.RealizedPnL.Add(pnl)

		if delta.Abs().Gt(oldQty.Abs()) {
			// Flipped through zero, remainder opens at the trade price
			position.AvgCost = trade.Price
			position.OpenTime = trade.TimeStamp
		}
	}

	position.Quantity = newQty
	position.MarketValue = newQty.Mul(trade.Price)
	position.UnrealizedPnL = newQty.Mul(trade.Price.Sub(position.AvgCost))
	return position, nil
}
