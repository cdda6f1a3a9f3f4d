package matching

import (
	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

// SlippageModel worsens a reference price in the direction of the trade:
// buys and covers pay up, sells and shorts receive less.
type SlippageModel interface {
	Adjust(price fixed.Point, direction common.Direction, quantity, volume fixed.Point) fixed.Point
}

func adverse(direction common.Direction) fixed.Point {
	if direction == common.DirectionBuy || direction == common.DirectionCover {
		return fixed.One
	}
	return fixed.NegOne
}

// FixedBpsSlippage applies a constant basis-point impact.
type FixedBpsSlippage struct {
	Bps fixed.Point
}

func NewFixedBpsSlippage(bps fixed.Point) FixedBpsSlippage {
	return FixedBpsSlippage{Bps: bps}
}

func (m FixedBpsSlippage) Adjust(price fixed.Point, direction common.Direction, _, _ fixed.Point) fixed.Point {
	impact := price.Mul(m.Bps).Div(fixed.TenThousand)
	return price.Add(impact.Mul(adverse(direction)))
}

// LinearImpactSlippage scales impact linearly with the order's share of the
// available volume: price * k * (qty / volume).
type LinearImpactSlippage struct {
	Coefficient fixed.Point
}

func NewLinearImpactSlippage(k fixed.Point) LinearImpactSlippage {
	return LinearImpactSlippage{Coefficient: k}
}

func (m LinearImpactSlippage) Adjust(price fixed.Point, direction common.Direction, quantity, volume fixed.Point) fixed.Point {
	if !volume.IsPos() {
		return price
	}
	ratio := quantity.Div(volume)
	impact := price.Mul(m.Coefficient).Mul(ratio)
	return price.Add(impact.Mul(adverse(direction)))
}

// SquareRootImpactSlippage uses the square-root market impact model:
// price * k * sqrt(qty / volume).
type SquareRootImpactSlippage struct {
	Coefficient fixed.Point
}

func NewSquareRootImpactSlippage(k fixed.Point) SquareRootImpactSlippage {
	return SquareRootImpactSlippage{Coefficient: k}
}

func (m SquareRootImpactSlippage) Adjust(price fixed.Point, direction common.Direction, quantity, volume fixed.Point) fixed.Point {
	if !volume.IsPos() {
		return price
	}
	ratio := quantity.Div(volume).Sqrt()
	impact := price.Mul(m.Coefficient).Mul(ratio)
	return price.Add(impact.Mul(adverse(direction)))
}
