package matching

import (
	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

// CommissionSchedule prices the commission of one fill.
type CommissionSchedule interface {
	Commission(notional, quantity fixed.Point) fixed.Point
}

// RateCommission charges a fraction of notional with a minimum floor.
type RateCommission struct {
	Rate    fixed.Point
	Minimum fixed.Point
}

func NewRateCommission(rate, minimum fixed.Point) RateCommission {
	return RateCommission{Rate: rate, Minimum: minimum}
}

func (c RateCommission) Commission(notional, _ fixed.Point) fixed.Point {
	return notional.Mul(c.Rate).Max(c.Minimum)
}

// PerContractCommission charges a flat amount per contract, for derivatives.
type PerContractCommission struct {
	PerContract fixed.Point
}

func NewPerContractCommission(perContract fixed.Point) PerContractCommission {
	return PerContractCommission{PerContract: perContract}
}

func (c PerContractCommission) Commission(_, quantity fixed.Point) fixed.Point {
	return quantity.Mul(c.PerContract)
}

// CommissionTable maps asset classes to schedules with a fallback default.
type CommissionTable struct {
	Default CommissionSchedule
	ByClass map[common.AssetClass]CommissionSchedule
}

func NewCommissionTable(def CommissionSchedule) *CommissionTable {
	return &CommissionTable{
		Default: def,
		ByClass: make(map[common.AssetClass]CommissionSchedule),
	}
}

func (t *CommissionTable) Set(class common.AssetClass, schedule CommissionSchedule) *CommissionTable {
	t.ByClass[class] = schedule
	return t
}

func (t *CommissionTable) Commission(class common.AssetClass, notional, quantity fixed.Point) fixed.Point {
	if schedule, ok := t.ByClass[class]; ok {
		return schedule.Commission(notional, quantity)
	}
	if t.Default != nil {
		return t.Default.Commission(notional, quantity)
	}
	return fixed.Zero
}
