package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/utility"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

const componentName = "risk.validator"

// View is the portfolio state the validator reads. It is assembled by the
// caller so that Validate stays a pure function of its inputs.
type View struct {
	Cash        fixed.Point
	Equity      fixed.Point
	PeakEquity  fixed.Point
	Positions   map[string]common.Position
	LastTradeAt map[string]time.Time
	Price       func(symbol string) fixed.Point
}

func (v View) position(symbol string) common.Position {
	return v.Positions[strings.ToUpper(symbol)]
}

// Drawdown is the running drawdown fraction against the equity high-water
// mark.
func (v View) Drawdown() fixed.Point {
	if !v.PeakEquity.IsPos() {
		return fixed.Zero
	}
	dd := v.PeakEquity.Sub(v.Equity).Div(v.PeakEquity)
	if dd.IsNeg() {
		return fixed.Zero
	}
	return dd
}

// Validate filters signals against the limits and admits the survivors as
// orders. A signal failing any rule is dropped and reported, never queued
// or retried. Pure: no hidden state, same inputs give same outputs.
func Validate(signals []common.Signal, view View, limits Limits, now time.Time) ([]common.Order, []common.SignalRejected) {
	var (
		orders   []common.Order
		rejected []common.SignalRejected
	)

	for _, signal := range signals {
		if rule, reason := check(signal, view, limits, now); rule != "" {
			rejected = append(rejected, common.SignalRejected{
				OriginalSignal: signal,
				Rule:           rule,
				Reason:         reason,
				Source:         componentName,
				ExecutionId:    utility.GetExecutionID(),
				TraceID:        utility.CreateTraceID(),
				TimeStamp:      now,
			})
			continue
		}
		orders = append(orders, common.Order{
			Direction:     signal.Direction,
			Type:          signal.Type,
			Quantity:      signal.Quantity,
			Price:         signal.Price,
			StopPrice:     signal.StopPrice,
			Source:        componentName,
			Symbol:        strings.ToUpper(signal.Symbol),
			ExecutionId:   utility.GetExecutionID(),
			TraceID:       utility.CreateTraceID(),
			SignalTraceID: signal.TraceID,
			TimeStamp:     now,
		})
	}
	return orders, rejected
}

func check(signal common.Signal, view View, limits Limits, now time.Time) (rule, reason string) {
	if !signal.Quantity.IsPos() {
		return "sanity", fmt.Sprintf("non-positive quantity %s", signal.Quantity)
	}

	for _, rule := range limits.ruleOrder() {
		var reason string
		switch rule {
		case RuleNotional:
			reason = checkNotional(signal, view, limits)
		case RuleConcentration:
			reason = checkConcentration(signal, view, limits)
		case RuleFrequency:
			reason = checkFrequency(signal, view, limits, now)
		case RuleDrawdown:
			reason = checkDrawdown(signal, view, limits)
		}
		if reason != "" {
			return rule, reason
		}
	}
	return "", ""
}

func checkNotional(signal common.Signal, view View, limits Limits) string {
	if !limits.MaxTradeNotional.IsPos() {
		return ""
	}
	notional := signalNotional(signal, view)
	if notional.Gt(limits.MaxTradeNotional) {
		return fmt.Sprintf("notional %s exceeds limit %s", notional, limits.MaxTradeNotional)
	}
	return ""
}

func checkConcentration(signal common.Signal, view View, limits Limits) string {
	if !limits.MaxConcentration.IsPos() || !signal.Direction.IsRiskIncreasing() {
		return ""
	}
	if !view.Equity.IsPos() {
		return "equity is not positive"
	}
	price := signalPrice(signal, view)
	exposure := view.position(signal.Symbol).Exposure(price)
	projected := exposure.Add(signal.Quantity.Mul(price))
	fraction := projected.Div(view.Equity)
	if fraction.Gt(limits.MaxConcentration) {
		return fmt.Sprintf("projected concentration %s exceeds limit %s", fraction, limits.MaxConcentration)
	}
	return ""
}

func checkFrequency(signal common.Signal, view View, limits Limits, now time.Time) string {
	if limits.MinTradeInterval <= 0 {
		return ""
	}
	last, ok := view.LastTradeAt[strings.ToUpper(signal.Symbol)]
	if !ok {
		return ""
	}
	if elapsed := now.Sub(last); elapsed < limits.MinTradeInterval {
		return fmt.Sprintf("last trade %s ago, minimum interval %s", elapsed, limits.MinTradeInterval)
	}
	return ""
}

func checkDrawdown(signal common.Signal, view View, limits Limits) string {
	if !limits.MaxDrawdown.IsPos() || !signal.Direction.IsRiskIncreasing() {
		return ""
	}
	if dd := view.Drawdown(); dd.Gt(limits.MaxDrawdown) {
		return fmt.Sprintf("drawdown %s exceeds breaker %s", dd, limits.MaxDrawdown)
	}
	return ""
}

func signalPrice(signal common.Signal, view View) fixed.Point {
	if signal.Price.IsPos() {
		return signal.Price
	}
	if view.Price != nil {
		return view.Price(signal.Symbol)
	}
	return fixed.Zero
}

func signalNotional(signal common.Signal, view View) fixed.Point {
	return signal.Quantity.Mul(signalPrice(signal, view))
}
