package risk

import (
	"time"

	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

// Rule names, also used for configurable evaluation order and rejection
// logging.
const (
	RuleNotional      = "notional_limit"
	RuleConcentration = "concentration_limit"
	RuleFrequency     = "trade_frequency"
	RuleDrawdown      = "drawdown_breaker"
)

// DefaultRuleOrder is the evaluation order used when the limits do not
// specify one.
var DefaultRuleOrder = []string{RuleNotional, RuleConcentration, RuleFrequency, RuleDrawdown}

// Limits are the configured risk limits for one run. Zero values disable
// the corresponding rule.
type Limits struct {
	// MaxTradeNotional caps the notional of a single trade.
	MaxTradeNotional fixed.Point `yaml:"max_trade_notional"`
	// MaxConcentration caps one instrument's exposure as a fraction of
	// total equity.
	MaxConcentration fixed.Point `yaml:"max_concentration"`
	// MinTradeInterval is the minimum spacing between trades on the same
	// instrument.
	MinTradeInterval time.Duration `yaml:"min_trade_interval"`
	// MaxDrawdown trips the circuit breaker: once running drawdown
	// exceeds this fraction, risk-increasing orders are rejected.
	MaxDrawdown fixed.Point `yaml:"max_drawdown"`
	// RuleOrder overrides DefaultRuleOrder when non-empty.
	RuleOrder []string `yaml:"rule_order"`
}

func (l Limits) ruleOrder() []string {
	if len(l.RuleOrder) > 0 {
		return l.RuleOrder
	}
	return DefaultRuleOrder
}
