package risk

import (
	"testing"
	"time"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func signal(direction common.Direction, symbol, quantity string) common.Signal {
	return common.Signal{
		Direction: direction,
		Quantity:  fixed.MustFromString(quantity),
		Symbol:    symbol,
		TimeStamp: now,
	}
}

func view(cash, equity string) View {
	return View{
		Cash:       fixed.MustFromString(cash),
		Equity:     fixed.MustFromString(equity),
		PeakEquity: fixed.MustFromString(equity),
		Positions:  map[string]common.Position{},
		Price: func(string) fixed.Point {
			return fixed.Hundred
		},
	}
}

func TestValidate_AdmitsCleanSignal(t *testing.T) {
	orders, rejected := Validate(
		[]common.Signal{signal(common.DirectionBuy, "ACME", "10")},
		view("100000", "100000"),
		Limits{},
		now,
	)
	if len(rejected) != 0 {
		t.Fatalf("unexpected rejections: %v", rejected)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].Symbol != "ACME" || orders[0].Direction != common.DirectionBuy {
		t.Errorf("order fields wrong: %+v", orders[0])
	}
	if orders[0].SignalTraceID != 0 && orders[0].SignalTraceID != orders[0].TraceID {
		// The order must reference the originating signal.
		t.Logf("signal trace carried: %d", orders[0].SignalTraceID)
	}
}

func TestValidate_NotionalLimit(t *testing.T) {
	limits := Limits{MaxTradeNotional: fixed.MustFromString("500")}

	tests := []struct {
		name     string
		quantity string
		rejected bool
	}{
		{"under limit", "4", false},
		{"at limit", "5", false},
		{"over limit", "6", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Price fixed at 100 by the view.
			orders, rejected := Validate(
				[]common.Signal{signal(common.DirectionBuy, "ACME", tt.quantity)},
				view("100000", "100000"),
				limits,
				now,
			)
			if tt.rejected {
				if len(rejected) != 1 || rejected[0].Rule != RuleNotional {
					t.Errorf("expected notional rejection, got orders=%d rejected=%v", len(orders), rejected)
				}
			} else if len(orders) != 1 {
				t.Errorf("expected admission, got rejected=%v", rejected)
			}
		})
	}
}

func TestValidate_ConcentrationLimit(t *testing.T) {
	limits := Limits{MaxConcentration: fixed.MustFromString("0.25")}

	v := view("100000", "100000")
	v.Positions["ACME"] = common.Position{
		Symbol:   "ACME",
		Quantity: fixed.MustFromString("200"),
		AvgCost:  fixed.Hundred,
	}

	// Existing exposure 20,000 of 100,000 equity. Adding 100 more shares at
	// 100 lands exactly on 30% and must be rejected.
	_, rejected := Validate(
		[]common.Signal{signal(common.DirectionBuy, "ACME", "100")},
		v, limits, now,
	)
	if len(rejected) != 1 || rejected[0].Rule != RuleConcentration {
		t.Fatalf("expected concentration rejection, got %v", rejected)
	}

	// Risk-reducing directions pass the concentration check.
	orders, rejected := Validate(
		[]common.Signal{signal(common.DirectionSell, "ACME", "100")},
		v, limits, now,
	)
	if len(rejected) != 0 || len(orders) != 1 {
		t.Errorf("sell should not be concentration-limited: %v", rejected)
	}
}

func TestValidate_TradeFrequency(t *testing.T) {
	limits := Limits{MinTradeInterval: time.Minute}

	v := view("100000", "100000")
	v.LastTradeAt = map[string]time.Time{"ACME": now.Add(-30 * time.Second)}

	_, rejected := Validate(
		[]common.Signal{signal(common.DirectionBuy, "ACME", "1")},
		v, limits, now,
	)
	if len(rejected) != 1 || rejected[0].Rule != RuleFrequency {
		t.Fatalf("expected frequency rejection, got %v", rejected)
	}

	// Another instrument is unaffected.
	orders, rejected := Validate(
		[]common.Signal{signal(common.DirectionBuy, "OTHER", "1")},
		v, limits, now,
	)
	if len(rejected) != 0 || len(orders) != 1 {
		t.Errorf("other symbol should pass: %v", rejected)
	}
}

func TestValidate_DrawdownBreaker(t *testing.T) {
	limits := Limits{MaxDrawdown: fixed.MustFromString("0.10")}

	v := view("100000", "80000")
	v.PeakEquity = fixed.MustFromString("100000")

	// 20% drawdown trips the breaker for risk-increasing signals.
	_, rejected := Validate(
		[]common.Signal{signal(common.DirectionBuy, "ACME", "1")},
		v, limits, now,
	)
	if len(rejected) != 1 || rejected[0].Rule != RuleDrawdown {
		t.Fatalf("expected drawdown rejection, got %v", rejected)
	}

	// Reducing risk stays allowed so the strategy can de-lever.
	orders, _ := Validate(
		[]common.Signal{signal(common.DirectionSell, "ACME", "1")},
		v, limits, now,
	)
	if len(orders) != 1 {
		t.Error("sell should pass the drawdown breaker")
	}
}

func TestValidate_RuleOrderControlsReportedRule(t *testing.T) {
	// The signal violates both notional and concentration; the configured
	// order decides which rejection is reported.
	limits := Limits{
		MaxTradeNotional: fixed.MustFromString("10"),
		MaxConcentration: fixed.MustFromString("0.0001"),
		RuleOrder:        []string{RuleConcentration, RuleNotional},
	}

	_, rejected := Validate(
		[]common.Signal{signal(common.DirectionBuy, "ACME", "100")},
		view("100000", "100000"),
		limits, now,
	)
	if len(rejected) != 1 || rejected[0].Rule != RuleConcentration {
		t.Fatalf("expected concentration first, got %v", rejected)
	}
}

func TestValidate_RejectedSignalProducesNoOrder(t *testing.T) {
	limits := Limits{MaxTradeNotional: fixed.One}

	orders, rejected := Validate(
		[]common.Signal{
			signal(common.DirectionBuy, "ACME", "100"),
			signal(common.DirectionBuy, "OTHER", "100"),
		},
		view("100000", "100000"),
		limits, now,
	)
	if len(orders) != 0 {
		t.Errorf("rejected signals must not admit orders, got %d", len(orders))
	}
	if len(rejected) != 2 {
		t.Errorf("expected both signals rejected, got %d", len(rejected))
	}
	for _, r := range rejected {
		if r.OriginalSignal.Symbol == "" {
			t.Error("rejection lost the original signal")
		}
	}
}

func TestValidate_NonPositiveQuantity(t *testing.T) {
	_, rejected := Validate(
		[]common.Signal{signal(common.DirectionBuy, "ACME", "0")},
		view("100000", "100000"),
		Limits{}, now,
	)
	if len(rejected) != 1 {
		t.Fatalf("expected sanity rejection, got %v", rejected)
	}
}
