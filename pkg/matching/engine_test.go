package matching

import (
	"errors"
	"testing"
	"time"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/market"
	"github.com/allenneverland/backtest-server/pkg/portfolio"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func quote(bid, ask, volume string) market.Quote {
	return market.Quote{
		Symbol: "ACME",
		Time:   now,
		Bid:    fixed.MustFromString(bid),
		Ask:    fixed.MustFromString(ask),
		Volume: fixed.MustFromString(volume),
	}
}

func order(direction common.Direction, quantity string) common.Order {
	return common.Order{
		Direction: direction,
		Type:      common.OrderTypeMarket,
		Quantity:  fixed.MustFromString(quantity),
		Symbol:    "ACME",
		TimeStamp: now,
	}
}

func TestEngine_MarketBuySettlesIntoPortfolio(t *testing.T) {
	pf := portfolio.New(fixed.MustFromString("100000"))
	engine := NewEngine(WithCommissionTable(
		NewCommissionTable(NewRateCommission(fixed.MustFromString("0.001"), fixed.Zero))))

	trade, err := engine.Execute(pf, order(common.DirectionBuy, "100"), quote("100", "100", "10000"), now)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if trade == nil {
		t.Fatal("expected a fill")
	}

	if !trade.Commission.Eq(fixed.MustFromString("10")) {
		t.Errorf("commission = %s; want 10", trade.Commission)
	}
	if !pf.AvailableCash().Eq(fixed.MustFromString("89990")) {
		t.Errorf("cash = %s; want 89990", pf.AvailableCash())
	}
	position, _ := pf.Position("ACME")
	if !position.Quantity.Eq(fixed.MustFromString("100")) || !position.AvgCost.Eq(fixed.Hundred) {
		t.Errorf("position = %s @ %s; want 100 @ 100", position.Quantity, position.AvgCost)
	}
	if trade.Effect != common.PositionEffectOpen {
		t.Errorf("effect = %s; want open", trade.Effect)
	}
}

func TestEngine_NoQuoteMeansNoLiquidity(t *testing.T) {
	pf := portfolio.New(fixed.MustFromString("100000"))
	engine := NewEngine()

	_, err := engine.Execute(pf, order(common.DirectionBuy, "1"), market.Quote{}, now)
	if !errors.Is(err, ErrNoLiquidity) {
		t.Errorf("expected ErrNoLiquidity, got %v", err)
	}
}

func TestEngine_FixedBpsSlippageWorsensPrice(t *testing.T) {
	pf := portfolio.New(fixed.MustFromString("100000"))
	// 10 bps on a 100 ask = 100.1 for buys.
	engine := NewEngine(WithSlippageModel(NewFixedBpsSlippage(fixed.MustFromString("10"))))

	trade, err := engine.Execute(pf, order(common.DirectionBuy, "10"), quote("99.9", "100", "10000"), now)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !trade.Price.Eq(fixed.MustFromString("100.1")) {
		t.Errorf("price = %s; want 100.1", trade.Price)
	}
	if !trade.Slippage.Eq(fixed.MustFromString("0.1")) {
		t.Errorf("slippage = %s; want 0.1", trade.Slippage)
	}

	// Sells move the other way, off the bid.
	trade, err = engine.Execute(pf, order(common.DirectionSell, "10"), quote("100", "100.1", "10000"), now)
	if err != nil {
		t.Fatalf("Execute sell: %v", err)
	}
	if !trade.Price.Eq(fixed.MustFromString("99.9")) {
		t.Errorf("sell price = %s; want 99.9", trade.Price)
	}
}

func TestSlippageModels_ScaleWithSize(t *testing.T) {
	price := fixed.Hundred
	volume := fixed.MustFromString("10000")

	linear := NewLinearImpactSlippage(fixed.MustFromString("0.1"))
	small := linear.Adjust(price, common.DirectionBuy, fixed.MustFromString("100"), volume)
	large := linear.Adjust(price, common.DirectionBuy, fixed.MustFromString("1000"), volume)
	if !large.Gt(small) {
		t.Errorf("linear impact should grow with size: %s vs %s", small, large)
	}

	sqrt := NewSquareRootImpactSlippage(fixed.MustFromString("0.1"))
	sqSmall := sqrt.Adjust(price, common.DirectionBuy, fixed.MustFromString("100"), volume)
	sqLarge := sqrt.Adjust(price, common.DirectionBuy, fixed.MustFromString("400"), volume)
	if !sqLarge.Gt(sqSmall) {
		t.Errorf("sqrt impact should grow with size: %s vs %s", sqSmall, sqLarge)
	}

	// Square root model is sublinear: quadrupling size doubles the impact.
	smallImpact := sqSmall.Sub(price)
	largeImpact := sqLarge.Sub(price)
	if !largeImpact.Eq(smallImpact.MulInt64(2)) {
		t.Errorf("sqrt scaling wrong: %s vs %s", smallImpact, largeImpact)
	}
}

func TestEngine_LimitOrderGating(t *testing.T) {
	tests := []struct {
		name      string
		direction common.Direction
		limit     string
		ask, bid  string
		filled    bool
	}{
		{"buy limit crossed", common.DirectionBuy, "101", "100", "99.9", true},
		{"buy limit not crossed", common.DirectionBuy, "99", "100", "99.9", false},
		{"sell limit crossed", common.DirectionSell, "99", "100.1", "100", true},
		{"sell limit not crossed", common.DirectionSell, "101", "100.1", "100", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf := portfolio.New(fixed.MustFromString("100000"))
			engine := NewEngine()

			o := order(tt.direction, "10")
			o.Type = common.OrderTypeLimit
			o.Price = fixed.MustFromString(tt.limit)

			trade, err := engine.Execute(pf, o, quote(tt.bid, tt.ask, "10000"), now)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if tt.filled && trade == nil {
				t.Error("expected a fill")
			}
			if !tt.filled && trade != nil {
				t.Errorf("expected no fill, got %s@%s", trade.Quantity, trade.Price)
			}
		})
	}
}

func TestEngine_StopOrderGating(t *testing.T) {
	tests := []struct {
		name      string
		direction common.Direction
		stop      string
		ask, bid  string
		filled    bool
	}{
		{"buy stop armed", common.DirectionBuy, "100", "101", "100.9", true},
		{"buy stop not armed", common.DirectionBuy, "102", "101", "100.9", false},
		{"sell stop armed", common.DirectionSell, "100", "99.6", "99.5", true},
		{"sell stop not armed", common.DirectionSell, "99", "99.6", "99.5", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf := portfolio.New(fixed.MustFromString("100000"))
			engine := NewEngine()

			o := order(tt.direction, "10")
			o.Type = common.OrderTypeStop
			o.StopPrice = fixed.MustFromString(tt.stop)

			trade, err := engine.Execute(pf, o, quote(tt.bid, tt.ask, "10000"), now)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if tt.filled != (trade != nil) {
				t.Errorf("filled = %v; want %v", trade != nil, tt.filled)
			}
		})
	}
}

func TestEngine_PartialFillCaps(t *testing.T) {
	pf := portfolio.New(fixed.MustFromString("1000000"))
	engine := NewEngine(
		WithMaxOrderQuantity(fixed.MustFromString("500")),
		WithVolumeCap(fixed.MustFromString("0.1")),
	)

	// Volume cap binds first: 10% of 1,000 volume = 100 shares.
	trade, err := engine.Execute(pf, order(common.DirectionBuy, "2000"), quote("100", "100", "1000"), now)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !trade.Quantity.Eq(fixed.MustFromString("100")) {
		t.Errorf("quantity = %s; want 100", trade.Quantity)
	}

	// With deep volume the max order quantity binds.
	trade, err = engine.Execute(pf, order(common.DirectionBuy, "2000"), quote("100", "100", "100000"), now)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !trade.Quantity.Eq(fixed.MustFromString("500")) {
		t.Errorf("quantity = %s; want 500", trade.Quantity)
	}
}

func TestEngine_CommissionByAssetClass(t *testing.T) {
	table := NewCommissionTable(NewRateCommission(fixed.MustFromString("0.001"), fixed.Zero))
	table.Set(common.AssetClassFutures, NewPerContractCommission(fixed.MustFromString("2.5")))

	lookup := func(symbol string) (common.Instrument, bool) {
		if symbol == "FUT" {
			return common.Instrument{Symbol: "FUT", Class: common.AssetClassFutures}, true
		}
		return common.Instrument{Symbol: symbol, Class: common.AssetClassEquity}, true
	}

	pf := portfolio.New(fixed.MustFromString("1000000"))
	engine := NewEngine(WithCommissionTable(table), WithInstrumentLookup(lookup))

	o := order(common.DirectionBuy, "10")
	o.Symbol = "FUT"
	q := quote("100", "100", "10000")
	q.Symbol = "FUT"

	trade, err := engine.Execute(pf, o, q, now)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !trade.Commission.Eq(fixed.MustFromString("25")) {
		t.Errorf("futures commission = %s; want 25", trade.Commission)
	}
}

func TestRateCommission_MinimumFloor(t *testing.T) {
	c := NewRateCommission(fixed.MustFromString("0.001"), fixed.MustFromString("5"))

	if got := c.Commission(fixed.MustFromString("1000"), fixed.One); !got.Eq(fixed.MustFromString("5")) {
		t.Errorf("small notional commission = %s; want the 5 floor", got)
	}
	if got := c.Commission(fixed.MustFromString("100000"), fixed.One); !got.Eq(fixed.MustFromString("100")) {
		t.Errorf("large notional commission = %s; want 100", got)
	}
}

func TestEngine_InsufficientCashSurfaces(t *testing.T) {
	pf := portfolio.New(fixed.MustFromString("100"))
	engine := NewEngine()

	_, err := engine.Execute(pf, order(common.DirectionBuy, "100"), quote("100", "100", "10000"), now)
	if !errors.Is(err, portfolio.ErrInsufficientCash) {
		t.Errorf("expected ErrInsufficientCash, got %v", err)
	}
}
