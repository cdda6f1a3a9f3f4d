package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/utility"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

const componentName = "strategy.tengo"

const defaultMaxAllocs = 256 * 1024

// allowedModules is the import surface scripts may reach. Everything with
// I/O, networking or process access stays out.
var allowedModules = []string{"math", "text", "times", "fmt", "enum"}

// TengoRuntime executes strategies written in the Tengo scripting language.
// The sandbox exposes market reads, indicator helpers and order intents as
// builtin functions; scripts cannot touch engine state directly. One
// runtime serves one run and is not safe for concurrent use.
type TengoRuntime struct {
	maxAllocs int64

	// step-scoped state read by the builtin closures
	snapshot *Snapshot
	signals  []common.Signal
}

type TengoOption func(*TengoRuntime)

// WithMaxAllocs caps the number of object allocations a single script
// lifetime may perform.
func WithMaxAllocs(n int64) TengoOption {
	return func(r *TengoRuntime) {
		r.maxAllocs = n
	}
}

func NewTengoRuntime(options ...TengoOption) *TengoRuntime {
	r := &TengoRuntime{maxAllocs: defaultMaxAllocs}
	for _, option := range options {
		option(r)
	}
	return r
}

type tengoCompiled struct {
	c *tengo.Compiled
}

func (t *tengoCompiled) Clone() Compiled {
	return &tengoCompiled{c: t.c.Clone()}
}

// Compile parses and compiles strategy source with the sandbox builtins
// bound. Compilation failures are always critical, there is nothing to
// retry at runtime.
func (r *TengoRuntime) Compile(_ context.Context, source string) (Compiled, error) {
	script := tengo.NewScript([]byte(source))
	script.SetImports(stdlib.GetModuleMap(allowedModules...))
	script.SetMaxAllocs(r.maxAllocs)

	for name, fn := range r.builtins() {
		if err := script.Add(name, &tengo.UserFunction{Name: name, Value: fn}); err != nil {
			return nil, criticalError("compile", fmt.Errorf("bind %s: %w", name, err))
		}
	}

	compiled, err := script.Compile()
	if err != nil {
		return nil, criticalError("compile", err)
	}
	return &tengoCompiled{c: compiled}, nil
}

// Step runs the script once against the given snapshot and collects the
// order intents it emitted. A panic inside the VM is treated as a critical
// sandbox fault.
func (r *TengoRuntime) Step(ctx context.Context, compiled Compiled, snapshot *Snapshot) (signals []common.Signal, err error) {
	tc, ok := compiled.(*tengoCompiled)
	if !ok {
		return nil, criticalError("step", fmt.Errorf("foreign compiled artifact %T", compiled))
	}

	r.snapshot = snapshot
	r.signals = nil
	defer func() {
		r.snapshot = nil
		if rec := recover(); rec != nil {
			err = criticalError("step", fmt.Errorf("sandbox panic: %v", rec))
		}
	}()

	if err := tc.c.RunContext(ctx); err != nil {
		return nil, classify("step", err)
	}
	return r.signals, nil
}

func (r *TengoRuntime) builtins() map[string]tengo.CallableFunc {
	return map[string]tengo.CallableFunc{
		"bid":       r.quoteSide(func(q quoteView) fixed.Point { return q.bid }),
		"ask":       r.quoteSide(func(q quoteView) fixed.Point { return q.ask }),
		"price":     r.quoteSide(func(q quoteView) fixed.Point { return q.mid }),
		"volume":    r.quoteSide(func(q quoteView) fixed.Point { return q.volume }),
		"sma":       r.indicator(func(s string, n int) (fixed.Point, bool) { return r.snapshot.History.SMA(s, n) }),
		"highest":   r.indicator(func(s string, n int) (fixed.Point, bool) { return r.snapshot.History.Highest(s, n) }),
		"lowest":    r.indicator(func(s string, n int) (fixed.Point, bool) { return r.snapshot.History.Lowest(s, n) }),
		"position":  r.positionFn,
		"cash":      r.accountFn(func(s *Snapshot) fixed.Point { return s.Cash }),
		"equity":    r.accountFn(func(s *Snapshot) fixed.Point { return s.Equity }),
		"event":     r.eventFn,
		"buy":       r.orderFn(common.DirectionBuy),
		"sell":      r.orderFn(common.DirectionSell),
		"short":     r.orderFn(common.DirectionShort),
		"cover":     r.orderFn(common.DirectionCover),
		"stop_buy":  r.stopOrderFn(common.DirectionBuy),
		"stop_sell": r.stopOrderFn(common.DirectionSell),
	}
}

type quoteView struct {
	bid, ask, mid, volume fixed.Point
}

func (r *TengoRuntime) quoteSide(pick func(quoteView) fixed.Point) tengo.CallableFunc {
	return func(args ...tengo.Object) (tengo.Object, error) {
		symbol, err := argSymbol(args, 0, 1)
		if err != nil {
			return nil, err
		}
		q, ok := r.snapshot.Board.Quote(symbol)
		if !ok {
			return tengo.UndefinedValue, nil
		}
		view := quoteView{bid: q.Bid, ask: q.Ask, mid: q.Mid(), volume: q.Volume}
		return floatObject(pick(view)), nil
	}
}

func (r *TengoRuntime) indicator(compute func(symbol string, n int) (fixed.Point, bool)) tengo.CallableFunc {
	return func(args ...tengo.Object) (tengo.Object, error) {
		symbol, err := argSymbol(args, 0, 2)
		if err != nil {
			return nil, err
		}
		n, ok := tengo.ToInt(args[1])
		if !ok || n <= 0 {
			return nil, tengo.ErrInvalidArgumentType{Name: "periods", Expected: "positive int", Found: args[1].TypeName()}
		}
		value, ok := compute(symbol, n)
		if !ok {
			return tengo.UndefinedValue, nil
		}
		return floatObject(value), nil
	}
}

func (r *TengoRuntime) positionFn(args ...tengo.Object) (tengo.Object, error) {
	symbol, err := argSymbol(args, 0, 1)
	if err != nil {
		return nil, err
	}
	position, ok := r.snapshot.Positions[symbol]
	if !ok || position.IsFlat() {
		return tengo.UndefinedValue, nil
	}
	return &tengo.Map{Value: map[string]tengo.Object{
		"quantity":       floatObject(position.Quantity),
		"avg_cost":       floatObject(position.AvgCost),
		"realized_pnl":   floatObject(position.RealizedPnL),
		"unrealized_pnl": floatObject(position.UnrealizedPnL),
	}}, nil
}

func (r *TengoRuntime) accountFn(pick func(*Snapshot) fixed.Point) tengo.CallableFunc {
	return func(args ...tengo.Object) (tengo.Object, error) {
		if len(args) != 0 {
			return nil, tengo.ErrWrongNumArguments
		}
		return floatObject(pick(r.snapshot)), nil
	}
}

func (r *TengoRuntime) eventFn(args ...tengo.Object) (tengo.Object, error) {
	if len(args) != 0 {
		return nil, tengo.ErrWrongNumArguments
	}
	return &tengo.Map{Value: map[string]tengo.Object{
		"type":   &tengo.String{Value: r.snapshot.Event.Type.String()},
		"symbol": &tengo.String{Value: r.snapshot.Event.Symbol},
		"time":   &tengo.Int{Value: r.snapshot.Time.UnixMilli()},
	}}, nil
}

// orderFn emits a market intent, or a limit intent when the optional third
// argument carries a price.
func (r *TengoRuntime) orderFn(direction common.Direction) tengo.CallableFunc {
	return func(args ...tengo.Object) (tengo.Object, error) {
		symbol, err := argSymbol(args, 0, 2, 3)
		if err != nil {
			return nil, err
		}
		quantity, err := argPoint(args, 1, "quantity")
		if err != nil {
			return nil, err
		}
		signal := r.newSignal(direction, symbol, quantity)
		if len(args) == 3 {
			limit, err := argPoint(args, 2, "limit_price")
			if err != nil {
				return nil, err
			}
			signal.Type = common.OrderTypeLimit
			signal.Price = limit
		}
		r.signals = append(r.signals, signal)
		return tengo.UndefinedValue, nil
	}
}

func (r *TengoRuntime) stopOrderFn(direction common.Direction) tengo.CallableFunc {
	return func(args ...tengo.Object) (tengo.Object, error) {
		symbol, err := argSymbol(args, 0, 3)
		if err != nil {
			return nil, err
		}
		quantity, err := argPoint(args, 1, "quantity")
		if err != nil {
			return nil, err
		}
		stop, err := argPoint(args, 2, "stop_price")
		if err != nil {
			return nil, err
		}
		signal := r.newSignal(direction, symbol, quantity)
		signal.Type = common.OrderTypeStop
		signal.StopPrice = stop
		r.signals = append(r.signals, signal)
		return tengo.UndefinedValue, nil
	}
}

func (r *TengoRuntime) newSignal(direction common.Direction, symbol string, quantity fixed.Point) common.Signal {
	return common.Signal{
		Direction:   direction,
		Quantity:    quantity,
		Type:        common.OrderTypeMarket,
		Source:      componentName,
		Symbol:      symbol,
		ExecutionId: utility.GetExecutionID(),
		TraceID:     r.snapshot.Event.TraceID,
		TimeStamp:   r.snapshot.Time,
	}
}

func argSymbol(args []tengo.Object, index int, arities ...int) (string, error) {
	valid := false
	for _, arity := range arities {
		if len(args) == arity {
			valid = true
			break
		}
	}
	if !valid {
		return "", tengo.ErrWrongNumArguments
	}
	symbol, ok := tengo.ToString(args[index])
	if !ok || symbol == "" {
		return "", tengo.ErrInvalidArgumentType{Name: "symbol", Expected: "string", Found: args[index].TypeName()}
	}
	return strings.ToUpper(symbol), nil
}

func argPoint(args []tengo.Object, index int, name string) (fixed.Point, error) {
	value, ok := tengo.ToFloat64(args[index])
	if !ok || value <= 0 {
		return fixed.Zero, tengo.ErrInvalidArgumentType{Name: name, Expected: "positive number", Found: args[index].TypeName()}
	}
	return fixed.FromFloat64(value), nil
}

func floatObject(p fixed.Point) tengo.Object {
	value, ok := p.Float64()
	if !ok {
		return tengo.UndefinedValue
	}
	return &tengo.Float{Value: value}
}
