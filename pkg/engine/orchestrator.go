package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/allenneverland/backtest-server/pkg/bus"
	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/event"
	"github.com/allenneverland/backtest-server/pkg/market"
	"github.com/allenneverland/backtest-server/pkg/matching"
	"github.com/allenneverland/backtest-server/pkg/portfolio"
	"github.com/allenneverland/backtest-server/pkg/risk"
	"github.com/allenneverland/backtest-server/pkg/strategy"
	"github.com/allenneverland/backtest-server/pkg/utility"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

const componentName = "engine.orchestrator"

// Config carries the run-loop tuning knobs. Zero values fall back to the
// defaults below.
type Config struct {
	Prefetch         int
	BatchSize        int
	LowWater         int
	CheckpointEvery  uint64
	ProgressEvery    uint64
	SnapshotInterval time.Duration
	HistoryDepth     int
	Limits           risk.Limits
}

func (c Config) withDefaults() Config {
	if c.Prefetch <= 0 {
		c.Prefetch = 4096
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1024
	}
	if c.LowWater <= 0 {
		c.LowWater = 256
	}
	if c.CheckpointEvery == 0 {
		c.CheckpointEvery = 10000
	}
	if c.ProgressEvery == 0 {
		c.ProgressEvery = 1000
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = time.Minute
	}
	if c.HistoryDepth <= 0 {
		c.HistoryDepth = 512
	}
	return c
}

// TaskRecorder persists task state transitions. Persistence faults are
// logged and never stop a run.
type TaskRecorder interface {
	UpsertTask(ctx context.Context, task common.Task) error
}

// Orchestrator drives one backtest run end to end: data preparation, the
// event loop, strategy evaluation, risk checks, matching and result
// collection. One orchestrator per run, the loop is single-threaded.
type Orchestrator struct {
	task     common.Task
	provider market.Provider
	driver   *strategy.Driver
	matcher  *matching.Engine
	router   *bus.Router
	audit    *Audit
	cfg      Config
	logger   *slog.Logger
	recorder TaskRecorder

	queue   *event.Queue
	gen     *event.Generator
	board   *market.Board
	history *market.History
	pf      *portfolio.Portfolio

	peakEquity  fixed.Point
	lastTradeAt map[string]time.Time
	streamDone  bool
	simTime     time.Time

	// mu guards task for concurrent Status reads while the loop runs.
	mu sync.RWMutex
}

type OrchestratorOption func(*Orchestrator)

func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithTaskRecorder(recorder TaskRecorder) OrchestratorOption {
	return func(o *Orchestrator) {
		o.recorder = recorder
	}
}

func WithRouter(router *bus.Router) OrchestratorOption {
	return func(o *Orchestrator) {
		o.router = router
	}
}

func NewOrchestrator(
	task common.Task,
	provider market.Provider,
	driver *strategy.Driver,
	matcher *matching.Engine,
	cfg Config,
	options ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		task:        task,
		provider:    provider,
		driver:      driver,
		matcher:     matcher,
		cfg:         cfg.withDefaults(),
		logger:      slog.Default(),
		router:      bus.NewRouter(4096),
		lastTradeAt: make(map[string]time.Time),
	}
	for _, option := range options {
		option(o)
	}
	o.audit = NewAudit(o.cfg.SnapshotInterval)
	return o
}

// Task returns a copy of the current task state, safe to call from other
// goroutines while the run is in flight.
func (o *Orchestrator) Task() common.Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.task
}

// Router exposes the record router so callers can attach observer chains
// before Run starts.
func (o *Orchestrator) Router() *bus.Router {
	return o.router
}

// Run executes the full state machine. It returns the final report on
// success; on failure the returned error matches the task's recorded
// TaskError.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	utility.ResetExecutionID()

	o.transition(ctx, common.TaskStatusInitializing, func(t *common.Task) {
		t.StartedAt = time.Now().UTC()
	})
	if err := o.initialize(ctx); err != nil {
		return Report{}, o.fail(ctx, common.ErrCodeInternal, err)
	}
	defer o.gen.Close()

	o.transition(ctx, common.TaskStatusPreparingData, nil)
	if err := o.prepareData(ctx); err != nil {
		code := common.ErrCodeInternal
		if errors.Is(err, market.ErrDataGap) {
			code = common.ErrCodeDataGap
		}
		return Report{}, o.fail(ctx, code, err)
	}

	o.transition(ctx, common.TaskStatusRunning, nil)
	if err := o.loop(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return Report{}, o.cancel(ctx)
		}
		return Report{}, o.fail(ctx, failureCode(err), err)
	}

	o.transition(ctx, common.TaskStatusCollectingResults, nil)
	report := o.audit.GenerateReport()
	o.router.Drain(ctx)
	o.postProgress(ctx, common.TaskStatusCollectingResults)

	o.transition(ctx, common.TaskStatusCompleted, func(t *common.Task) {
		t.Progress = 1
		t.FinishedAt = time.Now().UTC()
	})
	o.logger.Info("run completed",
		"component", componentName,
		"run_id", o.task.RunID,
		"events", o.task.EventsProcessed,
		"trades", report.TotalTrades)
	return report, nil
}

func (o *Orchestrator) initialize(ctx context.Context) error {
	params := o.task.Parameters
	if len(params.Symbols) == 0 {
		return errors.New("no instruments requested")
	}
	if !params.End.After(params.Start) {
		return fmt.Errorf("empty time range %s..%s", params.Start, params.End)
	}
	if !params.InitialCash.IsPos() {
		return fmt.Errorf("initial cash must be positive, got %s", params.InitialCash)
	}

	freq, err := market.ParseFrequency(params.Frequency)
	if err != nil {
		return err
	}

	if err := o.driver.Load(ctx); err != nil {
		return err
	}

	o.queue = event.NewQueue(o.cfg.Prefetch)
	o.board = market.NewBoard()
	o.history = market.NewHistory(o.cfg.HistoryDepth)
	o.pf = portfolio.New(params.InitialCash)
	o.peakEquity = params.InitialCash
	o.simTime = params.Start

	genOptions := []event.GeneratorOption{}
	if params.GapTolerant {
		genOptions = append(genOptions, event.WithGapTolerance())
	}
	o.gen = event.NewGenerator(o.provider, params.Symbols, params.Start, params.End, freq, genOptions...)
	return nil
}

func (o *Orchestrator) prepareData(ctx context.Context) error {
	if err := o.gen.Open(ctx); err != nil {
		return err
	}
	n, err := o.gen.Pump(ctx, o.queue, o.cfg.Prefetch)
	if err != nil && !errors.Is(err, event.ErrEndOfStream) {
		return err
	}
	o.streamDone = errors.Is(err, event.ErrEndOfStream)
	o.logger.Debug("data prepared",
		"component", componentName,
		"run_id", o.task.RunID,
		"prefetched", n)
	return nil
}

func (o *Orchestrator) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !o.streamDone && o.queue.Len() < o.cfg.LowWater {
			if _, err := o.gen.Pump(ctx, o.queue, o.cfg.BatchSize); err != nil {
				if !errors.Is(err, event.ErrEndOfStream) {
					return err
				}
				o.streamDone = true
			}
		}

		ev, ok := o.queue.Pop()
		if !ok {
			if o.streamDone {
				return nil
			}
			continue
		}

		if err := o.processEvent(ctx, ev); err != nil {
			return err
		}
		o.router.Drain(ctx)
		o.housekeeping(ctx, ev)
	}
}

// processEvent is one full loop step: world update, strategy evaluation,
// risk filtering, matching and settlement. Derived events go back through
// the queue so they are delivered in timestamp order like everything else.
func (o *Orchestrator) processEvent(ctx context.Context, ev event.Event) error {
	o.simTime = ev.Time

	switch ev.Type {
	case event.TypeBar:
		o.board.Update(market.Datum{Symbol: ev.Symbol, Time: ev.Time, Bar: ev.Bar})
		o.history.Push(ev.Symbol, ev.Bar.Close)
	case event.TypeTick:
		o.board.Update(market.Datum{Symbol: ev.Symbol, Time: ev.Time, Tick: ev.Tick})
	case event.TypeOrderFilled:
		if err := o.router.Post(bus.TradeRecord, *ev.Trade); err != nil {
			o.logger.Warn("trade record dropped", "component", componentName, "error", err)
		}
		o.publishPositionChange(ev)
	case event.TypePositionChanged:
		if err := o.router.Post(bus.PositionRecord, *ev.Position); err != nil {
			o.logger.Warn("position record dropped", "component", componentName, "error", err)
		}
	}

	equity := o.pf.TotalEquity(o.board)
	if equity.Gt(o.peakEquity) {
		o.peakEquity = equity
	}

	signals, err := o.driver.Step(ctx, o.snapshot(ev, equity))
	if err != nil {
		return err
	}

	orders, rejections := o.validateSignals(signals, equity, ev.Time)
	for _, rejection := range rejections {
		if err := o.router.Post(bus.SignalRejectionRecord, rejection); err != nil {
			o.logger.Warn("rejection record dropped", "component", componentName, "error", err)
		}
	}

	for _, order := range orders {
		if err := o.executeOrder(ctx, order, ev.Time); err != nil {
			return err
		}
	}

	if ev.Type == event.TypeBar || ev.Type == event.TypeSessionClose {
		o.publishEquity(ev.Time, equity)
	}
	o.audit.AddAccountSnapshot(o.pf.AvailableCash(), equity, ev.Time)

	o.bumpProcessed()
	return nil
}

func (o *Orchestrator) validateSignals(signals []common.Signal, equity fixed.Point, now time.Time) ([]common.Order, []common.SignalRejected) {
	if len(signals) == 0 {
		return nil, nil
	}
	for _, signal := range signals {
		if err := o.router.Post(bus.SignalRecord, signal); err != nil {
			o.logger.Warn("signal record dropped", "component", componentName, "error", err)
		}
	}

	view := risk.View{
		Cash:        o.pf.AvailableCash(),
		Equity:      equity,
		PeakEquity:  o.peakEquity,
		Positions:   o.positionsBySymbol(),
		LastTradeAt: o.lastTradeAt,
		Price:       o.board.Price,
	}
	return risk.Validate(signals, view, o.cfg.Limits, now)
}

// executeOrder runs one admitted order through matching. A fill comes back
// as an OrderFilled event through the queue; settlement faults caused by
// the strategy overdrawing the account trip the sandbox instead of
// failing the run outright.
func (o *Orchestrator) executeOrder(ctx context.Context, order common.Order, now time.Time) error {
	if err := o.router.Post(bus.OrderRecord, order); err != nil {
		o.logger.Warn("order record dropped", "component", componentName, "error", err)
	}

	quote, ok := o.board.Quote(order.Symbol)
	if !ok {
		return fmt.Errorf("%w: %s never quoted", matching.ErrNoLiquidity, order.Symbol)
	}

	trade, err := o.matcher.Execute(o.pf, order, quote, now)
	if err != nil {
		if errors.Is(err, portfolio.ErrInsufficientCash) {
			return o.driver.Trip(ctx, err)
		}
		return err
	}
	if trade == nil {
		return nil
	}

	o.lastTradeAt[order.Symbol] = now
	if trade.Effect == common.PositionEffectClose {
		if position, ok := o.pf.Position(order.Symbol); ok {
			o.audit.AddRoundTrip(position.RealizedPnL, position.OpenTime, now)
		}
	}

	fill := event.OrderFilled(trade)
	if err := o.queue.Push(fill); err != nil {
		return fmt.Errorf("queue fill event: %w", err)
	}
	return nil
}

func (o *Orchestrator) publishPositionChange(ev event.Event) {
	position, ok := o.pf.Position(ev.Symbol)
	if !ok {
		return
	}
	changed := event.PositionChanged(&position)
	if err := o.queue.Push(changed); err != nil {
		o.logger.Warn("position event dropped", "component", componentName, "error", err)
	}
}

func (o *Orchestrator) publishEquity(now time.Time, value fixed.Point) {
	equity := common.Equity{
		Cash:        o.pf.AvailableCash(),
		Value:       value,
		Source:      componentName,
		ExecutionId: utility.GetExecutionID(),
		TraceID:     utility.CreateTraceID(),
		TimeStamp:   now,
	}
	if err := o.router.Post(bus.EquityRecord, equity); err != nil {
		o.logger.Warn("equity record dropped", "component", componentName, "error", err)
	}
}

func (o *Orchestrator) snapshot(ev event.Event, equity fixed.Point) *strategy.Snapshot {
	return &strategy.Snapshot{
		Event:     ev,
		Time:      ev.Time,
		Board:     o.board,
		History:   o.history,
		Cash:      o.pf.AvailableCash(),
		Equity:    equity,
		Positions: o.positionsBySymbol(),
	}
}

func (o *Orchestrator) positionsBySymbol() map[string]common.Position {
	positions := o.pf.Positions()
	out := make(map[string]common.Position, len(positions))
	for _, position := range positions {
		out[position.Symbol] = position
	}
	return out
}

func (o *Orchestrator) housekeeping(ctx context.Context, ev event.Event) {
	processed := o.Task().EventsProcessed
	if processed%o.cfg.CheckpointEvery == 0 {
		o.driver.Checkpoint()
	}
	if processed%o.cfg.ProgressEvery == 0 {
		o.updateProgress(ev.Time)
		o.postProgress(ctx, common.TaskStatusRunning)
		o.recordTask(ctx)
	}
}

// updateProgress maps simulation time onto the requested range.
func (o *Orchestrator) updateProgress(simTime time.Time) {
	params := o.task.Parameters
	total := params.End.Sub(params.Start)
	if total <= 0 {
		return
	}
	fraction := float64(simTime.Sub(params.Start)) / float64(total)
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	o.mu.Lock()
	o.task.Progress = fraction
	o.mu.Unlock()
}

func (o *Orchestrator) postProgress(ctx context.Context, status common.TaskStatus) {
	task := o.Task()
	progress := common.Progress{
		RunID:           task.RunID,
		Status:          status,
		Percent:         task.Progress,
		EventsProcessed: task.EventsProcessed,
		SimTime:         o.simTime,
		Source:          componentName,
		ExecutionId:     utility.GetExecutionID(),
		TraceID:         utility.CreateTraceID(),
		TimeStamp:       time.Now().UTC(),
	}
	if err := o.router.Post(bus.ProgressRecord, progress); err != nil {
		o.logger.Debug("progress record dropped", "component", componentName, "error", err)
	}
	o.router.Drain(ctx)
}

func (o *Orchestrator) bumpProcessed() {
	o.mu.Lock()
	o.task.EventsProcessed++
	o.mu.Unlock()
}

func (o *Orchestrator) transition(ctx context.Context, status common.TaskStatus, mutate func(*common.Task)) {
	o.mu.Lock()
	o.task.Status = status
	if mutate != nil {
		mutate(&o.task)
	}
	o.mu.Unlock()

	o.logger.Info("state transition",
		"component", componentName,
		"run_id", o.task.RunID,
		"status", status)
	o.recordTask(ctx)
}

func (o *Orchestrator) fail(ctx context.Context, code string, cause error) error {
	version := ""
	if current, ok := o.driver.CurrentVersion(); ok && current.Stable {
		version = current.Label
	}
	task := o.Task()
	taskErr := &common.TaskError{
		Code:              code,
		Message:           cause.Error(),
		LastEventIndex:    task.EventsProcessed,
		LastStableVersion: version,
		RollbackCount:     o.driver.Rollbacks(),
	}

	o.transition(ctx, common.TaskStatusFailed, func(t *common.Task) {
		t.Error = taskErr
		t.FinishedAt = time.Now().UTC()
	})
	o.postProgress(ctx, common.TaskStatusFailed)
	o.logger.Error("run failed",
		"component", componentName,
		"run_id", o.task.RunID,
		"code", code,
		"error", cause)
	return cause
}

func (o *Orchestrator) cancel(ctx context.Context) error {
	o.transition(ctx, common.TaskStatusCancelled, func(t *common.Task) {
		t.Error = &common.TaskError{
			Code:           common.ErrCodeCancelled,
			Message:        "run cancelled",
			LastEventIndex: t.EventsProcessed,
			RollbackCount:  o.driver.Rollbacks(),
		}
		t.FinishedAt = time.Now().UTC()
	})
	o.postProgress(context.WithoutCancel(ctx), common.TaskStatusCancelled)
	o.logger.Info("run cancelled",
		"component", componentName,
		"run_id", o.task.RunID)
	return context.Canceled
}

func (o *Orchestrator) recordTask(ctx context.Context) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.UpsertTask(context.WithoutCancel(ctx), o.Task()); err != nil {
		o.logger.Warn("task persistence failed",
			"component", componentName,
			"run_id", o.task.RunID,
			"error", err)
	}
}

func failureCode(err error) string {
	var rerr *strategy.RuntimeError
	switch {
	case errors.Is(err, strategy.ErrRollbackExceeded):
		return common.ErrCodeRollbackExceeded
	case errors.Is(err, strategy.ErrNoStableVersion), errors.Is(err, strategy.ErrTerminated):
		return common.ErrCodeStrategyRuntime
	case errors.As(err, &rerr):
		return common.ErrCodeStrategyRuntime
	case errors.Is(err, market.ErrDataGap):
		return common.ErrCodeDataGap
	case errors.Is(err, matching.ErrNoLiquidity):
		return common.ErrCodeNoLiquidity
	default:
		return common.ErrCodeInternal
	}
}
