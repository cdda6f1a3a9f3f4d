package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/allenneverland/backtest-server/pkg/common"
)

const schedulerComponentName = "engine.scheduler"

var (
	ErrUnknownRun    = errors.New("unknown run")
	ErrSchedulerBusy = errors.New("scheduler at capacity")
	ErrNotFinished   = errors.New("run has not finished")
	ErrAlreadyDone   = errors.New("run already finished")
)

// OrchestratorFactory builds the orchestrator for one accepted task. The
// scheduler owns the returned orchestrator's lifecycle.
type OrchestratorFactory func(task common.Task) (*Orchestrator, error)

// ReportRecorder persists final run reports.
type ReportRecorder interface {
	SaveReport(ctx context.Context, runID uuid.UUID, report any) error
}

type run struct {
	orch   *Orchestrator
	cancel context.CancelFunc
	done   chan struct{}

	// Written once by the worker before done closes.
	final  common.Task
	report Report
}

// Scheduler runs backtests concurrently on a bounded worker pool. Each run
// stays isolated: its own orchestrator, portfolio and sandbox; the pool
// only bounds how many advance at once.
type Scheduler struct {
	factory  OrchestratorFactory
	workers  int
	backlog  chan uuid.UUID
	logger   *slog.Logger
	recorder TaskRecorder
	reports  ReportRecorder

	mu       sync.RWMutex
	runs     map[uuid.UUID]*run
	watchers map[uuid.UUID][]chan common.Progress

	wg      sync.WaitGroup
	started bool
}

type SchedulerOption func(*Scheduler)

func WithWorkers(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithBacklog(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.backlog = make(chan uuid.UUID, n)
		}
	}
}

func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithSchedulerRecorder(recorder TaskRecorder) SchedulerOption {
	return func(s *Scheduler) {
		s.recorder = recorder
	}
}

func WithReportRecorder(reports ReportRecorder) SchedulerOption {
	return func(s *Scheduler) {
		s.reports = reports
	}
}

func NewScheduler(factory OrchestratorFactory, options ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		factory:  factory,
		workers:  4,
		backlog:  make(chan uuid.UUID, 64),
		logger:   slog.Default(),
		runs:     make(map[uuid.UUID]*run),
		watchers: make(map[uuid.UUID][]chan common.Progress),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Start launches the worker pool. Workers exit when ctx is cancelled and
// the backlog drains.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.logger.Info("scheduler started",
		"component", schedulerComponentName,
		"workers", s.workers,
		"backlog", cap(s.backlog))
}

// Wait blocks until every worker has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Submit accepts a task, assigns its run id and queues it for execution.
func (s *Scheduler) Submit(ctx context.Context, task common.Task) (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("mint run id: %w", err)
	}
	task.RunID = id
	task.Status = common.TaskStatusCreated
	task.CreatedAt = time.Now().UTC()

	orch, err := s.factory(task)
	if err != nil {
		return uuid.Nil, fmt.Errorf("build orchestrator: %w", err)
	}

	r := &run{
		orch: orch,
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.runs[id] = r
	s.mu.Unlock()

	select {
	case s.backlog <- id:
	default:
		s.mu.Lock()
		delete(s.runs, id)
		s.mu.Unlock()
		return uuid.Nil, ErrSchedulerBusy
	}

	if s.recorder != nil {
		if err := s.recorder.UpsertTask(ctx, task); err != nil {
			s.logger.Warn("task persistence failed",
				"component", schedulerComponentName,
				"run_id", id,
				"error", err)
		}
	}
	s.logger.Info("run submitted",
		"component", schedulerComponentName,
		"run_id", id,
		"strategy", task.StrategyRef)
	return id, nil
}

// Status returns the task's current state, live or terminal.
func (s *Scheduler) Status(id uuid.UUID) (common.Task, error) {
	s.mu.RLock()
	r, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return common.Task{}, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}

	select {
	case <-r.done:
		return r.final, nil
	default:
		return r.orch.Task(), nil
	}
}

// Result returns the report of a completed run.
func (s *Scheduler) Result(id uuid.UUID) (Report, error) {
	s.mu.RLock()
	r, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}

	select {
	case <-r.done:
	default:
		return Report{}, fmt.Errorf("%w: %s", ErrNotFinished, id)
	}
	if r.final.Status != common.TaskStatusCompleted {
		return Report{}, fmt.Errorf("run %s finished as %s", id, r.final.Status)
	}
	return r.report, nil
}

// Cancel requests cooperative cancellation. The run keeps its partial
// results and lands in the cancelled terminal state.
func (s *Scheduler) Cancel(id uuid.UUID) error {
	// The whole decision runs under the lock: the worker claims a run by
	// setting r.cancel under the same lock, so holding it here rules out
	// cancelling a run the worker is about to start.
	s.mu.Lock()
	r, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}

	select {
	case <-r.done:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyDone, id)
	default:
	}
	queued := r.cancel == nil
	if queued {
		// Still in the backlog, mark so the worker skips it.
		r.final = r.orch.Task()
		r.final.Status = common.TaskStatusCancelled
		r.final.FinishedAt = time.Now().UTC()
		close(r.done)
	} else {
		r.cancel()
	}
	s.mu.Unlock()

	if queued {
		// The worker will skip this run, so it never reaches the terminal
		// bookkeeping that releases watchers.
		s.closeWatchers(id)
	}
	s.logger.Info("run cancel requested",
		"component", schedulerComponentName,
		"run_id", id)
	return nil
}

// Watch subscribes to the run's progress stream. The returned stop func
// must be called to release the subscription; the channel closes when the
// run reaches a terminal state.
func (s *Scheduler) Watch(id uuid.UUID) (<-chan common.Progress, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}

	ch := make(chan common.Progress, 16)
	select {
	case <-r.done:
		close(ch)
		return ch, func() {}, nil
	default:
	}

	s.watchers[id] = append(s.watchers[id], ch)
	stop := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.watchers[id]
		for i, sub := range subs {
			if sub == ch {
				s.watchers[id] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, stop, nil
}

func (s *Scheduler) worker(ctx context.Context, index int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.backlog:
			s.execute(ctx, index, id)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, index int, id uuid.UUID) {
	s.mu.Lock()
	r, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	select {
	case <-r.done:
		// Cancelled before it ever started.
		s.mu.Unlock()
		return
	default:
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	r.orch.Router().ProgressHandler = func(_ context.Context, progress common.Progress) {
		s.fanOut(id, progress)
	}

	s.logger.Debug("run starting",
		"component", schedulerComponentName,
		"worker", index,
		"run_id", id)

	report, err := r.orch.Run(runCtx)
	if err != nil {
		s.logger.Warn("run finished with error",
			"component", schedulerComponentName,
			"run_id", id,
			"error", err)
	} else if s.reports != nil {
		if err := s.reports.SaveReport(context.WithoutCancel(runCtx), id, report); err != nil {
			s.logger.Warn("report persistence failed",
				"component", schedulerComponentName,
				"run_id", id,
				"error", err)
		}
	}

	s.mu.Lock()
	r.final = r.orch.Task()
	r.report = report
	close(r.done)
	s.mu.Unlock()

	s.closeWatchers(id)
}

func (s *Scheduler) fanOut(id uuid.UUID, progress common.Progress) {
	s.mu.RLock()
	subs := s.watchers[id]
	s.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- progress:
		default:
			// Slow watcher, drop rather than stall the run.
		}
	}
}

func (s *Scheduler) closeWatchers(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.watchers[id] {
		close(sub)
	}
	delete(s.watchers, id)
}
