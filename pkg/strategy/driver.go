package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/allenneverland/backtest-server/pkg/common"
)

// State tracks the sandbox lifecycle within one run.
type State int

const (
	StateLoaded State = iota
	StateRunning
	StateSuspended
	StateRolledBack
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateRolledBack:
		return "rolled_back"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MaxRollbacks bounds version rollbacks per run; one more critical fault
// terminates the sandbox for good.
const MaxRollbacks = 3

const defaultStepTimeout = 100 * time.Millisecond

var (
	ErrTerminated       = errors.New("strategy terminated")
	ErrNoStableVersion  = errors.New("no stable version to roll back to")
	ErrRollbackExceeded = errors.New("rollback budget exhausted")
)

// Driver owns the sandbox for one run: it loads the newest strategy
// version, enforces the per-step budget, swallows non-critical faults and
// rolls back to the last stable version on critical ones.
type Driver struct {
	runtime  Runtime
	versions []common.StrategyVersion

	compiled   Compiled
	checkpoint Compiled
	current    int
	state      State
	rollbacks  int

	stepTimeout time.Duration
	logger      *slog.Logger
}

type DriverOption func(*Driver)

func WithStepTimeout(d time.Duration) DriverOption {
	return func(drv *Driver) {
		if d > 0 {
			drv.stepTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) DriverOption {
	return func(drv *Driver) {
		drv.logger = logger
	}
}

func NewDriver(runtime Runtime, versions []common.StrategyVersion, options ...DriverOption) *Driver {
	drv := &Driver{
		runtime:     runtime,
		versions:    versions,
		current:     -1,
		state:       StateLoaded,
		stepTimeout: defaultStepTimeout,
		logger:      slog.Default(),
	}
	for _, option := range options {
		option(drv)
	}
	return drv
}

func (d *Driver) State() State {
	return d.state
}

func (d *Driver) Rollbacks() int {
	return d.rollbacks
}

func (d *Driver) CurrentVersion() (common.StrategyVersion, bool) {
	if d.current < 0 || d.current >= len(d.versions) {
		return common.StrategyVersion{}, false
	}
	return d.versions[d.current], true
}

// Load compiles the newest version. The run cannot start without it, so a
// compile failure here is terminal.
func (d *Driver) Load(ctx context.Context) error {
	if len(d.versions) == 0 {
		d.state = StateTerminated
		return fmt.Errorf("%w: no versions", ErrTerminated)
	}

	index := len(d.versions) - 1
	compiled, err := d.runtime.Compile(ctx, d.versions[index].Source)
	if err != nil {
		d.state = StateTerminated
		return fmt.Errorf("load %s: %w", d.versions[index].Label, err)
	}

	d.compiled = compiled
	d.current = index
	d.state = StateRunning
	d.logger.Debug("strategy loaded",
		"component", componentName,
		"version", d.versions[index].Label,
		"stable", d.versions[index].Stable)
	return nil
}

// Checkpoint snapshots the sandbox state. A later rollback onto the same
// version resumes from here instead of a cold recompile.
func (d *Driver) Checkpoint() {
	if d.state == StateRunning && d.compiled != nil {
		d.checkpoint = d.compiled.Clone()
	}
}

// Step evaluates the strategy against one event under the step deadline.
// Non-critical faults drop the step's output and keep running; critical
// ones go through the rollback path. Signals returned after a rollback
// belong to the newly active version's first step, not this event.
func (d *Driver) Step(ctx context.Context, snapshot *Snapshot) ([]common.Signal, error) {
	if d.state != StateRunning {
		return nil, fmt.Errorf("%w: state %s", ErrTerminated, d.state)
	}

	stepCtx, cancel := context.WithTimeout(ctx, d.stepTimeout)
	defer cancel()

	signals, err := d.runtime.Step(stepCtx, d.compiled, snapshot)
	if err == nil {
		return signals, nil
	}

	var rerr *RuntimeError
	if !errors.As(err, &rerr) {
		rerr = classify("step", err)
	}
	if !rerr.Critical() {
		d.logger.Warn("strategy step fault ignored",
			"component", componentName,
			"error", rerr.Err)
		return nil, nil
	}

	// Parent cancellation is the run being torn down, not a sandbox fault.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, d.Trip(ctx, rerr)
}

// Trip forces the critical-fault path. The orchestrator calls it directly
// when a strategy-caused invariant breach surfaces outside the sandbox.
func (d *Driver) Trip(ctx context.Context, cause error) error {
	if d.state == StateTerminated {
		return fmt.Errorf("%w: %w", ErrTerminated, cause)
	}
	d.state = StateSuspended
	d.logger.Warn("strategy suspended",
		"component", componentName,
		"rollbacks", d.rollbacks,
		"error", cause)

	if err := d.rollback(ctx, cause); err != nil {
		d.state = StateTerminated
		return err
	}
	d.state = StateRunning
	return nil
}

// rollback replaces the active version with the last stable one at or
// below it. Rolling back onto the already-active version restores the
// latest checkpoint when one exists.
func (d *Driver) rollback(ctx context.Context, cause error) error {
	if d.rollbacks >= MaxRollbacks {
		return fmt.Errorf("%w after %d attempts: %w", ErrRollbackExceeded, d.rollbacks, cause)
	}
	d.rollbacks++

	target := -1
	for i := d.current; i >= 0; i-- {
		if d.versions[i].Stable {
			target = i
			break
		}
	}
	if target < 0 {
		return fmt.Errorf("%w: %w", ErrNoStableVersion, cause)
	}

	if target == d.current && d.checkpoint != nil {
		d.compiled = d.checkpoint.Clone()
	} else {
		compiled, err := d.runtime.Compile(ctx, d.versions[target].Source)
		if err != nil {
			return fmt.Errorf("rollback compile %s: %w", d.versions[target].Label, err)
		}
		d.compiled = compiled
		d.checkpoint = nil
	}

	d.logger.Info("strategy rolled back",
		"component", componentName,
		"from", d.versions[d.current].Label,
		"to", d.versions[target].Label,
		"rollbacks", d.rollbacks)
	d.current = target
	d.state = StateRolledBack
	return nil
}
