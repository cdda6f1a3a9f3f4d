package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allenneverland/backtest-server/pkg/common"
)

// fakeRuntime scripts the runtime's behavior per step for driver tests.
type fakeRuntime struct {
	compileErr  map[string]error
	stepResults []stepResult
	stepIndex   int
	compiles    []string
}

type stepResult struct {
	signals []common.Signal
	err     error
}

type fakeCompiled struct {
	source string
	clones int
}

func (f *fakeCompiled) Clone() Compiled {
	f.clones++
	return &fakeCompiled{source: f.source}
}

func (r *fakeRuntime) Compile(_ context.Context, source string) (Compiled, error) {
	r.compiles = append(r.compiles, source)
	if err := r.compileErr[source]; err != nil {
		return nil, criticalError("compile", err)
	}
	return &fakeCompiled{source: source}, nil
}

func (r *fakeRuntime) Step(_ context.Context, _ Compiled, _ *Snapshot) ([]common.Signal, error) {
	if r.stepIndex >= len(r.stepResults) {
		return nil, nil
	}
	result := r.stepResults[r.stepIndex]
	r.stepIndex++
	return result.signals, result.err
}

func versions(specs ...struct {
	label  string
	stable bool
}) []common.StrategyVersion {
	out := make([]common.StrategyVersion, len(specs))
	for i, s := range specs {
		out[i] = common.StrategyVersion{Label: s.label, Source: s.label, Stable: s.stable}
	}
	return out
}

func v(label string, stable bool) struct {
	label  string
	stable bool
} {
	return struct {
		label  string
		stable bool
	}{label, stable}
}

func TestDriver_LoadPicksNewestVersion(t *testing.T) {
	rt := &fakeRuntime{}
	d := NewDriver(rt, versions(v("v1", true), v("v2", false)))

	require.NoError(t, d.Load(context.Background()))
	assert.Equal(t, StateRunning, d.State())

	current, ok := d.CurrentVersion()
	require.True(t, ok)
	assert.Equal(t, "v2", current.Label)
}

func TestDriver_LoadWithNoVersionsTerminates(t *testing.T) {
	d := NewDriver(&fakeRuntime{}, nil)
	err := d.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateTerminated, d.State())
}

func TestDriver_NonCriticalFaultIsSwallowed(t *testing.T) {
	rt := &fakeRuntime{
		stepResults: []stepResult{
			{err: &RuntimeError{Class: ClassNonCritical, Op: "step", Err: errors.New("script hiccup")}},
			{signals: []common.Signal{{Symbol: "ACME"}}},
		},
	}
	d := NewDriver(rt, versions(v("v1", true)))
	require.NoError(t, d.Load(context.Background()))

	// Faulting step yields nothing but the driver keeps running.
	signals, err := d.Step(context.Background(), &Snapshot{})
	require.NoError(t, err)
	assert.Empty(t, signals)
	assert.Equal(t, StateRunning, d.State())
	assert.Zero(t, d.Rollbacks())

	signals, err = d.Step(context.Background(), &Snapshot{})
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestDriver_CriticalFaultRollsBackToStable(t *testing.T) {
	rt := &fakeRuntime{
		stepResults: []stepResult{
			{err: criticalError("step", errors.New("runaway loop"))},
		},
	}
	d := NewDriver(rt, versions(v("v1", true), v("v2", false)))
	require.NoError(t, d.Load(context.Background()))

	_, err := d.Step(context.Background(), &Snapshot{})
	require.NoError(t, err, "successful rollback must not kill the run")

	assert.Equal(t, StateRunning, d.State())
	assert.Equal(t, 1, d.Rollbacks())
	current, _ := d.CurrentVersion()
	assert.Equal(t, "v1", current.Label)
	// v2 loaded first, then v1 recompiled for the rollback.
	assert.Equal(t, []string{"v2", "v1"}, rt.compiles)
}

func TestDriver_NoStableVersionTerminates(t *testing.T) {
	rt := &fakeRuntime{
		stepResults: []stepResult{
			{err: criticalError("step", errors.New("boom"))},
		},
	}
	d := NewDriver(rt, versions(v("v1", false), v("v2", false)))
	require.NoError(t, d.Load(context.Background()))

	_, err := d.Step(context.Background(), &Snapshot{})
	require.ErrorIs(t, err, ErrNoStableVersion)
	assert.Equal(t, StateTerminated, d.State())

	// Terminated drivers refuse further steps.
	_, err = d.Step(context.Background(), &Snapshot{})
	require.ErrorIs(t, err, ErrTerminated)
}

func TestDriver_RollbackBudgetExhausts(t *testing.T) {
	faults := make([]stepResult, MaxRollbacks+1)
	for i := range faults {
		faults[i] = stepResult{err: criticalError("step", errors.New("boom"))}
	}
	rt := &fakeRuntime{stepResults: faults}
	d := NewDriver(rt, versions(v("v1", true)))
	require.NoError(t, d.Load(context.Background()))

	for i := 0; i < MaxRollbacks; i++ {
		_, err := d.Step(context.Background(), &Snapshot{})
		require.NoError(t, err, "rollback %d should succeed", i+1)
	}
	assert.Equal(t, MaxRollbacks, d.Rollbacks())

	_, err := d.Step(context.Background(), &Snapshot{})
	require.ErrorIs(t, err, ErrRollbackExceeded)
	assert.Equal(t, StateTerminated, d.State())
}

func TestDriver_CheckpointRestoredOnSameVersionRollback(t *testing.T) {
	rt := &fakeRuntime{
		stepResults: []stepResult{
			{signals: nil},
			{err: criticalError("step", errors.New("boom"))},
		},
	}
	d := NewDriver(rt, versions(v("v1", true)))
	require.NoError(t, d.Load(context.Background()))

	_, err := d.Step(context.Background(), &Snapshot{})
	require.NoError(t, err)
	d.Checkpoint()

	_, err = d.Step(context.Background(), &Snapshot{})
	require.NoError(t, err)

	// Rolled back onto the same stable version via the checkpoint, not a
	// recompile.
	assert.Equal(t, []string{"v1"}, rt.compiles)
	assert.Equal(t, 1, d.Rollbacks())
}

func TestDriver_TripFromOutside(t *testing.T) {
	rt := &fakeRuntime{}
	d := NewDriver(rt, versions(v("v1", true), v("v2", false)))
	require.NoError(t, d.Load(context.Background()))

	err := d.Trip(context.Background(), errors.New("portfolio overdraw"))
	require.NoError(t, err)
	assert.Equal(t, StateRunning, d.State())
	assert.Equal(t, 1, d.Rollbacks())
}

func TestDriver_ParentCancellationIsNotAFault(t *testing.T) {
	rt := &fakeRuntime{
		stepResults: []stepResult{
			{err: classify("step", context.Canceled)},
		},
	}
	d := NewDriver(rt, versions(v("v1", true)), WithStepTimeout(time.Second))
	require.NoError(t, d.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Step(ctx, &Snapshot{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, d.Rollbacks(), "cancellation must not consume the rollback budget")
}
