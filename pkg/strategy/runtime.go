package strategy

import (
	"context"
	"time"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/event"
	"github.com/allenneverland/backtest-server/pkg/market"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

// Snapshot is the read-only world state one strategy step may observe:
// the triggering event, latest quotes, the indicator history window and a
// copy of the portfolio view. Strategies never receive references into
// live engine state.
type Snapshot struct {
	Event     event.Event
	Time      time.Time
	Board     *market.Board
	History   *market.History
	Cash      fixed.Point
	Equity    fixed.Point
	Positions map[string]common.Position
}

// Compiled is an opaque executable strategy. The engine never inspects
// strategy internals.
type Compiled interface {
	// Clone snapshots the sandbox state for checkpoint/restore.
	Clone() Compiled
}

// Runtime compiles strategy source and executes one evaluation step per
// event. Implementations must honor ctx cancellation, the driver enforces
// the per-step wall-clock budget through it.
type Runtime interface {
	Compile(ctx context.Context, source string) (Compiled, error)
	Step(ctx context.Context, compiled Compiled, snapshot *Snapshot) ([]common.Signal, error)
}
