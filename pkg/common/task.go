package common

import (
	"time"

	"github.com/google/uuid"

	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

type TaskStatus string

const (
	TaskStatusCreated           TaskStatus = "created"
	TaskStatusInitializing      TaskStatus = "initializing"
	TaskStatusPreparingData     TaskStatus = "preparing_data"
	TaskStatusRunning           TaskStatus = "running"
	TaskStatusCollectingResults TaskStatus = "collecting_results"
	TaskStatusCompleted         TaskStatus = "completed"
	TaskStatusFailed            TaskStatus = "failed"
	TaskStatusCancelled         TaskStatus = "cancelled"
)

// Terminal reports whether the state machine can advance no further.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Error codes carried by failed tasks.
const (
	ErrCodeDataGap          = "DATA_GAP"
	ErrCodeNoLiquidity      = "NO_LIQUIDITY"
	ErrCodeStrategyRuntime  = "STRATEGY_RUNTIME"
	ErrCodeRollbackExceeded = "ROLLBACK_EXCEEDED"
	ErrCodeInternal         = "INTERNAL"
	ErrCodeCancelled        = "CANCELLED"
)

// TaskError is the structured failure payload: enough detail to diagnose a
// failed run without re-running it.
type TaskError struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	LastEventIndex    uint64 `json:"last_event_index"`
	LastStableVersion string `json:"last_stable_version,omitempty"`
	RollbackCount     int    `json:"rollback_count"`
}

// StrategyVersion is one revision of the submitted strategy source. The
// sandbox driver rolls back through stable versions on critical faults.
type StrategyVersion struct {
	Label  string `json:"label"`
	Source string `json:"source"`
	Stable bool   `json:"stable"`
}

// TaskParameters are the run inputs supplied on submission.
type TaskParameters struct {
	Symbols     []string    `json:"symbols"`
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Frequency   string      `json:"frequency"`
	InitialCash fixed.Point `json:"initial_cash"`
	GapTolerant bool        `json:"gap_tolerant"`
}

// Task is the durable run descriptor. Created on submission, mutated by the
// orchestrator as the state machine advances, terminal once completed,
// failed or cancelled.
type Task struct {
	RunID       uuid.UUID         `json:"run_id"`
	StrategyRef string            `json:"strategy_ref"`
	Versions    []StrategyVersion `json:"versions"`
	Parameters  TaskParameters    `json:"parameters"`

	Status          TaskStatus `json:"status"`
	Progress        float64    `json:"progress"`
	EventsProcessed uint64     `json:"events_processed"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  time.Time  `json:"started_at,omitempty"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
	Error      *TaskError `json:"error,omitempty"`
}
