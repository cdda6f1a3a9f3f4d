package common

import (
	"time"

	"github.com/google/uuid"

	"github.com/allenneverland/backtest-server/pkg/utility"
)

// Progress is a periodic run-advancement record emitted by the
// orchestrator and fanned out to status watchers.
type Progress struct {
	RunID           uuid.UUID  `json:"run_id"`
	Status          TaskStatus `json:"status"`
	Percent         float64    `json:"percent"`
	EventsProcessed uint64     `json:"events_processed"`
	SimTime         time.Time  `json:"sim_time,omitempty"`

	Source      string              `json:"src,omitempty"`
	ExecutionId utility.ExecutionID `json:"eid,omitempty"`
	TraceID     utility.TraceID     `json:"tid,omitempty"`
	TimeStamp   time.Time           `json:"ts"`
}
