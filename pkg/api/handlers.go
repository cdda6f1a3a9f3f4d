package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/engine"
	"github.com/allenneverland/backtest-server/pkg/market"
	"github.com/allenneverland/backtest-server/pkg/storage"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

type submitRequest struct {
	StrategyRef string         `json:"strategy_ref" binding:"required"`
	Versions    []versionInput `json:"versions" binding:"required,min=1"`
	Symbols     []string       `json:"symbols" binding:"required,min=1"`
	Start       time.Time      `json:"start" binding:"required"`
	End         time.Time      `json:"end" binding:"required"`
	Frequency   string         `json:"frequency" binding:"required"`
	InitialCash string         `json:"initial_cash" binding:"required"`
	GapTolerant bool           `json:"gap_tolerant"`
}

type versionInput struct {
	Label  string `json:"label" binding:"required"`
	Source string `json:"source" binding:"required"`
	Stable bool   `json:"stable"`
}

func (s *Server) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cash, err := fixed.FromString(req.InitialCash)
	if err != nil || !cash.IsPos() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "initial_cash must be a positive decimal"})
		return
	}
	if _, err := market.ParseFrequency(req.Frequency); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.End.After(req.Start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be after start"})
		return
	}

	versions := make([]common.StrategyVersion, len(req.Versions))
	for i, v := range req.Versions {
		versions[i] = common.StrategyVersion{Label: v.Label, Source: v.Source, Stable: v.Stable}
	}

	task := common.Task{
		StrategyRef: req.StrategyRef,
		Versions:    versions,
		Parameters: common.TaskParameters{
			Symbols:     req.Symbols,
			Start:       req.Start,
			End:         req.End,
			Frequency:   req.Frequency,
			InitialCash: cash,
			GapTolerant: req.GapTolerant,
		},
	}

	id, err := s.scheduler.Submit(c.Request.Context(), task)
	if err != nil {
		if errors.Is(err, engine.ErrSchedulerBusy) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler at capacity"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": id, "status": common.TaskStatusCreated})
}

func (s *Server) list(c *gin.Context) {
	status := common.TaskStatus(c.Query("status"))
	tasks, err := s.store.ListTasks(c.Request.Context(), status, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) status(c *gin.Context) {
	id, ok := s.runID(c)
	if !ok {
		return
	}

	task, err := s.scheduler.Status(id)
	if err != nil {
		// Fall back to the store for runs from earlier server lifetimes.
		task, err = s.store.GetTask(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
			return
		}
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) cancel(c *gin.Context) {
	id, ok := s.runID(c)
	if !ok {
		return
	}

	switch err := s.scheduler.Cancel(id); {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"run_id": id, "status": "cancelling"})
	case errors.Is(err, engine.ErrAlreadyDone):
		c.JSON(http.StatusConflict, gin.H{"error": "run already finished"})
	case errors.Is(err, engine.ErrUnknownRun):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) result(c *gin.Context) {
	id, ok := s.runID(c)
	if !ok {
		return
	}

	report, err := s.scheduler.Result(id)
	if err == nil {
		c.JSON(http.StatusOK, report)
		return
	}
	if errors.Is(err, engine.ErrNotFinished) {
		c.JSON(http.StatusConflict, gin.H{"error": "run has not finished"})
		return
	}

	var stored engine.Report
	if err := s.store.GetReport(c.Request.Context(), id, &stored); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no result for run"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (s *Server) trades(c *gin.Context) {
	id, ok := s.runID(c)
	if !ok {
		return
	}
	trades, err := s.store.Trades(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) equity(c *gin.Context) {
	id, ok := s.runID(c)
	if !ok {
		return
	}
	curve, err := s.store.EquityCurve(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity_curve": curve})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Single-tenant deployments sit behind their own ingress auth.
	CheckOrigin: func(*http.Request) bool { return true },
}

// watch streams progress updates over a websocket until the run reaches a
// terminal state or the client goes away.
func (s *Server) watch(c *gin.Context) {
	id, ok := s.runID(c)
	if !ok {
		return
	}

	updates, stop, err := s.scheduler.Watch(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}
	defer stop()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "component", componentName, "error", err)
		return
	}
	defer conn.Close()

	for progress := range updates {
		if err := conn.WriteJSON(progress); err != nil {
			return
		}
	}

	// Stream closed: send the terminal snapshot so the client sees the
	// final state without polling.
	if task, err := s.scheduler.Status(id); err == nil {
		_ = conn.WriteJSON(common.Progress{
			RunID:           task.RunID,
			Status:          task.Status,
			Percent:         task.Progress,
			EventsProcessed: task.EventsProcessed,
			TimeStamp:       time.Now().UTC(),
		})
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
}

func (s *Server) runID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return uuid.Nil, false
	}
	return id, true
}
