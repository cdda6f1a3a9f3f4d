package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    run_id           TEXT PRIMARY KEY,
    strategy_ref     TEXT NOT NULL,
    status           TEXT NOT NULL,
    progress         REAL NOT NULL DEFAULT 0,
    events_processed INTEGER NOT NULL DEFAULT 0,
    versions         TEXT NOT NULL,
    parameters       TEXT NOT NULL,
    error            TEXT,
    created_at       DATETIME NOT NULL,
    started_at       DATETIME,
    finished_at      DATETIME
);

CREATE TABLE IF NOT EXISTS trades (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL,
    trace_id   INTEGER NOT NULL,
    symbol     TEXT NOT NULL,
    direction  TEXT NOT NULL,
    quantity   TEXT NOT NULL,
    price      TEXT NOT NULL,
    commission TEXT NOT NULL,
    slippage   TEXT NOT NULL,
    effect     TEXT NOT NULL,
    traded_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS equity_curve (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id   TEXT NOT NULL,
    cash     TEXT NOT NULL,
    value    TEXT NOT NULL,
    point_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rejections (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL,
    symbol      TEXT NOT NULL,
    rule        TEXT NOT NULL,
    reason      TEXT,
    rejected_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
    run_id TEXT PRIMARY KEY,
    body   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status    ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_trades_run      ON trades(run_id, traded_at);
CREATE INDEX IF NOT EXISTS idx_equity_run      ON equity_curve(run_id, point_at);
CREATE INDEX IF NOT EXISTS idx_rejections_run  ON rejections(run_id, rejected_at);
`

var ErrNotFound = errors.New("not found")

// Store is the durable record of runs: task state, fills, the equity curve
// and final reports. SQLite is single-writer, so the pool is pinned to one
// connection.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.Open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.Open: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertTask writes the full task row, replacing any previous state for the
// same run.
func (s *Store) UpsertTask(ctx context.Context, task common.Task) error {
	versions, err := json.Marshal(task.Versions)
	if err != nil {
		return fmt.Errorf("storage.UpsertTask: marshal versions: %w", err)
	}
	parameters, err := json.Marshal(task.Parameters)
	if err != nil {
		return fmt.Errorf("storage.UpsertTask: marshal parameters: %w", err)
	}
	var taskErr any
	if task.Error != nil {
		body, err := json.Marshal(task.Error)
		if err != nil {
			return fmt.Errorf("storage.UpsertTask: marshal error: %w", err)
		}
		taskErr = string(body)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks
			(run_id, strategy_ref, status, progress, events_processed,
			 versions, parameters, error, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status           = excluded.status,
			progress         = excluded.progress,
			events_processed = excluded.events_processed,
			error            = excluded.error,
			started_at       = excluded.started_at,
			finished_at      = excluded.finished_at`,
		task.RunID.String(), task.StrategyRef, string(task.Status), task.Progress,
		task.EventsProcessed, string(versions), string(parameters), taskErr,
		task.CreatedAt, nullableTime(task.StartedAt), nullableTime(task.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertTask: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, runID uuid.UUID) (common.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, strategy_ref, status, progress, events_processed,
		       versions, parameters, error, created_at, started_at, finished_at
		FROM tasks WHERE run_id = ?`, runID.String())
	return scanTask(row)
}

// ListTasks returns tasks newest first, optionally filtered by status.
func (s *Store) ListTasks(ctx context.Context, status common.TaskStatus, limit int) ([]common.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT run_id, strategy_ref, status, progress, events_processed,
		       versions, parameters, error, created_at, started_at, finished_at
		FROM tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.ListTasks: %w", err)
	}
	defer rows.Close()

	var tasks []common.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *Store) InsertTrade(ctx context.Context, runID uuid.UUID, trade common.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
			(run_id, trace_id, symbol, direction, quantity, price, commission, slippage, effect, traded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID.String(), int64(trade.TraceID), trade.Symbol, trade.Direction.String(),
		trade.Quantity.String(), trade.Price.String(), trade.Commission.String(),
		trade.Slippage.String(), trade.Effect.String(), trade.TimeStamp,
	)
	if err != nil {
		return fmt.Errorf("storage.InsertTrade: %w", err)
	}
	return nil
}

func (s *Store) InsertEquityPoint(ctx context.Context, runID uuid.UUID, equity common.Equity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO equity_curve (run_id, cash, value, point_at)
		VALUES (?, ?, ?, ?)`,
		runID.String(), equity.Cash.String(), equity.Value.String(), equity.TimeStamp,
	)
	if err != nil {
		return fmt.Errorf("storage.InsertEquityPoint: %w", err)
	}
	return nil
}

func (s *Store) InsertRejection(ctx context.Context, runID uuid.UUID, rejection common.SignalRejected) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rejections (run_id, symbol, rule, reason, rejected_at)
		VALUES (?, ?, ?, ?, ?)`,
		runID.String(), rejection.OriginalSignal.Symbol, rejection.Rule,
		rejection.Reason, rejection.TimeStamp,
	)
	if err != nil {
		return fmt.Errorf("storage.InsertRejection: %w", err)
	}
	return nil
}

// SaveReport stores the run's final metrics as a JSON document.
func (s *Store) SaveReport(ctx context.Context, runID uuid.UUID, report any) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("storage.SaveReport: marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (run_id, body) VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET body = excluded.body`,
		runID.String(), string(body),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveReport: %w", err)
	}
	return nil
}

func (s *Store) GetReport(ctx context.Context, runID uuid.UUID, out any) error {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM reports WHERE run_id = ?`, runID.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: report %s", ErrNotFound, runID)
	}
	if err != nil {
		return fmt.Errorf("storage.GetReport: %w", err)
	}
	return json.Unmarshal([]byte(body), out)
}

// TradeRow is one persisted fill as read back from the store.
type TradeRow struct {
	Symbol     string      `json:"symbol"`
	Direction  string      `json:"direction"`
	Quantity   fixed.Point `json:"quantity"`
	Price      fixed.Point `json:"price"`
	Commission fixed.Point `json:"commission"`
	Slippage   fixed.Point `json:"slippage"`
	Effect     string      `json:"effect"`
	TradedAt   time.Time   `json:"traded_at"`
}

func (s *Store) Trades(ctx context.Context, runID uuid.UUID) ([]TradeRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, direction, quantity, price, commission, slippage, effect, traded_at
		FROM trades WHERE run_id = ? ORDER BY traded_at, id`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("storage.Trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRow
	for rows.Next() {
		var (
			row                                   TradeRow
			quantity, price, commission, slippage string
		)
		if err := rows.Scan(&row.Symbol, &row.Direction, &quantity, &price,
			&commission, &slippage, &row.Effect, &row.TradedAt); err != nil {
			return nil, fmt.Errorf("storage.Trades: scan: %w", err)
		}
		if row.Quantity, err = fixed.FromString(quantity); err != nil {
			return nil, fmt.Errorf("storage.Trades: quantity: %w", err)
		}
		if row.Price, err = fixed.FromString(price); err != nil {
			return nil, fmt.Errorf("storage.Trades: price: %w", err)
		}
		if row.Commission, err = fixed.FromString(commission); err != nil {
			return nil, fmt.Errorf("storage.Trades: commission: %w", err)
		}
		if row.Slippage, err = fixed.FromString(slippage); err != nil {
			return nil, fmt.Errorf("storage.Trades: slippage: %w", err)
		}
		trades = append(trades, row)
	}
	return trades, rows.Err()
}

// EquityPoint is one stored sample of the equity curve.
type EquityPoint struct {
	Cash    fixed.Point `json:"cash"`
	Value   fixed.Point `json:"value"`
	PointAt time.Time   `json:"point_at"`
}

func (s *Store) EquityCurve(ctx context.Context, runID uuid.UUID) ([]EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cash, value, point_at
		FROM equity_curve WHERE run_id = ? ORDER BY point_at, id`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("storage.EquityCurve: %w", err)
	}
	defer rows.Close()

	var curve []EquityPoint
	for rows.Next() {
		var (
			point       EquityPoint
			cash, value string
		)
		if err := rows.Scan(&cash, &value, &point.PointAt); err != nil {
			return nil, fmt.Errorf("storage.EquityCurve: scan: %w", err)
		}
		if point.Cash, err = fixed.FromString(cash); err != nil {
			return nil, fmt.Errorf("storage.EquityCurve: cash: %w", err)
		}
		if point.Value, err = fixed.FromString(value); err != nil {
			return nil, fmt.Errorf("storage.EquityCurve: value: %w", err)
		}
		curve = append(curve, point)
	}
	return curve, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (common.Task, error) {
	var (
		task              common.Task
		runID, status     string
		versions, params  string
		taskErr           sql.NullString
		started, finished sql.NullTime
	)
	err := row.Scan(&runID, &task.StrategyRef, &status, &task.Progress,
		&task.EventsProcessed, &versions, &params, &taskErr,
		&task.CreatedAt, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Task{}, ErrNotFound
	}
	if err != nil {
		return common.Task{}, fmt.Errorf("storage: scan task: %w", err)
	}

	if task.RunID, err = uuid.Parse(runID); err != nil {
		return common.Task{}, fmt.Errorf("storage: parse run id: %w", err)
	}
	task.Status = common.TaskStatus(status)
	if err := json.Unmarshal([]byte(versions), &task.Versions); err != nil {
		return common.Task{}, fmt.Errorf("storage: unmarshal versions: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &task.Parameters); err != nil {
		return common.Task{}, fmt.Errorf("storage: unmarshal parameters: %w", err)
	}
	if taskErr.Valid {
		task.Error = &common.TaskError{}
		if err := json.Unmarshal([]byte(taskErr.String), task.Error); err != nil {
			return common.Task{}, fmt.Errorf("storage: unmarshal error: %w", err)
		}
	}
	if started.Valid {
		task.StartedAt = started.Time
	}
	if finished.Valid {
		task.FinishedAt = finished.Time
	}
	return task, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
