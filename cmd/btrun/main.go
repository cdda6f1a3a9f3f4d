package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/allenneverland/backtest-server/internal/dbg"
	"github.com/allenneverland/backtest-server/internal/setup"
	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/config"
	"github.com/allenneverland/backtest-server/pkg/engine"
	"github.com/allenneverland/backtest-server/pkg/middleware"
	"github.com/allenneverland/backtest-server/pkg/strategy"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

// btrun runs a single backtest from the command line, without the server.
func main() {
	var (
		configPath  = flag.String("config", "", "optional configuration file")
		scriptPath  = flag.String("script", "", "strategy script file (required)")
		symbols     = flag.String("symbols", "ACME", "comma-separated instrument symbols")
		start       = flag.String("start", "2024-01-01T00:00:00Z", "simulation start (RFC 3339)")
		end         = flag.String("end", "2024-03-01T00:00:00Z", "simulation end (RFC 3339)")
		frequency   = flag.String("frequency", "1m", "bar frequency: tick, 1m, 5m, 15m, 1h, 1d")
		initialCash = flag.String("cash", "100000", "initial cash")
		verbose     = flag.Bool("verbose", false, "log every record")
	)
	flag.Parse()

	logger := dbg.NewDevLogger()
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	if *scriptPath == "" {
		logger.Fatal("missing -script")
	}
	source, err := os.ReadFile(*scriptPath)
	if err != nil {
		logger.Fatal("error reading script", zap.Error(err))
	}

	cfg := config.Default()
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			logger.Fatal("error loading configuration", zap.Error(err))
		}
	}
	dbg.SetupSlog(cfg.Log.Level, cfg.Log.Format)

	startTime, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		logger.Fatal("invalid -start", zap.Error(err))
	}
	endTime, err := time.Parse(time.RFC3339, *end)
	if err != nil {
		logger.Fatal("invalid -end", zap.Error(err))
	}
	cash, err := fixed.FromString(*initialCash)
	if err != nil {
		logger.Fatal("invalid -cash", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider, closeProvider, err := setup.Provider(ctx, cfg)
	if err != nil {
		logger.Fatal("error opening market data backend", zap.Error(err))
	}
	defer closeProvider()

	runID, _ := uuid.NewV7()
	task := common.Task{
		RunID:       runID,
		StrategyRef: *scriptPath,
		Versions: []common.StrategyVersion{
			{Label: "v1", Source: string(source), Stable: true},
		},
		Parameters: common.TaskParameters{
			Symbols:     strings.Split(*symbols, ","),
			Start:       startTime,
			End:         endTime,
			Frequency:   *frequency,
			InitialCash: cash,
		},
		Status:    common.TaskStatusCreated,
		CreatedAt: time.Now().UTC(),
	}

	runtime := strategy.NewTengoRuntime(strategy.WithMaxAllocs(cfg.Engine.ScriptMaxAllocs))
	driver := strategy.NewDriver(runtime, task.Versions,
		strategy.WithStepTimeout(cfg.StepTimeout()))

	orch := engine.NewOrchestrator(task, provider, driver,
		setup.Matcher(cfg, provider),
		engine.Config{
			Prefetch:         cfg.Engine.Prefetch,
			BatchSize:        cfg.Engine.BatchSize,
			CheckpointEvery:  cfg.Engine.CheckpointEvery,
			ProgressEvery:    cfg.Engine.ProgressEvery,
			SnapshotInterval: cfg.SnapshotInterval(),
			HistoryDepth:     cfg.Engine.HistoryDepth,
			Limits:           setup.Limits(cfg),
		})

	flags := middleware.MonitorNone
	if *verbose {
		flags = middleware.MonitorAll
	}
	monitor := middleware.NewMonitor(flags)
	telemetry := middleware.NewTelemetry(logger)

	router := orch.Router()
	router.SignalHandler = telemetry.WithSignal(monitor.WithSignal(middleware.NoopSignal))
	router.SignalRejectionHandler = telemetry.WithSignalRejection(monitor.WithSignalRejection(middleware.NoopSignalRejection))
	router.OrderHandler = telemetry.WithOrder(monitor.WithOrder(middleware.NoopOrder))
	router.TradeHandler = telemetry.WithTrade(monitor.WithTrade(middleware.NoopTrade))
	router.PositionHandler = telemetry.WithPosition(monitor.WithPosition(middleware.NoopPosition))
	router.EquityHandler = telemetry.WithEquity(monitor.WithEquity(middleware.NoopEquity))

	report, err := orch.Run(ctx)
	defer telemetry.PrintStatistics()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("run cancelled")
			return
		}
		logger.Fatal("run failed", zap.Error(err))
	}

	report.Print(logger)
	router.Statistics().Print()
}
