// Package setup wires configuration into the engine's building blocks. It
// is shared by the server and the CLI runner.
package setup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/allenneverland/backtest-server/pkg/common"
	"github.com/allenneverland/backtest-server/pkg/config"
	"github.com/allenneverland/backtest-server/pkg/engine"
	"github.com/allenneverland/backtest-server/pkg/market"
	"github.com/allenneverland/backtest-server/pkg/matching"
	"github.com/allenneverland/backtest-server/pkg/middleware"
	"github.com/allenneverland/backtest-server/pkg/risk"
	"github.com/allenneverland/backtest-server/pkg/storage"
	"github.com/allenneverland/backtest-server/pkg/strategy"
	"github.com/allenneverland/backtest-server/pkg/utility/fixed"
)

// Provider builds the configured market data backend.
func Provider(ctx context.Context, cfg *config.Config) (market.Provider, func(), error) {
	switch cfg.Data.Backend {
	case "duckdb":
		provider := market.NewDuckDBProvider(cfg.Data.DuckDBPath)
		if err := provider.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("connect duckdb: %w", err)
		}
		return provider, provider.Close, nil
	case "binary":
		return market.NewBinaryProvider(cfg.Data.BinaryDir, nil), func() {}, nil
	case "synthetic":
		provider := market.NewSyntheticProvider(cfg.Data.SyntheticSeed, nil,
			market.WithOpenUniverse())
		return provider, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown data backend %q", cfg.Data.Backend)
	}
}

// Matcher builds the fill simulator from the matching section.
func Matcher(cfg *config.Config, provider market.Provider) *matching.Engine {
	var model matching.SlippageModel
	switch cfg.Matching.SlippageModel {
	case "linear":
		model = matching.NewLinearImpactSlippage(fixed.FromFloat64(cfg.Matching.ImpactCoeff))
	case "sqrt":
		model = matching.NewSquareRootImpactSlippage(fixed.FromFloat64(cfg.Matching.ImpactCoeff))
	default:
		model = matching.NewFixedBpsSlippage(fixed.FromFloat64(cfg.Matching.SlippageBps))
	}

	table := matching.NewCommissionTable(matching.NewRateCommission(
		fixed.FromFloat64(cfg.Matching.CommissionRate),
		fixed.FromFloat64(cfg.Matching.CommissionMin)))

	options := []matching.Option{
		matching.WithSlippageModel(model),
		matching.WithCommissionTable(table),
		matching.WithInstrumentLookup(provider.Instrument),
	}
	if cfg.Matching.MaxOrderQty > 0 {
		options = append(options, matching.WithMaxOrderQuantity(fixed.FromFloat64(cfg.Matching.MaxOrderQty)))
	}
	if cfg.Matching.VolumeCap > 0 {
		options = append(options, matching.WithVolumeCap(fixed.FromFloat64(cfg.Matching.VolumeCap)))
	}
	return matching.NewEngine(options...)
}

// Limits builds the default risk limits.
func Limits(cfg *config.Config) risk.Limits {
	return risk.Limits{
		MaxTradeNotional: fixed.FromFloat64(cfg.Risk.MaxTradeNotional),
		MaxConcentration: fixed.FromFloat64(cfg.Risk.MaxConcentration),
		MinTradeInterval: cfg.MinTradeInterval(),
		MaxDrawdown:      fixed.FromFloat64(cfg.Risk.MaxDrawdown),
		RuleOrder:        cfg.Risk.RuleOrder,
	}
}

// Factory builds the per-task orchestrator factory used by the scheduler.
// Every run gets its own sandbox runtime, driver and observer chain.
func Factory(cfg *config.Config, provider market.Provider, store *storage.Store, logger *slog.Logger) engine.OrchestratorFactory {
	if logger == nil {
		logger = slog.Default()
	}
	matcher := Matcher(cfg, provider)
	limits := Limits(cfg)
	engineCfg := engine.Config{
		Prefetch:         cfg.Engine.Prefetch,
		BatchSize:        cfg.Engine.BatchSize,
		CheckpointEvery:  cfg.Engine.CheckpointEvery,
		ProgressEvery:    cfg.Engine.ProgressEvery,
		SnapshotInterval: cfg.SnapshotInterval(),
		HistoryDepth:     cfg.Engine.HistoryDepth,
		Limits:           limits,
	}

	return func(task common.Task) (*engine.Orchestrator, error) {
		runtime := strategy.NewTengoRuntime(strategy.WithMaxAllocs(cfg.Engine.ScriptMaxAllocs))
		driver := strategy.NewDriver(runtime, task.Versions,
			strategy.WithStepTimeout(cfg.StepTimeout()),
			strategy.WithLogger(logger))

		options := []engine.OrchestratorOption{
			engine.WithLogger(logger),
		}
		if store != nil {
			options = append(options, engine.WithTaskRecorder(store))
		}
		orch := engine.NewOrchestrator(task, provider, driver, matcher, engineCfg, options...)

		if store != nil {
			ledger := middleware.NewLedger(store, task.RunID)
			router := orch.Router()
			router.TradeHandler = ledger.WithTrade(middleware.NoopTrade)
			router.EquityHandler = ledger.WithEquity(middleware.NoopEquity)
			router.SignalRejectionHandler = ledger.WithSignalRejection(middleware.NoopSignalRejection)
		}
		return orch, nil
	}
}
