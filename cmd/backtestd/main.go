package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/allenneverland/backtest-server/internal/dbg"
	"github.com/allenneverland/backtest-server/internal/setup"
	"github.com/allenneverland/backtest-server/pkg/api"
	"github.com/allenneverland/backtest-server/pkg/config"
	"github.com/allenneverland/backtest-server/pkg/engine"
	"github.com/allenneverland/backtest-server/pkg/storage"
)

func main() {
	configPath := flag.String("config", "backtestd.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.Default()
	}

	logger := dbg.NewProdLogger(cfg.Log.Level)
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)
	dbg.SetupSlog(cfg.Log.Level, cfg.Log.Format)

	logger.Info("backtestd starting", zap.String("addr", cfg.Server.Addr))
	defer logger.Info("done")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(cfg.Storage.DSN)
	if err != nil {
		logger.Fatal("error opening storage", zap.Error(err))
	}
	defer store.Close()

	provider, closeProvider, err := setup.Provider(ctx, cfg)
	if err != nil {
		logger.Fatal("error opening market data backend", zap.Error(err))
	}
	defer closeProvider()

	scheduler := engine.NewScheduler(
		setup.Factory(cfg, provider, store, nil),
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithBacklog(cfg.Engine.Backlog),
		engine.WithSchedulerRecorder(store),
		engine.WithReportRecorder(store),
	)
	scheduler.Start(ctx)

	server := api.NewServer(cfg.Server.Addr, scheduler, store,
		api.WithRateLimit(cfg.Server.RatePerSecond, cfg.Server.RateBurst))

	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errs:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	cancel()
	scheduler.Wait()
}
