// Package main is the entry point for the frontier optimization service. It
// serves portfolio optimization and efficient-frontier traces over HTTP and
// keeps a scheduled trace of the configured universe warm in the background.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/frontier"
	frontierhandlers "github.com/aristath/frontier/internal/modules/frontier/handlers"
	"github.com/aristath/frontier/internal/modules/history"
	historyhandlers "github.com/aristath/frontier/internal/modules/history/handlers"
	"github.com/aristath/frontier/internal/modules/model"
	"github.com/aristath/frontier/internal/modules/solver"
	"github.com/aristath/frontier/internal/modules/solver/activeset"
	"github.com/aristath/frontier/internal/modules/solver/cvxsolver"
	"github.com/aristath/frontier/internal/modules/statistics"
	"github.com/aristath/frontier/internal/scheduler"
	"github.com/aristath/frontier/internal/server"
	"github.com/aristath/frontier/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting frontier service")

	// history.db holds price series; cache.db holds ephemeral computed data.
	historyDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	priceStore, err := history.NewPriceStore(historyDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize price store")
	}

	statsCache, err := statistics.NewCache(cacheDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize statistics cache")
	}
	statsBuilder := statistics.NewBuilder(log)
	statsBuilder.SetCache(statsCache)

	modelBuilder := model.NewBuilder(log)

	var engine solver.Solver
	switch cfg.Solver {
	case "cvx":
		engine = cvxsolver.New(log)
	default:
		engine = activeset.New(log)
	}
	log.Info().Str("engine", engine.Name()).Msg("Solver engine selected")

	tracer := frontier.NewTracer(engine, cfg.FrontierPoints, log)
	service := frontier.NewService(
		priceStore,
		statsBuilder,
		modelBuilder,
		engine,
		tracer,
		frontier.Options{
			Assets:       cfg.Assets,
			LookbackDays: cfg.LookbackDays,
			SolveTimeout: time.Duration(cfg.SolveTimeoutSecs) * time.Second,
		},
		log,
	)

	recomputeJob := scheduler.NewRecomputeJob(service, log)
	sched := scheduler.New(log)
	if len(cfg.Assets) > 0 {
		if err := sched.AddJob(cfg.RecomputeSchedule, recomputeJob); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.RecomputeSchedule).Msg("Failed to register recompute job")
		}
		sched.Start()
		defer sched.Stop()
	} else {
		log.Warn().Msg("No default universe configured, background recompute disabled")
	}

	srv := server.New(server.Config{
		Log:       log,
		Cfg:       cfg,
		HistoryDB: historyDB,
		CacheDB:   cacheDB,
		Frontier:  frontierhandlers.NewHandler(service, recomputeJob, log),
		History:   historyhandlers.NewHandler(priceStore, log),
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
