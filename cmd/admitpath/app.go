package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/admitpath/admitpath/internal/cache"
	"github.com/admitpath/admitpath/internal/chancing"
	"github.com/admitpath/admitpath/internal/clock"
	"github.com/admitpath/admitpath/internal/config"
	"github.com/admitpath/admitpath/internal/ledger"
	"github.com/admitpath/admitpath/internal/persistence"
	"github.com/admitpath/admitpath/internal/persistence/memstore"
	"github.com/admitpath/admitpath/internal/persistence/postgres"
	"github.com/admitpath/admitpath/internal/refresh"
	"github.com/admitpath/admitpath/internal/risk"
	"github.com/admitpath/admitpath/internal/scheduler"
	"github.com/admitpath/admitpath/internal/scoring"
	"github.com/admitpath/admitpath/internal/tasks"
)

// app holds the fully wired engine plus the resources to release on exit.
type app struct {
	cfg        config.Config
	stores     persistence.Stores
	cache      cache.Cache
	ledger     *ledger.Ledger
	classifier *scoring.Classifier
	calculator *chancing.Calculator
	decomposer *tasks.Decomposer
	riskEngine *risk.Engine
	refresher  *refresh.Refresher
	trainer    *refresh.Trainer

	closers []func() error
}

// buildApp wires every service against either the production stores or the
// in-memory offline stack.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	clk := clock.Real{}
	a := &app{cfg: cfg}

	if flagOffline {
		mem := memstore.New(clk)
		a.stores = mem.Stores()
		a.cache = cache.NewMemory()
		a.ledger = ledger.New(ledger.NewMemStore())
		log.Info().Msg("running with in-memory stores")
	} else {
		db, err := postgres.Open(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		a.stores = postgres.NewStores(db, 0)
		a.ledger = ledger.New(postgres.NewLedgerRepo(db, 5*time.Second))

		redisCache := cache.NewRedis(cfg.Storage.RedisAddr, "", cfg.Storage.RedisDB)
		a.closers = append(a.closers, redisCache.Close)
		a.cache = redisCache
	}

	a.decomposer = tasks.NewDecomposer(a.stores, cfg, clk)
	a.classifier = scoring.NewClassifier(a.stores, a.cache, a.ledger, a.decomposer, cfg, clk)
	a.calculator = chancing.NewCalculator(a.stores, a.cache, a.ledger, cfg, clk)
	a.riskEngine = risk.NewEngine(a.stores, a.cache, a.ledger, a.decomposer, cfg, clk)

	fetcher := refresh.NewHTTPFetcher(appName + "/" + version)
	a.refresher = refresh.NewRefresher(a.stores, a.cache, fetcher, cfg, clk)
	a.trainer = refresh.NewTrainer(a.stores, refresh.NewCalibrationFitter(a.stores.Models), cfg, clk)
	return a, nil
}

// scheduler builds the standard job set.
func (a *app) scheduler() *scheduler.Scheduler {
	return scheduler.New(scheduler.StandardJobs(a.refresher, a.trainer, a.riskEngine)...)
}

// close releases pooled resources in reverse acquisition order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}
