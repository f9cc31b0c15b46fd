package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"nextplace/validator/config"
	"nextplace/validator/internal/api"
	"nextplace/validator/internal/database"
	"nextplace/validator/internal/listings"
	"nextplace/validator/internal/market"
	"nextplace/validator/internal/miners"
	"nextplace/validator/internal/pipeline"
	"nextplace/validator/internal/predictions"
	"nextplace/validator/internal/reporting"
	"nextplace/validator/internal/sales"
	"nextplace/validator/internal/scheduler"
	"nextplace/validator/internal/scoring"
	"nextplace/validator/internal/synapse"
	"nextplace/validator/internal/weights"
)

// app wires every component of the validator against one store.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger

	db        *database.Database
	dashboard *reporting.Dashboard
	markets   *market.Manager
	refresher *sales.Refresher
	engine    *scoring.Engine
	setter    *weights.Setter
	miners    *miners.Manager
	pipeline  *pipeline.Pipeline
}

func openStore(cfg *config.Config, logger *logrus.Logger) (*database.Database, error) {
	logger.WithField("path", cfg.Database.Path).Info("Opening database")
	db, err := database.NewDatabase(cfg.Database.Path, cfg.Database.LockTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	return db, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	marketList, err := config.LoadMarkets(cfg.Markets.File)
	if err != nil {
		return nil, err
	}

	db, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db}

	var reporter reporting.Reporter = reporting.Nop{}
	if cfg.Reporting.Enabled {
		sender := reporting.NewSender(cfg.Reporting.BaseURL, cfg.Reporting.Timeout, logger)
		a.dashboard = reporting.NewDashboard(sender, cfg.Reporting.QueueSize, logger)
		reporter = a.dashboard
	}

	client := listings.NewClient(listings.Options{
		BaseURL:         cfg.Listings.BaseURL,
		APIKey:          cfg.Listings.APIKey,
		APIHost:         cfg.Listings.APIHost,
		PageSize:        cfg.Listings.PageSize,
		SoldWithinDays:  cfg.Listings.SoldWithinDays,
		RateLimit:       cfg.Listings.RateLimit,
		Burst:           cfg.Listings.Burst,
		Timeout:         cfg.Listings.Timeout,
		BreakerFailures: cfg.Listings.BreakerFailures,
		BreakerTimeout:  cfg.Listings.BreakerTimeout,
	}, logger)

	threshold := cfg.Markets.RefillThreshold * cfg.Pipeline.BatchSize
	a.markets, err = market.NewManager(ctx, db, client, marketList, threshold, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.refresher = sales.NewRefresher(db, client, marketList, cfg.Scoring.SalesRefreshInterval, logger)
	a.engine = scoring.NewEngine(db, reporter, cfg.Scoring.RetentionDays, logger)
	a.setter = weights.NewSetter(db, weights.NewLogSubmitter(logger), logger)
	a.miners = miners.NewManager(db, logger)

	builder := synapse.NewBuilder(db, cfg.Pipeline.BatchSize, logger)
	ingestor := predictions.NewIngestor(db, reporter, predictions.Options{
		Workers:    cfg.Pipeline.IngestWorkers,
		MaxRetries: cfg.Pipeline.MaxRetries,
		RetryDelay: cfg.Pipeline.RetryDelay,
	}, logger)
	a.pipeline = pipeline.New(builder, ingestor, nil, pipeline.NewPending(cfg.Pipeline.PendingTTL), logger)

	return a, nil
}

func (a *app) handler() *api.Handler {
	return api.NewHandler(a.db, a.markets, a.setter, a.pipeline, a.logger)
}

// schedule registers every periodic job. The binary links no miner transport,
// so relayed POST /api/batches calls drive batch-out and the pipeline job only
// expires pending batches.
func (a *app) schedule(s *scheduler.Scheduler) {
	cfg := a.cfg

	s.Add(scheduler.JobTypeRefill, cfg.Markets.CheckInterval, func(ctx context.Context) error {
		_, err := a.markets.MaybeRefill(ctx)
		return err
	})
	s.Add(scheduler.JobTypeSales, cfg.Scoring.SalesCheckInterval, func(ctx context.Context) error {
		_, err := a.refresher.RefreshIfDue(ctx)
		return err
	})
	s.Add(scheduler.JobTypeScoring, cfg.Scoring.SweepInterval, func(ctx context.Context) error {
		_, err := a.engine.Sweep(ctx)
		return err
	})
	s.Add(scheduler.JobTypeWeights, cfg.Weights.Interval, func(ctx context.Context) error {
		_, err := a.setter.Run(ctx)
		return err
	})
	s.Add(scheduler.JobTypePipeline, cfg.Pipeline.TickInterval, a.pipeline.Step)

	if len(cfg.Miners.Network) > 0 {
		directory := miners.StaticDirectory(cfg.Miners.Network)
		s.Add(scheduler.JobTypeMiners, cfg.Miners.SyncInterval, func(ctx context.Context) error {
			_, err := a.miners.SyncFrom(ctx, directory)
			return err
		})
	}
}

// close waits for an in-flight refill and critical section and closes the store.
func (a *app) close() {
	if a.markets != nil {
		a.markets.Wait()
	}
	if a.dashboard != nil {
		if err := a.dashboard.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close dashboard reporter")
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Failed to close database")
	}
}
