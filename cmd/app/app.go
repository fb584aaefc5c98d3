package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"priceaggregator/internal/config"
	"priceaggregator/internal/metrics"
	"priceaggregator/internal/provider"
	"priceaggregator/internal/repository"
	"priceaggregator/internal/service"
	"priceaggregator/internal/worker"
)

type appMode int

const (
	modeStorage appMode = iota // database only: seed, prune
	modePass                   // storage + pipeline in-process: run
	modeServe                  // everything: HTTP, worker, scheduler
)

// App holds all application dependencies and manages their lifecycle.
type App struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	db       *sql.DB
	rdbCache *redis.Client
	rdbAsynq *redis.Client

	store       *repository.Store
	cache       *service.AggregateCache
	prices      *service.PriceService
	pipeline    *service.Pipeline
	maintenance *service.Maintenance

	asynqClient    *asynq.Client
	asynqServer    *asynq.Server
	asynqMux       *asynq.ServeMux
	asynqScheduler *asynq.Scheduler
	enqueuer       *worker.AsynqEnqueuer
	monitor        *asynqmon.HTTPHandler
	httpServer     *http.Server
}

// NewApp initializes the dependencies mode needs and returns a ready-to-run App.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, mode appMode) (*App, error) {
	app := &App{
		cfg:    cfg,
		logger: logger,
	}

	if err := app.initStorage(ctx, mode); err != nil {
		_ = app.close()
		return nil, err
	}
	app.maintenance = service.NewMaintenance(app.store, logger, cfg.Pipeline.RefreshMargin)
	if mode == modeStorage {
		return app, nil
	}

	metrics.Init()
	if err := app.initServices(); err != nil {
		_ = app.close()
		return nil, err
	}
	if mode == modePass {
		return app, nil
	}

	if err := app.maintenance.Seed(ctx, cfg); err != nil {
		_ = app.close()
		return nil, fmt.Errorf("seed reference data: %w", err)
	}
	if err := app.initQueue(); err != nil {
		_ = app.close()
		return nil, err
	}
	app.initHTTP()
	return app, nil
}

// close releases queue, database and Redis connections.
func (app *App) close() error {
	var errs []error
	if app.monitor != nil {
		if err := app.monitor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("asynqmon close: %w", err))
		}
	}
	if app.asynqClient != nil {
		if err := app.asynqClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("asynq client close: %w", err))
		}
	}
	if app.rdbAsynq != nil {
		if err := app.rdbAsynq.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis asynq close: %w", err))
		}
	}
	if app.rdbCache != nil {
		if err := app.rdbCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis cache close: %w", err))
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("db close: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (app *App) initStorage(ctx context.Context, mode appMode) error {
	db, err := repository.NewPostgresDB(&app.cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to Postgres: %w", err)
	}
	app.db = db

	if err := repository.RunMigrations(app.db, app.logger); err != nil {
		return fmt.Errorf("run DB migrations: %w", err)
	}
	app.store = repository.NewPostgresStore(app.db)

	if mode == modeStorage {
		return nil
	}

	app.rdbCache = redis.NewClient(&redis.Options{Addr: app.cfg.Redis.CacheAddr})
	if err := app.rdbCache.Ping(ctx).Err(); err != nil {
		// the pipeline works without the cache; reads fall through to Postgres
		app.logger.Warnw("Redis cache unavailable, continuing without it", "addr", app.cfg.Redis.CacheAddr, "error", err)
		_ = app.rdbCache.Close()
		app.rdbCache = nil
		return nil
	}
	app.logger.Infow("Connected to Redis cache", "addr", app.cfg.Redis.CacheAddr)
	return nil
}

func (app *App) initServices() error {
	strategy, err := service.ParseOutlierStrategy(app.cfg.Pipeline.OutlierStrategy)
	if err != nil {
		return err
	}
	ttl := time.Duration(app.cfg.Cache.LatestPriceTTLSec) * time.Second
	app.cache = service.NewAggregateCache(app.rdbCache, ttl, app.logger)
	app.prices = service.NewPriceService(app.store, app.cache, app.logger)

	registry := provider.NewRegistryFromConfig(app.cfg.Sources)
	app.logger.Infow("Source adapters registered", "adapters", registry.Names())

	pc := app.cfg.Pipeline
	app.pipeline = service.NewPipeline(service.PipelineDeps{
		Store:       app.store,
		Registry:    registry,
		Ingestor:    service.NewIngestor(app.store, registry, app.logger, pc.FetchTimeout, pc.RefreshMargin),
		Aggregator:  service.NewAggregator(app.store, app.cache, app.logger).WithOutlierStrategy(strategy),
		Arbitrage:   service.NewArbitrageDetector(app.store, app.logger, pc.ArbitrageThresholdPct, pc.ArbitrageSampleSize),
		Prices:      app.prices,
		Lock:        app.advisoryLocker(pc.AdvisoryLockKey),
		Logger:      app.logger,
		Concurrency: app.cfg.Worker.Concurrency,
		UnitTimeout: time.Duration(app.cfg.Worker.TimeoutSec) * time.Second,
	})
	return nil
}

// advisoryLocker keeps two in-process passes from overlapping across processes.
func (app *App) advisoryLocker(key int64) service.Locker {
	return func(ctx context.Context) (func(), bool, error) {
		return repository.TryAdvisoryLock(ctx, app.db, key)
	}
}

func (app *App) initQueue() error {
	redisOpt := asynq.RedisClientOpt{Addr: app.cfg.Redis.AsynqAddr}
	checkInterval := time.Duration(app.cfg.Worker.CheckIntervalSec) * time.Second
	timeout := time.Duration(app.cfg.Worker.TimeoutSec) * time.Second

	app.rdbAsynq = redis.NewClient(&redis.Options{Addr: app.cfg.Redis.AsynqAddr})
	app.asynqClient = asynq.NewClient(redisOpt)
	app.asynqServer = asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:              app.cfg.Worker.Concurrency,
			DelayedTaskCheckInterval: checkInterval,
			TaskCheckInterval:        checkInterval,
			Logger:                   app.logger.With("component", "asynq"),
		},
	)
	app.asynqScheduler = asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   app.logger.With("component", "scheduler"),
	})
	app.logger.Infow("Asynq configured", "addr", app.cfg.Redis.AsynqAddr)

	app.enqueuer = worker.NewAsynqEnqueuer(app.asynqClient, app.cfg.Worker.MaxRetry, timeout, timeout)
	app.asynqMux = asynq.NewServeMux()
	worker.NewHandlers(app.pipeline, app.enqueuer, app.logger).Register(app.asynqMux)

	if err := worker.RegisterSchedule(app.asynqScheduler, app.cfg.Schedule, app.logger, asynq.MaxRetry(0), asynq.Timeout(timeout)); err != nil {
		return err
	}

	if app.cfg.Server.ServeAsynqmon {
		app.monitor = asynqmon.New(asynqmon.Options{
			RootPath:     "/monitoring",
			RedisConnOpt: redisOpt,
		})
	}
	return nil
}

// Run starts the HTTP server, the Asynq worker and the scheduler, blocking until the context is canceled.
func (app *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Infow("Starting Asynq worker server")
		if err := app.asynqServer.Start(app.asynqMux); err != nil {
			return fmt.Errorf("asynq worker failed to start: %w", err)
		}
		<-ctx.Done()
		return nil
	})

	g.Go(func() error {
		app.logger.Infow("Starting Asynq scheduler")
		if err := app.asynqScheduler.Start(); err != nil {
			return fmt.Errorf("asynq scheduler failed to start: %w", err)
		}
		<-ctx.Done()
		return nil
	})

	g.Go(func() error {
		app.logger.Infow("HTTP server listening", "port", app.cfg.Server.Port)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return app.shutdown()
	})

	return g.Wait()
}

// shutdown stops intake first and closes connections last: HTTP, scheduler, worker, connections.
func (app *App) shutdown() error {
	app.logger.Infow("Shutting down server...")

	var errs []error

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		app.logger.Errorw("HTTP server shutdown error", "error", err)
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	app.asynqScheduler.Shutdown()
	app.asynqServer.Shutdown()

	if err := app.close(); err != nil {
		app.logger.Errorw("Connection cleanup errors", "error", err)
		errs = append(errs, err)
	}

	app.logger.Infow("Shutdown complete")
	return errors.Join(errs...)
}
