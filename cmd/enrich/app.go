package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/phrazzld/enrich/internal/config"
	"github.com/phrazzld/enrich/internal/dispatch"
	"github.com/phrazzld/enrich/internal/events"
	"github.com/phrazzld/enrich/internal/generation"
	"github.com/phrazzld/enrich/internal/job"
	"github.com/phrazzld/enrich/internal/metrics"
	"github.com/phrazzld/enrich/internal/platform/gemini"
	"github.com/phrazzld/enrich/internal/platform/migrate"
	"github.com/phrazzld/enrich/internal/platform/openai"
	"github.com/phrazzld/enrich/internal/platform/postgres"
	"github.com/phrazzld/enrich/internal/platform/sqlite"
	"github.com/phrazzld/enrich/internal/research"
	"github.com/phrazzld/enrich/internal/schema"
	"github.com/pressly/goose/v3"
)

// application holds the shared dependencies of every command and releases
// them in cleanup.
type application struct {
	config *config.Config
	logger *slog.Logger

	db      *sql.DB
	store   job.Store
	metrics *metrics.Metrics

	client     generation.Client
	policy     generation.RetryPolicy
	dispatcher *dispatch.Dispatcher
	schemas    *schema.Registry
	registry   *job.Registry
	service    *job.Service

	// local fans events out inside this process; emitter adds the broker
	// when one is configured.
	local       *events.InMemoryEventEmitter
	emitter     events.EventEmitter
	amqpEmitter *events.AMQPEmitter
}

// newApplication opens the configured store, applying pending migrations,
// and connects the configured AI provider.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	m := metrics.New()
	client, err := newClient(ctx, cfg.LLM, m, logger)
	if err != nil {
		return nil, err
	}
	return buildApplication(ctx, cfg, logger, client, m)
}

// buildApplication wires everything around an existing client.
func buildApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	client generation.Client,
	m *metrics.Metrics,
) (*application, error) {
	app := &application{
		config:  cfg,
		logger:  logger,
		metrics: m,
		client:  client,
		policy: generation.RetryPolicy{
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			BaseDelay:   cfg.Dispatch.RetryBaseDelay,
			MaxDelay:    cfg.Dispatch.RetryMaxDelay,
		},
	}

	if err := app.openStore(ctx); err != nil {
		return nil, err
	}

	app.schemas = schema.NewRegistry()
	if cfg.Schemas.Dir != "" {
		loaded, err := app.schemas.LoadDir(cfg.Schemas.Dir)
		if err != nil {
			app.cleanup()
			return nil, fmt.Errorf("failed to load schemas: %w", err)
		}
		logger.Info("custom schemas loaded", "dir", cfg.Schemas.Dir, "schemas", loaded)
	}

	app.dispatcher = dispatch.NewDispatcher(client, logger, m,
		dispatch.WithBatchSize(cfg.Dispatch.BatchSize),
		dispatch.WithConcurrencyLimit(cfg.Dispatch.ConcurrencyLimit),
		dispatch.WithRetryPolicy(app.policy),
	)

	researchCfg := research.DefaultConfig()
	researchCfg.CountryConcurrency = cfg.Dispatch.ConcurrencyLimit
	researchCfg.Policy = app.policy
	app.registry = job.NewRegistry(
		job.NewPostulationHandler(client, app.policy, logger),
		research.NewCompanySearchHandler(research.NewFinder(client, researchCfg, logger), logger),
	)

	app.local = events.NewInMemoryEventEmitter(logger)
	app.emitter = app.local
	if cfg.Broker.AMQPURL != "" {
		amqpEmitter, err := events.NewAMQPEmitter(cfg.Broker.AMQPURL, cfg.Broker.Exchange, logger)
		if err != nil {
			app.cleanup()
			return nil, fmt.Errorf("failed to connect to message broker: %w", err)
		}
		app.amqpEmitter = amqpEmitter
		app.emitter = events.MultiEmitter{app.local, amqpEmitter}
		logger.Info("job notifications enabled", "exchange", cfg.Broker.Exchange)
	}

	app.service = job.NewService(app.store, app.registry, app.emitter, m, logger)
	return app, nil
}

// newClient creates the AI task client for the configured provider.
func newClient(ctx context.Context, cfg config.LLMConfig, m *metrics.Metrics, logger *slog.Logger) (generation.Client, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		c, err := gemini.NewClient(ctx, cfg, m, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gemini client: %w", err)
		}
		return c, nil
	case config.ProviderOpenAI:
		c, err := openai.NewClient(cfg, nil, m, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai client: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: unknown provider %q", generation.ErrInvalidConfig, cfg.Provider)
}

// errNoDatabase is returned for database operations on the memory driver.
var errNoDatabase = errors.New("the memory driver has no database")

// openDatabase connects to the configured SQL database without migrating it.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, goose.Dialect, fs.FS, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.URL, cfg.MaxOpenConns)
		return db, postgres.Dialect, postgres.Migrations(), err
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.URL)
		return db, sqlite.Dialect, sqlite.Migrations(), err
	case config.DriverMemory:
		return nil, "", nil, errNoDatabase
	}
	return nil, "", nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func (app *application) openStore(ctx context.Context) error {
	if app.config.Database.Driver == config.DriverMemory {
		app.logger.Warn("using the in-memory job store; jobs are lost on exit")
		app.store = job.NewMemoryStore()
		return nil
	}

	db, dialect, migrations, err := openDatabase(ctx, app.config.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	m, err := migrate.New(db, dialect, migrations, app.logger)
	if err == nil {
		err = m.Up(ctx)
	}
	if err != nil {
		_ = db.Close()
		return err
	}

	app.db = db
	switch app.config.Database.Driver {
	case config.DriverPostgres:
		app.store = postgres.NewJobStore(db, app.logger)
	default:
		app.store = sqlite.NewJobStore(db, app.logger)
	}
	app.logger.Info("job store ready", "driver", app.config.Database.Driver)
	return nil
}

// newWorker creates a worker that wakes on job.enqueued events from this
// process and, with a broker, from every other process.
func (app *application) newWorker(ctx context.Context) (*job.Worker, func() error, error) {
	cfg := app.config.Worker
	w := job.NewWorker(app.store, app.registry, app.emitter, app.metrics, app.logger, job.WorkerConfig{
		ID:           cfg.WorkerID,
		PollInterval: cfg.PollInterval,
		LeaseTimeout: cfg.LeaseTimeout,
		ReapInterval: cfg.ReapInterval,
	})
	app.local.RegisterHandler(w)

	listen := func() error { return nil }
	if app.config.Broker.AMQPURL != "" {
		sub, err := events.NewAMQPSubscriber(app.config.Broker.AMQPURL, app.config.Broker.Exchange,
			[]events.Type{events.JobEnqueued}, app.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to subscribe to job notifications: %w", err)
		}
		listen = func() error {
			defer func() { _ = sub.Close() }()
			if err := sub.Run(ctx, w); err != nil && ctx.Err() == nil {
				// The poll loop still finds jobs without notifications.
				app.logger.Warn("job notification subscription ended", "error", err)
			}
			return nil
		}
	}
	return w, listen, nil
}

// healthHandler reports whether the job store is reachable.
func (app *application) healthHandler(w http.ResponseWriter, r *http.Request) {
	if app.db != nil {
		if err := app.db.PingContext(r.Context()); err != nil {
			app.logger.Error("health check failed", "error", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		app.logger.Error("failed to write health check response", "error", err)
	}
}

// cleanup releases the broker connection and the database.
func (app *application) cleanup() {
	if app.amqpEmitter != nil {
		if err := app.amqpEmitter.Close(); err != nil {
			app.logger.Warn("failed to close broker connection", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database", "error", err)
		}
	}
}
