package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"outbound-pool/internal/common/logging"
	"outbound-pool/internal/config"
	"outbound-pool/internal/events"
	"outbound-pool/internal/events/promsink"
	"outbound-pool/internal/pool"
)

// App holds all the application dependencies
type App struct {
	Config   *config.Config
	Pool     *pool.Manager
	Registry *prometheus.Registry
	Logger   logging.Logger

	probes *cron.Cron
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config, logger logging.Logger) (*App, error) {
	logger = logging.OrGlobal(logger)

	app := &App{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		Logger:   logger.WithFields(logging.String("component", "app")),
	}
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sink := events.Multi{
		events.NewLogSink(logger),
		promsink.New(app.Registry),
	}

	manager, err := pool.New(cfg.Pool, pool.WithSink(sink), pool.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	app.Pool = manager

	app.Logger.Info("Connection pool initialized",
		logging.Int("capacity", cfg.Pool.Transport.Capacity()),
		logging.Int("max_retries", cfg.Pool.Retry.MaxRetries),
		logging.Bool("dedup_enabled", cfg.Pool.Dedup.Enabled),
		logging.Bool("batch_enabled", cfg.Pool.Batch.Enabled),
		logging.Bool("rate_limit_enabled", cfg.Pool.RateLimit.Enabled),
	)

	return app, nil
}

// Shutdown stops probes and closes the pool
func (app *App) Shutdown(ctx context.Context) error {
	app.stopProbes()

	if err := app.Pool.Close(ctx); err != nil {
		app.Logger.Warn("Connection pool did not drain before the deadline", logging.Err(err))
		return err
	}
	return nil
}
