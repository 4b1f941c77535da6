package app

import (
	"context"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"outbound-pool/internal/common/errors"
	"outbound-pool/internal/common/logging"
	"outbound-pool/internal/pool"
)

const probeTimeout = 10 * time.Second

// StartProbes schedules GET requests to the configured targets through the
// pool, so breaker state and metrics stay current for idle upstreams.
func (app *App) StartProbes() error {
	if len(app.Config.ProbeTargets) == 0 {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(app.Config.ProbeSchedule, func() { app.RunProbes(context.Background()) }); err != nil {
		return errors.ConfigError("invalid probe schedule").
			WithContext("schedule", app.Config.ProbeSchedule).
			WithContext("reason", err.Error())
	}
	c.Start()
	app.probes = c

	app.Logger.Info("Upstream probes scheduled",
		logging.String("schedule", app.Config.ProbeSchedule),
		logging.Int("targets", len(app.Config.ProbeTargets)),
	)
	return nil
}

// RunProbes probes every target once and waits for all of them
func (app *App) RunProbes(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var g errgroup.Group
	for _, target := range app.Config.ProbeTargets {
		g.Go(func() error {
			app.probe(ctx, target)
			return nil
		})
	}
	_ = g.Wait()
}

func (app *App) probe(ctx context.Context, target string) {
	req := &pool.Request{
		Method:     http.MethodGet,
		URL:        target,
		MaxRetries: pool.Int(0),
		Dedupable:  pool.Bool(false),
		Batchable:  pool.Bool(false),
	}

	resp, err := app.Pool.Execute(ctx, req)
	if err != nil {
		app.Logger.Warn("Upstream probe failed",
			logging.String("target", target),
			logging.String("error_type", string(errors.GetType(err))),
			logging.Err(err),
		)
		return
	}
	app.Logger.Debug("Upstream probe succeeded",
		logging.String("target", target),
		logging.Int("status_code", resp.StatusCode),
		logging.Duration("duration", resp.Duration),
	)
}

func (app *App) stopProbes() {
	if app.probes == nil {
		return
	}
	<-app.probes.Stop().Done()
	app.probes = nil
}
