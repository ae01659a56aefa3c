// Package app wires the publisher's components from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/automarketer/publisher/internal/config"
	"github.com/automarketer/publisher/internal/core"
	"github.com/automarketer/publisher/internal/db"
	"github.com/automarketer/publisher/internal/events"
	"github.com/automarketer/publisher/internal/logging"
	"github.com/automarketer/publisher/internal/metrics"
	"github.com/automarketer/publisher/internal/provider"
	"github.com/automarketer/publisher/internal/scheduler"
)

type App struct {
	Config    *config.Config
	Log       zerolog.Logger
	DB        *db.DB
	Store     *core.Store
	Scheduler *scheduler.Scheduler

	closers []func()
}

// New connects to Postgres and NATS, applies migrations when enabled and
// builds the scheduler. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.DB = database
	a.closers = append(a.closers, database.Close)

	if cfg.Migrate {
		if err := database.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	a.Store = core.NewStore(database)

	prov, err := provider.New(cfg.Provider, LinkedInConfig(cfg))
	if err != nil {
		a.Close()
		return nil, err
	}

	notifier, closeEvents, err := events.Connect(cfg.NATSURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeEvents)

	a.Scheduler = scheduler.New(scheduler.Deps{
		Store:     a.Store,
		Publisher: prov,
		Refresher: prov,
		Events:    notifier,
		Locker:    a.Store,
		Log:       logging.Component(log, "scheduler"),
	}, SchedulerOptions(cfg))

	log.Info().
		Str("provider", cfg.Provider).
		Bool("events", cfg.NATSURL != "").
		Bool("tick_lock", cfg.Scheduler.TickLock).
		Msg("components ready")
	return a, nil
}

// StartPoolStats exports pool gauges until stop is closed.
func (a *App) StartPoolStats(interval time.Duration, stop <-chan struct{}) {
	metrics.MustRegister()
	go metrics.NewPGXPoolStats(a.DB.Pool).Start(interval, stop)
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func LinkedInConfig(cfg *config.Config) provider.LinkedInConfig {
	return provider.LinkedInConfig{
		APIURL:       cfg.LinkedIn.APIURL,
		OAuthURL:     cfg.LinkedIn.OAuthURL,
		ClientID:     cfg.LinkedIn.ClientID,
		ClientSecret: cfg.LinkedIn.ClientSecret,
		Timeout:      cfg.LinkedIn.Timeout,
		QPS:          cfg.LinkedIn.QPS,
		Burst:        cfg.LinkedIn.Burst,
	}
}

func SchedulerOptions(cfg *config.Config) scheduler.Options {
	return scheduler.Options{
		PollInterval:      cfg.Scheduler.PollInterval,
		RefreshWindow:     cfg.Scheduler.RefreshWindow,
		DefaultAccountURN: cfg.Scheduler.DefaultAccountURN,
		TickLock:          cfg.Scheduler.TickLock,
	}
}
