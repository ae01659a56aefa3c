package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/automarketer/publisher/internal/app"
	"github.com/automarketer/publisher/internal/config"
	httpapi "github.com/automarketer/publisher/internal/http"
	"github.com/automarketer/publisher/internal/logging"
)

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		exitCode = 2
		return
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	// ---- Context / signals ----
	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ---- Components ----
	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("startup")
		exitCode = 1
		return
	}
	defer a.Close()

	stopStats := make(chan struct{})
	defer close(stopStats)
	a.StartPoolStats(15*time.Second, stopStats)

	// ---- Scheduler ----
	a.Scheduler.Start(rootCtx)

	// ---- HTTP server ----
	srv := httpapi.NewServer(a.Store, logging.Component(log, "http"), cfg.DefaultTimezone)
	srv.Scheduler = a.Scheduler
	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serveErr:
		log.Error().Err(err).Msg("server")
		exitCode = 1
	}

	// ---- Graceful shutdown ----
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	a.Scheduler.Stop()
	select {
	case <-a.Scheduler.Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("scheduler still publishing at shutdown deadline")
	}
	log.Info().Msg("bye")
}
