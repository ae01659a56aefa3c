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

	"github.com/rs/zerolog"

	"github.com/automarketer/publisher/internal/app"
	"github.com/automarketer/publisher/internal/config"
	"github.com/automarketer/publisher/internal/logging"
	"github.com/automarketer/publisher/internal/metrics"
)

// Runs only the publisher loop. Several replicas may run with
// SCHEDULER_TICK_LOCK=true.
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

	// ---- Healthz ----
	go serveHealthz(cfg.HealthAddr, log)

	// ---- Scheduler ----
	a.Scheduler.Start(rootCtx)
	<-rootCtx.Done()

	a.Scheduler.Stop()
	select {
	case <-a.Scheduler.Done():
	case <-time.After(30 * time.Second):
		log.Warn().Msg("scheduler still publishing at shutdown deadline")
	}
}

func serveHealthz(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("addr", addr).Msg("healthz listener")
	}
}
