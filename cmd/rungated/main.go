// Package main implements rungated, a daemon that runs commands behind a run-gate.
//
// Each job in the YAML job file has a cron schedule saying when to ask its gate, and period,
// retry and connectivity constraints saying whether the gate opens. Allowed runs execute the
// job's command; its exit status is recorded as the outcome.
//
// API Endpoints:
//
//	GET  /jobs     - Gate status of every job
//	POST /run?id=  - Start a job now, bypassing its constraints
//	POST /reset    - Remove all persisted gate state
//	GET  /metrics  - Prometheus metrics
//
// Usage:
//
//	go run ./cmd/rungated -config rungate.yaml
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guido-cesarano/rungate/pkg/config"
	"github.com/guido-cesarano/rungate/pkg/gate"
	"github.com/guido-cesarano/rungate/pkg/logger"
	"github.com/guido-cesarano/rungate/pkg/netstate"
	"github.com/guido-cesarano/rungate/pkg/store"
)

func main() {
	configPath := flag.String("config", "rungate.yaml", "Path to the job file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Log.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load config")
	}

	st, err := store.Open(cfg.Store.Backend())
	if err != nil {
		logger.Log.Fatal().Err(err).Str("type", cfg.Store.Type).Msg("Failed to open store")
	}
	defer st.Close()

	var network gate.ConnectivityState
	if cfg.ProbeNetwork {
		network = netstate.NewProbe()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, cfg, st, network)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to build jobs")
	}
	if err := d.start(); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to schedule jobs")
	}
	go collectGateMetrics(ctx, d, 5*time.Second)

	if cfg.APIKey == "" {
		logger.Log.Warn().Msg("API_KEY not set. Authentication disabled.")
	} else {
		logger.Log.Info().Msg("API Authentication enabled.")
	}

	srv := &http.Server{Addr: cfg.Listen, Handler: setupRouter(d, cfg.APIKey)}
	go func() {
		logger.Log.Info().Str("addr", cfg.Listen).Int("jobs", len(cfg.Jobs)).Msg("rungated listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Log.Info().Msg("Shutting down rungated...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("HTTP shutdown failed")
	}

	// Let running commands finish and record their outcome before killing them.
	d.stop(30 * time.Second)
	cancel()
}
