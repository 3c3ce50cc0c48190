// Command server boots the trading service: it loads configuration,
// wires every component, starts the market data stream and the
// operator HTTP surface, and runs the orchestrator's control loop until
// an operating system signal asks it to stop — grounded on the
// teacher's cmd/server/main.go boot sequence (logger, config, a
// long-lived resource with a deferred Close, background workers
// started before the HTTP server, signal.Notify plus a graceful
// Shutdown with a bounded context), generalized with a distinct exit
// code for an operator-issued emergency halt versus a clean shutdown.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/cryptotrader/internal/config"
	"github.com/aristath/cryptotrader/internal/wiring"
	"github.com/aristath/cryptotrader/pkg/logger"
)

// Exit codes, per the operator runbook: 0 clean shutdown, 1
// unrecoverable startup failure, 2 external halt signal received.
const (
	exitClean         = 0
	exitStartupFailed = 1
	exitHaltSignal    = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	logger.SetGlobalLogger(log)

	log.Info().Msg("starting trading service")

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return exitStartupFailed
	}
	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	container, err := wiring.Wire(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to wire dependencies")
		return exitStartupFailed
	}
	defer container.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if container.Stream != nil {
		if err := container.Stream.Start(ctx); err != nil {
			log.Error().Err(err).Msg("failed to start market data stream")
			return exitStartupFailed
		}
	}

	go container.Orchestrator.Run(ctx)

	go func() {
		if err := container.Server.Start(); err != nil {
			log.Error().Err(err).Msg("operator http surface failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Str("mode", string(cfg.Mode)).Msg("trading service started")

	quit := make(chan os.Signal, 1)
	halt := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	signal.Notify(halt, syscall.SIGUSR1)

	exitCode := exitClean
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case sig := <-halt:
		log.Warn().Str("signal", sig.String()).Msg("external halt signal received, flattening positions")
		haltCtx, haltCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := container.Orchestrator.HaltAll(haltCtx, "external_signal"); err != nil {
			log.Error().Err(err).Msg("halt command failed")
		}
		haltCancel()
		exitCode = exitHaltSignal
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("trading service stopped")
	return exitCode
}
