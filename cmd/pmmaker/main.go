// Command pmmaker runs one maker-only market-making pipeline for a family
// of short-duration, rotating binary prediction markets sharing a slug
// prefix (e.g. "btc-up-or-down-"). It resolves the next tradeable window,
// quotes both outcome legs post-only, and rotates to the next window when
// the current one expires — see internal/engine for the rotation lifecycle.
//
// Usage:
//
//	pmmaker <slug-prefix>
//
// Configuration is read entirely from PM_* environment variables; see
// internal/config for the full list and their defaults.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"pmmaker/internal/api"
	"pmmaker/internal/config"
	"pmmaker/internal/engine"
	"pmmaker/internal/exchange"
)

const (
	exitOK            = 0
	exitAuthFailure   = 1
	exitConfigInvalid = 2
	exitStreamFailure = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	slugPrefix := os.Getenv("PM_SLUG_PREFIX")
	if len(os.Args) > 1 {
		slugPrefix = os.Args[1]
	}

	cfg, err := config.Load(slugPrefix)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return exitConfigInvalid
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		return exitConfigInvalid
	}

	logger := newLogger(*cfg)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		// construction only fails on wallet/signing setup or L2 credential
		// derivation — always an auth-layer problem, never a stream one.
		logger.Error("failed to initialize engine", "error", err)
		return exitAuthFailure
	}

	var apiServer *api.Server
	if cfg.DataAPIPort > 0 {
		apiServer = api.NewServer(cfg.DataAPIPort, eng, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
	}

	if cfg.DryRun {
		logger.Warn("dry-run mode: orders will be logged but not submitted")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("pmmaker started", "slug_prefix", cfg.SlugPrefix, "pair_target", cfg.PairTarget, "bid_size", cfg.BidSize)

	runErr := eng.Run(ctx)

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop status server", "error", err)
		}
	}

	if runErr == nil {
		logger.Info("pmmaker stopped")
		return exitOK
	}
	if errors.Is(runErr, exchange.ErrAuthFailed) {
		logger.Error("stopped on authentication failure", "error", runErr)
		return exitAuthFailure
	}
	if errors.Is(runErr, exchange.ErrStreamExhausted) {
		logger.Error("stopped on exhausted stream reconnect budget", "error", runErr)
		return exitStreamFailure
	}
	logger.Error("stopped on unexpected error", "error", runErr)
	return exitStreamFailure
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
