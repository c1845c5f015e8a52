package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aymenesoualem/bookingagent/internal/app"
	"github.com/aymenesoualem/bookingagent/internal/config"
	"github.com/aymenesoualem/bookingagent/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.Base()
		l.Fatal().Err(err).Msg("config error")
	}
	logging.Configure(logging.Config{Level: cfg.LogLevel, Service: "bookingagent"})
	logger := logging.WithComponent("main")

	if err := cfg.ValidateServer(); err != nil {
		logger.Fatal().Err(err).Msg("invalid server configuration")
	}

	// runCtx outlives individual requests so that hijacked media streams
	// observe shutdown.
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	built, err := app.Build(runCtx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Error().Err(err).Msg("cleanup failed")
		}
	}()

	httpServer := &http.Server{
		Addr:        cfg.BindAddr,
		Handler:     built.API.Router(),
		BaseContext: func(net.Listener) context.Context { return runCtx },
	}

	go func() {
		logger.Info().Str("addr", cfg.BindAddr).Str("public_domain", cfg.PublicDomain).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	logger.Info().Msg("shutdown complete")
}
