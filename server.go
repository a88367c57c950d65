package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hacknlove/safeapi-server/internal/config"
	"github.com/rs/zerolog/log"
)

// Server is the part of http.Server that serveHTTP drives.
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// serveHTTP runs the server until it fails or the process is asked to stop,
// then shuts it down gracefully. In-flight requests are given
// ShutdownTimeoutSeconds to complete.
func serveHTTP(serverCfg config.ServerConfig, server Server) error {
	// capture shutdown signals to allow for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", serverCfg.Port).Msg("starting server")
		serverErr <- server.ListenAndServe()
	}()

	var startupError error

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("failed to start server")
			// kept to return after the shutdown sequence
			startupError = err
		}
	case <-ctx.Done():
		log.Info().Msg("server shutdown requested")
		// Stop receiving signal notifications as soon as possible.
		stop()
	}

	shutdownTimeout := time.Duration(serverCfg.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	start := time.Now()

	err := server.Shutdown(shutdownCtx)
	if err != nil {
		return errors.Join(startupError, fmt.Errorf("server shutdown failed: %w", err))
	}

	log.Info().Dur("duration", time.Since(start)).Msg("server shutdown complete")

	return startupError
}
