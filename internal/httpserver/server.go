package httpserver

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

	"github.com/cun0/firehose/internal/config"
)

func Serve(cfg config.HTTPConfig, logger zerolog.Logger, handler http.Handler, onShutdown func(context.Context) error) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		IdleTimeout:       60 * time.Second,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	shutdownError := make(chan error, 1)

	// Graceful shutdown on SIGINT/SIGTERM.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		logger.Info().Str("signal", s.String()).Msg("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Stop taking new requests first, then let the shutdown hook flush
		// the buffer while the store is still open.
		err := srv.Shutdown(ctx)

		if onShutdown != nil {
			if hookErr := onShutdown(ctx); hookErr != nil {
				logger.Error().Err(hookErr).Str("component", "shutdown_hook").Msg("shutdown hook failed")
			}
		}

		shutdownError <- err
	}()

	logger.Info().Str("addr", srv.Addr).Msg("starting server")

	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	// Wait for shutdown result.
	if err := <-shutdownError; err != nil {
		return err
	}

	logger.Info().Str("addr", srv.Addr).Msg("stopped server")

	return nil
}
