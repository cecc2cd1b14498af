package app

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cun0/firehose/internal/config"
	"github.com/cun0/firehose/internal/httpserver"
	"github.com/cun0/firehose/internal/ingest"
	"github.com/cun0/firehose/internal/metrics"
	"github.com/cun0/firehose/internal/repo"
)

func Run(version, buildTime string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)

	buf := ingest.NewBuffer(cfg.Ingest.BufferCapacity)
	m := metrics.New(buf.Len)

	sink, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	// closeStore runs in the shutdown hook to keep the lifecycle in one place.

	if cfg.Ingest.FaultInjectionDelay > 0 {
		logger.Warn().
			Dur("delay", cfg.Ingest.FaultInjectionDelay).
			Msg("fault injection enabled, every commit attempt will be delayed")
		sink = ingest.NewDelaySink(sink, cfg.Ingest.FaultInjectionDelay)
	}

	flusher := ingest.NewFlusher(buf, sink, ingest.FlusherConfig{
		BatchSize:     cfg.Ingest.BatchSize,
		FlushInterval: cfg.Ingest.FlushInterval,
		BackoffDelay:  cfg.Ingest.BackoffDelay,
		CommitTimeout: cfg.Ingest.CommitTimeout,
	}, logger, m)

	flushCtx, cancelFlush := context.WithCancel(context.Background())
	defer cancelFlush()
	flusher.Start(flushCtx)

	handler := httpserver.BuildHandler(logger, buf, m)

	logger.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Str("storage_driver", cfg.Storage.Driver).
		Int("batch_size", cfg.Ingest.BatchSize).
		Dur("flush_interval", cfg.Ingest.FlushInterval).
		Msg("service started")

	return httpserver.Serve(cfg.HTTP, logger, handler, func(ctx context.Context) error {
		// Producers are gone by now; stop the flusher so it runs its final
		// drain-and-flush, then close the store.
		cancelFlush()
		stopErr := flusher.Stop(ctx)
		closeStore()
		if stopErr != nil && !errors.Is(stopErr, context.Canceled) && !errors.Is(stopErr, context.DeadlineExceeded) {
			return stopErr
		}
		return nil
	})
}

func openStore(cfg config.Config) (ingest.Sink, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := repo.NewPool(context.Background(), cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		return repo.NewEventRepo(pool), pool.Close, nil

	case config.DriverSQLite:
		r, err := repo.OpenSQLite(context.Background(), cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil

	default:
		// config.Load validates the driver, this is unreachable.
		return nil, nil, errors.New("unknown storage driver")
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
