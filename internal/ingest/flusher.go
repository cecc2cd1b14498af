package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cun0/firehose/internal/domain"
)

// FlushObserver receives flush outcomes, typically backed by the metrics
// registry. A nil observer is allowed.
type FlushObserver interface {
	BatchCommitted(n int, took time.Duration)
	FlushFailed(n int, retryable bool)
	BatchRequeued(n int)
}

type FlusherConfig struct {
	// BatchSize caps how many events one commit attempt may carry.
	BatchSize int
	// FlushInterval is the wait between flush cycles.
	FlushInterval time.Duration
	// BackoffDelay is the extra wait after a failed commit.
	BackoffDelay time.Duration
	// CommitTimeout bounds a single commit attempt against the sink.
	CommitTimeout time.Duration
	// ShutdownTimeout bounds the best-effort final flush on cancellation.
	ShutdownTimeout time.Duration
}

// Flusher is the single consumer of the buffer: a long-lived loop that drains
// a bounded batch every FlushInterval and commits it to the sink. A failed
// commit puts the whole batch back at the front of the buffer, so events are
// never lost; a persistently failing sink just means unbounded retries while
// the buffer grows, which is the documented trade-off of this design.
type Flusher struct {
	buf    *Buffer
	sink   Sink
	cfg    FlusherConfig
	logger zerolog.Logger
	obs    FlushObserver

	done chan struct{}
}

func NewFlusher(buf *Buffer, sink Sink, cfg FlusherConfig, logger zerolog.Logger, obs FlushObserver) *Flusher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.BackoffDelay <= 0 {
		cfg.BackoffDelay = time.Second
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	return &Flusher{
		buf:    buf,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With().Str("component", "flusher").Logger(),
		obs:    obs,
		done:   make(chan struct{}),
	}
}

// Start launches the flush loop. The loop runs until ctx is canceled; it then
// makes a best-effort final drain-and-flush so neither an in-flight batch nor
// the buffered tail is silently abandoned at shutdown.
func (f *Flusher) Start(ctx context.Context) {
	go func() {
		defer close(f.done)

		ticker := time.NewTicker(f.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				f.finalFlush()
				return
			case <-ticker.C:
				if ok := f.flushOnce(); !ok {
					if !f.sleep(ctx, f.cfg.BackoffDelay) {
						f.finalFlush()
						return
					}
				}
			}
		}
	}()
}

// Stop waits for the loop to finish; the caller cancels the Start context.
func (f *Flusher) Stop(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flushOnce runs one flush cycle and reports false if a commit failed (the
// caller then backs off). An empty drain is a successful no-op cycle.
func (f *Flusher) flushOnce() bool {
	batch := f.buf.Drain(f.cfg.BatchSize)
	if len(batch) == 0 {
		return true
	}

	start := time.Now()
	err := f.commit(batch)
	took := time.Since(start)

	if err != nil {
		// Whole batch back at the front: retried before the newer tail,
		// internal order intact.
		f.buf.RequeueFront(batch)

		retryable := IsRetryable(err)
		var ev *zerolog.Event
		if retryable {
			ev = f.logger.Warn()
		} else {
			ev = f.logger.Error()
		}
		ev.Err(err).
			Int("batch_size", len(batch)).
			Bool("retryable", retryable).
			Int("buffered", f.buf.Len()).
			Msg("commit failed, batch requeued")

		if f.obs != nil {
			f.obs.FlushFailed(len(batch), retryable)
			f.obs.BatchRequeued(len(batch))
		}
		return false
	}

	f.logger.Info().
		Int("batch_size", len(batch)).
		Dur("took", took).
		Msg("batch committed")

	if f.obs != nil {
		f.obs.BatchCommitted(len(batch), took)
	}
	return true
}

// commit runs one attempt under its own timeout, detached from the loop
// context: cancellation mid-commit still resolves to either a success or a
// requeue, never an abandoned in-flight batch.
func (f *Flusher) commit(batch []domain.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.CommitTimeout)
	defer cancel()
	return f.sink.Commit(ctx, batch)
}

// finalFlush drains whatever is left and commits batch by batch until the
// buffer is empty, a commit fails, or the shutdown budget runs out. On
// failure the batch goes back to the buffer and the remainder is left behind;
// that loss window is logged loudly instead of hidden.
func (f *Flusher) finalFlush() {
	deadline := time.Now().Add(f.cfg.ShutdownTimeout)

	for {
		batch := f.buf.Drain(f.cfg.BatchSize)
		if len(batch) == 0 {
			return
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			f.buf.RequeueFront(batch)
			f.logger.Error().
				Int("buffered", f.buf.Len()).
				Msg("shutdown budget exhausted, buffered events not persisted")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), remaining)
		err := f.sink.Commit(ctx, batch)
		cancel()

		if err != nil {
			f.buf.RequeueFront(batch)
			f.logger.Error().Err(err).
				Int("buffered", f.buf.Len()).
				Msg("final flush failed, buffered events not persisted")
			if f.obs != nil {
				f.obs.FlushFailed(len(batch), IsRetryable(err))
				f.obs.BatchRequeued(len(batch))
			}
			return
		}

		f.logger.Info().Int("batch_size", len(batch)).Msg("final flush committed batch")
		if f.obs != nil {
			f.obs.BatchCommitted(len(batch), 0)
		}
	}
}

func (f *Flusher) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
