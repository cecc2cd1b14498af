package ingest

import (
	"context"
	"time"

	"github.com/cun0/firehose/internal/domain"
)

// DelaySink decorates another Sink with a fixed delay before every commit
// attempt. It models a slow or temporarily unavailable store and exists only
// to exercise the flusher's failure handling; it is disabled unless
// FAULT_INJECTION_DELAY is set.
type DelaySink struct {
	inner Sink
	delay time.Duration
}

// NewDelaySink wraps inner. A delay <= 0 returns inner unchanged.
func NewDelaySink(inner Sink, delay time.Duration) Sink {
	if delay <= 0 {
		return inner
	}
	return &DelaySink{inner: inner, delay: delay}
}

// Commit sleeps for the configured delay (or until ctx is done), then
// forwards to the wrapped sink.
func (s *DelaySink) Commit(ctx context.Context, batch []domain.Event) error {
	t := time.NewTimer(s.delay)
	defer t.Stop()

	select {
	case <-t.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.inner.Commit(ctx, batch)
}
