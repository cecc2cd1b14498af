package ingest

import (
	"context"
	"errors"

	"github.com/cun0/firehose/internal/domain"
)

// Sink is the durable-store collaborator. Commit is atomic per batch: a nil
// return means every record in the batch is durably stored, an error means
// none are. The flusher's requeue logic depends on that contract.
type Sink interface {
	Commit(ctx context.Context, batch []domain.Event) error
}

// permanentError marks a commit failure that retrying cannot fix (schema
// mismatch, closed store, ...). The flusher still requeues the batch, it only
// logs and counts the failure differently.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so IsRetryable reports false for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable classifies a commit error. Everything is considered transient
// unless explicitly marked Permanent, so an unknown failure is retried rather
// than escalated.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *permanentError
	return !errors.As(err, &pe)
}
