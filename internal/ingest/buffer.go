package ingest

import (
	"sync"

	"github.com/cun0/firehose/internal/domain"
)

// Buffer is the transient FIFO holding accepted-but-not-yet-persisted events.
// It is owned by one service instance, not process-wide state.
//
// All three operations share a single critical section so concurrent producers
// and the flusher can never interleave a drain half-way and duplicate or skip
// events. The lock is held only for the O(batch) copy, never across store I/O.
type Buffer struct {
	mu       sync.Mutex
	events   []domain.Event
	capacity int // 0 = unbounded
}

// NewBuffer returns an empty buffer. capacity <= 0 means unbounded, which is
// the reference behavior; a positive capacity enables the reject-when-full
// backpressure extension.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{capacity: capacity}
}

// Enqueue appends e to the tail. It reports whether the event was accepted:
// always true when the buffer is unbounded, false when a configured capacity
// is already reached.
func (b *Buffer) Enqueue(e domain.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.capacity > 0 && len(b.events) >= b.capacity {
		return false
	}
	b.events = append(b.events, e)
	return true
}

// Drain atomically removes and returns up to max events from the head, in
// order. It never blocks: an empty buffer yields a nil slice.
func (b *Buffer) Drain(max int) []domain.Event {
	if max <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == 0 {
		return nil
	}

	n := max
	if n > len(b.events) {
		n = len(b.events)
	}

	batch := make([]domain.Event, n)
	copy(batch, b.events[:n])

	// Shift the tail down instead of re-slicing so drained events do not
	// stay reachable through the backing array.
	remaining := copy(b.events, b.events[n:])
	for i := remaining; i < len(b.events); i++ {
		b.events[i] = domain.Event{}
	}
	b.events = b.events[:remaining]

	return batch
}

// RequeueFront re-inserts a previously drained batch at the head, preserving
// its internal order and placing it before anything enqueued since. Used after
// a failed commit so the batch is retried before the newer tail.
//
// Requeueing ignores any capacity bound: a failed batch was already accepted
// once and dropping it here would break at-least-once delivery.
func (b *Buffer) RequeueFront(events []domain.Event) {
	if len(events) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make([]domain.Event, 0, len(events)+len(b.events))
	merged = append(merged, events...)
	merged = append(merged, b.events...)
	b.events = merged
}

// Len returns the current number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
