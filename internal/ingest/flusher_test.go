package ingest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cun0/firehose/internal/domain"
)

// fakeSink records successful commits and can fail the first N attempts.
type fakeSink struct {
	mu       sync.Mutex
	batches  [][]domain.Event
	attempts int
	failures int
	failWith error
}

func (s *fakeSink) Commit(_ context.Context, batch []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.failures > 0 {
		s.failures--
		if s.failWith != nil {
			return s.failWith
		}
		return errors.New("store unavailable")
	}

	cp := make([]domain.Event, len(batch))
	copy(cp, batch)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *fakeSink) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *fakeSink) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.batches))
	for i, b := range s.batches {
		out[i] = len(b)
	}
	return out
}

func (s *fakeSink) committed() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *fakeSink) batch(i int) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches[i]
}

func testConfig() FlusherConfig {
	return FlusherConfig{
		BatchSize:     100,
		FlushInterval: 10 * time.Millisecond,
		BackoffDelay:  5 * time.Millisecond,
		CommitTimeout: time.Second,
	}
}

func startFlusher(t *testing.T, buf *Buffer, sink Sink, cfg FlusherConfig) {
	t.Helper()
	f := NewFlusher(buf, sink, cfg, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = f.Stop(context.Background())
	})
}

func TestFlusher_CommitsInAcceptanceOrder(t *testing.T) {
	// 250 events, batch size 100, no failures: three commits of 100/100/50
	// in original order.
	buf := NewBuffer(0)
	events := makeEvents(250)
	for _, e := range events {
		buf.Enqueue(e)
	}

	fs := &fakeSink{}
	startFlusher(t, buf, fs, testConfig())

	require.Eventually(t, func() bool {
		return len(fs.committed()) == 250
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []int{100, 100, 50}, fs.batchSizes())
	assert.Equal(t, ids(events), ids(fs.committed()))
	assert.Zero(t, buf.Len())
}

func TestFlusher_FailedBatchIsRequeuedAndRetried(t *testing.T) {
	// One failure on the first attempt: the same 100 events are committed on
	// the retry, zero loss, original relative order preserved.
	buf := NewBuffer(0)
	events := makeEvents(100)
	for _, e := range events {
		buf.Enqueue(e)
	}

	fs := &fakeSink{failures: 1}
	startFlusher(t, buf, fs, testConfig())

	require.Eventually(t, func() bool {
		return len(fs.committed()) == 100
	}, 2*time.Second, 5*time.Millisecond)

	require.Len(t, fs.batchSizes(), 1)
	assert.Equal(t, ids(events), ids(fs.committed()))
	assert.GreaterOrEqual(t, fs.attemptCount(), 2)
	assert.Zero(t, buf.Len())
}

func TestFlusher_EmptyCyclesSkipCommit(t *testing.T) {
	buf := NewBuffer(0)
	fs := &fakeSink{}
	startFlusher(t, buf, fs, testConfig())

	// Several flush intervals with nothing buffered.
	time.Sleep(80 * time.Millisecond)
	require.Zero(t, fs.attemptCount())
}

func TestFlusher_BatchBound(t *testing.T) {
	buf := NewBuffer(0)
	for _, e := range makeEvents(500) {
		buf.Enqueue(e)
	}

	fs := &fakeSink{}
	startFlusher(t, buf, fs, testConfig())

	require.Eventually(t, func() bool {
		return len(fs.committed()) == 500
	}, 2*time.Second, 5*time.Millisecond)

	for _, size := range fs.batchSizes() {
		assert.LessOrEqual(t, size, 100)
	}
}

func TestFlusher_RequeuedBatchPrecedesNewerEvents(t *testing.T) {
	buf := NewBuffer(0)
	original := makeEvents(10)
	for _, e := range original {
		buf.Enqueue(e)
	}

	fs := &fakeSink{failures: 1}
	startFlusher(t, buf, fs, testConfig())

	// Wait for the failed attempt, then add newer events during the retry
	// window.
	require.Eventually(t, func() bool {
		return fs.attemptCount() >= 1
	}, 2*time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		buf.Enqueue(domain.Event{ID: "late-" + strconv.Itoa(i)})
	}

	require.Eventually(t, func() bool {
		return len(fs.committed()) == 15
	}, 2*time.Second, 5*time.Millisecond)

	// The requeued batch must be a contiguous, order-preserving prefix of the
	// next successful commit.
	first := fs.batch(0)
	require.GreaterOrEqual(t, len(first), 10)
	assert.Equal(t, ids(original), ids(first[:10]))
}

func TestFlusher_NoLossUnderRepeatedFailures(t *testing.T) {
	const total = 1000

	buf := NewBuffer(0)
	fs := &fakeSink{failures: 3}

	cfg := testConfig()
	cfg.FlushInterval = 5 * time.Millisecond
	cfg.BackoffDelay = 2 * time.Millisecond
	startFlusher(t, buf, fs, cfg)

	var wg sync.WaitGroup
	wg.Add(total)
	for i := 0; i < total; i++ {
		go func(i int) {
			defer wg.Done()
			buf.Enqueue(domain.Event{ID: "ev-" + strconv.Itoa(i)})
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(fs.committed()) >= total
	}, 5*time.Second, 5*time.Millisecond)

	seen := make(map[string]struct{}, total)
	for _, e := range fs.committed() {
		seen[e.ID] = struct{}{}
	}
	require.Len(t, seen, total, "every accepted event committed at least once")
	require.Zero(t, buf.Len())
}

func TestFlusher_PermanentErrorStillRequeues(t *testing.T) {
	buf := NewBuffer(0)
	for _, e := range makeEvents(10) {
		buf.Enqueue(e)
	}

	fs := &fakeSink{failures: 1, failWith: Permanent(errors.New("relation does not exist"))}
	startFlusher(t, buf, fs, testConfig())

	require.Eventually(t, func() bool {
		return len(fs.committed()) == 10
	}, 2*time.Second, 5*time.Millisecond)
	require.Zero(t, buf.Len())
}

func TestFlusher_FinalFlushOnShutdown(t *testing.T) {
	buf := NewBuffer(0)
	events := makeEvents(142)
	for _, e := range events {
		buf.Enqueue(e)
	}

	fs := &fakeSink{}
	cfg := testConfig()
	cfg.FlushInterval = time.Hour // ticker never fires, only the final flush runs

	f := NewFlusher(buf, fs, cfg, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.Start(ctx)

	cancel()
	require.NoError(t, f.Stop(context.Background()))

	assert.Equal(t, ids(events), ids(fs.committed()))
	assert.Zero(t, buf.Len())
}

func TestFlusher_FinalFlushKeepsBatchOnFailure(t *testing.T) {
	buf := NewBuffer(0)
	for _, e := range makeEvents(10) {
		buf.Enqueue(e)
	}

	fs := &fakeSink{failures: 10}
	cfg := testConfig()
	cfg.FlushInterval = time.Hour

	f := NewFlusher(buf, fs, cfg, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.Start(ctx)

	cancel()
	require.NoError(t, f.Stop(context.Background()))

	// Nothing persisted, but nothing silently dropped either.
	assert.Empty(t, fs.committed())
	assert.Equal(t, 10, buf.Len())
}

func TestFlusher_StopHonorsContext(t *testing.T) {
	buf := NewBuffer(0)
	f := NewFlusher(buf, &fakeSink{}, testConfig(), zerolog.Nop(), nil)
	// Never started: done never closes, Stop must give up with the context.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.Stop(ctx), context.DeadlineExceeded)
}
