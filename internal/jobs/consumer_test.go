package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorebook/lorebook/internal/config"
)

// fakeStore is an in-memory Store. MarkFailed requeues immediately (no
// backoff delay) so retry scenarios run fast.
type fakeStore struct {
	mu        sync.Mutex
	pending   []*Job
	completed []string
	dead      []string
	failures  int
	recovered int

	ackErr error // returned once by MarkCompleted when set
}

func (s *fakeStore) push(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	job.Status = StatusPending
	s.pending = append(s.pending, job)
}

func (s *fakeStore) Dequeue(ctx context.Context, queue Queue, batch int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := batch
	if n > len(s.pending) {
		n = len(s.pending)
	}
	claimed := s.pending[:n]
	s.pending = s.pending[n:]

	out := make([]*Job, 0, n)
	for _, job := range claimed {
		job.Attempts++
		job.Status = StatusProcessing
		out = append(out, job)
	}
	return out, nil
}

func (s *fakeStore) MarkCompleted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ackErr != nil {
		err := s.ackErr
		s.ackErr = nil
		return err
	}
	s.completed = append(s.completed, id)
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, job *Job, jobErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures++
	if job.Attempts < job.MaxAttempts {
		job.Status = StatusPending
		s.pending = append(s.pending, job)
		return nil
	}
	job.Status = StatusDeadLetter
	s.dead = append(s.dead, job.ID)
	return nil
}

func (s *fakeStore) RecoverStale(ctx context.Context, queue Queue) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recovered++
	return 0, nil
}

func (s *fakeStore) snapshot() (completed, dead []string, failures int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.completed...), append([]string(nil), s.dead...), s.failures
}

func testTuning() config.QueueTuning {
	return config.QueueTuning{
		MaxAttempts:       3,
		PollInterval:      5 * time.Millisecond,
		BatchSize:         10,
		Concurrency:       4,
		HandlerTimeout:    time.Second,
		BaseRetryDelay:    time.Millisecond,
		MaxRetryDelay:     10 * time.Millisecond,
		VisibilityTimeout: time.Minute,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestConsumer_SuccessAcknowledges(t *testing.T) {
	store := &fakeStore{}
	store.push(&Job{ID: "job-1", Queue: QueueCounter, Kind: KindCounterRecompute, Payload: []byte(`{}`)})

	consumer := NewConsumer(store, QueueCounter, testTuning(), func(ctx context.Context, job *Job) error {
		return nil
	}, nil, testLogger())

	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop(context.Background())

	require.Eventually(t, func() bool {
		completed, _, _ := store.snapshot()
		return len(completed) == 1
	}, time.Second, 5*time.Millisecond)

	completed, dead, failures := store.snapshot()
	assert.Equal(t, []string{"job-1"}, completed)
	assert.Empty(t, dead)
	assert.Zero(t, failures)
	assert.Equal(t, int64(1), consumer.Metrics().Succeeded)
}

// A transport that fails twice then succeeds, against a 3-attempt budget:
// the consumer must report success after exactly 3 attempts and never make
// a 4th.
func TestConsumer_RetriesUntilSuccess(t *testing.T) {
	store := &fakeStore{}
	store.push(&Job{ID: "mail-1", Queue: QueueMail, Kind: KindMailSend, MaxAttempts: 3, Payload: []byte(`{}`)})

	var attempts atomic.Int64
	consumer := NewConsumer(store, QueueMail, testTuning(), func(ctx context.Context, job *Job) error {
		n := attempts.Add(1)
		if n < 3 {
			return errors.New("transport unavailable")
		}
		return nil
	}, nil, testLogger())

	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop(context.Background())

	require.Eventually(t, func() bool {
		completed, _, _ := store.snapshot()
		return len(completed) == 1
	}, time.Second, 5*time.Millisecond)

	// Give the loop a few more polls to prove no 4th attempt happens
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int64(3), attempts.Load())
	completed, dead, failures := store.snapshot()
	assert.Equal(t, []string{"mail-1"}, completed)
	assert.Empty(t, dead)
	assert.Equal(t, 2, failures)
}

func TestConsumer_ExhaustedBudgetDeadLetters(t *testing.T) {
	store := &fakeStore{}
	store.push(&Job{ID: "poison-1", Queue: QueueMail, Kind: KindMailSend, MaxAttempts: 3, Payload: []byte(`{}`)})

	var attempts atomic.Int64
	consumer := NewConsumer(store, QueueMail, testTuning(), func(ctx context.Context, job *Job) error {
		attempts.Add(1)
		return errors.New("permanent failure, indistinguishable from transient")
	}, nil, testLogger())

	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop(context.Background())

	require.Eventually(t, func() bool {
		_, dead, _ := store.snapshot()
		return len(dead) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int64(3), attempts.Load())
	completed, dead, _ := store.snapshot()
	assert.Empty(t, completed)
	assert.Equal(t, []string{"poison-1"}, dead)
}

// Duplicate sends on retry are the accepted tradeoff: when the side effect
// succeeds but the acknowledgement is lost, the job is redelivered and the
// handler runs again.
func TestConsumer_LostAckRedelivers(t *testing.T) {
	store := &fakeStore{ackErr: errors.New("broker connection reset")}
	store.push(&Job{ID: "job-1", Queue: QueueMail, Kind: KindMailSend, MaxAttempts: 5, Payload: []byte(`{}`)})

	var invocations atomic.Int64
	consumer := NewConsumer(store, QueueMail, testTuning(), func(ctx context.Context, job *Job) error {
		invocations.Add(1)
		return nil
	}, nil, testLogger())

	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop(context.Background())

	// First run: handler succeeds, ack fails, job stays unacknowledged.
	// Simulate the visibility window by requeueing what was never acked.
	require.Eventually(t, func() bool {
		return invocations.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	store.pending = append(store.pending, &Job{ID: "job-1", Queue: QueueMail, Kind: KindMailSend, MaxAttempts: 5, Payload: []byte(`{}`)})
	store.mu.Unlock()

	require.Eventually(t, func() bool {
		completed, _, _ := store.snapshot()
		return len(completed) == 1
	}, time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, invocations.Load(), int64(2), "redelivery must re-run the handler")
}

func TestConsumer_TimeoutIsFailure(t *testing.T) {
	store := &fakeStore{}
	store.push(&Job{ID: "slow-1", Queue: QueueActivity, Kind: KindActivityRecord, MaxAttempts: 1, Payload: []byte(`{}`)})

	tuning := testTuning()
	tuning.HandlerTimeout = 20 * time.Millisecond

	release := make(chan struct{})
	consumer := NewConsumer(store, QueueActivity, tuning, func(ctx context.Context, job *Job) error {
		<-release
		return nil
	}, nil, testLogger())

	require.NoError(t, consumer.Start(context.Background()))
	defer func() {
		close(release)
		consumer.Stop(context.Background())
	}()

	require.Eventually(t, func() bool {
		_, dead, _ := store.snapshot()
		return len(dead) == 1
	}, time.Second, 5*time.Millisecond)

	completed, _, failures := store.snapshot()
	assert.Empty(t, completed)
	assert.Equal(t, 1, failures)
}

func TestConsumer_ConcurrencyLimit(t *testing.T) {
	store := &fakeStore{}
	for i := 0; i < 12; i++ {
		store.push(&Job{ID: string(rune('a' + i)), Queue: QueueSocket, Kind: KindSocketAction, Payload: []byte(`{}`)})
	}

	tuning := testTuning()
	tuning.Concurrency = 3

	var current, peak atomic.Int64
	consumer := NewConsumer(store, QueueSocket, tuning, func(ctx context.Context, job *Job) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return nil
	}, nil, testLogger())

	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop(context.Background())

	require.Eventually(t, func() bool {
		completed, _, _ := store.snapshot()
		return len(completed) == 12
	}, 2*time.Second, 5*time.Millisecond)

	assert.LessOrEqual(t, peak.Load(), int64(3), "in-flight handlers must respect the concurrency limit")
	assert.Greater(t, peak.Load(), int64(1), "handlers should actually run in parallel")
}

func TestConsumer_PanicIsFailure(t *testing.T) {
	store := &fakeStore{}
	store.push(&Job{ID: "boom-1", Queue: QueueCounter, Kind: KindCounterRecompute, MaxAttempts: 1, Payload: []byte(`{}`)})

	consumer := NewConsumer(store, QueueCounter, testTuning(), func(ctx context.Context, job *Job) error {
		panic("hook blew up")
	}, nil, testLogger())

	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop(context.Background())

	require.Eventually(t, func() bool {
		_, dead, _ := store.snapshot()
		return len(dead) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestConsumer_GracefulStopWaitsForInflight(t *testing.T) {
	store := &fakeStore{}
	store.push(&Job{ID: "job-1", Queue: QueueMail, Kind: KindMailSend, Payload: []byte(`{}`)})

	started := make(chan struct{})
	var finished atomic.Bool
	consumer := NewConsumer(store, QueueMail, testTuning(), func(ctx context.Context, job *Job) error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil
	}, nil, testLogger())

	require.NoError(t, consumer.Start(context.Background()))

	<-started
	require.NoError(t, consumer.Stop(context.Background()))

	assert.True(t, finished.Load(), "Stop must wait for the in-flight handler")
	assert.False(t, consumer.IsRunning())
}

func TestConsumer_StartIsIdempotent(t *testing.T) {
	store := &fakeStore{}
	consumer := NewConsumer(store, QueueMail, testTuning(), func(ctx context.Context, job *Job) error {
		return nil
	}, nil, testLogger())

	require.NoError(t, consumer.Start(context.Background()))
	require.NoError(t, consumer.Start(context.Background()))
	assert.True(t, consumer.IsRunning())

	require.NoError(t, consumer.Stop(context.Background()))
	require.NoError(t, consumer.Stop(context.Background()))
	assert.False(t, consumer.IsRunning())
}

type recordingObserver struct {
	mu      sync.Mutex
	results []bool
}

func (o *recordingObserver) JobProcessed(queue Queue, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, success)
}

func TestConsumer_ObserverSeesOutcomes(t *testing.T) {
	store := &fakeStore{}
	store.push(&Job{ID: "ok-1", Queue: QueueCounter, Kind: KindCounterRecompute, MaxAttempts: 1, Payload: []byte(`{}`)})
	store.push(&Job{ID: "bad-1", Queue: QueueCounter, Kind: KindCounterRecompute, MaxAttempts: 1, Payload: []byte(`{"fail":true}`)})

	observer := &recordingObserver{}
	consumer := NewConsumer(store, QueueCounter, testTuning(), func(ctx context.Context, job *Job) error {
		payload, err := Decode[map[string]bool](job)
		require.NoError(t, err)
		if payload["fail"] {
			return errors.New("nope")
		}
		return nil
	}, observer, testLogger())

	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop(context.Background())

	require.Eventually(t, func() bool {
		observer.mu.Lock()
		defer observer.mu.Unlock()
		return len(observer.results) == 2
	}, time.Second, 5*time.Millisecond)
}
