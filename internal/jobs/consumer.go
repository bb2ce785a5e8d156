package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lorebook/lorebook/internal/config"
	"github.com/lorebook/lorebook/pkg/logger"
)

// Handler performs the side effect for one job. It must be idempotent with
// respect to the payload: delivery is at-least-once and a retry redelivers
// the same bytes. Returning nil acknowledges the job.
type Handler func(ctx context.Context, job *Job) error

// Observer receives per-job processing outcomes (metrics)
type Observer interface {
	JobProcessed(queue Queue, success bool)
}

// Consumer is the long-running worker loop bound to one queue. It polls the
// store, runs handler invocations concurrently up to the configured limit,
// acknowledges on success and records failures for retry. A handler that
// exceeds the per-job timeout is treated exactly like a handler error.
type Consumer struct {
	store    Store
	queue    Queue
	tuning   config.QueueTuning
	handler  Handler
	observer Observer
	log      *slog.Logger

	sem       chan struct{}
	stopCh    chan struct{}
	stoppedCh chan struct{}
	cancelRun context.CancelFunc
	running   bool
	mu        sync.Mutex
	wg        sync.WaitGroup
	inflight  sync.WaitGroup

	// Metrics
	processedCount int64
	successCount   int64
	failureCount   int64
	metricsMu      sync.RWMutex
}

// NewConsumer creates a consumer for one queue
func NewConsumer(store Store, queue Queue, tuning config.QueueTuning, handler Handler, observer Observer, log *slog.Logger) *Consumer {
	// Apply defaults
	if tuning.PollInterval == 0 {
		tuning.PollInterval = 2 * time.Second
	}
	if tuning.BatchSize == 0 {
		tuning.BatchSize = 10
	}
	if tuning.Concurrency <= 0 {
		tuning.Concurrency = 1
	}
	if tuning.HandlerTimeout == 0 {
		tuning.HandlerTimeout = 30 * time.Second
	}

	return &Consumer{
		store:    store,
		queue:    queue,
		tuning:   tuning,
		handler:  handler,
		observer: observer,
		log:      log.With(logger.Scope("jobs.consumer"), slog.String("queue", string(queue))),
		sem:      make(chan struct{}, tuning.Concurrency),
	}
}

// Start begins the polling loop. The passed context covers startup only
// (fx cancels it once the app is up); the loop runs on its own context
// until Stop.
func (c *Consumer) Start(_ context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.stoppedCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancelRun = cancel
	c.mu.Unlock()

	// Reclaim jobs a previous process left in 'processing'
	go c.recoverStaleOnStartup(runCtx)

	c.log.Info("consumer starting",
		slog.Duration("poll_interval", c.tuning.PollInterval),
		slog.Int("batch_size", c.tuning.BatchSize),
		slog.Int("concurrency", c.tuning.Concurrency))

	c.wg.Add(1)
	go c.run(runCtx)

	return nil
}

// Stop gracefully stops the consumer, waiting for in-flight jobs
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.log.Debug("waiting for consumer to stop...")

	select {
	case <-c.stoppedCh:
		c.log.Info("consumer stopped gracefully")
	case <-ctx.Done():
		c.log.Warn("consumer stop timeout, forcing shutdown")
	}

	c.cancelRun()
	return nil
}

func (c *Consumer) recoverStaleOnStartup(ctx context.Context) {
	recovered, err := c.store.RecoverStale(ctx, c.queue)
	if err != nil {
		c.log.Warn("failed to recover stale jobs on startup", logger.Error(err))
		return
	}
	if recovered > 0 {
		c.log.Info("recovered stale jobs on startup", slog.Int("count", recovered))
	}
}

// run is the main polling loop
func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.stoppedCh)

	ticker := time.NewTicker(c.tuning.PollInterval)
	defer ticker.Stop()

	// Stale recovery rides the same ticker, throttled to roughly the
	// visibility window so the query stays cheap.
	lastRecovery := time.Now()

	for {
		select {
		case <-c.stopCh:
			c.inflight.Wait()
			return
		case <-ctx.Done():
			c.inflight.Wait()
			return
		case <-ticker.C:
			if time.Since(lastRecovery) >= c.tuning.VisibilityTimeout && c.tuning.VisibilityTimeout > 0 {
				lastRecovery = time.Now()
				if _, err := c.store.RecoverStale(ctx, c.queue); err != nil {
					c.log.Warn("stale recovery failed", logger.Error(err))
				}
			}
			if err := c.processBatch(ctx); err != nil {
				c.log.Warn("process batch failed", logger.Error(err))
			}
		}
	}
}

// processBatch claims and dispatches one batch of jobs
func (c *Consumer) processBatch(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	batch, err := c.store.Dequeue(ctx, c.queue, c.tuning.BatchSize)
	if err != nil {
		return err
	}

	for _, job := range batch {
		c.sem <- struct{}{}
		c.inflight.Add(1)
		go func(job *Job) {
			defer c.inflight.Done()
			defer func() { <-c.sem }()
			c.process(ctx, job)
		}(job)
	}

	return nil
}

// process runs the handler for one job and settles it with the store.
// The job is acknowledged only after the handler returns nil; any other
// outcome leaves it to MarkFailed or, if the store itself is unreachable,
// to the visibility window.
func (c *Consumer) process(ctx context.Context, job *Job) {
	err := c.invoke(ctx, job)
	if err != nil {
		if markErr := c.store.MarkFailed(ctx, job, err); markErr != nil {
			// Not acknowledged; the visibility window redelivers it.
			c.log.Error("failed to record job failure",
				slog.String("job_id", job.ID),
				logger.Error(markErr))
		}
		c.incrementFailure()
		return
	}

	if err := c.store.MarkCompleted(ctx, job.ID); err != nil {
		// The side effect happened but the ack was lost; the job will be
		// redelivered, which idempotent hooks absorb.
		c.log.Error("failed to acknowledge job",
			slog.String("job_id", job.ID),
			logger.Error(err))
		c.incrementFailure()
		return
	}

	c.log.Debug("job completed",
		slog.String("job_id", job.ID),
		slog.String("kind", job.Kind),
		slog.Int("attempt", job.Attempts))

	c.incrementSuccess()
}

// invoke runs the handler with the per-job timeout and panic containment
func (c *Consumer) invoke(ctx context.Context, job *Job) error {
	hctx, cancel := context.WithTimeout(ctx, c.tuning.HandlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- c.handler(hctx, job)
	}()

	select {
	case err := <-done:
		return err
	case <-hctx.Done():
		return fmt.Errorf("handler timeout after %s: %w", c.tuning.HandlerTimeout, hctx.Err())
	}
}

func (c *Consumer) incrementSuccess() {
	c.metricsMu.Lock()
	c.processedCount++
	c.successCount++
	c.metricsMu.Unlock()
	if c.observer != nil {
		c.observer.JobProcessed(c.queue, true)
	}
}

func (c *Consumer) incrementFailure() {
	c.metricsMu.Lock()
	c.processedCount++
	c.failureCount++
	c.metricsMu.Unlock()
	if c.observer != nil {
		c.observer.JobProcessed(c.queue, false)
	}
}

// Metrics returns current consumer counters
func (c *Consumer) Metrics() ConsumerMetrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()

	return ConsumerMetrics{
		Processed: c.processedCount,
		Succeeded: c.successCount,
		Failed:    c.failureCount,
	}
}

// IsRunning returns whether the consumer is currently running
func (c *Consumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// ConsumerMetrics contains consumer counters
type ConsumerMetrics struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}
