// Package recorder writes run telemetry off the execution path.
//
// Writes are queued on a bounded channel and drained in order by a single
// goroutine. A full queue drops the write; a failed write is retried with
// backoff, then logged and counted. Neither ever reaches the caller. With a dead letter queue
// attached, dropped and failed writes are kept there for replay.
package recorder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/dlq"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/observability"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/retry"
)

// ErrClosed is returned by Flush after Close
var ErrClosed = errors.New("recorder closed")

var errWritePanicked = errors.New("telemetry write panicked")

const maxRetryBackoff = 2 * time.Second

// Config holds recorder configuration
type Config struct {
	QueueSize int

	// WriteTimeout bounds each attempt of a write
	WriteTimeout time.Duration

	// Retries is the number of extra attempts of a failed write. Retries
	// hold up the writes queued behind it.
	Retries      int
	RetryBackoff time.Duration
}

// DefaultConfig returns a recorder config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		QueueSize:    1024,
		WriteTimeout: 10 * time.Second,
		Retries:      2,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// WriteFunc performs one telemetry write
type WriteFunc func(ctx context.Context) error

type job struct {
	kind  string
	runID string
	write WriteFunc
	done  chan struct{} // set on flush barriers
}

// Recorder is an ordered, bounded, fire-and-forget telemetry writer
type Recorder struct {
	config      *Config
	logger      logrus.FieldLogger
	metrics     *observability.Metrics
	deadLetters *dlq.Queue

	queue  chan job
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a recorder and starts its drain goroutine
func New(config *Config, logger logrus.FieldLogger, metrics *observability.Metrics) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	r := &Recorder{
		config:  config,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan job, config.QueueSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// WithDeadLetters keeps dropped and failed writes in q. Call it before the
// first Enqueue.
func (r *Recorder) WithDeadLetters(q *dlq.Queue) *Recorder {
	r.deadLetters = q
	return r
}

// Enqueue schedules a write. It never blocks and reports whether the write
// was accepted.
func (r *Recorder) Enqueue(kind, runID string, write WriteFunc) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(kind, runID, dlq.ReasonClosed, write)
		return false
	}

	select {
	case r.queue <- job{kind: kind, runID: runID, write: write}:
		return true
	default:
		r.drop(kind, runID, dlq.ReasonQueueFull, write)
		return false
	}
}

// Flush blocks until every write enqueued before the call has been attempted
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	barrier := job{done: make(chan struct{})}
	select {
	case r.queue <- barrier:
		r.mu.RUnlock()
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-barrier.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes and waits for the queue to drain
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for j := range r.queue {
		if j.done != nil {
			close(j.done)
			continue
		}
		r.execute(j)
	}
}

func (r *Recorder) execute(j job) {
	logger := r.logger.WithFields(logrus.Fields{
		"run_id": j.runID,
		"kind":   j.kind,
	})
	policy := retry.NewPolicy(r.config.Retries).
		WithStrategy(retry.NewExponentialBackoff(r.config.RetryBackoff, maxRetryBackoff, true)).
		WithRetryable(func(err error) bool { return !errors.Is(err, errWritePanicked) }).
		WithOnRetry(func(attempt int, err error) {
			logger.WithError(err).WithField("attempt", attempt).Debug("retrying telemetry write")
		})

	attempts, err := retry.Execute(context.Background(), policy, func(ctx context.Context, attempt int) error {
		ctx, cancel := context.WithTimeout(ctx, r.config.WriteTimeout)
		defer cancel()
		return safeWrite(ctx, j.write)
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			err = exhausted.Err
		}
		logger.WithError(err).WithField("attempts", attempts).Warn("telemetry write failed")
		r.metrics.Telemetry(j.kind, observability.TelemetryFailed)
		if r.deadLetters != nil {
			r.deadLetters.Add(j.kind, j.runID, dlq.ReasonWriteFailed, err, replayable(j.write))
		}
		return
	}
	r.metrics.Telemetry(j.kind, observability.TelemetryWritten)
}

func (r *Recorder) drop(kind, runID, reason string, write WriteFunc) {
	r.logger.WithFields(logrus.Fields{
		"run_id": runID,
		"kind":   kind,
		"reason": reason,
	}).Warn("dropping telemetry write")
	r.metrics.Telemetry(kind, observability.TelemetryDropped)
	if r.deadLetters != nil {
		r.deadLetters.Add(kind, runID, reason, nil, replayable(write))
	}
}

func safeWrite(ctx context.Context, write WriteFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errWritePanicked
		}
	}()
	return write(ctx)
}

func replayable(write WriteFunc) dlq.ReplayFunc {
	return func(ctx context.Context) error {
		return safeWrite(ctx, write)
	}
}
