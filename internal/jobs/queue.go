package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Handler executes one job. It must be safe to run more than once with the
// same payload; the queue redelivers on retry.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

type Config struct {
	// Interval between drain ticks.
	Interval time.Duration
	// BatchSize caps how many jobs one tick drains.
	BatchSize int
	// MaxConcurrency caps how many jobs of a batch run at once.
	MaxConcurrency int
	// MaxRetries is how many redeliveries a failing job gets before it is
	// dropped for good.
	MaxRetries int
	// SlowJobThreshold marks job executions worth a warning.
	SlowJobThreshold time.Duration
	// BackoffBase and BackoffCap bound the retry delay.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:         50 * time.Millisecond,
		BatchSize:        50,
		MaxConcurrency:   10,
		MaxRetries:       3,
		SlowJobThreshold: time.Second,
		BackoffBase:      time.Second,
		BackoffCap:       30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.SlowJobThreshold <= 0 {
		c.SlowJobThreshold = d.SlowJobThreshold
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = d.BackoffCap
	}
	return c
}

// Observer receives queue telemetry. The prometheus wiring satisfies it;
// tests use nil.
type Observer interface {
	JobDone(jobType Type, outcome string, elapsed time.Duration)
	QueueDepth(pending, retryScheduled int)
}

// Queue batches fire-and-forget jobs and runs them with bounded parallelism.
// One drain is in flight at a time; failed jobs re-enter the queue through a
// deferred timer so backoff never stalls the drain loop.
type Queue struct {
	cfg      Config
	handler  Handler
	log      zerolog.Logger
	observer Observer

	mu             sync.Mutex
	pending        []Job
	retryScheduled int
	stopped        bool

	processing bool
	procMu     sync.Mutex

	stop chan struct{}
	done chan struct{}
}

func NewQueue(handler Handler, cfg Config, log zerolog.Logger, observer Observer) *Queue {
	return &Queue{
		cfg:      cfg.withDefaults(),
		handler:  handler,
		log:      log.With().Str("component", "jobs").Logger(),
		observer: observer,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Enqueue appends a job and returns immediately. It never blocks and never
// fails; a stopped queue silently drops.
func (q *Queue) Enqueue(jobType Type, payload any) {
	job := Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	q.mu.Lock()
	if !q.stopped {
		q.pending = append(q.pending, job)
	}
	q.mu.Unlock()
	q.observeDepth()
}

// Start launches the drain loop. Stop waits for the in-flight batch.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		defer close(q.done)
		ticker := time.NewTicker(q.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stop:
				// Final flush so accepted jobs survive shutdown. A stopped
				// queue rejects requeues, so the backlog only shrinks and
				// the loop terminates.
				for !q.empty() {
					q.drain(ctx)
				}
				return
			case <-ticker.C:
				q.drain(ctx)
			}
		}
	}()
}

func (q *Queue) Stop() {
	q.mu.Lock()
	alreadyStopped := q.stopped
	q.stopped = true
	q.mu.Unlock()
	if alreadyStopped {
		return
	}
	close(q.stop)
	<-q.done
}

// Status is the observability snapshot served by the queue endpoint.
type Status struct {
	QueueLength        int            `json:"queueLength"`
	Processing         bool           `json:"processing"`
	BatchSize          int            `json:"batchSize"`
	ProcessingInterval int64          `json:"processingInterval"`
	MaxConcurrentJobs  int            `json:"maxConcurrentJobs"`
	RetryQueueSize     int            `json:"retryQueueSize"`
	JobTypeCounts      map[string]int `json:"jobTypeCounts"`
}

func (q *Queue) Status() Status {
	q.procMu.Lock()
	processing := q.processing
	q.procMu.Unlock()

	q.mu.Lock()
	defer q.mu.Unlock()
	counts := make(map[string]int, 5)
	for _, job := range q.pending {
		counts[string(job.Type)]++
	}
	return Status{
		QueueLength:        len(q.pending),
		Processing:         processing,
		BatchSize:          q.cfg.BatchSize,
		ProcessingInterval: q.cfg.Interval.Milliseconds(),
		MaxConcurrentJobs:  q.cfg.MaxConcurrency,
		RetryQueueSize:     q.retryScheduled,
		JobTypeCounts:      counts,
	}
}

// drain takes one batch and runs it chunk by chunk. Only one drain runs at a
// time; a tick that lands mid-drain is skipped.
func (q *Queue) drain(ctx context.Context) {
	q.procMu.Lock()
	if q.processing {
		q.procMu.Unlock()
		return
	}
	q.processing = true
	q.procMu.Unlock()
	defer func() {
		q.procMu.Lock()
		q.processing = false
		q.procMu.Unlock()
	}()

	q.mu.Lock()
	n := len(q.pending)
	if n == 0 {
		q.mu.Unlock()
		return
	}
	if n > q.cfg.BatchSize {
		n = q.cfg.BatchSize
	}
	batch := make([]Job, n)
	copy(batch, q.pending[:n])
	q.pending = q.pending[n:]
	q.mu.Unlock()
	q.observeDepth()

	for start := 0; start < len(batch); start += q.cfg.MaxConcurrency {
		end := start + q.cfg.MaxConcurrency
		if end > len(batch) {
			end = len(batch)
		}
		chunk := batch[start:end]

		// Every func returns nil: failures route to the retry scheduler,
		// so Wait is a settle-all join bounded by the chunk size.
		var g errgroup.Group
		for _, job := range chunk {
			job := job
			g.Go(func() error {
				q.run(ctx, job)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (q *Queue) run(ctx context.Context, job Job) {
	started := time.Now()
	err := q.handler.Handle(ctx, job)
	elapsed := time.Since(started)

	if elapsed > q.cfg.SlowJobThreshold {
		q.log.Warn().Str("job_id", job.ID).Str("type", string(job.Type)).
			Dur("elapsed", elapsed).Msg("slow job")
	}

	if err == nil {
		q.observe(job.Type, "ok", elapsed)
		return
	}

	if job.retries >= q.cfg.MaxRetries {
		q.observe(job.Type, "dropped", elapsed)
		q.log.Error().Err(err).Str("job_id", job.ID).Str("type", string(job.Type)).
			Int("retries", job.retries).Msg("job permanently failed, dropping")
		return
	}

	delay := Backoff(job.retries, q.cfg.BackoffBase, q.cfg.BackoffCap)
	job.retries++
	q.observe(job.Type, "retry", elapsed)
	q.log.Warn().Err(err).Str("job_id", job.ID).Str("type", string(job.Type)).
		Int("retry", job.retries).Dur("delay", delay).Msg("job failed, scheduling retry")

	q.mu.Lock()
	q.retryScheduled++
	q.mu.Unlock()
	time.AfterFunc(delay, func() { q.requeue(job) })
}

func (q *Queue) requeue(job Job) {
	q.mu.Lock()
	q.retryScheduled--
	if !q.stopped {
		q.pending = append(q.pending, job)
	}
	q.mu.Unlock()
	q.observeDepth()
}

func (q *Queue) observe(jobType Type, outcome string, elapsed time.Duration) {
	if q.observer != nil {
		q.observer.JobDone(jobType, outcome, elapsed)
	}
}

func (q *Queue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0
}

func (q *Queue) observeDepth() {
	if q.observer == nil {
		return
	}
	q.mu.Lock()
	pending, retries := len(q.pending), q.retryScheduled
	q.mu.Unlock()
	q.observer.QueueDepth(pending, retries)
}

// Backoff is the retry delay for a job that has already failed retryCount+1
// times: base doubled per retry, capped.
func Backoff(retryCount int, base, cap time.Duration) time.Duration {
	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
