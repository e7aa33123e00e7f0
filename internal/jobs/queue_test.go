package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingHandler struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (h *countingHandler) Handle(context.Context, Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.fail {
		return errors.New("handler down")
	}
	return nil
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func testConfig() Config {
	return Config{
		Interval:       5 * time.Millisecond,
		BatchSize:      50,
		MaxConcurrency: 10,
		MaxRetries:     3,
		BackoffBase:    time.Millisecond,
		BackoffCap:     8 * time.Millisecond,
	}
}

func TestQueueRunsEnqueuedJobs(t *testing.T) {
	h := &countingHandler{}
	q := NewQueue(h, testConfig(), zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	for i := 0; i < 5; i++ {
		q.Enqueue(TypeSessionUpdate, SessionUpdatePayload{SessionKey: "k"})
	}

	deadline := time.Now().Add(time.Second)
	for h.count() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.count() != 5 {
		t.Fatalf("handled = %d, want 5", h.count())
	}
	if st := q.Status(); st.QueueLength != 0 {
		t.Fatalf("queueLength = %d, want 0", st.QueueLength)
	}
}

func TestFailingJobAttemptedMaxRetriesPlusOneTimes(t *testing.T) {
	h := &countingHandler{fail: true}
	q := NewQueue(h, testConfig(), zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	q.Enqueue(TypeMemorySave, MemorySavePayload{UserID: "u1", Text: "x"})

	// 1 initial + 3 retries with 1/2/4 ms backoff all fit well in here.
	time.Sleep(500 * time.Millisecond)
	if got := h.count(); got != 4 {
		t.Fatalf("attempts = %d, want maxRetries+1 = 4", got)
	}
	st := q.Status()
	if st.QueueLength != 0 || st.RetryQueueSize != 0 {
		t.Fatalf("dropped job still queued: %+v", st)
	}
}

func TestBackoffFormula(t *testing.T) {
	base, cap := time.Second, 30*time.Second
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := Backoff(tc.retry, base, cap); got != tc.want {
			t.Errorf("Backoff(%d) = %v, want %v", tc.retry, got, tc.want)
		}
	}
}

func TestEnqueueNeverBlocksAndStatusCounts(t *testing.T) {
	q := NewQueue(&countingHandler{}, testConfig(), zerolog.Nop(), nil)
	// Not started: enqueue must still return immediately.
	q.Enqueue(TypeTranscriptBatch, TranscriptBatchPayload{SessionKey: "k"})
	q.Enqueue(TypeTranscriptBatch, TranscriptBatchPayload{SessionKey: "k"})
	q.Enqueue(TypeMemorySave, MemorySavePayload{UserID: "u", Text: "t"})

	st := q.Status()
	if st.QueueLength != 3 {
		t.Fatalf("queueLength = %d, want 3", st.QueueLength)
	}
	if st.JobTypeCounts[string(TypeTranscriptBatch)] != 2 {
		t.Fatalf("jobTypeCounts = %v", st.JobTypeCounts)
	}
	if st.BatchSize != 50 || st.MaxConcurrentJobs != 10 {
		t.Fatalf("config echo wrong: %+v", st)
	}
}

func TestStopFlushesBacklogDeeperThanOneBatch(t *testing.T) {
	h := &countingHandler{}
	cfg := testConfig()
	// Ticker never fires; only the shutdown flush can run the jobs.
	cfg.Interval = time.Hour
	cfg.BatchSize = 2
	q := NewQueue(h, cfg, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	for i := 0; i < 7; i++ {
		q.Enqueue(TypeSessionUpdate, SessionUpdatePayload{SessionKey: "k"})
	}
	q.Stop()

	if got := h.count(); got != 7 {
		t.Fatalf("handled = %d after Stop, want all 7", got)
	}
	if st := q.Status(); st.QueueLength != 0 {
		t.Fatalf("queueLength = %d after Stop, want 0", st.QueueLength)
	}
}

type gateHandler struct {
	mu      sync.Mutex
	active  int
	peak    int
	release chan struct{}
}

func (h *gateHandler) Handle(context.Context, Job) error {
	h.mu.Lock()
	h.active++
	if h.active > h.peak {
		h.peak = h.active
	}
	h.mu.Unlock()
	<-h.release
	h.mu.Lock()
	h.active--
	h.mu.Unlock()
	return nil
}

func TestChunkBoundsConcurrency(t *testing.T) {
	h := &gateHandler{release: make(chan struct{})}
	cfg := testConfig()
	cfg.MaxConcurrency = 3
	q := NewQueue(h, cfg, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	for i := 0; i < 9; i++ {
		q.Enqueue(TypeSessionUpdate, SessionUpdatePayload{SessionKey: "k"})
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		active := h.active
		h.mu.Unlock()
		if active == 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(h.release)

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if st := q.Status(); st.QueueLength == 0 && !st.Processing {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	q.Stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.peak > 3 {
		t.Fatalf("peak concurrency = %d, want <= 3", h.peak)
	}
	if h.peak == 0 {
		t.Fatalf("handler never ran")
	}
}
