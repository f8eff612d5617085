package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wagerpay/settlement_service/internal/domain/entities"
	"github.com/wagerpay/settlement_service/pkg/logger"
	"github.com/wagerpay/settlement_service/pkg/metrics"
)

// JobProcessor settles one deposit job.
type JobProcessor interface {
	Process(ctx context.Context, job *entities.DepositJob)
}

// Queue is the bounded in-process settlement queue. At most
// concurrency jobs run at once; everything else waits in the buffer.
// An identity key already queued or running is dropped on arrival, so
// a deposit re-offered by the watcher never runs twice concurrently.
type Queue struct {
	jobs        chan *entities.DepositJob
	processor   JobProcessor
	concurrency int
	logger      *logger.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	started  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewQueue(processor JobProcessor, concurrency, capacity int, log *logger.Logger) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	if capacity < concurrency {
		capacity = concurrency * 64
	}
	return &Queue{
		jobs:        make(chan *entities.DepositJob, capacity),
		processor:   processor,
		concurrency: concurrency,
		logger:      log,
		inflight:    make(map[string]struct{}),
	}
}

// Enqueue offers a deposit to the queue. Returns true when the deposit
// is accepted or already in flight, false when the buffer is full.
func (q *Queue) Enqueue(event entities.DepositEvent) bool {
	if err := event.Validate(); err != nil {
		q.logger.Warn("Rejected invalid deposit event", "error", err)
		return true // nothing to re-offer
	}

	key := event.IdentityKey()

	q.mu.Lock()
	if _, dup := q.inflight[key]; dup {
		q.mu.Unlock()
		metrics.DuplicateJobsCounter.WithLabelValues(event.ChainKey).Inc()
		return true
	}
	q.inflight[key] = struct{}{}
	q.mu.Unlock()

	job := entities.NewDepositJob(event)
	select {
	case q.jobs <- job:
		metrics.QueueDepthGauge.Set(float64(len(q.jobs)))
		return true
	default:
		q.mu.Lock()
		delete(q.inflight, key)
		q.mu.Unlock()
		return false
	}
}

// Start launches the worker pool.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	q.stopCh = make(chan struct{})

	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("Settlement queue started",
		"concurrency", q.concurrency, "capacity", cap(q.jobs))
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case job := <-q.jobs:
			metrics.QueueDepthGauge.Set(float64(len(q.jobs)))
			metrics.QueueRunningGauge.Inc()

			start := time.Now()
			status := "ok"
			func() {
				defer func() {
					if r := recover(); r != nil {
						status = "panic"
						q.logger.Error("Settlement job panicked",
							"worker", id, "job", job.ID.String(), "panic", fmt.Sprintf("%v", r))
					}
				}()
				q.processor.Process(context.Background(), job)
			}()

			metrics.QueueRunningGauge.Dec()
			metrics.JobDurationHistogram.WithLabelValues(job.Event.ChainKey, status).
				Observe(time.Since(start).Seconds())

			q.mu.Lock()
			delete(q.inflight, job.Event.IdentityKey())
			q.mu.Unlock()
		}
	}
}

// Shutdown stops the workers after their current jobs finish. Buffered
// jobs stay unprocessed; the durable settlement table redrives them.
func (q *Queue) Shutdown(timeout time.Duration) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = false
	close(q.stopCh)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("settlement queue did not drain in time")
	}
}

// Depth reports buffered jobs, for health reporting.
func (q *Queue) Depth() int {
	return len(q.jobs)
}
