package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagerpay/settlement_service/internal/domain/entities"
	"github.com/wagerpay/settlement_service/pkg/logger"
)

type countingProcessor struct {
	mu         sync.Mutex
	processed  map[string]int
	running    int32
	maxRunning int32
	delay      time.Duration
	release    chan struct{}
}

func newCountingProcessor(delay time.Duration) *countingProcessor {
	return &countingProcessor{
		processed: make(map[string]int),
		delay:     delay,
	}
}

func (p *countingProcessor) Process(_ context.Context, job *entities.DepositJob) {
	running := atomic.AddInt32(&p.running, 1)
	for {
		max := atomic.LoadInt32(&p.maxRunning)
		if running <= max || atomic.CompareAndSwapInt32(&p.maxRunning, max, running) {
			break
		}
	}

	if p.release != nil {
		<-p.release
	} else if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	p.processed[job.Event.IdentityKey()]++
	p.mu.Unlock()

	atomic.AddInt32(&p.running, -1)
}

func (p *countingProcessor) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed[key]
}

func (p *countingProcessor) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.processed {
		n += c
	}
	return n
}

func testEvent(i int) entities.DepositEvent {
	return entities.DepositEvent{
		ChainKey:    "base",
		TxHash:      fmt.Sprintf("0x%064x", i),
		LogIndex:    0,
		Token:       entities.NativeToken,
		ToAddress:   "0x1111111111111111111111111111111111111111",
		Amount:      big.NewInt(1_000_000),
		BlockNumber: uint64(i),
		ObservedAt:  time.Now(),
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestQueueBoundsConcurrency(t *testing.T) {
	processor := newCountingProcessor(10 * time.Millisecond)
	q := NewQueue(processor, 2, 256, logger.New("error", "test"))
	q.Start()
	defer q.Shutdown(time.Second)

	for i := 0; i < 100; i++ {
		require.True(t, q.Enqueue(testEvent(i)))
	}

	waitFor(t, 5*time.Second, func() bool { return processor.total() == 100 })
	assert.LessOrEqual(t, atomic.LoadInt32(&processor.maxRunning), int32(2),
		"more jobs ran concurrently than the configured bound")
}

func TestQueueDeduplicatesInflight(t *testing.T) {
	processor := newCountingProcessor(0)
	processor.release = make(chan struct{})

	q := NewQueue(processor, 1, 16, logger.New("error", "test"))
	q.Start()
	defer q.Shutdown(time.Second)

	event := testEvent(1)
	require.True(t, q.Enqueue(event))

	// Same identity while queued or running is absorbed, not re-queued.
	require.True(t, q.Enqueue(event))
	require.True(t, q.Enqueue(event))

	close(processor.release)
	waitFor(t, time.Second, func() bool { return processor.count(event.IdentityKey()) > 0 })

	// Give any erroneous duplicate a chance to run.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, processor.count(event.IdentityKey()))
}

func TestQueueFullReturnsFalse(t *testing.T) {
	processor := newCountingProcessor(0)
	processor.release = make(chan struct{})

	q := NewQueue(processor, 1, 1, logger.New("error", "test"))
	q.Start()
	defer func() {
		close(processor.release)
		q.Shutdown(time.Second)
	}()

	// First job occupies the worker, second fills the buffer.
	require.True(t, q.Enqueue(testEvent(1)))
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&processor.running) == 1 })
	require.True(t, q.Enqueue(testEvent(2)))

	assert.False(t, q.Enqueue(testEvent(3)), "full queue must refuse new deposits")

	// A refused deposit can be re-offered later.
	assert.False(t, q.Enqueue(testEvent(3)))
}

func TestQueueRejectsInvalidEventWithoutRequeue(t *testing.T) {
	processor := newCountingProcessor(0)
	q := NewQueue(processor, 1, 16, logger.New("error", "test"))
	q.Start()
	defer q.Shutdown(time.Second)

	bad := testEvent(1)
	bad.Amount = big.NewInt(0)

	// Accepted (true) so the watcher does not retry it, but never
	// processed.
	assert.True(t, q.Enqueue(bad))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, processor.total())
}

func TestQueueShutdownIdempotent(t *testing.T) {
	q := NewQueue(newCountingProcessor(0), 2, 16, logger.New("error", "test"))
	q.Start()

	require.NoError(t, q.Shutdown(time.Second))
	require.NoError(t, q.Shutdown(time.Second))
}
