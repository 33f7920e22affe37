// Package workers runs jobs on a fixed set of goroutines, keeping jobs that
// share a key in submission order.
package workers

import (
	"context"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/learnloop/chatrelay/internal/metrics"
	"go.uber.org/zap"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("worker pool stopped")

// Job is one unit of work. The context is the pool's run context.
type Job func(ctx context.Context)

// OrderedPool shards jobs by key onto single-goroutine lanes. Jobs with the
// same key run one at a time in the order Submit accepted them; jobs on
// different lanes run in parallel.
type OrderedPool struct {
	lanes  []chan Job
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewOrderedPool starts workers lanes, each buffering up to queueSize jobs.
func NewOrderedPool(workers, queueSize int, log *zap.Logger) *OrderedPool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &OrderedPool{
		lanes:  make([]chan Job, workers),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
	for i := range p.lanes {
		p.lanes[i] = make(chan Job, queueSize)
		p.wg.Add(1)
		go p.run(i)
	}
	return p
}

func (p *OrderedPool) lane(key string) chan Job {
	return p.lanes[xxhash.Sum64String(key)%uint64(len(p.lanes))]
}

// Submit enqueues job on the lane owning key. It blocks while that lane is
// full, until ctx is done or the pool stops.
func (p *OrderedPool) Submit(ctx context.Context, key string, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.lane(key) <- job:
		metrics.DispatchQueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrStopped
	}
}

func (p *OrderedPool) run(i int) {
	defer p.wg.Done()
	for job := range p.lanes[i] {
		metrics.DispatchQueueDepth.Dec()
		p.exec(i, job)
	}
}

func (p *OrderedPool) exec(lane int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			metrics.DispatchPanics.Inc()
			p.log.Error("Recovered from panic in dispatch job",
				zap.Int("lane", lane),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	job(p.ctx)
}

// Stop rejects new jobs and waits for queued ones to finish, or for ctx to
// expire, in which case queued jobs see a cancelled context.
func (p *OrderedPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	for _, l := range p.lanes {
		close(l)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
