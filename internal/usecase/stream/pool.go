package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"chatstream/internal/domain"
)

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("generation pool stopped")

// Job is a unit of generation work. ctx is cancelled when the pool is
// stopped forcefully.
type Job func(ctx context.Context)

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	Workers int `json:"workers"`
	Busy    int `json:"busy"`
	Queued  int `json:"queued"`
	Depth   int `json:"depth"`
}

// Pool runs generation jobs on a fixed set of workers with a bounded backlog.
type Pool struct {
	jobs    chan Job
	workers int
	busy    atomic.Int64

	mu      sync.RWMutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewPool starts workers goroutines sharing a backlog of depth jobs.
func NewPool(workers, depth int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if depth < 0 {
		depth = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:    make(chan Job, depth),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
	for range workers {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	p.busy.Add(1)
	defer p.busy.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("generation job panicked", "panic", r)
		}
	}()
	job(p.ctx)
}

// Submit enqueues job without blocking. It fails with domain.ErrPoolFull when
// every worker is busy and the backlog is at capacity.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return domain.NewDomainError("Pool.Submit", domain.ErrPoolFull, "")
	}
}

// Stats returns current occupancy.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers: p.workers,
		Busy:    int(p.busy.Load()),
		Queued:  len(p.jobs),
		Depth:   cap(p.jobs),
	}
}

// Stop refuses new jobs and waits for queued and running ones. If ctx ends
// first, running jobs are cancelled and ctx's error is returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
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
