package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gettalent/scheduler-service/internal/domain"
)

// ErrDropped is reported for a dispatch request that was discarded because
// the queue was full. Dispatch is best-effort: dropping beats blocking the
// scheduler's clock goroutine.
var ErrDropped = errors.New("dispatch request dropped: queue full")

// PoolConfig configures the in-process dispatch pool.
type PoolConfig struct {
	Logger    *slog.Logger
	Sender    *Sender
	Workers   int
	QueueSize int
}

// Pool executes dispatch callbacks on a fixed set of worker goroutines fed
// by a bounded queue. Enqueue never blocks; when the queue is full the
// oldest pending request is dropped and reported as a failure.
type Pool struct {
	logger  *slog.Logger
	sender  *Sender
	workers int

	mu      sync.Mutex
	queue   chan domain.DispatchRequest
	results chan domain.DispatchResult
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewPool creates a dispatch pool. Workers and queue size fall back to
// small sane defaults when non-positive.
func NewPool(cfg PoolConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pool{
		logger:  cfg.Logger,
		sender:  cfg.Sender,
		workers: workers,
		queue:   make(chan domain.DispatchRequest, queueSize),
		results: make(chan domain.DispatchResult, queueSize),
	}
}

// Start spawns the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}

	p.logger.Info("Dispatch pool started",
		slog.Int("workers", p.workers),
		slog.Int("queue_size", cap(p.queue)),
	)
}

// Stop signals the workers and waits for in-flight dispatches to finish.
// Requests still sitting in the queue are abandoned.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Dispatch pool stopped")
}

// Enqueue hands a fired job to the pool and returns immediately. When the
// queue is saturated the oldest pending request is evicted to make room.
func (p *Pool) Enqueue(req domain.DispatchRequest) error {
	select {
	case p.queue <- req:
		return nil
	default:
	}

	// Queue full: evict the oldest pending request, then retry once.
	select {
	case old := <-p.queue:
		p.logger.Warn("Dispatch queue full, dropping oldest pending request",
			slog.String("dropped_job_id", old.JobID),
			slog.String("url", old.TargetURL),
		)
		p.report(domain.DispatchResult{JobID: old.JobID, TargetURL: old.TargetURL, Err: ErrDropped})
	default:
	}

	select {
	case p.queue <- req:
		return nil
	default:
		p.report(domain.DispatchResult{JobID: req.JobID, TargetURL: req.TargetURL, Err: ErrDropped})
		return ErrDropped
	}
}

// Results exposes the outcome of every dispatch attempt, including drops.
func (p *Pool) Results() <-chan domain.DispatchResult {
	return p.results
}

func (p *Pool) workerLoop(ctx context.Context, workerNum int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case req := <-p.queue:
			status, err := p.sender.Send(ctx, req)
			if err != nil {
				p.logger.Error("Dispatch failed",
					slog.Int("worker", workerNum),
					slog.String("job_id", req.JobID),
					slog.String("url", req.TargetURL),
					slog.Int("status", status),
					slog.Any("error", err),
				)
			}
			p.report(domain.DispatchResult{
				JobID:      req.JobID,
				TargetURL:  req.TargetURL,
				StatusCode: status,
				Err:        err,
			})
		}
	}
}

// report never blocks; if the result buffer is full the outcome has already
// been logged and is simply not replayed to the core.
func (p *Pool) report(res domain.DispatchResult) {
	select {
	case p.results <- res:
	default:
	}
}
