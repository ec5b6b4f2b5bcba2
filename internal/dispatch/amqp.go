package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gettalent/scheduler-service/internal/domain"
	"github.com/gettalent/scheduler-service/shared/rabbitmq"
)

// AMQPDispatcher hands fired jobs to RabbitMQ instead of executing them in
// process; the dispatch-worker binary consumes the queue and performs the
// HTTP callbacks. A single publisher goroutine drains an internal bounded
// queue so Enqueue keeps the same never-blocks contract as the pool.
type AMQPDispatcher struct {
	logger *slog.Logger
	client *rabbitmq.Client

	mu      sync.Mutex
	queue   chan domain.DispatchRequest
	results chan domain.DispatchResult
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewAMQPDispatcher creates a dispatcher publishing to the given client.
func NewAMQPDispatcher(client *rabbitmq.Client, queueSize int, logger *slog.Logger) *AMQPDispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &AMQPDispatcher{
		logger:  logger,
		client:  client,
		queue:   make(chan domain.DispatchRequest, queueSize),
		results: make(chan domain.DispatchResult, queueSize),
	}
}

// Start spawns the publisher goroutine.
func (d *AMQPDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.stopCh = make(chan struct{})

	d.wg.Add(1)
	go d.publishLoop(ctx)

	d.logger.Info("AMQP dispatcher started", slog.Int("queue_size", cap(d.queue)))
}

// Stop waits for the publisher goroutine to exit.
func (d *AMQPDispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("AMQP dispatcher stopped")
}

// Enqueue queues a dispatch request for publishing and returns immediately,
// evicting the oldest pending request when the buffer is full.
func (d *AMQPDispatcher) Enqueue(req domain.DispatchRequest) error {
	select {
	case d.queue <- req:
		return nil
	default:
	}

	select {
	case old := <-d.queue:
		d.logger.Warn("Publish queue full, dropping oldest pending request",
			slog.String("dropped_job_id", old.JobID),
		)
		d.report(domain.DispatchResult{JobID: old.JobID, TargetURL: old.TargetURL, Err: ErrDropped})
	default:
	}

	select {
	case d.queue <- req:
		return nil
	default:
		d.report(domain.DispatchResult{JobID: req.JobID, TargetURL: req.TargetURL, Err: ErrDropped})
		return ErrDropped
	}
}

// Results reports publish failures and drops. Delivery outcomes live with
// the dispatch worker that performs the HTTP call.
func (d *AMQPDispatcher) Results() <-chan domain.DispatchResult {
	return d.results
}

func (d *AMQPDispatcher) publishLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case req := <-d.queue:
			body, err := json.Marshal(req)
			if err != nil {
				d.logger.Error("Failed to encode dispatch request",
					slog.String("job_id", req.JobID),
					slog.Any("error", err),
				)
				d.report(domain.DispatchResult{JobID: req.JobID, TargetURL: req.TargetURL, Err: err})
				continue
			}

			if err := d.client.Publish(ctx, body, "application/json"); err != nil {
				d.logger.Error("Failed to publish dispatch request",
					slog.String("job_id", req.JobID),
					slog.Any("error", err),
				)
				d.report(domain.DispatchResult{JobID: req.JobID, TargetURL: req.TargetURL, Err: err})
			}
		}
	}
}

func (d *AMQPDispatcher) report(res domain.DispatchResult) {
	select {
	case d.results <- res:
	default:
	}
}
