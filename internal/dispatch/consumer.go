package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gettalent/scheduler-service/internal/domain"
	"github.com/gettalent/scheduler-service/shared/rabbitmq"
)

// ConsumerConfig configures the dispatch-worker consumer.
type ConsumerConfig struct {
	Logger      *slog.Logger
	Client      *rabbitmq.Client
	Sender      *Sender
	ConsumerTag string
	Concurrency int
	Prefetch    int
}

// Consumer drains dispatch requests from RabbitMQ and performs the HTTP
// callbacks on a pool of goroutines. Every delivery is acked exactly once
// after the single send attempt: there is no broker-level retry, redelivery
// of a periodic job happens only through its own next firing.
type Consumer struct {
	logger      *slog.Logger
	client      *rabbitmq.Client
	sender      *Sender
	consumerTag string
	concurrency int
	prefetch    int
	wg          sync.WaitGroup
}

// NewConsumer creates a consumer; concurrency falls back to 4.
func NewConsumer(cfg *ConsumerConfig) *Consumer {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Consumer{
		logger:      cfg.Logger,
		client:      cfg.Client,
		sender:      cfg.Sender,
		consumerTag: cfg.ConsumerTag,
		concurrency: concurrency,
		prefetch:    cfg.Prefetch,
	}
}

// Run consumes until ctx is canceled or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.client.Consume(c.consumerTag, c.prefetch)
	if err != nil {
		return err
	}

	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go c.workerLoop(ctx, i, deliveries)
	}

	c.logger.Info("Dispatch consumer running",
		slog.String("consumer_tag", c.consumerTag),
		slog.Int("concurrency", c.concurrency),
	)

	c.wg.Wait()
	return nil
}

func (c *Consumer) workerLoop(ctx context.Context, workerNum int, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("Delivery channel closed", slog.Int("worker", workerNum))
				return
			}
			c.handle(ctx, workerNum, delivery)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, workerNum int, delivery amqp.Delivery) {
	var req domain.DispatchRequest
	if err := json.Unmarshal(delivery.Body, &req); err != nil {
		c.logger.Error("Malformed dispatch request",
			slog.Int("worker", workerNum),
			slog.Any("error", err),
		)
		// drop malformed messages, requeueing would loop forever
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			c.logger.Error("Failed to NACK malformed message", slog.Any("error", nackErr))
		}
		return
	}

	status, err := c.sender.Send(ctx, req)
	if err != nil {
		c.logger.Error("Dispatch failed",
			slog.Int("worker", workerNum),
			slog.String("job_id", req.JobID),
			slog.String("url", req.TargetURL),
			slog.Int("status", status),
			slog.Any("error", err),
		)
	} else {
		c.logger.Info("Dispatch delivered",
			slog.Int("worker", workerNum),
			slog.String("job_id", req.JobID),
			slog.Int("status", status),
		)
	}

	// ack regardless of outcome
	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Error("Failed to ACK message",
			slog.String("job_id", req.JobID),
			slog.Any("error", ackErr),
		)
	}
}
