// Package rabbitmq wraps the AMQP connection used to hand dispatch
// requests from the scheduler to out-of-process dispatch workers.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds the RabbitMQ connection and topology settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string

	ExchangeName string
	ExchangeType string
	QueueName    string
	RoutingKey   string
	Durable      bool

	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	ConnectionTimeout time.Duration

	PublishRetries    int
	PublishRetryDelay time.Duration
}

// Client is a thin wrapper over a single AMQP connection and channel.
type Client struct {
	cfg       *Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	logger    *slog.Logger
	connected bool
}

// NewClient dials RabbitMQ, declaring the dispatch exchange and queue.
func NewClient(cfg *Config, logger *slog.Logger) (*Client, error) {
	c := &Client{cfg: cfg, logger: logger}
	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}
	return c, nil
}

func (c *Client) connect() error {
	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.cfg.User, c.cfg.Password, c.cfg.Host, c.cfg.Port, c.cfg.VHost)

	attempts := c.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		c.conn, err = amqp.DialConfig(dsn, amqp.Config{
			Heartbeat: c.cfg.Heartbeat,
			Dial:      amqp.DefaultDial(c.cfg.ConnectionTimeout),
		})
		if err == nil {
			break
		}
		c.logger.Warn("RabbitMQ connection failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Any("error", err),
		)
		if attempt < attempts {
			time.Sleep(c.cfg.RetryInterval)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect after %d attempts: %w", attempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := c.declareTopology(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return err
	}

	c.connected = true
	c.logger.Info("RabbitMQ client ready",
		slog.String("exchange", c.cfg.ExchangeName),
		slog.String("queue", c.cfg.QueueName),
	)
	return nil
}

func (c *Client) declareTopology() error {
	exchangeType := c.cfg.ExchangeType
	if exchangeType == "" {
		exchangeType = "direct"
	}
	if err := c.channel.ExchangeDeclare(
		c.cfg.ExchangeName, exchangeType, c.cfg.Durable,
		false, false, false, nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := c.channel.QueueDeclare(
		c.cfg.QueueName, c.cfg.Durable, false, false, false, nil,
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := c.channel.QueueBind(
		c.cfg.QueueName, c.cfg.RoutingKey, c.cfg.ExchangeName, false, nil,
	); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Publish sends one persistent message to the dispatch exchange, retrying
// transient failures with a flat delay.
func (c *Client) Publish(ctx context.Context, body []byte, contentType string) error {
	if !c.connected {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	retries := c.cfg.PublishRetries
	delay := c.cfg.PublishRetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		lastErr = c.channel.PublishWithContext(ctx,
			c.cfg.ExchangeName, c.cfg.RoutingKey, false, false,
			amqp.Publishing{
				ContentType:  contentType,
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
			},
		)
		if lastErr == nil {
			return nil
		}
		if attempt < retries {
			c.logger.Warn("Publish failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Any("error", lastErr),
			)
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("failed to publish after %d attempts: %w", retries+1, lastErr)
}

// Consume starts delivering messages from the dispatch queue with manual
// acknowledgement. prefetch bounds the number of unacked deliveries.
func (c *Client) Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	if !c.connected {
		return nil, fmt.Errorf("not connected to RabbitMQ")
	}

	if prefetch > 0 {
		if err := c.channel.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	deliveries, err := c.channel.Consume(
		c.cfg.QueueName, consumerTag, false, false, false, false, nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Consuming from RabbitMQ",
		slog.String("queue", c.cfg.QueueName),
		slog.String("consumer_tag", consumerTag),
	)
	return deliveries, nil
}

// IsConnected reports whether the underlying connection is usable.
func (c *Client) IsConnected() bool {
	return c.connected && c.conn != nil && !c.conn.IsClosed()
}

// Close tears down the channel and connection.
func (c *Client) Close() error {
	c.connected = false
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Warn("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
		}
	}
	c.logger.Info("RabbitMQ connection closed")
	return nil
}
