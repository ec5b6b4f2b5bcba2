package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/gettalent/scheduler-service/internal/config"
	"github.com/gettalent/scheduler-service/internal/dispatch"
	"github.com/gettalent/scheduler-service/shared/logger"
	"github.com/gettalent/scheduler-service/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("DISPATCH_WORKER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/dispatch-worker/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateDispatchWorker(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting dispatch worker",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	rabbitClient, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:              cfg.RabbitMQ.Host,
		Port:              cfg.RabbitMQ.Port,
		User:              cfg.RabbitMQ.User,
		Password:          cfg.RabbitMQ.Password,
		VHost:             cfg.RabbitMQ.VHost,
		ExchangeName:      cfg.RabbitMQ.Exchange,
		QueueName:         cfg.RabbitMQ.Queue,
		RoutingKey:        cfg.RabbitMQ.RoutingKey,
		Durable:           cfg.RabbitMQ.Durable,
		RetryAttempts:     cfg.RabbitMQ.Connection.RetryAttempts,
		RetryInterval:     cfg.RabbitMQ.Connection.RetryInterval,
		Heartbeat:         cfg.RabbitMQ.Connection.Heartbeat,
		ConnectionTimeout: cfg.RabbitMQ.Connection.ConnectionTimeout,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	consumerTag := fmt.Sprintf("dispatch-worker-%s", uuid.New().String()[:8])
	consumer := dispatch.NewConsumer(&dispatch.ConsumerConfig{
		Logger:      appLogger.Logger,
		Client:      rabbitClient,
		Sender:      dispatch.NewSender(cfg.Worker.DispatchTimeout, appLogger.Logger),
		ConsumerTag: consumerTag,
		Concurrency: cfg.Worker.Concurrency,
		Prefetch:    cfg.Worker.Prefetch,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- consumer.Run(ctx)
	}()

	appLogger.Info("Dispatch worker is running", slog.String("consumer_tag", consumerTag))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down worker...")
		cancel()
		select {
		case err := <-runErr:
			if err != nil && err != context.Canceled {
				appLogger.Error("Worker stopped with error", slog.Any("error", err))
				return err
			}
		case <-time.After(cfg.Worker.ShutdownTimeout):
			appLogger.Warn("Worker shutdown timed out")
		}
	case err := <-runErr:
		if err != nil {
			appLogger.Error("Worker stopped unexpectedly", slog.Any("error", err))
			return err
		}
	}

	appLogger.Info("Worker shutdown complete")
	return nil
}
