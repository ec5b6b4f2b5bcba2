package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/gettalent/scheduler-service/internal/api/handler"
	"github.com/gettalent/scheduler-service/internal/api/router"
	"github.com/gettalent/scheduler-service/internal/auth"
	"github.com/gettalent/scheduler-service/internal/config"
	"github.com/gettalent/scheduler-service/internal/dispatch"
	"github.com/gettalent/scheduler-service/internal/scheduler"
	"github.com/gettalent/scheduler-service/internal/store"
	"github.com/gettalent/scheduler-service/shared/logger"
	"github.com/gettalent/scheduler-service/shared/postgresql"
	"github.com/gettalent/scheduler-service/shared/rabbitmq"
)

// startStopper is implemented by both dispatcher flavors.
type startStopper interface {
	scheduler.Dispatcher
	Start(ctx context.Context)
	Stop()
}

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

	defaultConfigPath := os.Getenv("SCHEDULER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/scheduler-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateSchedulerService(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting scheduler service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	jobStore := store.NewPostgres(dbClient.DB())

	dispatcher, rabbitClient, err := initDispatcher(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	if rabbitClient != nil {
		defer rabbitClient.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	core := scheduler.New(scheduler.Config{
		Logger:      appLogger.Logger,
		Store:       jobStore,
		Dispatcher:  dispatcher,
		MinLeadTime: cfg.Scheduler.MinLeadTime,
	})
	if err := core.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer core.Shutdown()

	verifier := initVerifier(&cfg.Auth, appLogger.Logger)

	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:   appLogger.Logger,
		Core:     core,
		Verifier: verifier,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	appLogger.Info("Scheduler service is running", slog.String("address", addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initDispatcher builds the configured dispatcher flavor. The RabbitMQ
// client is returned separately so the caller can close it.
func initDispatcher(cfg *config.Config, logger *slog.Logger) (startStopper, *rabbitmq.Client, error) {
	switch cfg.Scheduler.DispatchMode {
	case config.DispatchModeAMQP:
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			return nil, nil, err
		}
		d := dispatch.NewAMQPDispatcher(rabbitClient, cfg.Scheduler.DispatchQueueSize, logger)
		return d, rabbitClient, nil
	default:
		sender := dispatch.NewSender(cfg.Scheduler.DispatchTimeout, logger)
		pool := dispatch.NewPool(dispatch.PoolConfig{
			Logger:    logger,
			Sender:    sender,
			Workers:   cfg.Scheduler.DispatchWorkers,
			QueueSize: cfg.Scheduler.DispatchQueueSize,
		})
		return pool, nil, nil
	}
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.Exchange,
		QueueName:         cfg.Queue,
		RoutingKey:        cfg.RoutingKey,
		Durable:           cfg.Durable,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		ConnectionTimeout: cfg.Connection.ConnectionTimeout,
		PublishRetries:    cfg.Publish.RetryAttempts,
		PublishRetryDelay: cfg.Publish.RetryInterval,
	}, logger)
}

// initVerifier picks the HTTP verifier when an authorize URL is
// configured, falling back to the static token table.
func initVerifier(cfg *config.AuthConfig, logger *slog.Logger) auth.Verifier {
	if cfg.AuthorizeURL != "" {
		return auth.NewHTTPVerifier(cfg.AuthorizeURL, cfg.Timeout, logger)
	}

	tokens := make(map[string]auth.Identity, len(cfg.StaticTokens))
	for token, id := range cfg.StaticTokens {
		tokens[token] = auth.Identity{UserID: id.UserID, System: id.System}
	}
	logger.Warn("Using static token auth; not for production")
	return auth.NewStaticVerifier(tokens)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) http.Handler {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	return router.SetupRouter(deps)
}
