/**
 * @description
 * The serve command wires every component of the core-banking service: database
 * pools, the message broker, Redis, the money-movement engine, the HTTP API, the
 * UserRegistered consumer, the outbox dispatcher and the recurring payment
 * scheduler. It blocks until SIGINT or SIGTERM and then shuts down in order.
 */

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/transfa/core-banking-service/internal/api"
	"github.com/transfa/core-banking-service/internal/app"
	"github.com/transfa/core-banking-service/internal/config"
	"github.com/transfa/core-banking-service/internal/domain"
	"github.com/transfa/core-banking-service/internal/store"
	"github.com/transfa/core-banking-service/pkg/identityclient"
	"github.com/transfa/core-banking-service/pkg/rabbitmq"
)

const shutdownTimeout = 15 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, consumers, scheduler and outbox dispatcher",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		return fmt.Errorf("INTERNAL_API_KEY must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting core-banking service", "port", cfg.ServerPort, "events_delivery", cfg.EventsDelivery)

	if cfg.MigrationsAuto {
		status, err := store.MigrateUp(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("migrations applied", "version", status.Version, "changed", status.Changed)
	}

	poolOptions := store.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns}
	dbpool, err := store.NewPool(ctx, cfg.DatabaseURL, poolOptions)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("database connected")

	var replica *pgxpool.Pool
	if strings.TrimSpace(cfg.DatabaseReplicaURL) != "" {
		replica, err = store.NewPool(ctx, cfg.DatabaseReplicaURL, poolOptions)
		if err != nil {
			logger.Warn("read replica unavailable; reads use the primary", "error", err)
			replica = nil
		} else {
			defer replica.Close()
			logger.Info("read replica connected")
		}
	}

	repository := store.NewPostgresRepository(dbpool, replica, cfg.DBLockTimeout)

	// Initialize the RabbitMQ producer to publish events.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		producer = &rabbitmq.EventProducerFallback{Logger: logger}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		logger.Info("rabbitmq producer connected")
	}

	emitter := app.NewEventEmitter(producer, logger, cfg.EventQueueSize, cfg.EventWorkers)
	engine := app.NewEngine(repository, emitter, logger)
	accountService := app.NewAccountService(repository, repository, emitter, logger)
	subscriptionService := app.NewSubscriptionService(repository, repository, logger)

	dispatcherDone := make(chan struct{})
	if cfg.OutboxEnabled() {
		engine.UseOutbox()
		accountService.UseOutbox()
		dispatcher := app.NewOutboxDispatcher(repository, func() (rabbitmq.Publisher, error) {
			p, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
			if err != nil {
				return nil, err
			}
			return p, nil
		}, logger)
		go func() {
			defer close(dispatcherDone)
			dispatcher.Run(ctx)
		}()
		logger.Info("outbox dispatcher started")
	} else {
		close(dispatcherDone)
	}

	redisClient := connectRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var limiter app.RateLimiter
	if redisClient != nil && cfg.MovementRateLimitPerMinute > 0 {
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix, cfg.MovementRateLimitPerMinute, time.Minute)
		logger.Info("movement rate limiting enabled", "per_minute", cfg.MovementRateLimitPerMinute)
	}

	consumer := startUserConsumer(cfg, accountService, repository, logger)
	if consumer != nil {
		defer consumer.Close()
	}

	var scheduler *app.Scheduler
	if cfg.SchedulerEnabled {
		scheduler, err = startScheduler(cfg, repository, engine, redisClient, logger)
		if err != nil {
			return err
		}
	}

	handlers := api.NewHandlers(engine, accountService, subscriptionService, limiter, logger)
	router := api.NewRouter(handlers, api.AuthConfig{
		JWTSecret:      cfg.JWTSecret,
		JWTIssuer:      cfg.JWTIssuer,
		InternalAPIKey: cfg.InternalAPIKey,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}
	stop()
	logger.Info("shutdown started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn("scheduler tick still running at shutdown")
		}
	}
	<-dispatcherDone
	if err := emitter.Close(shutdownCtx); err != nil {
		logger.Warn("event emitter did not drain", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func connectRedis(ctx context.Context, cfg config.Config, logger *slog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		logger.Info("redis url not set; rate limiting disabled and scheduler uses a local tick lock")
		return nil
	}
	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; redis features disabled", "error", err)
		return nil
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; redis features disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}

// startUserConsumer provisions default accounts for UserRegistered events. A
// broker outage at startup disables provisioning rather than the whole service.
func startUserConsumer(cfg config.Config, accounts *app.AccountService, repository *store.PostgresRepository, logger *slog.Logger) *rabbitmq.Consumer {
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq consumer unavailable; default account provisioning disabled", "error", err)
		return nil
	}

	handler := app.NewUserEventHandler(accounts, repository, cfg.DefaultAccountCurrency, logger)
	bindings := map[string]rabbitmq.Handler{
		domain.EventUserRegistered: handler.HandleUserRegistered,
	}
	if err := consumer.ConsumeWithBindings(domain.TopicAuthEvents, cfg.AuthEventsQueue, bindings); err != nil {
		logger.Warn("user registered consumer failed to start", "error", err)
		consumer.Close()
		return nil
	}
	logger.Info("user registered consumer started", "queue", cfg.AuthEventsQueue)
	return consumer
}

func startScheduler(cfg config.Config, repository *store.PostgresRepository, engine *app.Engine, redisClient *redis.Client, logger *slog.Logger) (*app.Scheduler, error) {
	var payers app.PayerChecker
	if strings.TrimSpace(cfg.IdentityServiceURL) != "" {
		payers = identityclient.NewClient(cfg.IdentityServiceURL, cfg.InternalAPIKey)
	} else {
		logger.Warn("identity service url not set; payer status checks disabled", "env", "IDENTITY_SERVICE_URL")
	}

	var lock app.TickLock = app.LocalTickLock{}
	if redisClient != nil {
		lock = app.NewRedisTickLock(redisClient, app.TickLockName, cfg.SchedulerPollInterval)
	}

	recurring := app.NewRecurringPayments(repository, repository, engine, payers, cfg.SchedulerConcurrency, logger)
	scheduler := app.NewScheduler(recurring, lock, cfg.SchedulerPollInterval, logger)
	if err := scheduler.Start(); err != nil {
		return nil, err
	}
	return scheduler, nil
}
