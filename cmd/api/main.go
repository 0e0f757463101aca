package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/letter-dispatch/internal/alerting"
	"github.com/kursadbilgin/letter-dispatch/internal/analytics"
	"github.com/kursadbilgin/letter-dispatch/internal/config"
	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/handler"
	"github.com/kursadbilgin/letter-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/letter-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/letter-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/letter-dispatch/internal/monitoring"
	"github.com/kursadbilgin/letter-dispatch/internal/observability"
	"github.com/kursadbilgin/letter-dispatch/internal/provider"
	"github.com/kursadbilgin/letter-dispatch/internal/queue"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
	"github.com/kursadbilgin/letter-dispatch/internal/retry"
	"github.com/kursadbilgin/letter-dispatch/internal/service"
	"github.com/kursadbilgin/letter-dispatch/internal/transport"
	"go.uber.org/zap"
)

const (
	consumerPrefetch = 20
	shutdownTimeout  = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("letter-dispatch api stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Dispatch workers plus headroom for the rule engine, dashboard and HTTP handlers.
	db, err := postgresql.NewPostgresWithPool(cfg.DatabaseDSN, postgresql.PoolOptions{
		MaxOpenConns: cfg.DispatchConcurrency + 10,
	})
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	overrides, err := cfg.RateLimitOverrides()
	if err != nil {
		return err
	}
	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, infraredis.Limits{
		Default:    cfg.ChannelRateLimit,
		PerChannel: overrides,
	})
	if err != nil {
		return err
	}
	topicPublisher, err := infraredis.NewPublisher(rdb)
	if err != nil {
		return err
	}

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close()
	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, consumerPrefetch, observability.Component(logger, "confirmation_consumer"))

	metrics := observability.NewMetrics()

	submissionRepo := repository.NewGormSubmissionRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)
	errorLogRepo := repository.NewGormErrorLogRepo(db)
	ruleRepo := repository.NewGormRuleRepo(db)
	eventRepo := repository.NewGormEventRepo(db)

	registry, err := newAdapterRegistry(cfg, publisher)
	if err != nil {
		return err
	}

	dispatcher, err := service.NewDispatcher(registry, rateLimiter, provider.MinimalContext, cfg.DispatchTimeout,
		observability.Component(logger, "dispatcher"))
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(metrics)

	deliveryQueue, err := service.NewDeliveryQueue(submissionRepo)
	if err != nil {
		return err
	}
	submissions, err := service.NewSubmissionService(submissionRepo, attemptRepo, deliveryQueue, cfg.DefaultMaxRetries,
		observability.Component(logger, "submission_service"))
	if err != nil {
		return err
	}
	errorLogs, err := service.NewErrorLogService(errorLogRepo, observability.Component(logger, "error_log"))
	if err != nil {
		return err
	}
	purger, err := service.NewErrorLogPurger(errorLogs, cfg.PurgeInterval, cfg.ErrorRetention,
		observability.Component(logger, "error_log_purger"))
	if err != nil {
		return err
	}

	policy := retry.NewPolicy(cfg.RetryBaseDelay, cfg.RetryMaxDelay, cfg.RetryJitter, cfg.DefaultMaxRetries)
	processor, err := service.NewQueueProcessor(deliveryQueue, dispatcher, attemptRepo, errorLogs, policy,
		service.QueueProcessorOptions{
			Interval:    cfg.QueueInterval,
			BatchSize:   cfg.QueueBatchSize,
			Concurrency: cfg.DispatchConcurrency,
			StaleAfter:  cfg.StaleProcessingAfter,
		},
		observability.Component(logger, "queue_processor"))
	if err != nil {
		return err
	}
	processor.SetMetrics(metrics)

	confirmations, err := service.NewConfirmationConsumer(consumer, submissions,
		observability.Component(logger, "confirmation_consumer"))
	if err != nil {
		return err
	}

	aggregator, err := analytics.NewAggregator(attemptRepo, submissionRepo, errorLogs, analytics.DefaultThresholds(),
		observability.Component(logger, "analytics"))
	if err != nil {
		return err
	}

	engine, err := newRuleEngine(cfg, ruleRepo, submissionRepo, aggregator, publisher, topicPublisher, logger)
	if err != nil {
		return err
	}
	engine.SetMetrics(metrics)

	seeded, err := alerting.SeedDefaults(ctx, ruleRepo, alerting.DefaultRules(cfg.AlertRecipients(), cfg.AlertPushTopic))
	if err != nil {
		return fmt.Errorf("failed to seed default rules: %w", err)
	}
	if seeded > 0 {
		logger.Info("default notification rules seeded", zap.Int("count", seeded))
	}

	rules, err := alerting.NewRuleService(ruleRepo, eventRepo, observability.Component(logger, "rule_service"))
	if err != nil {
		return err
	}

	orchestrator, err := monitoring.NewOrchestrator(aggregator, rules, errorLogs, submissionRepo, deliveryQueue,
		monitoring.Options{Window: cfg.HealthWindow},
		observability.Component(logger, "monitoring"))
	if err != nil {
		return err
	}
	orchestrator.SetMetrics(metrics)

	supervisor, err := monitoring.NewSupervisor(map[string]monitoring.Loop{
		"queue_processor":       processor,
		"rule_engine":           engine,
		"error_log_purger":      purger,
		"confirmation_consumer": confirmations,
	}, observability.Component(logger, "supervisor"))
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:      "letter-dispatch",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(transport.CorrelationID())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, map[string]handler.ReadinessCheck{
		"postgres": handler.SQLCheck(sqlDB),
		"redis":    handler.RedisCheck(rdb),
		"rabbitmq": rabbit.Ping,
	})
	if err := handler.RegisterSubmissionRoutes(app, submissions); err != nil {
		return err
	}
	if err := handler.RegisterRuleRoutes(app, rules); err != nil {
		return err
	}
	if err := handler.RegisterErrorLogRoutes(app, errorLogs); err != nil {
		return err
	}
	if err := handler.RegisterMonitoringRoutes(app, orchestrator); err != nil {
		return err
	}

	if err := supervisor.Start(ctx); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()
	logger.Info("letter-dispatch api started", zap.Int("port", cfg.APIPort))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-supervisor.Done():
		runErr = errors.New("background loops stopped unexpectedly")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server stopped: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}
	if err := supervisor.Stop(shutdownCtx); err != nil {
		logger.Warn("background loops shutdown failed", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	logger.Info("letter-dispatch api stopped")
	return runErr
}

func newAdapterRegistry(cfg *config.Config, publisher queue.Publisher) (*provider.Registry, error) {
	apiAdapter, err := provider.NewAPIAdapter(cfg.UniversityAPIBaseURL)
	if err != nil {
		return nil, err
	}
	emailAdapter, err := provider.NewHandoffAdapter(publisher, domain.ChannelEmail)
	if err != nil {
		return nil, err
	}
	manualAdapter, err := provider.NewHandoffAdapter(publisher, domain.ChannelManual)
	if err != nil {
		return nil, err
	}

	return provider.NewRegistry(map[domain.Channel]provider.ChannelAdapter{
		domain.ChannelAPI:    apiAdapter,
		domain.ChannelEmail:  emailAdapter,
		domain.ChannelManual: manualAdapter,
	})
}

func newRuleEngine(
	cfg *config.Config,
	rules repository.RuleRepository,
	failures alerting.FailureCounter,
	health alerting.HealthSource,
	publisher queue.Publisher,
	topics alerting.TopicPublisher,
	logger *zap.Logger,
) (*alerting.Engine, error) {
	email, err := alerting.NewEmailExecutor(publisher)
	if err != nil {
		return nil, err
	}
	push, err := alerting.NewPushExecutor(topics)
	if err != nil {
		return nil, err
	}

	return alerting.NewEngine(rules, failures, health, map[domain.ActionKind]alerting.ActionExecutor{
		domain.ActionEmail:   email,
		domain.ActionWebhook: alerting.NewWebhookExecutor(),
		domain.ActionPush:    push,
	}, cfg.RuleEvalInterval, observability.Component(logger, "rule_engine"))
}
