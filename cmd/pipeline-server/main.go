// cmd/pipeline-server/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"loanflow/internal/api"
	commonaws "loanflow/internal/common/aws"
	"loanflow/internal/common/config"
	"loanflow/internal/common/database"
	"loanflow/internal/common/logger"
	"loanflow/internal/events"
	"loanflow/internal/models"
	"loanflow/internal/notify"
	"loanflow/internal/pipeline"
	"loanflow/internal/signing"
	"loanflow/internal/smartfields"
	"loanflow/internal/store"
	"loanflow/internal/webhook"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting pipeline server...")

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redisClient *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redisClient, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redisClient.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redisClient.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping()
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init AWS notification clients ---
	var sesClient *commonaws.SESClient
	var snsClient *commonaws.SNSClient
	if cfg.Notifications.Email.Enabled {
		sesClient, err = commonaws.NewSESClient(ctx, cfg.Notifications.AWS.Region, cfg.Notifications.Email.FromEmail)
		if err != nil {
			zapLog.Fatal("ses client failed", zap.Error(err))
		}
	}
	if cfg.Notifications.SMS.Enabled {
		snsClient, err = commonaws.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
	}

	// --- Wire services ---
	applications := store.NewApplicationStore(pg.DB)
	documents := store.NewDocumentStore(pg.DB)
	catalog := store.NewCatalogStore(pg.DB)
	jobs := signing.NewJobStore(pg.DB)
	webhookEvents := webhook.NewEventStore(pg.DB)

	generator := smartfields.NewGenerator()

	publisher := events.NewPublisher(redisClient.Client, esClient.Client, cfg.Database.Elasticsearch.AuditIndex, log)
	notifier := notify.NewNotifier(applications, sesClient, snsClient, generator, cfg.Notifications, log)

	defaults := make([]models.DocumentType, 0, len(cfg.Pipeline.DefaultRequiredDocuments))
	for _, t := range cfg.Pipeline.DefaultRequiredDocuments {
		defaults = append(defaults, models.DocumentType(t))
	}
	resolver := pipeline.NewResolver(catalog, redisClient.Client, defaults, config.GetDuration(cfg.Pipeline.RequirementCacheTTL), log)

	engine := pipeline.NewEngine(applications, documents, resolver, publisher, notifier, log)

	provider := signing.NewHTTPProvider(cfg.Signing.ProviderBaseURL, cfg.Signing.APIKey, config.GetDuration(cfg.Signing.RequestTimeout))
	orchestrator := signing.NewOrchestrator(jobs, applications, provider, generator, engine, publisher, signing.Config{
		TemplateRef: cfg.Signing.TemplateRef,
		MaxAttempts: cfg.Signing.MaxAttempts,
		BackoffBase: config.GetDuration(cfg.Signing.BackoffBase),
		BackoffMax:  config.GetDuration(cfg.Signing.BackoffMax),
	}, log)

	worker := signing.NewWorker(jobs, orchestrator, signing.WorkerConfig{
		PollInterval: config.GetDuration(cfg.Signing.PollInterval),
		WorkerCount:  cfg.Signing.WorkerCount,
		ClaimTimeout: config.GetDuration(cfg.Signing.ClaimTimeout),
	}, log)

	webhookHandler, err := webhook.NewHandler(cfg.Signing.WebhookSecret, webhookEvents, jobs, orchestrator, log)
	if err != nil {
		zapLog.Fatal("webhook handler failed", zap.Error(err))
	}
	sweeper := webhook.NewSweeper(webhookEvents, webhookHandler, config.GetDuration(cfg.Signing.SweepInterval), log)

	// --- Start background loops ---
	worker.Start(ctx)
	sweeper.Start(ctx)

	// --- HTTP server ---
	handlers := api.NewHandlers(engine, resolver, orchestrator, webhookHandler, generator, applications, documents, log)
	app := api.NewApp(handlers, pg.DB)

	go func() {
		zapLog.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Address))
		if err := app.Listen(cfg.HTTP.Address); err != nil {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")

	if err := app.ShutdownWithTimeout(config.GetDuration(cfg.Signing.ShutdownTimeout)); err != nil {
		zapLog.Error("HTTP server shutdown failed", zap.Error(err))
	}
	sweeper.Stop()
	worker.Stop()

	zapLog.Info("Pipeline server stopped gracefully")
}
