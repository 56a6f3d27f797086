package main

import (
	"context"
	"database/sql"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/billing"
	"github.com/PRX2112/image-opration-tools-sub001/internal/config"
	"github.com/PRX2112/image-opration-tools-sub001/internal/entitlement"
	"github.com/PRX2112/image-opration-tools-sub001/internal/gateway"
	"github.com/PRX2112/image-opration-tools-sub001/internal/logger"
	"github.com/PRX2112/image-opration-tools-sub001/internal/pgmq"
	"github.com/PRX2112/image-opration-tools-sub001/internal/pubsub"
	"github.com/PRX2112/image-opration-tools-sub001/internal/reconciler"
	"github.com/PRX2112/image-opration-tools-sub001/internal/repository"
	"github.com/PRX2112/image-opration-tools-sub001/internal/service"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	// Parse mode flag
	mode := flag.String("mode", "", "Reconciler mode: period-end|sweep")
	flag.Parse()

	// Load environment variables before the logger reads LOG_LEVEL
	envErr := godotenv.Load()
	logger := logger.New("reconciler")
	if envErr != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Repositories run on pgx; the queue client uses database/sql
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL(), cfg.DBMaxConns)
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB pool: %v", err)
	}
	defer pool.Close()

	var publisher pubsub.Publisher = pubsub.NopPublisher{}
	if cfg.GCPProjectID != "" {
		p, err := pubsub.NewPublisher(ctx, cfg.GCPProjectID, cfg.GCPCredentialsFile)
		if err != nil {
			logger.Fatal().Msgf("Failed to create Pub/Sub publisher: %v", err)
		}
		defer p.Close()
		publisher = p
	}

	accountRepo := repository.NewAccountRepo(pool)
	ledgerSvc := service.NewLedgerService(repository.NewUsageRepo(pool), entitlement.DefaultTable(), publisher, cfg.EventsTopic, logger)
	subscriptionSvc := service.NewSubscriptionService(service.SubscriptionDeps{
		Subscriptions: repository.NewSubscriptionRepo(pool),
		Payments:      repository.NewPaymentRepo(pool),
		Journal:       repository.NewWebhookEventRepo(pool),
		Accounts:      accountRepo,
		Ledger:        ledgerSvc,
		Gateway: gateway.NewStripeGateway(gateway.StripeConfig{
			SecretKey:            cfg.StripeSecretKey,
			WebhookSecret:        cfg.StripeWebhookSecret,
			PaymentSigningSecret: cfg.PaymentSigningSecret,
		}, logger),
		Catalog:     billing.NewCatalog(cfg.PriceIDs()),
		Publisher:   publisher,
		EventsTopic: cfg.EventsTopic,
	}, logger)

	// Dispatch to the selected reconciler
	var runErr error
	switch *mode {
	case "period-end":
		db, err := sql.Open("postgres", cfg.DatabaseURL())
		if err != nil {
			logger.Fatal().Msgf("Failed to open DB connection: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal().Msgf("Failed to ping DB: %v", err)
		}

		backoffMax := time.Duration(cfg.PeriodEndBackoffMaxSec) * time.Second
		runErr = reconciler.RunPeriodEnd(ctx, logger, pgmq.New(db), subscriptionSvc, reconciler.Options{
			Queue:           cfg.PeriodEndQueueName,
			DeadLetterQueue: cfg.PeriodEndDeadLetterQueueName,
			// A message must stay invisible for the whole retry loop.
			VisibilitySec:  cfg.PeriodEndMaxRetries*cfg.PeriodEndBackoffMaxSec + 30,
			PollTimeoutSec: cfg.PeriodEndPollTimeoutSec,
			MaxMessages:    cfg.PeriodEndPollMaxMsg,
			MaxRetries:     cfg.PeriodEndMaxRetries,
			BackoffInitial: time.Duration(cfg.PeriodEndBackoffInitialSec) * time.Second,
			BackoffMax:     backoffMax,
		})
	case "sweep":
		runErr = reconciler.RunSweep(ctx, logger, subscriptionSvc, time.Duration(cfg.SweepIntervalSec)*time.Second, cfg.SweepBatchSize)
	default:
		logger.Fatal().Msgf("Invalid mode: %s", *mode)
	}

	if runErr != nil {
		logger.Fatal().Msgf("%s reconciler failed: %v", *mode, runErr)
	}

	logger.Info().Msgf("%s reconciler stopped gracefully", *mode)
}
