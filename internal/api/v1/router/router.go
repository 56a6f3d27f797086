package router

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/api/v1/handler"
	"github.com/PRX2112/image-opration-tools-sub001/internal/auth"
	"github.com/PRX2112/image-opration-tools-sub001/internal/billing"
	"github.com/PRX2112/image-opration-tools-sub001/internal/config"
	"github.com/PRX2112/image-opration-tools-sub001/internal/entitlement"
	"github.com/PRX2112/image-opration-tools-sub001/internal/gateway"
	"github.com/PRX2112/image-opration-tools-sub001/internal/middleware"
	"github.com/PRX2112/image-opration-tools-sub001/internal/pgmq"
	"github.com/PRX2112/image-opration-tools-sub001/internal/processor"
	"github.com/PRX2112/image-opration-tools-sub001/internal/pubsub"
	"github.com/PRX2112/image-opration-tools-sub001/internal/reconciler"
	"github.com/PRX2112/image-opration-tools-sub001/internal/repository"
	"github.com/PRX2112/image-opration-tools-sub001/internal/secrets"
	"github.com/PRX2112/image-opration-tools-sub001/internal/service"
	"github.com/PRX2112/image-opration-tools-sub001/internal/storage"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// New wires the application and returns its handler plus a cleanup func that releases
// the database pool and cloud clients.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (http.Handler, func(), error) {
	logger.Info().Str("environment", cfg.Environment).Msg("Building router")

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// 1. Open the database pool
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL(), cfg.DBMaxConns)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, pool.Close)
	logger.Info().Msg("Database connection successful")

	// 2. Resolve the webhook secret; Secret Manager wins when a secret name is configured
	webhookSecret := cfg.StripeWebhookSecret
	if cfg.StripeWebhookSecretName != "" {
		resolver, err := secrets.NewSecretManagerResolver(ctx, cfg.GCPProjectID, cfg.GCPCredentialsFile)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		webhookSecret, err = resolver.Resolve(ctx, cfg.StripeWebhookSecretName)
		_ = resolver.Close()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		logger.Info().Str("secret", cfg.StripeWebhookSecretName).Msg("Webhook secret loaded from Secret Manager")
	}
	if webhookSecret == "" {
		logger.Warn().Msg("No webhook secret configured, every webhook will be rejected")
	}

	// 3. Optional saved-file storage
	var store storage.ObjectStore
	if cfg.S3Bucket != "" {
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			URL:       cfg.S3URL,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		store = s3Store
	} else {
		logger.Info().Msg("S3 bucket not configured, saving results is disabled")
	}

	// 4. Optional event publishing
	var publisher pubsub.Publisher = pubsub.NopPublisher{}
	if cfg.GCPProjectID != "" {
		p, err := pubsub.NewPublisher(ctx, cfg.GCPProjectID, cfg.GCPCredentialsFile)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("create Pub/Sub publisher: %w", err)
		}
		closers = append(closers, func() { _ = p.Close() })
		publisher = p
	}

	// 5. Period-end jobs go through pgmq on the same pool
	queueDB := stdlib.OpenDBFromPool(pool)
	closers = append(closers, func() { _ = queueDB.Close() })
	scheduler := reconciler.NewQueueScheduler(pgmq.New(queueDB), cfg.PeriodEndQueueName)

	// 6. Initialize repositories & services & handlers
	accountRepo := repository.NewAccountRepo(pool)
	usageRepo := repository.NewUsageRepo(pool)
	subscriptionRepo := repository.NewSubscriptionRepo(pool)
	paymentRepo := repository.NewPaymentRepo(pool)
	journal := repository.NewWebhookEventRepo(pool)

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	stripeGateway := gateway.NewStripeGateway(gateway.StripeConfig{
		SecretKey:            cfg.StripeSecretKey,
		WebhookSecret:        webhookSecret,
		PaymentSigningSecret: cfg.PaymentSigningSecret,
	}, logger)

	ledgerSvc := service.NewLedgerService(usageRepo, entitlement.DefaultTable(), publisher, cfg.EventsTopic, logger)
	accountSvc := service.NewAccountService(accountRepo, ledgerSvc, tokens, logger)
	subscriptionSvc := service.NewSubscriptionService(service.SubscriptionDeps{
		Subscriptions: subscriptionRepo,
		Payments:      paymentRepo,
		Journal:       journal,
		Accounts:      accountRepo,
		Ledger:        ledgerSvc,
		Gateway:       stripeGateway,
		Catalog:       billing.NewCatalog(cfg.PriceIDs()),
		Scheduler:     scheduler,
		Publisher:     publisher,
		EventsTopic:   cfg.EventsTopic,
	}, logger)
	imageSvc := service.NewImageService(ledgerSvc, processor.NewImagingProcessor(), store, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())
	accountHandler := handler.NewAccountHandler(accountSvc, validate, logger)
	usageHandler := handler.NewUsageHandler(ledgerSvc, validate, logger)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptionSvc, stripeGateway, validate, logger)
	toolHandler := handler.NewToolHandler(imageSvc, validate, cfg.MaxUploadBytes, logger)

	// 7. Initialize middleware
	authMiddleware := middleware.AuthMiddleware(tokens, logger)
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Downloads-This-Month"},
		AllowCredentials: false,
	})

	// 8. Create the chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(c.Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		accountHandler.RegisterRoutes(r, authMiddleware)
		usageHandler.RegisterRoutes(r, authMiddleware)
		subscriptionHandler.RegisterRoutes(r, authMiddleware)
		toolHandler.RegisterRoutes(r, authMiddleware)
	})

	logger.Info().Msg("Router initialized")
	return r, cleanup, nil
}
