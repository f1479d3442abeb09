package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/variants/internal/handlers"
	"github.com/hanko-field/variants/internal/platform/auth"
	"github.com/hanko-field/variants/internal/platform/config"
	pfirestore "github.com/hanko-field/variants/internal/platform/firestore"
	"github.com/hanko-field/variants/internal/platform/idempotency"
	"github.com/hanko-field/variants/internal/platform/jobs"
	"github.com/hanko-field/variants/internal/platform/observability"
	"github.com/hanko-field/variants/internal/platform/pagination"
	"github.com/hanko-field/variants/internal/platform/secrets"
	"github.com/hanko-field/variants/internal/repositories"
	firestoreRepo "github.com/hanko-field/variants/internal/repositories/firestore"
	"github.com/hanko-field/variants/internal/services"
)

const (
	serviceName          = "variants"
	idempotencyColl      = "idempotency_keys"
	meterName            = "github.com/hanko-field/variants"
	dependencyTimeout    = 1500 * time.Millisecond
	firebaseVerifyBudget = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "variants: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	level, _ := config.Lookup("LOG_LEVEL")
	bootLogger, err := observability.NewLogger(observability.LoggerOptions{Level: level, Service: serviceName})
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}

	resolver := newLazySecretResolver(bootLogger.Named("secrets"))
	defer resolver.Close()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			bootLogger.Error("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := observability.NewLogger(observability.LoggerOptions{
		Level:   cfg.Log.Level,
		Service: serviceName,
		Version: cfg.Build.Version,
	})
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	ctx = observability.WithLogger(ctx, logger)

	buildInfo := services.BuildInfo{
		Version:     cfg.Build.Version,
		CommitSHA:   cfg.Build.CommitSHA,
		Environment: cfg.Build.Environment,
		StartedAt:   startedAt,
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		if err := firestoreProvider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	pubsubClient, err := newPubSubClient(ctx, cfg.PubSub)
	if err != nil {
		return fmt.Errorf("initialise pubsub client: %w", err)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()
	variantsTopic := pubsubClient.Topic(cfg.PubSub.VariantsTopic)
	defer variantsTopic.Stop()

	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		return fmt.Errorf("initialise product repository: %w", err)
	}
	regionRepo, err := firestoreRepo.NewRegionRepository(firestoreProvider)
	if err != nil {
		return fmt.Errorf("initialise region repository: %w", err)
	}
	storeRepo, err := firestoreRepo.NewStoreRepository(firestoreProvider)
	if err != nil {
		return fmt.Errorf("initialise store repository: %w", err)
	}
	preferenceRepo, err := firestoreRepo.NewPricePreferenceRepository(firestoreProvider)
	if err != nil {
		return fmt.Errorf("initialise price preference repository: %w", err)
	}
	auditRepo, err := firestoreRepo.NewAuditLogRepository(firestoreProvider)
	if err != nil {
		return fmt.Errorf("initialise audit log repository: %w", err)
	}

	auditService, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: auditRepo,
		Logger:     logger.Named("audit"),
		HashSalt:   cfg.Audit.HashSalt,
	})
	if err != nil {
		return fmt.Errorf("initialise audit log service: %w", err)
	}

	publisher, err := jobs.NewPubSubVariantPublisher(variantsTopic)
	if err != nil {
		return fmt.Errorf("initialise variant publisher: %w", err)
	}

	generationService, err := services.NewVariantGenerationService(services.VariantGenerationServiceDeps{
		Products:            productRepo,
		Regions:             regionRepo,
		Stores:              storeRepo,
		PricePreferences:    preferenceRepo,
		Publisher:           publisher,
		Audit:               auditService,
		Logger:              logger.Named("variant_generation"),
		Meter:               otel.GetMeterProvider().Meter(meterName),
		Clock:               time.Now,
		DefaultPageSize:     cfg.Variants.DefaultPageSize,
		MaxPageSize:         cfg.Variants.MaxPageSize,
		ResolutionCacheSize: cfg.Variants.ResolutionCacheSize,
		ResolutionCacheTTL:  cfg.Variants.ResolutionCacheTTL,
		RegionCacheTTL:      cfg.Variants.RegionCacheTTL,
	})
	if err != nil {
		return fmt.Errorf("initialise variant generation service: %w", err)
	}

	optionHandler, err := services.NewProductOptionEventHandler(services.ProductOptionEventHandlerDeps{
		Products:    productRepo,
		Resolutions: generationService,
		Logger:      logger.Named("option_subscriber"),
		Clock:       time.Now,
	})
	if err != nil {
		return fmt.Errorf("initialise option event handler: %w", err)
	}

	systemService, err := newSystemService(firestoreProvider, variantsTopic, buildInfo, auditService)
	if err != nil {
		return fmt.Errorf("initialise system service: %w", err)
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, firebaseVerifyBudget)
	if err != nil {
		return fmt.Errorf("initialise firebase verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithRoleClaim(cfg.Firebase.RoleClaim))

	idempotencyStore := idempotency.NewFirestoreStore(firestoreProvider, idempotencyColl)
	idempotencyMiddleware := idempotency.Middleware(idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		idempotency.RunCleanup(ctx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	if cfg.PubSub.EnableReceiver {
		consumer, err := jobs.NewOptionEventConsumer(
			pubsubClient.Subscription(cfg.PubSub.OptionSubscription),
			optionHandler,
			jobs.WithConsumerLogger(logger.Named("option_consumer")),
			jobs.WithConcurrency(cfg.PubSub.ReceiveConcurrency),
		)
		if err != nil {
			return fmt.Errorf("initialise option event consumer: %w", err)
		}
		background.Add(1)
		go func() {
			defer background.Done()
			if err := consumer.Run(ctx); err != nil {
				logger.Error("option event consumer stopped", zap.Error(err))
			}
		}()
	}

	adminHandlers := handlers.NewAdminVariantHandlers(authenticator, generationService,
		handlers.WithIdempotency(idempotencyMiddleware),
		handlers.WithPaging(pagination.Options{
			DefaultPageSize: cfg.Variants.DefaultPageSize,
			MaxPageSize:     cfg.Variants.MaxPageSize,
		}),
	)
	internalHandlers := handlers.NewInternalEventHandlers(optionHandler)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	projectID := traceProjectID(cfg)
	httpLogger := logger.Named("http")
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidc := buildOIDCMiddleware(logger.Named("auth"), cfg); oidc != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidc))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("variants service listening", zap.String("environment", cfg.Build.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			stop()
			background.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received; draining requests")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	stop()
	background.Wait()
	return nil
}

func newPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*pubsub.Client, error) {
	var opts []option.ClientOption
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	return pubsub.NewClient(ctx, cfg.ProjectID, opts...)
}

func newSystemService(provider *pfirestore.Provider, topic *pubsub.Topic, build services.BuildInfo, audit services.AuditLogService) (services.SystemService, error) {
	checks := []repositories.DependencyCheck{
		{
			Name:    "firestore",
			Timeout: dependencyTimeout,
			Check:   provider.Ping,
		},
		{
			Name:    "pubsub",
			Timeout: dependencyTimeout,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topic.ID())
				}
				return nil
			},
		},
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
		Audit:            audit,
	})
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}
	validator := auth.NewOIDCValidator(auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL), logger)
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

// lazySecretResolver creates the Secret Manager client on the first secret reference so local
// runs without references need no Google credentials.
type lazySecretResolver struct {
	logger  *zap.Logger
	once    sync.Once
	fetcher *secrets.Fetcher
	err     error
}

func newLazySecretResolver(logger *zap.Logger) *lazySecretResolver {
	return &lazySecretResolver{logger: logger}
}

func (r *lazySecretResolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	r.once.Do(func() {
		project, _ := config.Lookup("SECRET_DEFAULT_PROJECT_ID")
		if project == "" {
			project, _ = config.Lookup("FIREBASE_PROJECT_ID")
		}
		opts := []secrets.Option{
			secrets.WithLogger(r.logger),
			secrets.WithDefaultProject(project),
		}
		if credentials, _ := config.Lookup("FIREBASE_CREDENTIALS_FILE"); credentials != "" {
			opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
		}
		r.fetcher, r.err = secrets.NewFetcher(ctx, opts...)
	})
	if r.err != nil {
		return "", r.err
	}
	return r.fetcher.Resolve(ctx, ref)
}

func (r *lazySecretResolver) Close() {
	if r.fetcher == nil {
		return
	}
	if err := r.fetcher.Close(); err != nil {
		r.logger.Warn("secret fetcher close error", zap.Error(err))
	}
}
