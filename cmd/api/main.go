package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nellai-market/api/internal/di"
	"github.com/nellai-market/api/internal/handlers"
	"github.com/nellai-market/api/internal/payments"
	"github.com/nellai-market/api/internal/platform/auth"
	"github.com/nellai-market/api/internal/platform/config"
	pfirestore "github.com/nellai-market/api/internal/platform/firestore"
	"github.com/nellai-market/api/internal/platform/idempotency"
	"github.com/nellai-market/api/internal/platform/jobs"
	"github.com/nellai-market/api/internal/platform/observability"
	"github.com/nellai-market/api/internal/platform/secrets"
	"github.com/nellai-market/api/internal/repositories"
	firestoreRepo "github.com/nellai-market/api/internal/repositories/firestore"
	"github.com/nellai-market/api/internal/repositories/memory"
	"github.com/nellai-market/api/internal/services"

	"github.com/go-chi/chi/v5"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, startedAt)

	var firestoreProvider *pfirestore.Provider
	var firestoreClient *firestore.Client
	if cfg.Store.Backend == config.StoreBackendFirestore {
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
		firestoreClient, err = firestoreProvider.Client(ctx)
		if err != nil {
			logger.Fatal("failed to initialise firestore client", zap.Error(err))
		}
	}

	registry, err := buildRegistry(cfg, firestoreProvider, firestoreClient, fetcher)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	gateways := buildPaymentManager(logger.Named("payments"), cfg)
	if gateways == nil {
		logger.Warn("stripe not configured; storefront runs cash-on-delivery only")
	}

	publisher, pubsubClient := buildEventPublisher(ctx, logger.Named("events"), cfg)
	if pubsubClient != nil {
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	containerDeps := di.ContainerDeps{
		Config:   cfg,
		Registry: registry,
		Gateways: gateways,
		Clock:    time.Now,
		Logger:   zapEventLogger(logger.Named("services")),
	}
	if publisher != nil {
		containerDeps.Events = publisher
	}
	container, err := di.NewContainer(ctx, containerDeps)
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}

	// The system service inside the container reports repository health; carry
	// the build metadata gathered at startup instead.
	systemService, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: registry.Health(),
		Clock:            time.Now,
		Build:            buildInfo,
	})
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
		systemService = container.Services.System
	}

	idempotencyStore := buildIdempotencyStore(cfg, firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup

	if cfg.Idempotency.CleanupInterval > 0 {
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			runIdempotencyCleanup(backgroundCtx, logger.Named("idempotency"), idempotencyStore, cfg)
		}()
	}

	if cfg.Payments.SweepInterval > 0 {
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			runPaymentSweeper(backgroundCtx, logger.Named("payments"), container.Services.Payments, cfg.Payments.SweepInterval)
		}()
	}

	internalMiddleware := buildInternalMiddleware(ctx, logger.Named("auth"), fetcher, envValues)

	productHandlers := handlers.NewProductHandlers(container.Services.Catalog)
	cartHandlers := handlers.NewCartHandlers(container.Services.Cart)
	checkoutHandlers := handlers.NewCheckoutHandlers(container.Services.Checkout)
	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders)
	paymentHandlers := handlers.NewPaymentHandlers(container.Services.Payments)
	healthHandlers := handlers.NewHealthHandlers(systemService)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(func(r chi.Router) {
			orderHandlers.Routes(r)
			paymentHandlers.OrderRoutes(r)
		}),
		handlers.WithWebhookRoutes(paymentHandlers.WebhookRoutes),
		handlers.WithInternalRoutes(paymentHandlers.InternalRoutes),
		// Idempotency guards storefront mutations only; Stripe webhooks carry
		// gateway event ids instead of Idempotency-Key headers.
		handlers.WithMutationMiddlewares(idempotencyMiddleware),
	}
	if internalMiddleware != nil {
		// HMAC first, so idempotency keys scope to the verified caller.
		opts = append(opts, handlers.WithInternalMiddlewares(internalMiddleware, idempotencyMiddleware))
	} else {
		opts = append(opts, handlers.WithInternalMiddlewares(idempotencyMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("backend", cfg.Store.Backend))
	go func() {
		serverLogger.Info("nellai market api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	backgroundCancel()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// zapEventLogger adapts a zap logger to the event-style logging hook the
// services accept.
func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service event", zFields...)
	}
}

func buildRegistry(cfg config.Config, provider *pfirestore.Provider, client *firestore.Client, fetcher *secrets.Fetcher) (repositories.Registry, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		return memory.NewRegistry(nil), nil
	case config.StoreBackendFirestore:
		health, err := newDependencyHealthRepository(client, fetcher)
		if err != nil {
			return nil, err
		}
		return firestoreRepo.NewRegistry(provider, health)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

func newDependencyHealthRepository(client *firestore.Client, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func buildPaymentManager(logger *zap.Logger, cfg config.Config) *payments.Manager {
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) == "" {
		return nil
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        zapEventLogger(logger),
		Clock:         time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}

	manager, err := payments.NewManager(
		map[string]payments.Provider{"stripe": stripeProvider},
		payments.WithMethodRoutes(map[string]string{
			"card": "stripe",
			"upi":  "stripe",
		}),
	)
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}
	return manager
}

func buildEventPublisher(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.OrderEventPublisher, *pubsub.Client) {
	topicName := strings.TrimSpace(cfg.Events.Topic)
	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(cfg.Firebase.ProjectID)
	}
	if topicName == "" || projectID == "" {
		logger.Warn("order events disabled; no pubsub project configured")
		return nil, nil
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(topicName))
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	return publisher, client
}

func buildIdempotencyStore(cfg config.Config, client *firestore.Client) idempotency.Store {
	if cfg.Store.Backend == config.StoreBackendFirestore && client != nil {
		return idempotency.NewFirestoreStore(client)
	}
	return idempotency.NewMemoryStore()
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store idempotency.Store, cfg config.Config) {
	ticker := time.NewTicker(cfg.Idempotency.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

// runPaymentSweeper periodically fails gateway payments whose checkout
// session lapsed without a webhook outcome.
func runPaymentSweeper(ctx context.Context, logger *zap.Logger, svc services.PaymentService, interval time.Duration) {
	if svc == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			expired, err := svc.ExpireStalePayments(runCtx)
			cancel()
			if err != nil {
				logger.Error("payment expiry sweep error", zap.Error(err))
				continue
			}
			if expired > 0 {
				logger.Info("expired stale gateway payments", zap.Int("count", expired))
			}
		case <-ctx.Done():
			return
		}
	}
}

// buildInternalMiddleware guards /internal routes with an HMAC signature
// requirement when an internal secret is configured.
func buildInternalMiddleware(ctx context.Context, logger *zap.Logger, fetcher *secrets.Fetcher, env map[string]string) func(http.Handler) http.Handler {
	raw := strings.TrimSpace(env["API_INTERNAL_HMAC_SECRET"])
	if raw == "" {
		logger.Warn("auth: internal HMAC secret not configured; internal routes are open")
		return nil
	}

	secret := raw
	if strings.HasPrefix(raw, "sm://") || strings.HasPrefix(raw, "secret://") {
		resolved, err := fetcher.Resolve(ctx, raw)
		if err != nil {
			logger.Fatal("auth: failed to resolve internal HMAC secret", zap.Error(err))
		}
		secret = resolved
	}

	provider := auth.SecretProviderFunc(func(context.Context, string) (string, error) {
		return secret, nil
	})
	validator := auth.NewHMACValidator(provider, auth.NewInMemoryNonceStore(),
		auth.WithHMACLogger(observability.NewPrintfAdapter(logger)),
	)
	return validator.RequireHMAC("internal")
}

func buildInfoFromEnv(env map[string]string, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(env["API_ENVIRONMENT"])
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets Load must resolve. Stripe keys are
// only required once the operator points them at a secret reference or
// inline value, so a memory-backed COD-only deployment boots without them.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if env != nil {
		if strings.TrimSpace(env["API_PSP_STRIPE_API_KEY"]) != "" {
			required = append(required, "PSP.StripeAPIKey")
		}
		if strings.TrimSpace(env["API_PSP_STRIPE_WEBHOOK_SECRET"]) != "" {
			required = append(required, "PSP.StripeWebhookSecret")
		}
	}
	return uniqueStrings(required)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
