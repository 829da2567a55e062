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

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/warpweft/api/internal/handlers"
	"github.com/warpweft/api/internal/payments"
	"github.com/warpweft/api/internal/platform/auth"
	"github.com/warpweft/api/internal/platform/config"
	pfirestore "github.com/warpweft/api/internal/platform/firestore"
	"github.com/warpweft/api/internal/platform/idempotency"
	"github.com/warpweft/api/internal/platform/jobs"
	"github.com/warpweft/api/internal/platform/observability"
	"github.com/warpweft/api/internal/platform/secrets"
	platformstorage "github.com/warpweft/api/internal/platform/storage"
	"github.com/warpweft/api/internal/repositories"
	firestoreRepo "github.com/warpweft/api/internal/repositories/firestore"
	"github.com/warpweft/api/internal/services"
)

func main() {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = baseLogger.Sync() }()

	logger := baseLogger.Named("api")
	ctx := observability.WithLogger(context.Background(), logger)

	if err := run(ctx, logger); err != nil {
		logger.Fatal("startup aborted", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("Stripe.APIKey", "Stripe.WebhookSecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("required secrets unresolved", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	clients, err := dialClients(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer clients.close(logger)

	app, err := assembleServices(cfg, clients, logger)
	if err != nil {
		return err
	}

	systemService, err := newSystemService(clients.firestore, fetcher, logger)
	if err != nil {
		logger.Warn("health checks degraded", zap.Error(err))
	}

	idemStore := idempotency.NewFirestoreStore(clients.firestore)
	stopJanitor := startIdempotencyJanitor(idemStore, cfg.Idempotency, logger.Named("idempotency"))
	defer stopJanitor()

	router := buildRouter(cfg, app, systemService, idemStore, envValues, startedAt, logger)

	return serve(cfg.Server, router, logger)
}

// clientSet holds the Google Cloud clients the service talks to.
type clientSet struct {
	provider  *pfirestore.Provider
	firestore *firestore.Client
	storage   *cloudstorage.Client
	pubsub    *pubsub.Client
	topic     *pubsub.Topic
}

func dialClients(ctx context.Context, cfg config.Config, logger *zap.Logger) (*clientSet, error) {
	clients := &clientSet{provider: pfirestore.NewProvider(cfg.Firestore)}

	var err error
	if clients.firestore, err = clients.provider.Client(ctx); err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	if clients.storage, err = cloudstorage.NewClient(ctx); err != nil {
		clients.close(logger)
		return nil, fmt.Errorf("storage client: %w", err)
	}
	if clients.pubsub, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID); err != nil {
		clients.close(logger)
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	clients.topic = clients.pubsub.Topic(cfg.PubSub.OrderEventsTopic)
	return clients, nil
}

func (c *clientSet) close(logger *zap.Logger) {
	if c.topic != nil {
		c.topic.Stop()
		c.topic = nil
	}
	if c.pubsub != nil {
		if err := c.pubsub.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
		c.pubsub = nil
	}
	if c.storage != nil {
		if err := c.storage.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
		c.storage = nil
	}
	if c.provider != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.provider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
		cancel()
		c.provider = nil
	}
}

// appServices is the assembled business layer behind the HTTP surface.
type appServices struct {
	orders    services.OrderService
	coupons   services.CouponService
	payments  services.PaymentService
	invoices  services.InvoiceService
	inventory services.InventoryService
}

func assembleServices(cfg config.Config, clients *clientSet, logger *zap.Logger) (*appServices, error) {
	publisher, err := jobs.NewPubSubEventPublisher(clients.topic)
	if err != nil {
		return nil, fmt.Errorf("event publisher: %w", err)
	}

	orderRepo, err := firestoreRepo.NewOrderRepository(clients.provider)
	if err != nil {
		return nil, fmt.Errorf("order repository: %w", err)
	}
	productRepo, err := firestoreRepo.NewProductRepository(clients.provider)
	if err != nil {
		return nil, fmt.Errorf("product repository: %w", err)
	}
	inventoryRepo, err := firestoreRepo.NewInventoryRepository(clients.provider)
	if err != nil {
		return nil, fmt.Errorf("inventory repository: %w", err)
	}
	couponRepo, err := firestoreRepo.NewCouponRepository(clients.provider)
	if err != nil {
		return nil, fmt.Errorf("coupon repository: %w", err)
	}
	cartRepo, err := firestoreRepo.NewCartRepository(clients.provider)
	if err != nil {
		return nil, fmt.Errorf("cart repository: %w", err)
	}
	paymentEventRepo, err := firestoreRepo.NewPaymentEventRepository(clients.provider)
	if err != nil {
		return nil, fmt.Errorf("payment event repository: %w", err)
	}

	inventoryService, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: inventoryRepo,
		Events:    publisher,
		Clock:     time.Now,
		Logger:    newEventLogger(logger.Named("inventory")),
	})
	if err != nil {
		return nil, fmt.Errorf("inventory service: %w", err)
	}

	couponService, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: couponRepo,
		Clock:   time.Now,
		Logger:  newEventLogger(logger.Named("coupons")),
	})
	if err != nil {
		return nil, fmt.Errorf("coupon service: %w", err)
	}

	pricingEngine, err := services.NewPricingEngine(services.PricingEngineDeps{
		Coupons: couponService,
		Config: services.PricingConfig{
			BundleSize:         cfg.Pricing.BundleSize,
			BundleSetPrice:     cfg.Pricing.BundleSetPrice,
			BundleUnitPrice:    cfg.Pricing.BundleUnitPrice,
			BundleCategories:   cfg.Pricing.BundleCategories,
			ShippingFee:        cfg.Pricing.ShippingFee,
			FreeShippingRegion: cfg.Pricing.FreeShippingRegion,
		},
		Logger: newEventLogger(logger.Named("pricing")),
	})
	if err != nil {
		return nil, fmt.Errorf("pricing engine: %w", err)
	}

	codeAllocator, err := services.NewOrderCodeAllocator(services.OrderCodeAllocatorDeps{
		Orders:      orderRepo,
		CodeLength:  cfg.OrderCodes.Length,
		MaxAttempts: cfg.OrderCodes.MaxAttempts,
		Logger:      newEventLogger(logger.Named("order_codes")),
	})
	if err != nil {
		return nil, fmt.Errorf("order code allocator: %w", err)
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    orderRepo,
		Products:  productRepo,
		Inventory: inventoryService,
		Pricing:   pricingEngine,
		Codes:     codeAllocator,
		Events:    publisher,
		Clock:     time.Now,
		Logger:    newEventLogger(logger.Named("orders")),
	})
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.Stripe.APIKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Logger:        payments.StripeLogger(newEventLogger(logger.Named("stripe"))),
		Clock:         time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe provider: %w", err)
	}
	paymentManager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	})
	if err != nil {
		return nil, fmt.Errorf("payment manager: %w", err)
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:    orderRepo,
		Events:    paymentEventRepo,
		Carts:     cartRepo,
		OrderFlow: orderService,
		Inventory: inventoryService,
		Coupons:   couponService,
		Providers: paymentManager,
		Publisher: publisher,
		Config: services.PaymentServiceConfig{
			Currency:   cfg.Stripe.Currency,
			SuccessURL: cfg.Stripe.SuccessURL,
			CancelURL:  cfg.Stripe.CancelURL,
		},
		Clock:  time.Now,
		Logger: newEventLogger(logger.Named("payments")),
	})
	if err != nil {
		return nil, fmt.Errorf("payment service: %w", err)
	}

	invoiceReader, err := platformstorage.NewBucketReader(clients.storage, cfg.Storage.InvoiceBucket)
	if err != nil {
		return nil, fmt.Errorf("invoice bucket reader: %w", err)
	}
	invoiceService, err := services.NewInvoiceService(services.InvoiceServiceDeps{
		Orders:  orderService,
		Objects: invoiceReader,
		Logger:  newEventLogger(logger.Named("invoices")),
	})
	if err != nil {
		return nil, fmt.Errorf("invoice service: %w", err)
	}

	return &appServices{
		orders:    orderService,
		coupons:   couponService,
		payments:  paymentService,
		invoices:  invoiceService,
		inventory: inventoryService,
	}, nil
}

func buildRouter(cfg config.Config, app *appServices, systemService services.SystemService, store idempotency.Store, envValues map[string]string, startedAt time.Time, logger *zap.Logger) http.Handler {
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(systemService),
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, startedAt)),
	)
	orderHandlers := handlers.NewOrderHandlers(app.orders, app.payments, app.invoices)
	couponHandlers := handlers.NewCouponHandlers(app.coupons)
	adminHandlers := handlers.NewAdminOrderHandlers(app.orders, app.payments, app.inventory)
	webhookHandlers := handlers.NewWebhookHandlers(app.payments)

	idempotencyMiddleware := idempotency.Middleware(
		store,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
			auth.HeaderMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPublicRoutes(couponHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithOrderMiddlewares(idempotencyMiddleware),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithAdminMiddlewares(handlers.RequireAdminMiddleware()),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithWebhookMiddlewares(handlers.RateLimitMiddleware(cfg.RateLimits.WebhookBurst, time.Minute)),
	)
}

// startIdempotencyJanitor periodically purges expired idempotency records.
// The returned func stops the loop and waits for an in-flight sweep.
func startIdempotencyJanitor(store *idempotency.FirestoreStore, cfg config.IdempotencyConfig, logger *zap.Logger) func() {
	if cfg.CleanupInterval <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(cfg.CleanupInterval)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ticker.C:
				sweepCtx, done := context.WithTimeout(ctx, time.Minute)
				removed, err := store.CleanupExpired(sweepCtx, time.Now().UTC(), cfg.CleanupBatchSize)
				done()
				if err != nil {
					logger.Error("cleanup sweep failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Info("cleanup removed expired records", zap.Int("count", removed))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		cancel()
		wg.Wait()
	}
}

func serve(cfg config.ServerConfig, handler http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("warpweft api listening", zap.String("addr", server.Addr))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-shutdown:
	}
	logger.Info("shutdown signal received, draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func newEventLogger(logger *zap.Logger) services.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service event", zFields...)
	}
}

func buildInfoFromEnv(env map[string]string, started time.Time) handlers.BuildInfo {
	pick := func(key, fallback string) string {
		if v := strings.TrimSpace(env[key]); v != "" {
			return v
		}
		return fallback
	}
	return handlers.BuildInfo{
		Version:     pick("API_BUILD_VERSION", "dev"),
		CommitSHA:   pick("API_BUILD_COMMIT_SHA", "unknown"),
		Environment: pick("API_ENVIRONMENT", "local"),
		StartedAt:   started,
	}
}

func newSystemService(client *firestore.Client, fetcher *secrets.Fetcher, logger *zap.Logger) (services.SystemService, error) {
	var checks []repositories.DependencyCheck
	if client != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				_, err := client.Collections(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if fetcher != nil {
		const probeRef = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, probeRef)
				if err == nil {
					return nil
				}
				// The probe secret does not have to exist, it only has to answer.
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

	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		Health: repo,
		Logger: newEventLogger(logger.Named("health")),
	})
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string { return strings.TrimSpace(env[key]) }

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projects := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projects) > 0 {
		lowered := make(map[string]string, len(projects))
		for label, project := range projects {
			lowered[strings.ToLower(label)] = project
		}
		opts = append(opts, secrets.WithProjectMap(lowered))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := parseKeyValueList(lookup("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// parseKeyValueList parses "a=1,b=2" into a map, dropping malformed entries.
func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(entry), "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key != "" && value != "" {
			result[key] = value
		}
	}
	return result
}
