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
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/lula-tea/api/internal/handlers"
	"github.com/lula-tea/api/internal/messaging"
	"github.com/lula-tea/api/internal/platform/config"
	pfirestore "github.com/lula-tea/api/internal/platform/firestore"
	"github.com/lula-tea/api/internal/platform/idempotency"
	"github.com/lula-tea/api/internal/platform/jobs"
	"github.com/lula-tea/api/internal/platform/observability"
	"github.com/lula-tea/api/internal/platform/secrets"
	firestoreRepo "github.com/lula-tea/api/internal/repositories/firestore"
	"github.com/lula-tea/api/internal/services"
)

func main() {
	ctx := context.Background()

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

	timezone, err := time.LoadLocation(cfg.Cancellation.Timezone)
	if err != nil {
		logger.Fatal("invalid cancellation timezone", zap.String("timezone", cfg.Cancellation.Timezone), zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	stockRepo, err := firestoreRepo.NewStockRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise stock repository", zap.Error(err))
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}

	var (
		orderEvents  services.OrderEventPublisher
		stockEvents  services.StockEventPublisher
		pubsubClient *pubsub.Client
		orderTopic   *pubsub.Topic
	)
	if cfg.PubSub.Enabled {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		orderTopic = pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
		stockTopic := pubsubClient.Topic(cfg.PubSub.StockEventsTopic)
		publisher, err := jobs.NewPubSubEventPublisher(orderTopic, stockTopic)
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
		orderEvents = publisher
		stockEvents = publisher
	}

	stockService, err := services.NewStockService(services.StockServiceDeps{
		Stock:             stockRepo,
		Events:            stockEvents,
		Locations:         cfg.Inventory.Locations,
		LowStockThreshold: cfg.Inventory.LowStockThreshold,
		Clock:             time.Now,
		IDGenerator:       func() string { return ulid.Make().String() },
		Logger:            serviceLogger(logger.Named("stock")),
	})
	if err != nil {
		logger.Fatal("failed to initialise stock service", zap.Error(err))
	}

	notifier, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Push:            newWhatsAppSender(logger, cfg.Notifications.WhatsApp),
		Email:           newEmailSender(logger, cfg.Notifications.Email),
		DefaultLanguage: cfg.Notifications.DefaultLanguage,
		SendTimeout:     cfg.Notifications.SendTimeout,
		Logger:          serviceLogger(logger.Named("notify")),
	})
	if err != nil {
		logger.Fatal("failed to initialise notification dispatcher", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        orderRepo,
		Events:        orderEvents,
		Notifications: notifier,
		Clock:         time.Now,
		Logger:        serviceLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	cancellationService, err := services.NewCancellationService(services.CancellationServiceDeps{
		Orders:          orderRepo,
		Stock:           stockService,
		Notifications:   notifier,
		Events:          orderEvents,
		RestockLocation: cfg.Cancellation.RestockLocation,
		Timezone:        timezone,
		Clock:           time.Now,
		Logger:          serviceLogger(logger.Named("cancel")),
	})
	if err != nil {
		logger.Fatal("failed to initialise cancellation service", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	orderHandlers := handlers.NewOrderHandlers(orderService, cancellationService)
	inventoryHandlers := handlers.NewInventoryHandlers(stockService)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithReadinessChecks(readinessChecks(firestoreClient, orderTopic)...),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
		idempotencyMiddleware,
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithInventoryRoutes(inventoryHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("lula-tea api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func serviceLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service log", zFields...)
	}
}

func newWhatsAppSender(logger *zap.Logger, cfg config.WhatsAppConfig) messaging.Sender {
	if strings.TrimSpace(cfg.PhoneNumberID) == "" {
		logger.Info("whatsapp channel disabled; phone number id not configured")
		return nil
	}
	sender, err := messaging.NewWhatsAppSender(messaging.WhatsAppConfig{
		PhoneNumberID: cfg.PhoneNumberID,
		AccessToken:   cfg.AccessToken,
		BaseURL:       cfg.BaseURL,
	})
	if err != nil {
		logger.Fatal("failed to initialise whatsapp sender", zap.Error(err))
	}
	return sender
}

func newEmailSender(logger *zap.Logger, cfg config.EmailConfig) messaging.Sender {
	if strings.TrimSpace(cfg.Host) == "" {
		logger.Info("email channel disabled; smtp host not configured")
		return nil
	}
	sender, err := messaging.NewEmailSender(messaging.EmailConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	})
	if err != nil {
		logger.Fatal("failed to initialise email sender", zap.Error(err))
	}
	return sender
}

func readinessChecks(client *firestore.Client, orderTopic *pubsub.Topic) []handlers.ReadinessCheck {
	checks := make([]handlers.ReadinessCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, handlers.ReadinessCheck{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				probeCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
				defer cancel()
				iter := c.Collections(probeCtx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if orderTopic != nil {
		t := orderTopic
		checks = append(checks, handlers.ReadinessCheck{
			Name: "pubsub",
			Check: func(ctx context.Context) error {
				probeCtx, cancel := context.WithTimeout(ctx, time.Second)
				defer cancel()
				exists, err := t.Exists(probeCtx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s does not exist", t.ID())
				}
				return nil
			},
		})
	}
	return checks
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

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
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if projectMap := parseKeyValueList(lookup("API_SECRET_PROJECT_MAP")); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if pins := parseKeyValueList(lookup("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config secrets that must resolve for the
// channels the environment actually enables.
func requiredSecretNames(env map[string]string) []string {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	var required []string
	if lookup("API_NOTIFY_WHATSAPP_PHONE_NUMBER_ID") != "" {
		required = append(required, "Notifications.WhatsApp.AccessToken")
	}
	if lookup("API_NOTIFY_SMTP_HOST") != "" && lookup("API_NOTIFY_SMTP_USERNAME") != "" {
		required = append(required, "Notifications.Email.Password")
	}
	return required
}

func parseKeyValueList(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
