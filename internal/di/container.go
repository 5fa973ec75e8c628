package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/phonemart/api/internal/handlers"
	"github.com/phonemart/api/internal/platform/auth"
	"github.com/phonemart/api/internal/platform/config"
	pfirestore "github.com/phonemart/api/internal/platform/firestore"
	"github.com/phonemart/api/internal/platform/jobs"
	"github.com/phonemart/api/internal/platform/observability"
	firestoreRepo "github.com/phonemart/api/internal/repositories/firestore"
	"github.com/phonemart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Stock     services.StockService
	Discounts services.DiscountService
	Shipping  services.ShippingService
	Orders    services.OrderService
	Payments  services.PaymentService
}

// Container wires repositories, services, and HTTP infrastructure for runtime
// use. Close releases the Firestore and Pub/Sub clients.
type Container struct {
	Config   config.Config
	Services Services
	Router   http.Handler

	firestoreProvider *pfirestore.Provider
	pubsubClient      *pubsub.Client
}

// NewContainer constructs the runtime dependency graph from configuration.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		return nil, fmt.Errorf("initialise firestore client: %w", err)
	}

	container := &Container{
		Config:            cfg,
		firestoreProvider: firestoreProvider,
	}

	events, pubsubClient, err := buildEventPublisher(ctx, cfg.PubSub)
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = firestoreProvider.Close(closeCtx)
		return nil, err
	}
	container.pubsubClient = pubsubClient

	svc, err := buildServices(firestoreProvider, events, cfg, logger)
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = container.Close(closeCtx)
		return nil, err
	}
	container.Services = svc

	router, err := buildRouter(svc, cfg, logger, firestoreProvider)
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = container.Close(closeCtx)
		return nil, err
	}
	container.Router = router

	return container, nil
}

// Close releases the clients owned by the container.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if c.firestoreProvider != nil {
		if err := c.firestoreProvider.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore client: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildEventPublisher(ctx context.Context, cfg config.PubSubConfig) (services.EventPublisher, *pubsub.Client, error) {
	stockTopic := strings.TrimSpace(cfg.StockTopic)
	orderTopic := strings.TrimSpace(cfg.OrderTopic)
	if stockTopic == "" && orderTopic == "" {
		return nil, nil, nil
	}

	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, nil, errors.New("pubsub project id is required when topics are configured")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise pubsub client: %w", err)
	}

	var stock, order *pubsub.Topic
	if stockTopic != "" {
		stock = client.Topic(stockTopic)
	}
	if orderTopic != "" {
		order = client.Topic(orderTopic)
	}

	publisher, err := jobs.NewPubSubEventPublisher(stock, order)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("initialise event publisher: %w", err)
	}
	return publisher, client, nil
}

func buildServices(provider *pfirestore.Provider, events services.EventPublisher, cfg config.Config, logger *zap.Logger) (Services, error) {
	var svc Services

	stockRepo, err := firestoreRepo.NewStockRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build stock repository: %w", err)
	}
	catalogRepo, err := firestoreRepo.NewCatalogRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build catalog repository: %w", err)
	}
	customerRepo, err := firestoreRepo.NewCustomerRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build customer repository: %w", err)
	}
	discountRepo, err := firestoreRepo.NewDiscountRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build discount repository: %w", err)
	}
	paymentRepo, err := firestoreRepo.NewPaymentRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build payment repository: %w", err)
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(provider, stockRepo)
	if err != nil {
		return Services{}, fmt.Errorf("build order repository: %w", err)
	}

	stockSvc, err := services.NewStockService(services.StockServiceDeps{
		Stocks: stockRepo,
		Events: events,
		Clock:  time.Now,
		Logger: serviceLogger(logger.Named("stock")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock service: %w", err)
	}
	svc.Stock = stockSvc

	discountSvc, err := services.NewDiscountService(services.DiscountServiceDeps{
		Discounts: discountRepo,
		Clock:     time.Now,
		Logger:    serviceLogger(logger.Named("discount")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discount service: %w", err)
	}
	svc.Discounts = discountSvc

	shippingSvc, err := services.NewShippingService(services.ShippingServiceDeps{
		Orders: orderRepo,
		Events: events,
		Clock:  time.Now,
		Logger: serviceLogger(logger.Named("shipping")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shipping service: %w", err)
	}
	svc.Shipping = shippingSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:       orderRepo,
		Stocks:       stockRepo,
		Catalog:      catalogRepo,
		Customers:    customerRepo,
		Payments:     paymentRepo,
		Discounts:    discountSvc,
		Shipping:     shippingSvc,
		Events:       events,
		LoyaltyAward: cfg.Loyalty.CompletionAward,
		Clock:        time.Now,
		Logger:       serviceLogger(logger.Named("order")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments: paymentRepo,
		Orders:   orderRepo,
		Clock:    time.Now,
		Logger:   serviceLogger(logger.Named("payment")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	return svc, nil
}

func buildRouter(svc Services, cfg config.Config, logger *zap.Logger, provider *pfirestore.Provider) (http.Handler, error) {
	authenticator, err := auth.NewAuthenticator(cfg.Auth.JWTSecret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return nil, fmt.Errorf("build authenticator: %w", err)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		authenticator.Middleware(),
	}

	orderHandlers := handlers.NewOrderHandlers(svc.Orders, svc.Shipping, svc.Payments)
	shippingHandlers := handlers.NewShippingHandlers(svc.Shipping)
	discountHandlers := handlers.NewDiscountHandlers(svc.Discounts)
	adminHandlers := handlers.NewAdminHandlers(svc.Discounts, svc.Stock)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Payments)

	healthHandlers := handlers.NewHealthHandlers(handlers.WithReadinessCheck(func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		_, err = client.Collections(ctx).Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		return err
	}))

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithShippingRoutes(shippingHandlers.Routes),
		handlers.WithDiscountRoutes(discountHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	}

	if secret := strings.TrimSpace(cfg.Webhooks.SigningSecret); secret != "" {
		verifier, err := auth.NewWebhookVerifier(secret)
		if err != nil {
			return nil, fmt.Errorf("build webhook verifier: %w", err)
		}
		opts = append(opts, handlers.WithWebhookMiddlewares(verifier.Require()))
	}

	return handlers.NewRouter(opts...), nil
}

func serviceLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug(event, zFields...)
	}
}
