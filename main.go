package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	appcart "github.com/openbasket/commerce/internal/application/cart"
	apporder "github.com/openbasket/commerce/internal/application/order"
	appwebhook "github.com/openbasket/commerce/internal/application/webhook"
	"github.com/openbasket/commerce/internal/config"
	"github.com/openbasket/commerce/internal/domain/event"
	domorder "github.com/openbasket/commerce/internal/domain/order"
	domproduct "github.com/openbasket/commerce/internal/domain/product"
	"github.com/openbasket/commerce/internal/domain/storage"
	"github.com/openbasket/commerce/internal/infrastructure/bus"
	"github.com/openbasket/commerce/internal/infrastructure/id"
	"github.com/openbasket/commerce/internal/infrastructure/memory"
	"github.com/openbasket/commerce/internal/infrastructure/postgres"
	"github.com/openbasket/commerce/internal/infrastructure/stripe"
	"github.com/openbasket/commerce/internal/observability"
	"github.com/openbasket/commerce/internal/pkg/logging"
	httppresentation "github.com/openbasket/commerce/internal/presentation/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.MustNewLogger(cfg.ServiceName, cfg.Env, cfg.LogFile)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	store, cleanup, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("store_init_failed", zap.Error(err))
	}
	defer cleanup()

	if cfg.SeedDemoData {
		if err := seedDemoData(context.Background(), store); err != nil {
			logger.Fatal("seed_failed", zap.Error(err))
		}
		logger.Info("demo_catalog_seeded")
	}

	eventBus := bus.New(logger)
	eventBus.Start(context.Background())
	defer eventBus.Stop()
	subscribeAuditLog(eventBus, logger)

	gateway := stripe.NewClient(cfg.StripeAPIKey, cfg.StripeBaseURL, cfg.GatewayTimeout)
	verifier := stripe.NewWebhookVerifier(cfg.StripeWebhookSecret)
	idGenerator := id.NewUUIDGenerator()

	cartService := appcart.NewService(store, idGenerator, metrics)
	orderService := apporder.NewService(store, gateway, idGenerator, eventBus, cfg.StripeCurrency, metrics)
	reconciler := appwebhook.NewReconciler(store, verifier, eventBus, metrics)

	handler := httppresentation.NewHandler(cartService, orderService, reconciler, logger, metrics)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("http_server_start", zap.String("addr", server.Addr))
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_server_shutdown_error", zap.Error(err))
	} else {
		logger.Info("http_server_stopped")
	}
}

func openStore(cfg *config.Config, logger *zap.Logger) (storage.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("store_selected", zap.String("kind", "memory"))
		return memory.NewStore(), func() {}, nil
	}

	pg, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	logger.Info("store_selected", zap.String("kind", "postgres"))
	return pg, func() { _ = pg.Close() }, nil
}

func seedDemoData(ctx context.Context, store storage.Store) error {
	demo := []struct {
		id, name        string
		price, discount float64
		stock           int
	}{
		{"prod-espresso", "Espresso Beans 1kg", 18.50, 0, 40},
		{"prod-grinder", "Burr Grinder", 89.00, 10, 12},
		{"prod-kettle", "Gooseneck Kettle", 45.00, 0, 25},
	}

	products := make([]*domproduct.Product, 0, len(demo))
	for _, d := range demo {
		p, err := domproduct.New(d.id, d.name, d.price, d.discount, d.stock)
		if err != nil {
			return err
		}
		products = append(products, p)
	}

	switch s := store.(type) {
	case *memory.Store:
		s.Seed(products...)
		return nil
	case *postgres.Store:
		return s.Seed(ctx, products...)
	}
	return nil
}

// subscribeAuditLog attaches a collaborator-facing audit trail to the order
// event feed. Notification/analytics consumers hang off the same bus.
func subscribeAuditLog(b *bus.Bus, logger *zap.Logger) {
	audit := logger.With(zap.String("component", "order_audit"))
	handler := func(_ context.Context, e event.Event) error {
		switch ev := e.(type) {
		case domorder.OrderCreatedEvent:
			audit.Info("order_event",
				zap.String("event", ev.EventName()),
				zap.String("order_id", ev.OrderID),
				zap.Float64("total_amount", ev.TotalAmount),
			)
		case domorder.OrderPaidEvent:
			audit.Info("order_event",
				zap.String("event", ev.EventName()),
				zap.String("order_id", ev.OrderID),
			)
		case domorder.OrderCancelledEvent:
			audit.Info("order_event",
				zap.String("event", ev.EventName()),
				zap.String("order_id", ev.OrderID),
			)
		}
		return nil
	}
	b.Subscribe(domorder.OrderCreatedEvent{}.EventName(), handler)
	b.Subscribe(domorder.OrderPaidEvent{}.EventName(), handler)
	b.Subscribe(domorder.OrderCancelledEvent{}.EventName(), handler)
}
