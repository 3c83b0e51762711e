package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	appcart "github.com/Zhima-Mochi/coffeeshop/internal/application/cart"
	appcatalog "github.com/Zhima-Mochi/coffeeshop/internal/application/catalog"
	"github.com/Zhima-Mochi/coffeeshop/internal/application/eligibility"
	appinventory "github.com/Zhima-Mochi/coffeeshop/internal/application/inventory"
	appnotification "github.com/Zhima-Mochi/coffeeshop/internal/application/notification"
	apporder "github.com/Zhima-Mochi/coffeeshop/internal/application/order"
	apppayment "github.com/Zhima-Mochi/coffeeshop/internal/application/payment"
	"github.com/Zhima-Mochi/coffeeshop/internal/config"
	domcart "github.com/Zhima-Mochi/coffeeshop/internal/domain/cart"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/coffeeshop/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/coffeeshop/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/coffeeshop/internal/domain/payment"
	"github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/id"
	"github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/memory"
	infranotification "github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/notification"
	infraobs "github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/payment/redislog"
	"github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/payment/stripe"
	"github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/postgres"
	"github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/rediscart"
	"github.com/Zhima-Mochi/coffeeshop/internal/infrastructure/redisqueue"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability"
	"github.com/Zhima-Mochi/coffeeshop/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/coffeeshop/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/coffeeshop/internal/presentation/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// storage is what both store drivers provide.
type storage interface {
	domorder.Store
	domorder.SalesReader
	dominv.Ledger
	catalog.Browser
	UpsertProduct(ctx context.Context, p catalog.Product) error
}

// relay is the event transport: the in-process bus or the redis outbox.
type relay interface {
	domoutbox.Publisher
	domoutbox.Subscriber
	Start(ctx context.Context)
	Stop(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	baseLogger := logging.MustNewLogger(logging.Options{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)

	shutdownTracing, err := oteltrace.Setup(cfg.ServiceName, cfg.TraceExporter, os.Stdout)
	if err != nil {
		systemLogger.Fatal("tracing_setup_failed", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	counters, histograms := prometrics.Standard(prometrics.New(registry, ""))
	tel := infraobs.New(oteltrace.New(cfg.ServiceName), zaplogger.New(baseLogger), counters, histograms)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, readiness, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		systemLogger.Fatal("store_open_failed", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeStore()
	if err := seedCatalog(ctx, store); err != nil {
		systemLogger.Fatal("catalog_seed_failed", zap.Error(err))
	}

	events, carts, redisClient, err := openRelay(ctx, cfg, tel.Logger())
	if err != nil {
		systemLogger.Fatal("redis_open_failed", zap.Error(err))
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		storeReady := readiness
		readiness = func(ctx context.Context) error {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return err
			}
			return storeReady(ctx)
		}
	}

	placer := apporder.NewPlaceOrderUseCase(
		store,
		eligibility.New(store, store),
		id.NewUUIDGenerator(),
		events,
		tel,
		apporder.WithDownloadTTL(cfg.DownloadTTL),
	)
	orderService := apporder.NewService(placer, store, tel.Logger())
	cartSessions := appcart.NewSession(carts, store, orderService, tel.Logger())
	catalogService := appcatalog.NewService(store, store, store, tel)
	webhooks := apppayment.NewHandleWebhookUseCase(
		stripe.NewVerifier(cfg.StripeWebhookSecret, cfg.StripeTolerance),
		orderService,
		tel,
		apppayment.WithEventLog(paymentEventLog(store, redisClient), 0),
	)

	// Workers get event-scoped loggers on every delivery.
	subscriber := eventScoped{sub: events, log: tel.Logger()}
	appinventory.NewWorker(subscriber, appinventory.NewDetectDepletionUseCase(events, tel), tel).Start()
	appnotification.NewWorker(subscriber, infranotification.NewLogNotifier(tel.Logger()), tel).Start()
	events.Start(ctx)

	handler := httppresentation.NewHandler(orderService, cartSessions, catalogService, webhooks, tel,
		httppresentation.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		httppresentation.WithReadiness(readiness),
	)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler.Router(),
	}

	go func() {
		systemLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
			zap.String("store_driver", cfg.StoreDriver),
			zap.Bool("redis", redisClient != nil),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error", zap.Error(err))
	} else {
		systemLogger.Info("http_server_stopped")
	}
	if err := events.Stop(shutdownCtx); err != nil {
		systemLogger.Error("event_relay_stop_error", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		systemLogger.Error("tracing_shutdown_error", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.Config) (storage, func(context.Context) error, func(), error) {
	if cfg.StoreDriver == config.DriverPostgres {
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return db, db.Ping, db.Close, nil
	}
	return memory.NewStore(), func(context.Context) error { return nil }, func() {}, nil
}

// openRelay picks the redis outbox and carts when REDIS_URL is set, in-process ones otherwise.
func openRelay(ctx context.Context, cfg config.Config, logger observability.Logger) (relay, domcart.Store, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return outbox.NewBus(logger), memory.NewCartStore(), nil, nil
	}

	client, err := redisqueue.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	q := redisqueue.New(client, logger,
		redisqueue.WithMaxAttempts(cfg.NotifyMaxAttempts),
		redisqueue.WithRetryBackoff(cfg.NotifyRetryBackoff, 0),
	)
	q.RegisterDecoder(domorder.EventOrderPlaced, func(b []byte) (domoutbox.Event, error) {
		return domorder.DecodeOrderPlacedEvent(b)
	})
	q.RegisterDecoder(dominv.EventStockDepleted, func(b []byte) (domoutbox.Event, error) {
		return dominv.DecodeStockDepletedEvent(b)
	})
	return q, rediscart.New(client, cfg.CartTTL), client, nil
}

// paymentEventLog keeps processed webhook events next to the orders when they live in postgres,
// otherwise in redis when configured, otherwise in process memory.
func paymentEventLog(store storage, client *redis.Client) dompay.EventLog {
	if db, ok := store.(*postgres.DB); ok {
		return db.PaymentEvents()
	}
	if client != nil {
		return redislog.New(client, 0)
	}
	return memory.NewPaymentEventLog()
}

type eventScoped struct {
	sub domoutbox.Subscriber
	log observability.Logger
}

func (e eventScoped) Subscribe(eventName string, h domoutbox.Handler) {
	workerpresentation.Subscribe(e.sub, e.log, eventName, h)
}

var demoCatalog = []catalog.Product{
	{ID: "ethiopia-guji", Name: "Ethiopia Guji", Description: "Washed, floral and bright.", PriceMinor: 32000, StockQuantity: 20, Available: true, Category: "beans"},
	{ID: "colombia-huila", Name: "Colombia Huila", Description: "Caramel body, red apple acidity.", PriceMinor: 28000, StockQuantity: 15, Available: true, Category: "beans"},
	{ID: "v60-dripper", Name: "V60 Dripper", Description: "Ceramic pour-over cone.", PriceMinor: 45000, StockQuantity: 5, Available: true, Category: "gear"},
	{ID: "brew-guide", Name: "Home Brewing Guide", Description: "Downloadable recipe book.", PriceMinor: 9900, StockQuantity: 1000, Available: true, Category: "digital"},
}

// seedCatalog fills an empty catalog with the demo products.
func seedCatalog(ctx context.Context, store storage) error {
	existing, err := store.ListProducts(ctx, false)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, p := range demoCatalog {
		if err := store.UpsertProduct(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
