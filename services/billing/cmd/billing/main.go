package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/config"
	"github.com/md-rashed-zaman/eventrelay/libs/db"
	"github.com/md-rashed-zaman/eventrelay/libs/eventbus"
	"github.com/md-rashed-zaman/eventrelay/libs/eventstore"
	"github.com/md-rashed-zaman/eventrelay/libs/httpx"
	"github.com/md-rashed-zaman/eventrelay/libs/inbox"
	"github.com/md-rashed-zaman/eventrelay/libs/kafkax"
	"github.com/md-rashed-zaman/eventrelay/libs/lease"
	otelx "github.com/md-rashed-zaman/eventrelay/libs/otel"
	"github.com/md-rashed-zaman/eventrelay/libs/outbox"
	checkpoints "github.com/md-rashed-zaman/eventrelay/libs/projection"
	"github.com/md-rashed-zaman/eventrelay/libs/runtime"
	"github.com/md-rashed-zaman/eventrelay/libs/subscriber"
	"github.com/md-rashed-zaman/eventrelay/services/billing/internal/app"
	"github.com/md-rashed-zaman/eventrelay/services/billing/internal/domain"
	"github.com/md-rashed-zaman/eventrelay/services/billing/internal/handlers"
	"github.com/md-rashed-zaman/eventrelay/services/billing/internal/projection"
	"github.com/md-rashed-zaman/eventrelay/services/billing/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "billing")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger, storage.Migration); err != nil {
		logger.Error("migrations failed", "err", err)
		panic(err)
	}

	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer func() { _ = rdb.Close() }()
	}

	// Command side: event store append and outbox staging in one transaction.
	store := eventstore.NewStore(pool)
	outboxRepo := outbox.NewRepository(pool)
	appender, err := outbox.NewContextAware(outboxRepo)
	if err != nil {
		panic(err)
	}
	svc := app.NewService(pool, store, appender)

	// Consume side: in-process bus feeding the billing_view projection.
	bus := eventbus.New(logger)
	views := storage.NewViewRepository(pool)
	sub := subscriber.New(projection.Name, pool, inbox.NewRepository(pool), bus, logger).
		WithCheckpoints(checkpoints.NewCheckpointStore(pool))
	projection.NewBillingView(views).Register(sub)
	sub.Start()
	defer sub.Stop()

	// The outbox drains into kafka when brokers are configured, otherwise
	// straight into the in-process bus. With kafka in the middle, bridges
	// consume each topic back onto the local bus.
	brokers := config.String("KAFKA_BROKERS", "")
	var transport eventbus.Publisher = bus
	if brokers != "" {
		kafkaPub := eventbus.NewKafkaPublisher(kafkax.SplitBrokers(brokers))
		defer func() { _ = kafkaPub.Close() }()
		transport = kafkaPub

		for _, topic := range []string{domain.EventBillingCreated, domain.EventBillingPaid, domain.EventBillingCancelled} {
			bridge := eventbus.NewKafkaBridge(logger, bus, eventbus.KafkaBridgeConfig{
				Brokers: brokers,
				GroupID: service,
				Topic:   topic,
			})
			go bridge.Run(ctx)
		}
	}
	target := eventbus.NewContextAware(transport)

	publisher, err := outbox.NewPublisher(pool, outboxRepo, target, logger, outbox.PublisherConfig{
		PollEvery:   config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize:   config.Int("OUTBOX_BATCH_SIZE", 50),
		BackoffBase: config.Duration("OUTBOX_BACKOFF_BASE", 5*time.Second),
		BackoffCap:  config.Duration("OUTBOX_BACKOFF_CAP", 10*time.Minute),
		MaxAttempts: config.Int("OUTBOX_MAX_ATTEMPTS", 10),
	})
	if err != nil {
		panic(err)
	}
	if rdb != nil {
		outboxLease := lease.NewRedisLease(rdb, "eventrelay:outbox:"+service, 30*time.Second)
		publisher.WithLease(outboxLease)
		defer func() { _ = outboxLease.Release(context.Background()) }()
	}
	go publisher.Run(ctx)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	h := handlers.New(svc, views, logger, handlers.Config{
		StripeWebhookSecret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookToleranceSeconds: config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
	})
	h.Register(mux)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithCallContext,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", httpx.TenantIDHeader, httpx.UserIDHeader},
		}),
	}
	rateLimit := config.Int("RATE_LIMIT", 100)
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		middlewares = append(middlewares, httpx.NewRateLimiter(rateLimit, time.Minute).Middleware())
	}
	handler := httpx.Chain(mux, middlewares...)
	handler = otelhttp.NewHandler(handler, service)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
