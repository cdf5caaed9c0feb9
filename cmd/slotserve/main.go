package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/slotserve/slotserve/internal/consumer"
	"github.com/slotserve/slotserve/internal/handlers"
	"github.com/slotserve/slotserve/internal/ics"
	"github.com/slotserve/slotserve/internal/inbox"
	"github.com/slotserve/slotserve/internal/outbox"
	"github.com/slotserve/slotserve/internal/storage"
	"github.com/slotserve/slotserve/libs/config"
	"github.com/slotserve/slotserve/libs/db"
	"github.com/slotserve/slotserve/libs/httpx"
	"github.com/slotserve/slotserve/libs/kafkax"
	otelx "github.com/slotserve/slotserve/libs/otel"
	"github.com/slotserve/slotserve/libs/runtime"
)

func main() {
	service := config.String("SERVICE_NAME", "slotserve")
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

	var rdb *redis.Client
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			panic(err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	} else {
		logger.Warn("REDIS_URL not set; feed caching and rate limiting disabled")
	}

	fetcher := ics.NewFetcher(ics.FetcherConfig{
		ConnectTimeout: config.Seconds("ICS_CONNECT_TIMEOUT_SECONDS", 5*time.Second),
		RequestTimeout: config.Seconds("ICS_REQUEST_TIMEOUT_SECONDS", 10*time.Second),
		CacheTTL:       config.Seconds("ICS_CACHE_TTL_SECONDS", 2*time.Minute),
	}, rdb, logger)
	icsOpts := ics.Options{
		LegacyZSuffix: config.String("ICS_LEGACY_Z_SUFFIX", "") == "true",
	}

	schedulerRepo := storage.NewSchedulerRepository(pool)
	bookingRepo := storage.NewBookingRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	if brokers := config.String("KAFKA_BROKERS", ""); strings.TrimSpace(brokers) != "" {
		feedConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topic:   config.String("KAFKA_FEED_TOPIC", consumer.TopicFeedUpdated),
		}, consumer.FeedUpdatedHandler(fetcher, logger))
		go feedConsumer.Run(ctx)
	}

	schedulerHandler := handlers.NewSchedulerHandler(schedulerRepo, bookingRepo, fetcher, logger, icsOpts)
	bookingHandler := handlers.NewBookingHandler(bookingRepo, outboxRepo, schedulerRepo, fetcher, logger, icsOpts)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("POST /api/v1/schedulers", schedulerHandler.Create)
	mux.HandleFunc("GET /api/v1/schedulers/{id}", schedulerHandler.Get)
	mux.HandleFunc("GET /api/v1/schedulers/{id}/slots", schedulerHandler.Slots)
	mux.HandleFunc("GET /api/v1/schedulers/{id}/days/{date}", schedulerHandler.Day)
	mux.HandleFunc("POST /api/v1/schedulers/{id}/bookings", bookingHandler.Create)
	mux.HandleFunc("GET /api/v1/bookings", bookingHandler.List)
	mux.HandleFunc("POST /api/v1/bookings/cancel", bookingHandler.Cancel)

	middlewares := []httpx.Middleware{
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(config.Seconds("REQUEST_TIMEOUT_SECONDS", 30*time.Second)),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
	}
	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		middlewares = append(middlewares, httpx.NewRateLimiter(limitPerMinute, time.Minute).Middleware())
	}
	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = httpx.Chain(httpHandler,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, service)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
