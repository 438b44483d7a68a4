package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mt-karim/shopboard/libs/config"
	"github.com/mt-karim/shopboard/libs/db"
	"github.com/mt-karim/shopboard/libs/httpx"
	"github.com/mt-karim/shopboard/libs/kafkax"
	otelx "github.com/mt-karim/shopboard/libs/otel"
	"github.com/mt-karim/shopboard/libs/runtime"
	"github.com/mt-karim/shopboard/services/board-service/internal/alert"
	"github.com/mt-karim/shopboard/services/board-service/internal/audit"
	"github.com/mt-karim/shopboard/services/board-service/internal/board"
	"github.com/mt-karim/shopboard/services/board-service/internal/handlers"
	"github.com/mt-karim/shopboard/services/board-service/internal/move"
	"github.com/mt-karim/shopboard/services/board-service/internal/outbox"
	"github.com/mt-karim/shopboard/services/board-service/internal/stats"
	"github.com/mt-karim/shopboard/services/board-service/internal/storage"
)

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func rateLimits() map[httpx.RouteClass]httpx.ClassLimit {
	window := config.Duration("RATE_LIMIT_WINDOW", time.Minute)
	return map[httpx.RouteClass]httpx.ClassLimit{
		httpx.RouteClassMove:       {Limit: config.Int("RATE_LIMIT_MOVE", 60), Window: window},
		httpx.RouteClassRead:       {Limit: config.Int("RATE_LIMIT_READ", 240), Window: window},
		httpx.RouteClassInvalidate: {Limit: config.Int("RATE_LIMIT_INVALIDATE", 30), Window: window},
		httpx.RouteClassExport:     {Limit: config.Int("RATE_LIMIT_EXPORT", 10), Window: window},
	}
}

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "board-service")
	port, err := config.Port("PORT", "8090")
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

	repo := storage.NewAppointmentRepository(pool)
	auditRepo := audit.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	brokers := config.String("KAFKA_BROKERS", "")
	alerts := alert.NewNotifier(brokers, logger)

	limits := rateLimits()
	var statsCache stats.Cache
	var limiter httpx.Limiter
	var rdb *redis.Client
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		statsCache = stats.NewRedisCache(rdb)
		limiter = httpx.NewRedisLimiter(rdb, limits, service)
	} else {
		// Single-instance fallback; counters and cached KPIs are process-local.
		logger.Warn("REDIS_ADDR not set, using in-memory cache and limiter")
		statsCache = stats.NewMemoryCache()
		limiter = httpx.NewMemoryLimiter(limits)
	}

	statsSvc := stats.NewService(repo, statsCache, config.Duration("STATS_CACHE_TTL", stats.DefaultTTL), logger)
	mover := move.NewService(repo, auditRepo, outboxRepo, statsSvc, alerts, logger)
	aggregator := board.NewAggregator(repo)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	handler := handlers.NewBoardHandler(mover, aggregator, statsSvc, repo, auditRepo, logger)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if rdb != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	if brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	limited := func(class httpx.RouteClass, h http.HandlerFunc) http.Handler {
		return httpx.WithRateLimit(limiter, class, logger)(h)
	}
	mux.Handle("/api/v1/board/move", limited(httpx.RouteClassMove, handler.Move))
	mux.Handle("/api/v1/board", limited(httpx.RouteClassRead, handler.GetBoard))
	mux.Handle("/api/v1/stats", limited(httpx.RouteClassRead, handler.GetStats))
	mux.Handle("/api/v1/stats/invalidate", limited(httpx.RouteClassInvalidate, handler.InvalidateStats))
	mux.Handle("/api/v1/appointments", limited(httpx.RouteClassRead, handler.GetAppointment))
	mux.Handle("/api/v1/audit", limited(httpx.RouteClassExport, handler.ListAudit))

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders: parseList(config.String("CORS_ALLOWED_HEADERS", "Content-Type,X-Request-Id,X-Actor-Id")),
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 10*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "board")
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
