package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/timeout"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richxcame/store-loyalty/internal/loyalty"
	"github.com/richxcame/store-loyalty/pkg/common"
	"github.com/richxcame/store-loyalty/pkg/config"
	"github.com/richxcame/store-loyalty/pkg/database"
	"github.com/richxcame/store-loyalty/pkg/eventbus"
	"github.com/richxcame/store-loyalty/pkg/health"
	"github.com/richxcame/store-loyalty/pkg/logger"
	"github.com/richxcame/store-loyalty/pkg/middleware"
	"github.com/richxcame/store-loyalty/pkg/ratelimit"
	"github.com/richxcame/store-loyalty/pkg/redis"
	"github.com/richxcame/store-loyalty/pkg/resilience"
	"github.com/richxcame/store-loyalty/pkg/secrets"
	"github.com/richxcame/store-loyalty/pkg/tracing"
	"go.uber.org/zap"
)

const (
	serviceName = "loyalty-service"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.InitWithFile(cfg.Server.Environment, logger.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Secrets.Provider != "" {
		store, err := secrets.Open(ctx, cfg.Secrets)
		if err != nil {
			logger.Fatal("Failed to open secret store", zap.Error(err))
		}
		if err := secrets.Apply(ctx, store, cfg); err != nil {
			logger.Fatal("Failed to resolve secrets", zap.Error(err))
		}
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close secret store", zap.Error(err))
		}
	}

	shutdownTracing, err := tracing.Init(ctx, serviceName, cfg.Server.Environment, cfg.Tracing)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Server.Environment,
			Release:     serviceName + "@" + version,
		}); err != nil {
			logger.Warn("Failed to initialize Sentry", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Connect to PostgreSQL
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(pool)
	sqlDB := database.SQLDB(pool)
	logger.Info("Connected to PostgreSQL database")

	if cfg.Database.Migrate {
		if err := database.Migrate(sqlDB); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	// Connect to Redis
	redisClient, err := redis.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis")

	codes, err := loyalty.NewCodeStore(cfg.Loyalty.CodeBackend,
		loyalty.NewPostgresCodeStore(pool, nil),
		loyalty.NewRedisCodeStore(redisClient, nil),
	)
	if err != nil {
		logger.Fatal("Failed to create promo code store", zap.Error(err))
	}

	repo := loyalty.NewRepository(pool)
	service := loyalty.NewService(repo, codes, loyalty.NewAccrualPolicy(cfg.Loyalty))
	service.SetOperationTimeout(cfg.Loyalty.OperationTimeout)
	handler := loyalty.NewHandler(service)

	checks := map[string]health.Checker{
		"database": health.DatabaseChecker(sqlDB),
		"redis":    health.RedisChecker(redisClient.Client),
	}

	if cfg.NATS.Enabled {
		bus, err := eventbus.New(eventbus.Config{
			URL:        cfg.NATS.URL,
			StreamName: cfg.NATS.Stream,
			ClientName: serviceName,
		})
		if err != nil {
			logger.Warn("Event bus unavailable, continuing without events", zap.Error(err))
		} else {
			defer bus.Close()
			breaker := resilience.NewCircuitBreaker(
				resilience.SettingsFor("loyalty-events", cfg.NATS.Breaker),
				resilience.WarnAndReject("nats"),
			)
			service.SetEventPublisher(loyalty.NewEventBusPublisher(bus, breaker, serviceName))
			if err := loyalty.NewEventHandler(service).RegisterSubscriptions(ctx, bus); err != nil {
				logger.Warn("Failed to subscribe to purchase events", zap.Error(err))
			}
			checks["nats"] = health.NATSChecker(bus.Conn())
			logger.Info("Connected to NATS event bus", zap.String("stream", cfg.NATS.Stream))
		}
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.CorrelationID())
	router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	router.Use(middleware.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Metrics(serviceName))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.Server.CORSOrigins, ",")
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", middleware.CorrelationIDHeader, loyalty.IdempotencyKeyHeader}
	router.Use(cors.New(corsConfig))

	// Health check and metrics (no auth required)
	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/health/ready", common.HealthCheckWithDeps(serviceName, version, health.Funcs(checks)))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1",
		timeout.New(
			timeout.WithTimeout(time.Duration(cfg.Server.RequestTimeout)*time.Second),
			timeout.WithResponse(func(c *gin.Context) {
				common.ErrorResponse(c, http.StatusGatewayTimeout, "request timed out")
			}),
		),
		middleware.MaxBodySize(1<<20),
		middleware.AuthMiddleware(cfg.JWT.Secret),
		ratelimit.Middleware(ratelimit.NewLimiter(redisClient.Client, cfg.RateLimit)),
	)
	handler.RegisterRoutes(api)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Loyalty service starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down loyalty service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
}
