package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	_ "github.com/noah-isme/course-admission-api/api/swagger"
	"github.com/noah-isme/course-admission-api/internal/handler"
	"github.com/noah-isme/course-admission-api/internal/repository"
	"github.com/noah-isme/course-admission-api/internal/router"
	"github.com/noah-isme/course-admission-api/internal/service"
	"github.com/noah-isme/course-admission-api/pkg/broker"
	"github.com/noah-isme/course-admission-api/pkg/cache"
	"github.com/noah-isme/course-admission-api/pkg/config"
	"github.com/noah-isme/course-admission-api/pkg/database"
	"github.com/noah-isme/course-admission-api/pkg/logger"
)

// @title Course Admission API
// @version 1.0.0
// @description Course capacity, waitlist and enrollment lifecycle service
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := service.NewMetricsService()

	store, db, err := openStore(cfg, metrics, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to open store", "driver", cfg.Database.Driver, "error", err)
	}
	if db != nil {
		defer db.Close() //nolint:errcheck
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Admission.StatsCacheTTL, logr, cacheRepo.Enabled())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var notifier service.Notifier
	if cfg.Broker.Enabled {
		publisher := broker.NewPublisher(cfg.Broker.URL, logr)
		defer publisher.Close() //nolint:errcheck
		notifications := service.NewNotificationService(publisher, service.NotificationConfig{
			Queue:      cfg.Broker.NotifyQueue,
			Workers:    cfg.Broker.Workers,
			Retries:    cfg.Broker.Retries,
			RetryDelay: cfg.Broker.RetryDelay,
		}, metrics, logr)
		notifications.Start(ctx)
		defer notifications.Stop()
		notifier = notifications
	}

	validate := validator.New()
	admission := service.NewAdmissionService(store, cacheSvc, notifier, metrics, validate, logr)
	enrollments := service.NewEnrollmentService(store, cacheSvc, cfg.Admission.StatsCacheTTL, validate, logr)
	waitlist := service.NewWaitlistService(store, cacheSvc, notifier, metrics, validate, logr)
	capacity := service.NewCapacityService(store, cacheSvc, notifier, metrics, service.CapacityConfig{
		DefaultNearFullPercent: cfg.Admission.DefaultNearFullPercent,
		CacheTTL:               cfg.Admission.StatsCacheTTL,
	}, validate, logr)
	auth := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
	})

	engine := router.New(router.Options{
		Env:            cfg.Env,
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Tokens:         auth,
		Observer:       metrics,
		Logger:         logr,
	}, router.Handlers{
		Enrollments: handler.NewEnrollmentHandler(admission, enrollments),
		Waitlist:    handler.NewWaitlistHandler(waitlist),
		Capacity:    handler.NewCapacityHandler(capacity),
		Metrics: handler.NewMetricsHandler(metrics, map[string]handler.Pinger{
			"store": store,
			"cache": cacheRepo,
		}),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openStore(cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger) (repository.Store, *sqlx.DB, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logr.Warn("using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), nil, nil
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	store := repository.NewSQLStore(db,
		repository.WithRetries(cfg.Admission.TxMaxRetries, cfg.Admission.TxRetryBackoff),
		repository.WithRetryHook(func(courseID string, attempt int, err error) {
			metrics.RecordTxRetry()
			logr.Debug("course transaction retry",
				zap.String("course_id", courseID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}),
	)
	return store, db, nil
}
