package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/tutor-billing-api/api/swagger"
	internalmiddleware "github.com/noah-isme/tutor-billing-api/internal/middleware"
	"github.com/noah-isme/tutor-billing-api/internal/repository"
	"github.com/noah-isme/tutor-billing-api/internal/service"
	"github.com/noah-isme/tutor-billing-api/pkg/cache"
	"github.com/noah-isme/tutor-billing-api/pkg/config"
	"github.com/noah-isme/tutor-billing-api/pkg/database"
	"github.com/noah-isme/tutor-billing-api/pkg/jobs"
	"github.com/noah-isme/tutor-billing-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/tutor-billing-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tutor-billing-api/pkg/middleware/requestid"
)

// @title Tutor Billing API
// @version 1.0.0
// @description Enrollment requests, capacity, invoicing, installments and payments for the tutoring marketplace
// @BasePath /api/v1
// @schemes http https
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db.DB); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if version, err := database.MigrationVersion(ctx, db.DB); err != nil {
		logr.Warn("schema version unknown", zap.Error(err))
	} else {
		logr.Info("database schema ready", zap.Int64("version", version))
	}

	metricsSvc := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		} else {
			defer client.Close()
			cacheRepo = repository.NewCacheRepository(client, "tutor-billing", logr)
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	courseRepo := repository.NewCourseRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	requestRepo := repository.NewEnrollmentRequestRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	installmentRepo := repository.NewInstallmentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	tx := database.NewTransactor(db)
	validate := validator.New()

	policy := service.BillingPolicy{
		RequestTTL:           cfg.Billing.RequestTTL,
		ReservationDueDays:   cfg.Billing.ReservationDueDays,
		CourseInvoiceDueDays: cfg.Billing.CourseInvoiceDueDays,
		BulkInvoiceMaxBatch:  cfg.Billing.BulkInvoiceMaxBatch,
	}

	notifications := service.NewNotificationService(notificationRepo, metricsSvc, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.Retries,
		Logger:     logr,
	}, logr)
	notifications.Start(context.Background())
	defer notifications.Stop()

	catalog := service.NewCatalogService(courseRepo, cacheSvc, logr)
	capacity := service.NewCapacityService(subscriptionRepo, cacheSvc, metricsSvc, logr)
	invoices := service.NewInvoiceService(invoiceRepo, enrollmentRepo, installmentRepo, paymentRepo, tx, notifications, metricsSvc, policy, validate, logr)
	requests := service.NewEnrollmentRequestService(service.EnrollmentRequestDeps{
		Requests:    requestRepo,
		Enrollments: enrollmentRepo,
		Catalog:     catalog,
		Capacity:    capacity,
		Invoices:    invoices,
		Tx:          tx,
		Notifier:    notifications,
		Metrics:     metricsSvc,
	}, policy, validate, logr)
	enrollments := service.NewEnrollmentService(enrollmentRepo, capacity, tx, metricsSvc, validate, logr)
	installments := service.NewInstallmentService(installmentRepo, invoiceRepo, tx, validate, logr)
	payments := service.NewPaymentService(invoiceRepo, installmentRepo, paymentRepo, tx, notifications, metricsSvc, validate, logr)
	overdue := service.NewOverdueService(invoiceRepo, installmentRepo, tx, metricsSvc, logr)

	if cfg.Sweeps.Enabled {
		scheduler := service.NewSweepScheduler(requests, enrollments, overdue, cfg.Sweeps.Interval, logr)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	auth := service.NewAuthService(service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            "tutor-billing-api",
	})

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	registerRoutes(r, cfg, routeDeps{
		auth:         auth,
		db:           db,
		metrics:      metricsSvc,
		capacity:     capacity,
		requests:     requests,
		enrollments:  enrollments,
		invoices:     invoices,
		installments: installments,
		payments:     payments,
		overdue:      overdue,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
		return srv.Close()
	}
	return nil
}
