package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/random"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "memberbilling/docs"
	"memberbilling/internal/caching"
	"memberbilling/internal/common"
	"memberbilling/internal/config"
	"memberbilling/internal/handlers"
	"memberbilling/internal/jobs"
	"memberbilling/internal/metrics"
	"memberbilling/internal/middleware"
	"memberbilling/internal/repositories"
	"memberbilling/internal/services"
	"memberbilling/pkg/database"
	"memberbilling/pkg/logger"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "text").WithError(err).Fatal("Failed to load configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := database.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer pool.Close()

	if cfg.DBAutoMigrate {
		if err := database.Migrate(ctx, pool, log); err != nil {
			log.WithError(err).Fatal("Failed to run migrations")
		}
	}

	// Redis
	redisClient, err := caching.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()
	cacheSvc := caching.NewRedisCacheService(redisClient, cfg.Redis.AccessCacheTTL)

	// Report archive is optional
	var archive jobs.ReportArchiver
	if cfg.MinioEnabled() {
		minioArchive, err := services.NewMinioReportArchive(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.UseSSL, cfg.Minio.ReportBucket)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize report archive")
		}
		if err := minioArchive.EnsureBucketExists(ctx); err != nil {
			log.WithError(err).Warn("Report bucket unavailable")
		}
		archive = minioArchive
	}

	// Processor is optional; without it every plan is billed locally
	var processor services.PaymentProcessor
	var webhookParser services.WebhookParser
	if cfg.StripeEnabled() {
		stripeSvc := services.NewStripeService(cfg.Stripe.APIKey, cfg.Stripe.WebhookSecret)
		processor = stripeSvc
		webhookParser = stripeSvc
	} else {
		log.Warn("STRIPE_API_KEY not set, processor features disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Repositories
	planRepo := repositories.NewPlanRepo(pool)
	subscriptionRepo := repositories.NewSubscriptionRepo(pool)
	paymentRepo := repositories.NewPaymentRepo(pool)
	couponRepo := repositories.NewCouponRepo(pool)
	jobReportRepo := repositories.NewJobReportRepo(pool)

	// Services
	planSvc := services.NewPlanService(planRepo, processor, cfg.DefaultCurrency, log)
	couponSvc := services.NewCouponService(couponRepo, processor, services.DefaultLocalCoupons(), log)
	paymentSvc := services.NewPaymentService(paymentRepo, log)
	subscriptionSvc := services.NewSubscriptionService(subscriptionRepo, planSvc, couponSvc, paymentSvc, processor, cacheSvc, log)

	// Background jobs
	sweeper := jobs.NewExpirationSweeper(subscriptionSvc, cfg.Renewal.GraceWindow, m, log)
	scheduler, err := jobs.NewRenewalScheduler(jobs.SchedulerConfig{
		Interval:      cfg.Renewal.Interval,
		InitialDelay:  cfg.Renewal.InitialDelay,
		SweepInterval: cfg.Renewal.SweepInterval,
		Concurrency:   cfg.Renewal.Concurrency,
		Timeout:       cfg.Renewal.Timeout,
		BatchSize:     cfg.Renewal.BatchSize,
	}, subscriptionSvc, jobReportRepo, archive, cacheSvc, sweeper, m, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create renewal scheduler")
	}
	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start renewal scheduler")
	}

	// Authentication
	var jwks *keyfunc.JWKS
	jwtSecret := cfg.JWTSecret
	if cfg.JWKSURL != "" {
		jwks, err = middleware.LoadJWKS(cfg.JWKSURL, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to load JWKS")
		}
		defer jwks.EndBackground()
	} else if jwtSecret == "" {
		jwtSecret = random.String(32)
		log.Warn("JWT_SECRET not set, using a generated development secret")
	}
	authMiddleware := middleware.JWTMiddleware(jwtSecret, jwks)
	managers := middleware.RequireRole(common.RoleCreator, common.RoleAdmin)
	admins := middleware.RequireRole(common.RoleAdmin)

	// Handlers
	planHandlers := handlers.NewPlanHandlers(planSvc)
	subscriptionHandlers := handlers.NewSubscriptionHandlers(subscriptionSvc, paymentSvc, m, log)
	jobHandlers := handlers.NewJobHandlers(scheduler, sweeper, log)
	webhookHandlers := handlers.NewWebhookHandlers(subscriptionSvc, webhookParser, m, log)
	healthHandlers := handlers.NewHealthHandlers(pool, cacheSvc, version)

	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.RequestLogger(log))
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORS())
	e.Use(echoMiddleware.RemoveTrailingSlash())

	// Unauthenticated endpoints
	e.GET("/health", healthHandlers.HealthCheck)
	e.GET("/health/ready", healthHandlers.ReadinessCheck)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	e.GET("/swagger/*", echoSwagger.WrapHandler)
	e.POST("/webhooks/stripe", webhookHandlers.StripeWebhook)

	v1 := e.Group("/v1", authMiddleware)

	v1.GET("/communities/:communityID/plans", planHandlers.ListPlans)
	v1.POST("/communities/:communityID/plans", planHandlers.CreatePlan, managers)
	v1.GET("/plans/:id", planHandlers.GetPlan)
	v1.PATCH("/plans/:id", planHandlers.UpdatePlan, managers)

	v1.POST("/communities/:communityID/subscriptions", subscriptionHandlers.CreateSubscription)
	v1.GET("/communities/:communityID/subscription", subscriptionHandlers.GetStatus)
	v1.GET("/communities/:communityID/access", subscriptionHandlers.HasActiveAccess)
	v1.POST("/subscriptions/:id/cancel", subscriptionHandlers.CancelSubscription)
	v1.GET("/subscriptions/:id/payments", subscriptionHandlers.PaymentHistory)

	admin := v1.Group("/admin", admins)
	admin.POST("/renewals/run", jobHandlers.RunRenewals)
	admin.GET("/renewals/jobs", jobHandlers.GetJobStats)
	admin.POST("/scheduler/start", jobHandlers.StartScheduler)
	admin.POST("/scheduler/stop", jobHandlers.StopScheduler)
	admin.POST("/sweeps/run", jobHandlers.RunSweep)

	go func() {
		log.WithField("port", cfg.Port).Info("Starting server")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}
	if err := scheduler.Shutdown(); err != nil {
		log.WithError(err).Error("Scheduler shutdown failed")
	}
}
