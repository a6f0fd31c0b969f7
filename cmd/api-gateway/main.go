package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/EduOpsSolutions/EduOps-sub002/api/swagger"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/accounts"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/gateway"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/handler"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/middleware"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/models"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/repository"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/service"
	"github.com/EduOpsSolutions/EduOps-sub002/pkg/cache"
	"github.com/EduOpsSolutions/EduOps-sub002/pkg/config"
	"github.com/EduOpsSolutions/EduOps-sub002/pkg/database"
	"github.com/EduOpsSolutions/EduOps-sub002/pkg/export"
	"github.com/EduOpsSolutions/EduOps-sub002/pkg/jobs"
	"github.com/EduOpsSolutions/EduOps-sub002/pkg/logger"
	corsmiddleware "github.com/EduOpsSolutions/EduOps-sub002/pkg/middleware/cors"
	reqidmiddleware "github.com/EduOpsSolutions/EduOps-sub002/pkg/middleware/requestid"
	"github.com/EduOpsSolutions/EduOps-sub002/pkg/storage"
)

// @title EduOps Enrollment API
// @version 1.0.0
// @description Enrollment workflow and payment orchestration service
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		} else {
			defer redisClient.Close() //nolint:errcheck
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, true)
		}
	}

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	intentRepo := repository.NewPaymentIntentRepository(db)
	transitionRepo := repository.NewTransitionRepository(db)

	gatewayClient := gateway.NewClient(cfg.Gateway, logr)
	accountsClient := accounts.NewClient(cfg.Accounts, logr)

	proofStore, err := storage.NewLocalStorage(cfg.Proofs.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init proof storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Proofs.SignedURLSecret, cfg.Proofs.SignedURLTTL)

	var receiptSvc *service.ReceiptService
	if cfg.Receipts.Enabled {
		receiptStore, err := storage.NewLocalStorage(cfg.Receipts.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init receipt storage", "error", err)
		}
		receiptSvc = service.NewReceiptService(export.NewReceiptRenderer(), receiptStore, cfg.Receipts.SchoolName, logr)
	}

	authSvc := service.NewAuthService(cfg.JWT.Secret)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, intentRepo, transitionRepo, accountsClient, cacheSvc, metricsSvc, nil, logr)
	paymentSvc := service.NewPaymentService(gatewayClient, intentRepo, enrollmentRepo, enrollmentSvc, receiptSvc, metricsSvc, nil, logr, cfg.Gateway.ReturnURL)
	reconcileSvc := service.NewReconcileService(gatewayClient, intentRepo, enrollmentSvc, receiptSvc, metricsSvc, logr, cfg.Poller)
	proofSvc := service.NewProofService(enrollmentRepo, proofStore, signer, logr, cfg.Proofs.MaxFileSizeBytes)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reconcileQueue := jobs.NewQueue("reconcile", func(ctx context.Context, job jobs.Job) error {
		intentID, ok := job.Payload.(string)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", job.Payload)
		}
		_, err := reconcileSvc.Reconcile(ctx, intentID, "")
		return err
	}, jobs.QueueConfig{
		Workers:    cfg.Worker.Concurrency,
		MaxRetries: cfg.Worker.MaxRetries,
		RetryDelay: cfg.Worker.RetryDelay,
		Logger:     logr,
	})
	reconcileQueue.Start(ctx)
	defer reconcileQueue.Stop()

	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc, reconcileSvc, reconcileQueue)
	proofHandler := handler.NewProofHandler(proofSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar)

	api.POST("/enrollments", enrollmentHandler.Create)
	api.POST("/enrollments/:id/proof", proofHandler.Upload)
	api.GET("/proofs/download", proofHandler.Download)

	protected := api.Group("", middleware.JWT(authSvc))
	protected.GET("/enrollments", staff, enrollmentHandler.List)
	protected.GET("/enrollments/:id", staff, enrollmentHandler.Get)
	protected.GET("/enrollments/:id/history", staff, enrollmentHandler.History)
	protected.POST("/enrollments/:id/transition", staff, enrollmentHandler.Transition)
	protected.POST("/enrollments/:id/account", staff, enrollmentHandler.CreateAccount)
	protected.DELETE("/enrollments/:id", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Archive)
	protected.POST("/enrollments/:id/payments", paymentHandler.Start)
	protected.GET("/enrollments/:id/payments", staff, paymentHandler.ListIntents)
	protected.POST("/payments/:id/reconcile", staff, paymentHandler.Reconcile)
	protected.POST("/payments/:id/reconcile/async", staff, paymentHandler.ReconcileAsync)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		logr.Sugar().Infow("shutting down")
		_ = srv.Shutdown(context.Background())
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
