package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/vantage-crm/vantage-api/internal/handler"
	"github.com/vantage-crm/vantage-api/internal/middleware"
	"github.com/vantage-crm/vantage-api/internal/models"
	"github.com/vantage-crm/vantage-api/internal/repository"
	"github.com/vantage-crm/vantage-api/internal/service"
	"github.com/vantage-crm/vantage-api/pkg/cache"
	"github.com/vantage-crm/vantage-api/pkg/config"
	"github.com/vantage-crm/vantage-api/pkg/database"
	"github.com/vantage-crm/vantage-api/pkg/jobs"
	"github.com/vantage-crm/vantage-api/pkg/logger"
	corsmiddleware "github.com/vantage-crm/vantage-api/pkg/middleware/cors"
	reqidmiddleware "github.com/vantage-crm/vantage-api/pkg/middleware/requestid"
	"github.com/vantage-crm/vantage-api/pkg/storage"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, compliance status caching disabled", "error", err)
		redisClient = nil
	}

	exportStorage, err := storage.NewLocalStorage(cfg.Privacy.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare export storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Privacy.SignedURLSecret, cfg.Privacy.ExportValidity)

	// Repositories.
	policyRepo := repository.NewRetentionPolicyRepository(db)
	cleanupRepo := repository.NewCleanupRepository(db)
	exportRepo := repository.NewExportRequestRepository(db)
	deletionRepo := repository.NewDeletionRequestRepository(db)
	subjectRepo := repository.NewSubjectDataRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret})
	policySvc := service.NewRetentionPolicyService(policyRepo, auditRepo, logr)
	cleanupSvc := service.NewCleanupService(cleanupRepo, policySvc, policyRepo, exportStorage, auditRepo, metricsSvc, logr)
	collectorSvc := service.NewCollectorService(userRepo, subjectRepo, logr)
	complianceSvc := service.NewComplianceService(userRepo, exportRepo, deletionRepo, cacheRepo, cfg.Privacy.StatusCacheTTL, logr)

	exportSvc := service.NewExportService(exportRepo, userRepo, collectorSvc, exportStorage, signer, nil, auditRepo, metricsSvc, logr, service.ExportServiceConfig{
		Validity: cfg.Privacy.ExportValidity,
		BaseURL:  cfg.Privacy.BaseURL,
	})
	exportQueue := jobs.NewQueue("privacy-export", exportSvc.Handle, jobs.QueueConfig{
		Workers:    cfg.Privacy.WorkerConcurrency,
		MaxRetries: cfg.Privacy.WorkerRetries,
		Logger:     logr,
	})
	exportSvc.SetQueue(exportQueue)
	exportQueue.Start(ctx)
	defer exportQueue.Stop()
	exportSvc.RecoverPending(ctx)

	deletionSvc := service.NewDeletionService(deletionRepo, userRepo, subjectRepo, complianceSvc, auditRepo, metricsSvc, logr, service.DeletionServiceConfig{
		BaseURL: cfg.Privacy.BaseURL,
	})

	if err := policySvc.Reload(ctx); err != nil {
		logr.Sugar().Warnw("initial policy load failed", "error", err)
	}

	scheduler := service.NewRetentionScheduler(cleanupSvc, exportStorage, service.SchedulerConfig{
		DailySchedule:  cfg.Retention.DailySchedule,
		WeeklySchedule: cfg.Retention.WeeklySchedule,
		ArtifactTTL:    cfg.Privacy.ExportValidity,
	}, logr)
	if cfg.Retention.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			logr.Sugar().Fatalw("failed to start retention scheduler", "error", err)
		}
		defer scheduler.Stop()
	}

	// Handlers.
	retentionHandler := handler.NewRetentionHandler(policySvc, cleanupSvc)
	privacyHandler := handler.NewPrivacyHandler(exportSvc, deletionSvc, complianceSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	privacy := r.Group(cfg.APIPrefix).Group("/privacy")

	// Token-authorized endpoints: the signed download token and the emailed
	// verification token stand in for a session.
	privacy.GET("/exports/download/:token", privacyHandler.DownloadExport)
	privacy.POST("/deletions/:id/verify", privacyHandler.VerifyDeletion)

	admin := privacy.Group("", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	admin.GET("/policies", retentionHandler.List)
	admin.POST("/policies", retentionHandler.Create)
	admin.GET("/policies/:table", retentionHandler.Get)
	admin.PATCH("/policies/:table", retentionHandler.Update)
	admin.POST("/policies/:table/cleanup", retentionHandler.CleanupTable)
	admin.POST("/cleanup", retentionHandler.TriggerCleanup)

	authed := privacy.Group("", middleware.JWT(authSvc))
	authed.POST("/exports", privacyHandler.CreateExport)
	authed.GET("/exports/:id", privacyHandler.ExportStatus)
	authed.POST("/deletions", privacyHandler.CreateDeletion)
	authed.GET("/deletions/:id", privacyHandler.DeletionStatus)
	authed.GET("/status/:id",
		middleware.RBAC(string(models.RoleAdmin), string(models.RoleManager), "SELF"),
		middleware.Audit(auditRepo, models.AuditActionComplianceView, "compliance_status"),
		privacyHandler.ComplianceStatus)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logr.Sugar().Warnw("server shutdown failed", "error", err)
	}
}
