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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/lms-circulation-api/api/swagger"
	"github.com/noah-isme/lms-circulation-api/internal/handler"
	"github.com/noah-isme/lms-circulation-api/internal/middleware"
	"github.com/noah-isme/lms-circulation-api/internal/models"
	"github.com/noah-isme/lms-circulation-api/internal/repository"
	"github.com/noah-isme/lms-circulation-api/internal/service"
	"github.com/noah-isme/lms-circulation-api/pkg/cache"
	"github.com/noah-isme/lms-circulation-api/pkg/config"
	"github.com/noah-isme/lms-circulation-api/pkg/database"
	"github.com/noah-isme/lms-circulation-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lms-circulation-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lms-circulation-api/pkg/middleware/requestid"
)

// @title LMS Circulation API
// @version 0.1.0
// @description Circulation and penalty engine for the library platform
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
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	cacheRepo := repository.NewCacheRepository(nil, logr)
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		} else {
			cacheRepo = repository.NewCacheRepository(redisClient, logr)
		}
	}
	defer cacheRepo.Close() //nolint:errcheck

	validate := validator.New()

	borrowRepo := repository.NewBorrowRecordRepository(db)
	bookRepo := repository.NewBookRepository(db)
	memberRepo := repository.NewMemberRepository(db)
	requestRepo := repository.NewIssueRequestRepository(db)
	acquisitionRepo := repository.NewAcquisitionRequestRepository(db)
	waitlistRepo := repository.NewWaitlistRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(cfg.JWT, logr)
	policy := service.NewPenaltyPolicy(cfg.Penalty)

	notifications := service.NewNotificationService(service.NewLogSender(logr), cfg.Notifications, logr)

	waitlistSvc := service.NewWaitlistService(
		waitlistRepo, bookRepo, memberRepo, cfg.Waitlist,
		cacheRepo, cfg.Cache.TTL, metricsSvc, logr)
	circulationSvc := service.NewCirculationService(
		db, borrowRepo, bookRepo, memberRepo, waitlistSvc, policy,
		cfg.Circulation.DefaultLoanDays, cacheRepo, notifications, metricsSvc, validate, logr)
	penaltySvc := service.NewPenaltyService(
		borrowRepo, bookRepo, policy, cfg.Penalty.AllowPartialPayment,
		cfg.Reconciliation.MaxRetries, notifications, metricsSvc, validate, logr)
	requestSvc := service.NewRequestService(
		db, requestRepo, circulationSvc, notifications, metricsSvc, validate, logr)
	acquisitionSvc := service.NewAcquisitionService(acquisitionRepo, notifications, validate, logr)
	reportSvc := service.NewReportService(borrowRepo, bookRepo, memberRepo, nil, nil, logr)

	scheduler := service.NewReconciliationScheduler(penaltySvc, cfg.Reconciliation, logr)

	circulationHandler := handler.NewCirculationHandler(circulationSvc)
	penaltyHandler := handler.NewPenaltyHandler(penaltySvc)
	requestHandler := handler.NewRequestHandler(requestSvc)
	acquisitionHandler := handler.NewAcquisitionHandler(acquisitionSvc)
	waitlistHandler := handler.NewWaitlistHandler(waitlistSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleLibrarian)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.Metrics(metricsSvc))
	api.Use(middleware.JWT(authSvc))

	api.GET("/metrics/summary", staff, metricsHandler.Snapshot)

	records := api.Group("/borrow-records")
	{
		records.GET("", circulationHandler.List)
		records.GET("/:id", circulationHandler.Get)
		records.POST("", staff,
			middleware.Audit(auditRepo, models.AuditActionIssue, "borrow_record"), circulationHandler.Issue)
		records.POST("/:id/return", staff,
			middleware.Audit(auditRepo, models.AuditActionReturn, "borrow_record"), circulationHandler.Return)

		records.GET("/:id/fine-preview", penaltyHandler.Preview)
		records.GET("/:id/statement.pdf", reportHandler.PenaltyStatementPDF)
		records.POST("/:id/penalty/pay", staff,
			middleware.Audit(auditRepo, models.AuditActionPenaltyPay, "borrow_record"), penaltyHandler.Pay)
		records.POST("/:id/penalty/waive", staff,
			middleware.Audit(auditRepo, models.AuditActionPenaltyWaive, "borrow_record"), penaltyHandler.Waive)
		records.POST("/:id/penalty/mark-paid", staff,
			middleware.Audit(auditRepo, models.AuditActionPenaltyMark, "borrow_record"), penaltyHandler.MarkPaid)
		records.POST("/:id/penalty/recompute", staff, penaltyHandler.Recompute)
	}

	api.POST("/penalties/reconcile", staff,
		middleware.Audit(auditRepo, models.AuditActionReconcile, "penalty"), penaltyHandler.Reconcile)

	requests := api.Group("/issue-requests")
	{
		requests.GET("", requestHandler.List)
		requests.GET("/:id", requestHandler.Get)
		requests.POST("", requestHandler.Create)
		requests.POST("/:id/approve", staff,
			middleware.Audit(auditRepo, models.AuditActionRequestApprove, "issue_request"), requestHandler.Approve)
		requests.POST("/:id/reject", staff,
			middleware.Audit(auditRepo, models.AuditActionRequestReject, "issue_request"), requestHandler.Reject)
		requests.POST("/bulk-approve", staff,
			middleware.Audit(auditRepo, models.AuditActionBulkApprove, "issue_request"), requestHandler.BulkApprove)
	}

	acquisitions := api.Group("/acquisition-requests")
	{
		acquisitions.GET("", acquisitionHandler.List)
		acquisitions.POST("", acquisitionHandler.Create)
		acquisitions.POST("/:id/review", staff,
			middleware.Audit(auditRepo, models.AuditActionAcquisitionReview, "acquisition_request"), acquisitionHandler.Review)
	}

	waitlists := api.Group("/books/:id/waitlist")
	{
		waitlists.GET("", waitlistHandler.Queue)
		waitlists.POST("", waitlistHandler.Join)
		waitlists.DELETE("", waitlistHandler.Leave)
	}

	reports := api.Group("/reports", staff)
	{
		reports.GET("/overdue.csv", reportHandler.OverdueCSV)
		reports.GET("/pending-penalties.csv", reportHandler.PendingPenaltiesCSV)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifications.Start(ctx)
	scheduler.Start(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
	scheduler.Stop()
	notifications.Stop()
	logr.Sugar().Infow("server stopped")
}
