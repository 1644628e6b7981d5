package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sma-ppdb-api/api/swagger"
	"github.com/noah-isme/sma-ppdb-api/internal/handler"
	"github.com/noah-isme/sma-ppdb-api/internal/middleware"
	"github.com/noah-isme/sma-ppdb-api/internal/models"
	"github.com/noah-isme/sma-ppdb-api/internal/repository"
	"github.com/noah-isme/sma-ppdb-api/internal/service"
	"github.com/noah-isme/sma-ppdb-api/pkg/cache"
	"github.com/noah-isme/sma-ppdb-api/pkg/config"
	"github.com/noah-isme/sma-ppdb-api/pkg/database"
	"github.com/noah-isme/sma-ppdb-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-ppdb-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-ppdb-api/pkg/middleware/requestid"
)

// @title SMA PPDB API
// @version 0.1.0
// @description Student admission registration and selection service
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
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	// Repositories.
	appRepo := repository.NewApplicationRepository(db)
	seqRepo := repository.NewSequenceRepository(db, cfg.Sequence.MaxRetries, cfg.Sequence.RetryDelay)
	seqRepo.SetRetryObserver(metrics.RecordSequenceRetry)
	configRepo := repository.NewAdmissionConfigRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	authSvc := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.RefreshExpiration, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(studentRepo, userRepo, metrics, logr)
	registrationSvc := service.NewRegistrationService(db, appRepo, seqRepo, enrollmentSvc, metrics, validate, logr)
	configSvc := service.NewAdmissionConfigService(configRepo, cacheRepo, validate, logr)
	selectionSvc := service.NewSelectionService(db, configRepo, appRepo, enrollmentSvc, cacheRepo, metrics, logr, cfg.Selection.StatsCacheTTL)

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		exportSvc = service.NewExportService(appRepo, configRepo, cfg.Exports.WorkerConcurrency, cfg.Exports.WorkerRetries, cfg.Exports.ResultTTL, logr)
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	appHandler := handler.NewApplicationHandler(registrationSvc)
	configHandler := handler.NewAdmissionConfigHandler(configSvc)
	selectionHandler := handler.NewSelectionHandler(selectionSvc)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

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

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	staffOnly := []gin.HandlerFunc{middleware.JWT(authSvc), middleware.RBAC(models.RoleSuperAdmin, models.RoleAdmin)}

	apps := api.Group("/applications")
	{
		// Public intake and status lookup for applicants.
		apps.POST("", appHandler.Register)
		apps.GET("/number/:number", appHandler.GetByNumber)

		apps.GET("", append(staffOnly, appHandler.List)...)
		apps.GET("/:id", append(staffOnly, appHandler.Get)...)
		apps.PUT("/:id/scores", append(staffOnly, appHandler.UpdateScores)...)
		apps.PUT("/:id/status", append(staffOnly, appHandler.Transition)...)
		apps.POST("/:id/cancel", append(staffOnly, appHandler.Cancel)...)
		apps.POST("/open-selection", append(staffOnly, appHandler.OpenSelection)...)
	}

	configs := api.Group("/admission-configs")
	{
		configs.GET("/active", configHandler.GetActive)

		configs.POST("", append(staffOnly, configHandler.Create)...)
		configs.GET("", append(staffOnly, configHandler.List)...)
		configs.GET("/:id", append(staffOnly, configHandler.Get)...)
		configs.PUT("/:id", append(staffOnly, configHandler.Update)...)
		configs.GET("/:id/validate", append(staffOnly, configHandler.Validate)...)
		configs.POST("/:id/activate", append(staffOnly, configHandler.Activate)...)

		if cfg.Selection.Enabled {
			configs.POST("/:id/selection/run", append(staffOnly, selectionHandler.Run)...)
		}
		configs.GET("/:id/selection/statistics", selectionHandler.Statistics)
	}

	if exportSvc != nil {
		exportHandler := handler.NewExportHandler(exportSvc)
		configs.POST("/:id/exports", append(staffOnly, exportHandler.Enqueue)...)
		api.GET("/exports/:jobID", append(staffOnly, exportHandler.Get)...)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if exportSvc != nil {
		exportSvc.Start(ctx)
		defer exportSvc.Stop()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
