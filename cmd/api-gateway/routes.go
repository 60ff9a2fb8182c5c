package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/filevault-api/internal/handler"
	"github.com/noah-isme/filevault-api/internal/middleware"
	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/pkg/config"
	"github.com/noah-isme/filevault-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/filevault-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/filevault-api/pkg/middleware/requestid"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

func newRouter(cfg *config.Config, logr *zap.Logger, a *app) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(a.metrics, a.readinessChecks())
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	if local, ok := a.store.(*storage.LocalStore); ok {
		objects := handler.NewObjectHandler(local, cfg.Plans.Pro.MaxFileSize, logr)
		r.PUT("/storage/objects", objects.Put)
		r.GET("/storage/objects", objects.Get)
	}

	authHandler := handler.NewAuthHandler(a.auth)
	uploadHandler := handler.NewUploadHandler(a.uploads)
	fileHandler := handler.NewFileHandler(a.uploads)
	quotaHandler := handler.NewQuotaHandler(a.ledger)
	companyHandler := handler.NewCompanyHandler(a.ledger, a.reports)
	sweeperHandler := handler.NewSweeperHandler(a.sweeper)
	directoryHandler := handler.NewDirectoryHandler(a.directory)

	api := r.Group(cfg.APIPrefix)
	if cfg.Env != config.EnvProduction {
		api.POST("/auth/dev-token", authHandler.DevToken)
	}

	secured := api.Group("")
	secured.Use(middleware.JWT(a.auth))
	secured.GET("/auth/me", authHandler.Me)

	secured.POST("/uploads", uploadHandler.Init)
	secured.POST("/uploads/:id/finalize", uploadHandler.Finalize)
	secured.POST("/uploads/:id/abort", uploadHandler.Abort)

	secured.GET("/files", fileHandler.List)
	secured.GET("/files/:id/download", fileHandler.Download)
	secured.DELETE("/files/:id", fileHandler.Delete)

	secured.GET("/quota", quotaHandler.Snapshot)
	secured.GET("/quota/history", quotaHandler.History)

	admins := secured.Group("")
	admins.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	admins.PUT("/users/:id/allocation", companyHandler.SetAllocation)

	companies := admins.Group("/companies/:id")
	companies.Use(middleware.RequireCompanyScope())
	companies.GET("", companyHandler.Overview)
	companies.PUT("/storage", companyHandler.SetStorage)
	companies.POST("/fix-allocations", companyHandler.FixAllocations)
	companies.GET("/members", directoryHandler.Members)
	companies.POST("/members", directoryHandler.AddMember)
	if cfg.Reports.Enabled {
		companies.GET("/usage-report", companyHandler.UsageReport)
	}

	root := secured.Group("")
	root.Use(middleware.RequireRoles(models.RoleSuperAdmin))
	root.POST("/admin/companies", directoryHandler.Provision)
	root.DELETE("/companies/:id", companyHandler.Delete)
	root.POST("/admin/sweeper/run", sweeperHandler.Run)
	root.GET("/admin/sweeper/last", sweeperHandler.Last)

	return r
}
