package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/physioconnect/physioconnect-api/api/swagger"
	"github.com/physioconnect/physioconnect-api/internal/handler"
	"github.com/physioconnect/physioconnect-api/internal/middleware"
	"github.com/physioconnect/physioconnect-api/internal/models"
	"github.com/physioconnect/physioconnect-api/internal/repository"
	"github.com/physioconnect/physioconnect-api/internal/service"
	"github.com/physioconnect/physioconnect-api/pkg/cache"
	"github.com/physioconnect/physioconnect-api/pkg/config"
	"github.com/physioconnect/physioconnect-api/pkg/database"
	"github.com/physioconnect/physioconnect-api/pkg/logger"
	corsmiddleware "github.com/physioconnect/physioconnect-api/pkg/middleware/cors"
	reqidmiddleware "github.com/physioconnect/physioconnect-api/pkg/middleware/requestid"
)

// @title PhysioConnect API
// @version 1.0.0
// @description Physiotherapy case management and assignment service
// @BasePath /
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
		// Caching is an optimisation; the API stays up without it.
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	userRepo := repository.NewUserRepository(db)
	caseRepo := repository.NewCaseRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close()

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, 0, logr, redisClient != nil)

	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "physioconnect-api",
		AdminSignupCode:    cfg.Signup.AdminCode,
		ServiceableCities:  cfg.Cities.Serviceable,
	})
	userSvc := service.NewUserService(userRepo, cacheSvc, nil, logr)
	engine := service.NewAssignmentEngine(userRepo, caseRepo, logr)
	caseSvc := service.NewCaseService(caseRepo, engine, userRepo, cacheRepo, nil, logr, cfg.Cases.AutoAssign)
	statsSvc := service.NewStatsService(userRepo, caseRepo, cacheSvc, cfg.Stats.CacheTTL, logr)
	exportSvc := service.NewExportService(caseRepo, nil, nil, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	caseHandler := handler.NewCaseHandler(caseSvc, metricsSvc)
	adminHandler := handler.NewAdminHandler(statsSvc, exportSvc, metricsSvc)
	cityHandler := handler.NewCityHandler(cfg.Cities.Serviceable)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
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

	auth := api.Group("/auth")
	{
		auth.POST("/signup", authHandler.Signup)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		authed := auth.Group("", middleware.JWT(authSvc))
		authed.POST("/logout", authHandler.Logout)
		authed.POST("/change-password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	api.GET("/cities", cityHandler.List)

	users := api.Group("", middleware.JWT(authSvc))
	{
		users.GET("/users/:id", userHandler.Get)
		users.PUT("/users/me", userHandler.UpdateMe)
		users.GET("/physiotherapists", userHandler.Physiotherapists)
		users.GET("/patients", middleware.RequireRoles(models.RoleAdmin), userHandler.Patients)
	}

	cases := api.Group("/cases", middleware.JWT(authSvc))
	{
		cases.POST("", middleware.RequireRoles(models.RolePatient), caseHandler.Create)
		cases.GET("", caseHandler.List)
		cases.GET("/mine", middleware.RequireRoles(models.RolePatient, models.RolePhysiotherapist), caseHandler.List)
		cases.GET("/unmapped", middleware.RequireRoles(models.RolePhysiotherapist, models.RoleAdmin), caseHandler.Unmapped)
		cases.GET("/:id", caseHandler.Get)
		cases.POST("/:id/assign", middleware.RequireRoles(models.RolePhysiotherapist, models.RoleAdmin), caseHandler.Assign)
		cases.POST("/:id/claim", middleware.RequireRoles(models.RolePhysiotherapist), caseHandler.Claim)
		cases.POST("/:id/request-closure", caseHandler.RequestClosure)
		cases.POST("/:id/close", caseHandler.Close)
		cases.POST("/:id/comments", caseHandler.AddComment)
	}

	admin := api.Group("/admin", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		if cfg.Stats.Enabled {
			admin.GET("/stats", adminHandler.Stats)
		}
		if cfg.Exports.Enabled {
			admin.GET("/cases/export", adminHandler.ExportCases)
		}
		admin.GET("/metrics", adminHandler.SystemMetrics)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Info("server starting",
		zap.String("addr", addr),
		zap.String("env", cfg.Env),
		zap.Bool("auto_assign", cfg.Cases.AutoAssign),
		zap.Bool("cache", redisClient != nil))
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
