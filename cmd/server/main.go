package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/yarntrack/yarn-track-api/api/swagger"
	"github.com/yarntrack/yarn-track-api/internal/handler"
	"github.com/yarntrack/yarn-track-api/internal/middleware"
	"github.com/yarntrack/yarn-track-api/internal/models"
	"github.com/yarntrack/yarn-track-api/internal/repository"
	"github.com/yarntrack/yarn-track-api/internal/service"
	"github.com/yarntrack/yarn-track-api/pkg/cache"
	"github.com/yarntrack/yarn-track-api/pkg/config"
	"github.com/yarntrack/yarn-track-api/pkg/database"
	"github.com/yarntrack/yarn-track-api/pkg/logger"
	corsmiddleware "github.com/yarntrack/yarn-track-api/pkg/middleware/cors"
	reqidmiddleware "github.com/yarntrack/yarn-track-api/pkg/middleware/requestid"
)

// @title Yarn Track API
// @version 1.0.0
// @description Order tracking for textile yarn production
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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
		logr.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	validate := validator.New()
	metricsService := service.NewMetricsService()

	var cacheService *service.CacheService
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheService = service.NewCacheService(cacheRepo, metricsService, cfg.Orders.CacheTTL, logr, cfg.Orders.CacheEnabled)
	}

	userRepo := repository.NewUserRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	changeRequestRepo := repository.NewChangeRequestRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	authService := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	orderService := service.NewOrderService(orderRepo, auditRepo, cacheService, metricsService, validate, logr, service.OrderServiceOptions{
		EnforceProgression: cfg.Orders.EnforceProgression,
	})
	changeRequestService := service.NewChangeRequestService(changeRequestRepo, orderRepo, auditRepo, metricsService, validate, logr)
	userService := service.NewUserService(userRepo, auditRepo, validate, logr)
	exportService := service.NewExportService(orderRepo, logr, cfg.Export.MaxRows)

	authHandler := handler.NewAuthHandler(authService)
	orderHandler := handler.NewOrderHandler(orderService, changeRequestService, exportService)
	orderItemHandler := handler.NewOrderItemHandler(orderService)
	changeRequestHandler := handler.NewChangeRequestHandler(changeRequestService)
	userHandler := handler.NewUserHandler(userService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsService.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.GET("/me", middleware.JWT(authService), authHandler.Me)

	protected := api.Group("")
	protected.Use(middleware.JWT(authService))

	orders := protected.Group("/orders")
	orders.GET("", orderHandler.List)
	orders.GET("/export", orderHandler.Export)
	orders.POST("", middleware.RequireRoles(models.RoleOperator), orderHandler.Create)
	orders.GET("/:id", orderHandler.Get)
	orders.PATCH("/:id", orderHandler.Update)
	orders.POST("/:id/request-change", middleware.RequireRoles(models.RoleOperator, models.RoleFactory), orderHandler.RequestChange)

	items := protected.Group("/order-items")
	items.PATCH("/:id/status", middleware.RequireRoles(models.RoleFactory), orderItemHandler.UpdateStatus)

	changeRequests := protected.Group("/change-requests")
	changeRequests.GET("", changeRequestHandler.List)
	changeRequests.POST("", middleware.RequireRoles(models.RoleOperator, models.RoleFactory), changeRequestHandler.Create)
	changeRequests.GET("/:id", changeRequestHandler.Get)
	changeRequests.PATCH("/:id/process", middleware.RequireRoles(models.RoleAdmin), changeRequestHandler.Process)
	changeRequests.PATCH("/:id/mark-used", changeRequestHandler.MarkUsed)

	users := protected.Group("/users")
	users.Use(middleware.RequireRoles(models.RoleAdmin))
	users.GET("", userHandler.List)
	users.POST("", userHandler.Create)
	users.GET("/:id", userHandler.Get)
	users.PATCH("/:id", userHandler.Update)
	users.DELETE("/:id", userHandler.Delete)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
