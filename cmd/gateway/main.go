package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"translation-gateway/configs"
	"translation-gateway/internal/cache"
	"translation-gateway/internal/database"
	"translation-gateway/internal/handlers"
	"translation-gateway/internal/logging"
	"translation-gateway/internal/middleware"
	"translation-gateway/internal/providers"
	"translation-gateway/internal/services"
	"translation-gateway/internal/tasks"
	"translation-gateway/internal/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// @title Translation Gateway API
// @version 1.0
// @description Edge gateway between the browser extension and paid translation/LLM providers

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the installation token.

func main() {
	production := os.Getenv("GIN_MODE") != "debug"
	logger := logging.New(production)
	defer logger.Sync()

	cfg, err := configs.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := database.NewManager(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	manager := cache.NewManager(cfg.RedisURL, logger)
	runner := tasks.NewRunner(logger, cfg.ProviderTimeout+10*time.Second)

	validator := validation.New(cfg.SupportedLanguages)
	authService := services.NewAuthService(db, cfg, logger)
	quotaService := services.NewQuotaService(db, cfg, logger)
	costGuard := services.NewCostGuard(db, runner, cfg, logger)
	translationStore := cache.NewTranslationStore(manager, db, runner, logger, cfg.CacheTTL, cfg.MaxVariations)

	translator := providers.NewHTTPTranslator(cfg.TranslationAPIURL, cfg.TranslationAPIKey,
		cfg.ChunkSize, cfg.ProviderRetries, cfg.ProviderTimeout, logger)
	contextGen := providers.NewHTTPContextProvider(cfg.ContextAPIURL, cfg.ContextAPIKey,
		cfg.ContextModel, cfg.ProviderRetries, cfg.ProviderTimeout, logger)

	metrics := &handlers.Metrics{}
	translateHandler := handlers.NewTranslateHandler(validator, quotaService, costGuard,
		translationStore, manager, translator, contextGen, runner, cfg, logger, metrics)
	clientHandler := handlers.NewClientHandler(authService, validator, manager, db, cfg)
	wsHandler := handlers.NewWebSocketHandler(manager, logger)
	adminHandler := handlers.NewAdminHandler(db, metrics)

	if production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(logging.RequestLogger(logger))
	router.Use(logging.Recovery(logger))
	router.Use(middleware.ContentTypeMiddleware())
	router.Use(middleware.BodyLimitMiddleware(cfg.MaxBodyBytes))

	// Public routes
	router.GET("/config", middleware.IPRateLimitMiddleware(manager, cfg.ConfigRatePerMinute), clientHandler.GetConfig)
	router.POST("/installations/register", clientHandler.Register)
	router.POST("/installations/refresh", clientHandler.Refresh)
	router.GET("/health", clientHandler.Health)

	// Protected routes
	protected := router.Group("/")
	protected.Use(middleware.AuthMiddleware(authService))
	protected.POST("/translate", translateHandler.Translate)
	protected.POST("/context", translateHandler.GenerateContext)

	// Ops routes
	ops := router.Group("/")
	ops.Use(middleware.AdminKeyMiddleware(authService))
	ops.GET("/ws/usage", wsHandler.HandleConnections)
	ops.GET("/admin/stats", adminHandler.Stats)

	hubCtx, stopHub := context.WithCancel(context.Background())
	go wsHandler.RunHub(hubCtx)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
	stopHub()

	// Background writes (cache, ledger, continued AI calls) must land before
	// the process exits.
	if err := runner.Drain(shutdownCtx); err != nil {
		logger.Warn("background tasks not drained", zap.Error(err))
	}

	logger.Info("stopped")
}
