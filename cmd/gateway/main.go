package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
	"telecare/internal/core/services"
	httphandlers "telecare/internal/handlers/http"
	"telecare/internal/infrastructure/distributed"
	"telecare/internal/infrastructure/middleware"
	"telecare/internal/infrastructure/monitoring"
	"telecare/internal/infrastructure/reliability"
	repositories "telecare/internal/infrastructure/repositories"
	wschannel "telecare/internal/infrastructure/signal"
	"telecare/pkg/circuitbreaker"
	"telecare/pkg/config"
	"telecare/pkg/logger"
	"telecare/pkg/retry"
	"telecare/pkg/tracing"
	"telecare/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/telecare/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "telecare-gateway",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Initialize repository factory
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	// Message store with retry and circuit breaker around the raw repository.
	// Not-found and duplicate-ID are terminal answers, not transient faults.
	storeRetry := retry.DefaultConfig()
	storeRetry.NonRetryableErrors = []error{
		domain.ErrMessageNotFound,
		domain.ErrMessageExists,
	}
	messageStore := reliability.NewMessageStoreWrapper(
		repoFactory.CreateMessageRepository(),
		storeRetry,
		circuitbreaker.DefaultConfig(),
		log,
	)

	// Presence registry, extended across instances when redis is enabled
	localRegistry := wschannel.NewPresenceRegistry(log)

	var registry ports.PresenceRegistry = localRegistry
	var bridge *distributed.RelayBridge
	if client := repoFactory.RedisClient(); client != nil {
		instanceID := utils.GenerateInstanceID()
		bridge = distributed.NewRelayBridge(localRegistry, client, instanceID, log)
		registry = bridge
		log.Infow("multi-instance relay enabled", "instance_id", instanceID)
	}

	// Initialize monitoring
	var metrics ports.MetricsRecorder = ports.NopMetrics()
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	}

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddMessageStoreCheck(messageStore, 30*time.Second, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		healthChecker.AddRedisCheck(client, 30*time.Second, 2*time.Second)
	}

	// Initialize services
	authService := services.NewAuthService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)
	callRelay := services.NewCallRelay(registry, metrics, log)
	messageService := services.NewMessageService(messageStore, registry, metrics, log)
	cachedMessages := services.NewCachedMessageService(messageService, 30*time.Second)

	// Initialize WebSocket server
	wsServer := wschannel.NewWebSocketServer(
		registry,
		callRelay,
		cachedMessages,
		authService,
		metrics,
		wschannel.NewServerConfig(cfg),
		log,
	)

	// Initialize HTTP handlers
	authHandler := httphandlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL)
	messageHandler := httphandlers.NewMessageHandler(cachedMessages)
	statsHandler := httphandlers.NewStatsHandler(localRegistry, healthChecker)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestLoggerMiddleware(log.Desugar()))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	// Public auth routes
	authHandler.SetupRoutes(router)

	// Authenticated REST routes
	authMW := middleware.AuthMiddleware(authService)
	messageHandler.SetupRoutes(router, authMW)
	statsHandler.SetupRoutes(router, authMW, middleware.RequireRole(domain.RoleAdmin))

	// Connection channel endpoint
	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	// Readiness endpoint backed by real dependency checks
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(503, gin.H{
				"status":       "not_ready",
				"timestamp":    time.Now(),
				"dependencies": "unhealthy",
				"error":        err.Error(),
			})
			return
		}

		c.JSON(200, gin.H{
			"status":       "ready",
			"timestamp":    time.Now(),
			"dependencies": "ok",
		})
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Background workers
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	healthChecker.StartBackgroundChecks(runCtx)

	if bridge != nil {
		go func() {
			if err := bridge.Subscribe(runCtx); err != nil && runCtx.Err() == nil {
				log.Errorw("relay bridge subscription stopped", "error", err)
			}
		}()
	}

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting Telecare gateway on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down Telecare gateway...")

	runCancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Shutdown HTTP server gracefully
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}

	log.Info("Telecare gateway stopped")
}
