package main

import (
	"context"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"studyroom/internal/core/services"
	httphandlers "studyroom/internal/handlers/http"
	"studyroom/internal/infrastructure/middleware"
	"studyroom/internal/infrastructure/monitoring"
	"studyroom/internal/infrastructure/relay"
	"studyroom/internal/infrastructure/reliability"
	repositories "studyroom/internal/infrastructure/repositories"
	"studyroom/internal/infrastructure/signal"
	"studyroom/pkg/circuitbreaker"
	"studyroom/pkg/config"
	"studyroom/pkg/logger"
	"studyroom/pkg/retry"
	"studyroom/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/studyroom/config.yaml",
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
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	// Tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Storage
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}

	roomRepo := repoFactory.CreateRoomRepository()
	membershipRepo := repoFactory.CreateMembershipRepository()
	streakRepo := repoFactory.CreateStreakRepository()

	gateway := reliability.NewGateway(retry.DefaultConfig(), circuitbreaker.DefaultConfig(), log)

	// Monitoring
	metrics := monitoring.NewPrometheusCollector()
	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("storage", repoFactory.HealthCheck, 2*time.Second)

	// Core services
	registry := services.NewRoomRegistry(roomRepo, membershipRepo, gateway, services.RegistryConfig{
		DefaultCapacity: cfg.Rooms.DefaultCapacity,
		GatewayTimeout:  cfg.Rooms.GatewayTimeout,
		IdleTimeout:     cfg.Rooms.IdleTimeout,
		SweepInterval:   cfg.Rooms.SweepInterval,
	}, log)

	streakLoc, err := time.LoadLocation(cfg.Streak.Timezone)
	if err != nil {
		log.Fatalw("invalid streak timezone", "timezone", cfg.Streak.Timezone, "error", err)
	}
	streaks := services.NewStreakEngine(streakRepo, gateway, streakLoc, log)

	messageRelay := relay.NewRelay(metrics, log)

	positions := services.NewPositionSynchronizer(membershipRepo, messageRelay, services.PositionConfig{
		UpdatesPerSecond: cfg.Position.UpdatesPerSecond,
		Burst:            cfg.Position.Burst,
		FlushInterval:    cfg.Position.FlushInterval,
		GatewayTimeout:   cfg.Rooms.GatewayTimeout,
	}, log)

	// Live connections
	wsServer := signal.NewWebSocketServer(registry, streaks, positions, messageRelay, metrics, signal.Config{
		PingInterval: cfg.Signal.PingInterval,
		PongTimeout:  cfg.Signal.PongTimeout,
		WriteTimeout: cfg.Signal.WriteTimeout,
		SendBuffer:   cfg.Signal.SendBuffer,
	}, log)

	// HTTP surface
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	roomHandler := httphandlers.NewRoomHandler(registry, streaks, cfg.Rooms.MaxCapacity)
	roomHandler.SetupRoutes(router)

	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))

	startTime := time.Now()
	router.GET("/health", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status.Status,
			"timestamp": status.Timestamp,
			"checks":    status.Checks,
			"sessions":  wsServer.SessionCount(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting studyroom signaling server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down studyroom server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	// Tear down live sessions so every membership is released before the
	// stores go away.
	wsServer.CloseAll()
	positions.Close()
	registry.Close()

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}

	log.Info("studyroom server stopped")
}
