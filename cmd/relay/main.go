package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callcore/internal/infrastructure/distributed"
	"callcore/internal/infrastructure/middleware"
	"callcore/internal/infrastructure/monitoring"
	repositories "callcore/internal/infrastructure/repositories"
	signalinfra "callcore/internal/infrastructure/signal"
	"callcore/pkg/auth"
	"callcore/pkg/config"
	"callcore/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()
	_ = godotenv.Load()

	cfg, path, err := config.LoadFirst(
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/callcore/config.yaml",
		"config.yaml",
	)
	if err != nil {
		panic(err)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if path != "" {
		log.Infow("loaded config", "path", path)
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	// Identity keys live in Redis when several relays share the load.
	var directory signalinfra.Directory = signalinfra.NewMemoryDirectory()
	if repoFactory.UsesRedis() {
		directory = distributed.NewDeviceRegistry(repoFactory.RedisClient())
	}

	relayConfig := signalinfra.DefaultRelayConfig()
	relayConfig.PingInterval = cfg.Relay.PingInterval
	relayConfig.PongTimeout = cfg.Relay.PongTimeout
	relayConfig.AllowedOrigins = cfg.Auth.AllowedOrigins
	if cfg.RateLimiting.Enabled {
		relayConfig.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		relayConfig.Burst = cfg.RateLimiting.WebSocket.Burst
		if cfg.RateLimiting.WebSocket.MaxMessageSizeBytes > 0 {
			relayConfig.MaxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
		}
	}

	issuer := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	relay := signalinfra.NewRelayServer(issuer, directory, relayConfig, log)
	defer relay.Close()

	health := monitoring.NewHealthChecker()
	if repoFactory.UsesRedis() {
		health.AddRedisCheck(repoFactory.RedisClient(), 2*time.Second)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log), middleware.NewHTTPRateLimitMiddleware(cfg))

	router.GET("/v1/signal", gin.WrapF(relay.HandleWebSocket))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"uptime":  time.Since(startTime).String(),
			"devices": relay.ConnectedDevices(),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		if !health.IsReady(c.Request.Context()) {
			c.JSON(http.StatusServiceUnavailable, health.CheckAll(c.Request.Context()))
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	server := &http.Server{
		Addr:    cfg.Relay.Address,
		Handler: router,
	}

	go func() {
		log.Infow("starting signalling relay", "address", cfg.Relay.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("relay failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down relay")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()
	relay.Close()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorw("relay shutdown failed", "error", err)
	}
}
