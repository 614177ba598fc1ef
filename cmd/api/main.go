package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/api/handlers"
	"github.com/forecast-agent/backend/internal/app"
	"github.com/forecast-agent/backend/internal/metrics"
	"github.com/forecast-agent/backend/internal/middleware/ratelimit"
	"github.com/forecast-agent/backend/internal/middleware/security"
	"github.com/forecast-agent/backend/internal/middleware/validation"
	"github.com/forecast-agent/backend/pkg/config"
	appLogger "github.com/forecast-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Financial Forecast Agent API Server")

	metrics.Init()

	ctx := context.Background()
	application, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer application.Close(ctx)

	server := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	server.Use(recover.New())
	server.Use(logger.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	server.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: strings.Split(cfg.Server.AllowOrigins, ","),
		IsDevelopment:  cfg.Logging.Format == "console",
	}))

	healthHandler := handlers.NewHealthHandler(application.Store, application.ConfigurationError)
	forecastHandler := handlers.NewForecastHandler(application.Service)
	wsHandler := handlers.NewWebSocketHandler(application.Service)

	server.Get("/health", healthHandler.Health)
	server.Get("/ready", healthHandler.Ready)
	server.Get("/metrics", metrics.MetricsHandler())

	api := server.Group("/api/v1")

	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
			Logger:            appLogger.Named("ratelimit"),
		})
		defer limiter.Stop()
		api.Use(limiter.Middleware())
	}
	api.Use(validation.Middleware(validation.Config{Logger: appLogger.Named("validation")}))

	api.Post("/forecast", forecastHandler.CreateForecast)
	api.Get("/forecast/history", forecastHandler.GetHistory)
	api.Get("/forecast/:id", forecastHandler.GetForecast)
	api.Get("/forecast/:id/report", forecastHandler.GetReport)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws/forecast", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := server.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Warn("Server shutdown did not complete", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
