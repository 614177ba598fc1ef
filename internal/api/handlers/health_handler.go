package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/forecast-agent/backend/pkg/logger"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store      Pinger
	configured func() error
}

// NewHealthHandler reports liveness, store reachability and whether the
// inference credential passes configuration checks.
func NewHealthHandler(store Pinger, configured func() error) *HealthHandler {
	return &HealthHandler{store: store, configured: configured}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	database := "connected"
	if err := h.ping(c.Context()); err != nil {
		logger.Warn("Database health check failed", zap.Error(err))
		database = "unavailable"
	}

	return c.JSON(fiber.Map{
		"status":            "healthy",
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"openai_configured": h.configured == nil || h.configured() == nil,
		"database":          database,
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	if err := h.ping(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"status": "ready",
	})
}

func (h *HealthHandler) ping(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return h.store.Ping(ctx)
}
