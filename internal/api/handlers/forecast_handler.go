package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/forecast"
	"github.com/forecast-agent/backend/internal/middleware/validation"
	"github.com/forecast-agent/backend/internal/report"
	"github.com/forecast-agent/backend/internal/storage/models"
	"github.com/forecast-agent/backend/pkg/logger"
)

const maxHistoryLimit = 100

type ForecastService interface {
	Run(ctx context.Context, req forecast.Request, observer forecast.Observer) (*domain.ForecastResult, error)
	History(ctx context.Context, limit int) ([]models.ForecastRecord, error)
	Get(ctx context.Context, requestID string) (*models.ForecastRecord, error)
}

type ForecastHandler struct {
	service   ForecastService
	validator *validation.Validator
}

func NewForecastHandler(service ForecastService) *ForecastHandler {
	return &ForecastHandler{
		service:   service,
		validator: validation.New(),
	}
}

func (h *ForecastHandler) CreateForecast(c *fiber.Ctx) error {
	var req forecast.Request
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			logger.Error("Failed to parse request body", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	result, err := h.service.Run(c.Context(), req, nil)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(failureBody(err, req.RequestID))
	}

	return c.JSON(result)
}

func (h *ForecastHandler) GetHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 || limit > maxHistoryLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 100",
		})
	}

	records, err := h.service.History(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to load forecast history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load forecast history",
		})
	}
	if records == nil {
		records = []models.ForecastRecord{}
	}

	return c.JSON(fiber.Map{
		"forecasts": records,
	})
}

func (h *ForecastHandler) GetForecast(c *fiber.Ctx) error {
	record, ok, err := h.lookup(c)
	if !ok {
		return err
	}
	return c.JSON(record)
}

func (h *ForecastHandler) GetReport(c *fiber.Ctx) error {
	record, ok, err := h.lookup(c)
	if !ok {
		return err
	}
	if record.Forecast == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Forecast has no stored result",
		})
	}

	page, err := report.HTML(record.Forecast)
	if err != nil {
		logger.Error("Failed to render report", zap.String("request_id", record.RequestID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to render report",
		})
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Send(page)
}

// lookup loads the forecast named by the :id parameter. When ok is false the
// error response has already been written and err is what the handler returns.
func (h *ForecastHandler) lookup(c *fiber.Ctx) (*models.ForecastRecord, bool, error) {
	id := c.Params("id")
	record, err := h.service.Get(c.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, false, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":      "Forecast not found",
			"request_id": id,
		})
	case err != nil:
		logger.Error("Failed to load forecast", zap.String("request_id", id), zap.Error(err))
		return nil, false, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load forecast",
		})
	}
	return record, true, nil
}

func failureBody(err error, fallbackID string) fiber.Map {
	requestID := fallbackID
	var reqErr *forecast.RequestError
	if errors.As(err, &reqErr) {
		requestID = reqErr.RequestID
	}
	return fiber.Map{
		"error":      err.Error(),
		"request_id": requestID,
	}
}
