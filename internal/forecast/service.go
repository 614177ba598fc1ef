package forecast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/metrics"
	"github.com/forecast-agent/backend/internal/storage/models"
	"github.com/forecast-agent/backend/pkg/logger"
)

const (
	DefaultCompany  = "TCS"
	DefaultQuarters = 2

	persistTimeout = 10 * time.Second
)

// Store is the persistence sink. Save must be idempotent per request id.
type Store interface {
	Save(ctx context.Context, result *domain.ForecastResult) error
	RecordError(ctx context.Context, requestID, message string) error
	ListRecent(ctx context.Context, limit int) ([]models.ForecastRecord, error)
	Get(ctx context.Context, requestID string) (*models.ForecastRecord, error)
}

// Exporter receives every saved forecast. Exports are best effort.
type Exporter interface {
	Name() string
	Export(ctx context.Context, result *domain.ForecastResult) error
}

type Request struct {
	Company   string `json:"company" validate:"omitempty,max=32,printascii"`
	Quarters  int    `json:"quarters" validate:"omitempty,min=1,max=8"`
	RequestID string `json:"request_id,omitempty" validate:"omitempty,max=64,printascii"`
}

type Service struct {
	orchestrator *Orchestrator
	store        Store
	exporters    []Exporter
	historyLimit int
}

func NewService(orchestrator *Orchestrator, store Store, historyLimit int, exporters ...Exporter) *Service {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &Service{
		orchestrator: orchestrator,
		store:        store,
		exporters:    exporters,
		historyLimit: historyLimit,
	}
}

func NewRequestID() string {
	return uuid.NewString()
}

// Run generates and persists one forecast. A failed run is recorded in the
// error sink under its request id and returned as a *RequestError.
func (s *Service) Run(ctx context.Context, req Request, observer Observer) (*domain.ForecastResult, error) {
	req = normalize(req)
	start := time.Now()

	log := logger.GetLogger().With(zap.String("request_id", req.RequestID), zap.String("company", req.Company))
	log.Info("Starting forecast generation", zap.Int("quarters", req.Quarters))

	result, err := s.orchestrator.Run(ctx, req.RequestID, req.Company, req.Quarters, observer)
	metrics.RecordForecast(time.Since(start).Seconds(), err)
	if err != nil {
		log.Error("Error generating forecast", zap.Error(err))
		s.recordError(ctx, req.RequestID, err)

		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			err = &RequestError{RequestID: req.RequestID, Stage: StageFailed, Err: err}
		}
		return nil, err
	}

	s.persist(ctx, result)

	log.Info("Forecast generated successfully",
		zap.Int("degradations", len(result.Degradations)),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func normalize(req Request) Request {
	req.Company = strings.ToUpper(strings.TrimSpace(req.Company))
	if req.Company == "" {
		req.Company = DefaultCompany
	}
	if req.Quarters <= 0 {
		req.Quarters = DefaultQuarters
	}
	if strings.TrimSpace(req.RequestID) == "" {
		req.RequestID = NewRequestID()
	}
	return req
}

// persist saves the result and then runs the exporters. Persistence failures
// are logged and recorded; the caller still gets its result.
func (s *Service) persist(ctx context.Context, result *domain.ForecastResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := s.store.Save(ctx, result); err != nil {
		logger.Error("Error logging forecast", zap.String("request_id", result.RequestID), zap.Error(err))
		s.recordError(ctx, result.RequestID, fmt.Errorf("save forecast: %w", err))
		return
	}

	for _, e := range s.exporters {
		if err := e.Export(ctx, result); err != nil {
			metrics.PersistenceErrors.WithLabelValues(e.Name(), "export").Inc()
			logger.Warn("Forecast export failed",
				zap.String("exporter", e.Name()),
				zap.String("request_id", result.RequestID),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) recordError(ctx context.Context, requestID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := s.store.RecordError(ctx, requestID, cause.Error()); err != nil {
		logger.Error("Error logging error", zap.String("request_id", requestID), zap.Error(err))
	}
}

// History returns up to limit recent forecasts, most recent first.
func (s *Service) History(ctx context.Context, limit int) ([]models.ForecastRecord, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}
	return s.store.ListRecent(ctx, limit)
}

func (s *Service) Get(ctx context.Context, requestID string) (*models.ForecastRecord, error) {
	return s.store.Get(ctx, requestID)
}
