package models

import (
	"time"

	"github.com/forecast-agent/backend/internal/domain"
)

// ForecastRecord is one persisted forecast. A request id maps to exactly one
// record holding the latest saved payload.
type ForecastRecord struct {
	RequestID string                 `json:"request_id"`
	Company   string                 `json:"company"`
	Forecast  *domain.ForecastResult `json:"forecast_data"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

type ErrorRecord struct {
	ID        int64     `json:"id"`
	RequestID string    `json:"request_id"`
	Message   string    `json:"error_message"`
	CreatedAt time.Time `json:"created_at"`
}
