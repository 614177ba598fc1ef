package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/metrics"
	"github.com/forecast-agent/backend/internal/storage/models"
	"github.com/forecast-agent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS forecast_logs (
		request_id TEXT PRIMARY KEY,
		company TEXT NOT NULL,
		forecast_data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_forecast_created ON forecast_logs(created_at);
	CREATE INDEX IF NOT EXISTS idx_forecast_company ON forecast_logs(company, created_at);

	CREATE TABLE IF NOT EXISTS error_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT,
		error_message TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_error_request ON error_logs(request_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// Save stores the forecast under its request id. Saving an id again replaces
// the payload and keeps the original creation time.
func (c *Client) Save(ctx context.Context, result *domain.ForecastResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode forecast: %w", err)
	}

	query := `
		INSERT INTO forecast_logs (request_id, company, forecast_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			company = excluded.company,
			forecast_data = excluded.forecast_data,
			updated_at = excluded.updated_at
	`

	now := time.Now().UnixNano()
	if _, err := c.db.ExecContext(ctx, query, result.RequestID, result.Company, string(data), now, now); err != nil {
		metrics.PersistenceErrors.WithLabelValues("sqlite", "save").Inc()
		return fmt.Errorf("failed to save forecast: %w", err)
	}

	logger.Info("Forecast saved", zap.String("request_id", result.RequestID), zap.String("company", result.Company))
	return nil
}

func (c *Client) RecordError(ctx context.Context, requestID, message string) error {
	query := `INSERT INTO error_logs (request_id, error_message, created_at) VALUES (?, ?, ?)`

	if _, err := c.db.ExecContext(ctx, query, requestID, message, time.Now().UnixNano()); err != nil {
		metrics.PersistenceErrors.WithLabelValues("sqlite", "record_error").Inc()
		return fmt.Errorf("failed to record error: %w", err)
	}

	return nil
}

// ListRecent returns up to limit forecasts, most recent first.
func (c *Client) ListRecent(ctx context.Context, limit int) ([]models.ForecastRecord, error) {
	query := `
		SELECT request_id, company, forecast_data, created_at, updated_at
		FROM forecast_logs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list forecasts: %w", err)
	}
	defer rows.Close()

	records := make([]models.ForecastRecord, 0, limit)
	for rows.Next() {
		record, err := scanForecast(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	return records, rows.Err()
}

func (c *Client) Get(ctx context.Context, requestID string) (*models.ForecastRecord, error) {
	query := `SELECT request_id, company, forecast_data, created_at, updated_at FROM forecast_logs WHERE request_id = ?`

	record, err := scanForecast(c.db.QueryRowContext(ctx, query, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("forecast %s: %w", requestID, domain.ErrNotFound)
	}
	return record, err
}

func (c *Client) RecentErrors(ctx context.Context, limit int) ([]models.ErrorRecord, error) {
	query := `SELECT id, request_id, error_message, created_at FROM error_logs ORDER BY id DESC LIMIT ?`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list errors: %w", err)
	}
	defer rows.Close()

	var records []models.ErrorRecord
	for rows.Next() {
		var r models.ErrorRecord
		var requestID sql.NullString
		var createdAt int64
		if err := rows.Scan(&r.ID, &requestID, &r.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.RequestID = requestID.String
		r.CreatedAt = time.Unix(0, createdAt)
		records = append(records, r)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanForecast(row scanner) (*models.ForecastRecord, error) {
	var record models.ForecastRecord
	var data string
	var createdAt, updatedAt int64

	if err := row.Scan(&record.RequestID, &record.Company, &data, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	var result domain.ForecastResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("failed to decode forecast %s: %w", record.RequestID, err)
	}

	record.Forecast = &result
	record.CreatedAt = time.Unix(0, createdAt)
	record.UpdatedAt = time.Unix(0, updatedAt)
	return &record, nil
}
