package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/metrics"
	"github.com/forecast-agent/backend/internal/storage/models"
	"github.com/forecast-agent/backend/pkg/logger"
)

const maxErrorRecords = 1000

// Client is a persistence sink keeping each forecast as a JSON value, a
// sorted set of request ids by first save time, and a capped error list.
type Client struct {
	client *redis.Client
	prefix string
}

type storedForecast struct {
	RequestID string                 `json:"request_id"`
	Company   string                 `json:"company"`
	Forecast  *domain.ForecastResult `json:"forecast_data"`
	CreatedAt int64                  `json:"created_at"`
	UpdatedAt int64                  `json:"updated_at"`
}

func NewClient(ctx context.Context, host string, port int, password string, db int, prefix string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, prefix: prefix}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) forecastKey(requestID string) string {
	return keyJoin(c.prefix, "forecast", requestID)
}

func (c *Client) recentKey() string {
	return keyJoin(c.prefix, "recent")
}

func (c *Client) errorsKey() string {
	return keyJoin(c.prefix, "errors")
}

func keyJoin(prefix string, parts ...string) string {
	key := prefix
	for _, p := range parts {
		if key == "" {
			key = p
			continue
		}
		key += ":" + p
	}
	return key
}

// Save writes the forecast under its request id. A re-save replaces the
// payload but keeps the request's position in the history.
func (c *Client) Save(ctx context.Context, result *domain.ForecastResult) error {
	now := time.Now()
	stored := storedForecast{
		RequestID: result.RequestID,
		Company:   result.Company,
		Forecast:  result,
		CreatedAt: now.UnixNano(),
		UpdatedAt: now.UnixNano(),
	}

	key := c.forecastKey(result.RequestID)
	if existing, err := c.load(ctx, key); err == nil {
		stored.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode forecast: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.ZAddNX(ctx, c.recentKey(), redis.Z{Score: float64(stored.CreatedAt), Member: result.RequestID})
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.PersistenceErrors.WithLabelValues("redis", "save").Inc()
		return fmt.Errorf("failed to save forecast: %w", err)
	}

	logger.Info("Forecast saved", zap.String("request_id", result.RequestID), zap.String("sink", "redis"))
	return nil
}

func (c *Client) RecordError(ctx context.Context, requestID, message string) error {
	data, err := json.Marshal(models.ErrorRecord{RequestID: requestID, Message: message, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to encode error record: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, c.errorsKey(), data)
	pipe.LTrim(ctx, c.errorsKey(), 0, maxErrorRecords-1)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.PersistenceErrors.WithLabelValues("redis", "record_error").Inc()
		return fmt.Errorf("failed to record error: %w", err)
	}
	return nil
}

// ListRecent returns up to limit forecasts, most recent first. Ids whose
// payload has expired or been deleted are skipped.
func (c *Client) ListRecent(ctx context.Context, limit int) ([]models.ForecastRecord, error) {
	if limit <= 0 {
		return []models.ForecastRecord{}, nil
	}

	ids, err := c.client.ZRevRange(ctx, c.recentKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list forecasts: %w", err)
	}
	if len(ids) == 0 {
		return []models.ForecastRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.forecastKey(id)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load forecasts: %w", err)
	}

	records := make([]models.ForecastRecord, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			logger.Debug("Forecast payload missing", zap.String("request_id", ids[i]))
			continue
		}
		record, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	return records, nil
}

func (c *Client) Get(ctx context.Context, requestID string) (*models.ForecastRecord, error) {
	stored, err := c.load(ctx, c.forecastKey(requestID))
	if err != nil {
		return nil, fmt.Errorf("forecast %s: %w", requestID, err)
	}
	return stored.record(), nil
}

func (c *Client) RecentErrors(ctx context.Context, limit int) ([]models.ErrorRecord, error) {
	values, err := c.client.LRange(ctx, c.errorsKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list errors: %w", err)
	}

	records := make([]models.ErrorRecord, 0, len(values))
	for _, v := range values {
		var r models.ErrorRecord
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("failed to decode error record: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

func (c *Client) load(ctx context.Context, key string) (*storedForecast, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get forecast: %w", err)
	}

	var stored storedForecast
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode forecast: %w", err)
	}
	return &stored, nil
}

func decode(data []byte) (*models.ForecastRecord, error) {
	var stored storedForecast
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode forecast: %w", err)
	}
	return stored.record(), nil
}

func (s *storedForecast) record() *models.ForecastRecord {
	return &models.ForecastRecord{
		RequestID: s.RequestID,
		Company:   s.Company,
		Forecast:  s.Forecast,
		CreatedAt: time.Unix(0, s.CreatedAt),
		UpdatedAt: time.Unix(0, s.UpdatedAt),
	}
}
