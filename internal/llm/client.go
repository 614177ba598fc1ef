package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/metrics"
	"github.com/forecast-agent/backend/pkg/circuitbreaker"
	"github.com/forecast-agent/backend/pkg/config"
	"github.com/forecast-agent/backend/pkg/logger"
	"github.com/forecast-agent/backend/pkg/retry"
)

const embeddingBatchSize = 100

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

func NewClient(cfg config.LLMConfig) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	logger.Info("LLM client initialized",
		zap.String("provider", "openai"),
		zap.String("model", cfg.Model),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)

	return &Client{
		client:         openai.NewClientWithConfig(clientConfig),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		timeout:        timeout,
		cb:             newBreaker("llm-openai", openAIFailure),
		retryConfig:    newRetryConfig(),
	}
}

func newBreaker(name string, isFailure func(error) bool) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.NewCircuitBreaker(name, circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        isFailure,
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.GetLogger(),
	})
}

func newRetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.Logger = logger.GetLogger()
	return cfg
}

func (c *Client) Name() string {
	return "openai"
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := c.chat(ctx, req, nil)
	if err != nil {
		return nil, &domain.InferenceError{Op: "complete", Err: err}
	}
	return resp, nil
}

func (c *Client) CompleteStructured(ctx context.Context, req CompletionRequest, schema Schema, out any) error {
	format := &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:        schema.Name,
			Description: schema.Description,
			Schema:      &schema.Definition,
			Strict:      true,
		},
	}

	resp, err := c.chat(ctx, req, format)
	if err != nil {
		return &domain.InferenceError{Op: "structured completion", Err: err}
	}
	if err := DecodeJSON(resp.Content, out); err != nil {
		return &domain.InferenceError{Op: "structured completion", Err: err}
	}
	return nil
}

func (c *Client) chat(ctx context.Context, req CompletionRequest, format *openai.ChatCompletionResponseFormat) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	start := time.Now()
	result, err := circuitbreaker.ExecuteWithResult(ctx, c.cb, func() (*CompletionResponse, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (*CompletionResponse, error) {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:          c.model,
				Messages:       messages,
				Temperature:    temperature,
				MaxTokens:      maxTokens,
				ResponseFormat: format,
			})
			if err != nil {
				return nil, classify(fmt.Errorf("failed to create completion: %w", err))
			}
			if len(resp.Choices) == 0 {
				return nil, errors.New("no choices in completion response")
			}

			logger.Debug("LLM completion generated",
				zap.String("model", c.model),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			return &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}, nil
		})
	})
	metrics.RecordLLMCall(c.Name(), "complete", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}

	metrics.RecordTokens(c.model, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	return result, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.GenerateBatchEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (c *Client) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	embeddings := make([][]float32, len(texts))

	for i := 0; i < len(texts); i += embeddingBatchSize {
		end := min(i+embeddingBatchSize, len(texts))
		batch := texts[i:end]
		offset := i

		start := time.Now()
		err := c.cb.Execute(ctx, func() error {
			return retry.Do(ctx, c.retryConfig, func() error {
				resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
					Input: batch,
					Model: openai.EmbeddingModel(c.embeddingModel),
				})
				if err != nil {
					return classify(fmt.Errorf("failed to generate embeddings: %w", err))
				}
				if len(resp.Data) != len(batch) {
					return fmt.Errorf("embedding count mismatch: sent %d, got %d", len(batch), len(resp.Data))
				}

				for j, data := range resp.Data {
					idx := j
					if data.Index >= 0 && data.Index < len(batch) {
						idx = data.Index
					}
					embeddings[offset+idx] = data.Embedding
				}
				return nil
			})
		})
		metrics.RecordLLMCall(c.Name(), "embed", time.Since(start).Seconds(), err)
		if err != nil {
			return nil, &domain.InferenceError{Op: "embed", Err: err}
		}
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

// classify marks client errors that a retry cannot fix.
func classify(err error) error {
	if !openAIFailure(err) {
		return retry.Permanent(err)
	}
	return err
}

// openAIFailure reports whether err reflects an unhealthy upstream rather
// than a rejected request.
func openAIFailure(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= 400 && code < 500:
		return false
	default:
		return true
	}
}
