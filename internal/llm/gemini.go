package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/metrics"
	"github.com/forecast-agent/backend/pkg/circuitbreaker"
	"github.com/forecast-agent/backend/pkg/config"
	"github.com/forecast-agent/backend/pkg/logger"
	"github.com/forecast-agent/backend/pkg/retry"
)

type GeminiClient struct {
	client         *genai.Client
	model          string
	embeddingModel string
	embeddingDim   int
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

func NewGeminiClient(ctx context.Context, cfg config.LLMConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, &domain.ConfigurationError{Field: "llm.apiKey", Reason: "gemini API key is required"}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = "gemini-2.5-flash"
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" || strings.HasPrefix(embeddingModel, "text-embedding-") {
		embeddingModel = "gemini-embedding-001"
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	logger.Info("LLM client initialized",
		zap.String("provider", "gemini"),
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return &GeminiClient{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		embeddingDim:   cfg.EmbeddingDim,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		timeout:        timeout,
		cb:             newBreaker("llm-gemini", geminiFailure),
		retryConfig:    newRetryConfig(),
	}, nil
}

func (c *GeminiClient) Name() string {
	return "gemini"
}

func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := c.generate(ctx, req, c.contentConfig(req))
	if err != nil {
		return nil, &domain.InferenceError{Op: "complete", Err: err}
	}
	return resp, nil
}

func (c *GeminiClient) CompleteStructured(ctx context.Context, req CompletionRequest, schema Schema, out any) error {
	cfg := c.contentConfig(req)
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = toGenaiSchema(schema.Definition)

	resp, err := c.generate(ctx, req, cfg)
	if err != nil {
		return &domain.InferenceError{Op: "structured completion", Err: err}
	}
	if err := DecodeJSON(resp.Content, out); err != nil {
		return &domain.InferenceError{Op: "structured completion", Err: err}
	}
	return nil
}

func (c *GeminiClient) contentConfig(req CompletionRequest) *genai.GenerateContentConfig {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		MaxOutputTokens: int32(maxTokens),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	return cfg
}

func (c *GeminiClient) generate(ctx context.Context, req CompletionRequest, cfg *genai.GenerateContentConfig) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents := []*genai.Content{genai.NewContentFromText(req.UserPrompt, genai.RoleUser)}

	start := time.Now()
	result, err := circuitbreaker.ExecuteWithResult(ctx, c.cb, func() (*CompletionResponse, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (*CompletionResponse, error) {
			resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
			if err != nil {
				err = fmt.Errorf("gemini generation failed: %w", err)
				if !geminiFailure(err) {
					return nil, retry.Permanent(err)
				}
				return nil, err
			}

			text := responseText(resp)
			if text == "" {
				return nil, errors.New("no response generated from gemini model")
			}

			out := &CompletionResponse{Content: text}
			if resp.UsageMetadata != nil {
				out.Usage = Usage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
				}
			}
			return out, nil
		})
	})
	metrics.RecordLLMCall(c.Name(), "complete", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}

	metrics.RecordTokens(c.model, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	return result, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil && part.Text != "" {
				sb.WriteString(part.Text)
			}
		}
		if sb.Len() > 0 {
			break
		}
	}
	return sb.String()
}

func (c *GeminiClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.GenerateBatchEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (c *GeminiClient) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var embedCfg *genai.EmbedContentConfig
	if c.embeddingDim > 0 {
		dim := int32(c.embeddingDim)
		embedCfg = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}

	embeddings := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += embeddingBatchSize {
		batch := texts[i:min(i+embeddingBatchSize, len(texts))]
		contents := make([]*genai.Content, len(batch))
		for j, text := range batch {
			contents[j] = genai.NewContentFromText(text, genai.RoleUser)
		}

		start := time.Now()
		vectors, err := circuitbreaker.ExecuteWithResult(ctx, c.cb, func() ([][]float32, error) {
			return retry.DoWithResult(ctx, c.retryConfig, func() ([][]float32, error) {
				result, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, contents, embedCfg)
				if err != nil {
					return nil, fmt.Errorf("gemini embedding failed: %w", err)
				}
				if result == nil || len(result.Embeddings) != len(batch) {
					return nil, fmt.Errorf("embedding count mismatch: sent %d", len(batch))
				}
				out := make([][]float32, len(result.Embeddings))
				for j, e := range result.Embeddings {
					out[j] = e.Values
				}
				return out, nil
			})
		})
		metrics.RecordLLMCall(c.Name(), "embed", time.Since(start).Seconds(), err)
		if err != nil {
			return nil, &domain.InferenceError{Op: "embed", Err: err}
		}
		embeddings = append(embeddings, vectors...)
	}

	return embeddings, nil
}

func geminiFailure(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}
	return true
}

func toGenaiSchema(def jsonschema.Definition) *genai.Schema {
	schema := &genai.Schema{
		Description: def.Description,
		Enum:        def.Enum,
		Required:    def.Required,
	}

	switch def.Type {
	case jsonschema.Object:
		schema.Type = genai.TypeObject
	case jsonschema.Array:
		schema.Type = genai.TypeArray
	case jsonschema.Number:
		schema.Type = genai.TypeNumber
	case jsonschema.Integer:
		schema.Type = genai.TypeInteger
	case jsonschema.Boolean:
		schema.Type = genai.TypeBoolean
	default:
		schema.Type = genai.TypeString
	}

	if len(def.Properties) > 0 {
		schema.Properties = make(map[string]*genai.Schema, len(def.Properties))
		for name, prop := range def.Properties {
			schema.Properties[name] = toGenaiSchema(prop)
		}
	}
	if def.Items != nil {
		schema.Items = toGenaiSchema(*def.Items)
	}

	return schema
}

