package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/forecast-agent/backend/pkg/config"
)

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Schema describes the JSON shape a structured completion must conform to.
type Schema struct {
	Name        string
	Description string
	Definition  jsonschema.Definition
}

type Inferer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// CompleteStructured decodes a schema-conforming completion into out.
	CompleteStructured(ctx context.Context, req CompletionRequest, schema Schema, out any) error
}

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

type Provider interface {
	Inferer
	Embedder
	Name() string
}

func New(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewClient(cfg), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
