package analysis

import "github.com/forecast-agent/backend/internal/llm"

func llmCompletion(prompt string) llm.CompletionRequest {
	return llm.CompletionRequest{UserPrompt: prompt}
}
