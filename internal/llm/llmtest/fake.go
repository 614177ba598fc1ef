// Package llmtest provides scripted inference and embedding capabilities for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/llm"
)

// Rule answers any prompt containing Match with Response, or fails with Err.
type Rule struct {
	Match    string
	Response string
	Err      error
}

// Inferer replies to prompts by the first rule whose Match occurs in the
// system or user prompt. Unmatched prompts get Default.
type Inferer struct {
	mu      sync.Mutex
	rules   []Rule
	Default string
	prompts []llm.CompletionRequest
}

func NewInferer(rules ...Rule) *Inferer {
	return &Inferer{rules: rules}
}

func (f *Inferer) On(match, response string) *Inferer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, Rule{Match: match, Response: response})
	return f
}

func (f *Inferer) Fail(match string, err error) *Inferer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, Rule{Match: match, Err: err})
	return f
}

func (f *Inferer) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.InferenceError{Op: "complete", Err: err}
	}

	f.mu.Lock()
	f.prompts = append(f.prompts, req)
	rules := append([]Rule(nil), f.rules...)
	def := f.Default
	f.mu.Unlock()

	prompt := req.SystemPrompt + "\n" + req.UserPrompt
	for _, r := range rules {
		if strings.Contains(prompt, r.Match) {
			if r.Err != nil {
				return nil, &domain.InferenceError{Op: "complete", Err: r.Err}
			}
			return &llm.CompletionResponse{Content: r.Response}, nil
		}
	}
	return &llm.CompletionResponse{Content: def}, nil
}

func (f *Inferer) CompleteStructured(ctx context.Context, req llm.CompletionRequest, _ llm.Schema, out any) error {
	resp, err := f.Complete(ctx, req)
	if err != nil {
		return err
	}
	if err := llm.DecodeJSON(resp.Content, out); err != nil {
		return &domain.InferenceError{Op: "structured completion", Err: err}
	}
	return nil
}

// Calls returns how many completions were requested.
func (f *Inferer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// Prompts returns a copy of every request received.
func (f *Inferer) Prompts() []llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.CompletionRequest(nil), f.prompts...)
}

// JSON marshals v for use as a scripted structured response.
func JSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

const dims = 64

// Embedder hashes lower-cased words into a fixed-size bag-of-words vector, so
// texts sharing vocabulary score higher under cosine similarity.
type Embedder struct {
	mu    sync.Mutex
	calls int
	Err   error
}

func (e *Embedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	out, err := e.GenerateBatchEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *Embedder) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if e.Err != nil {
		return nil, &domain.InferenceError{Op: "embed", Err: e.Err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &domain.InferenceError{Op: "embed", Err: err}
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = Vector(text)
	}
	return out, nil
}

func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Vector is the embedding Embedder produces for text.
func Vector(text string) []float32 {
	v := make([]float32, dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%dims]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

var ErrScripted = errors.New("scripted failure")
