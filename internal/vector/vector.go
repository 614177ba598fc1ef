package vector

import (
	"context"
	"fmt"
	"math"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/llm"
	"github.com/forecast-agent/backend/internal/metrics"
)

type SearchResult struct {
	Chunk domain.Chunk
	Score float32
}

// Index is a read-only semantic index built for a single request.
type Index interface {
	// Query returns up to k chunks ranked by similarity to text, most similar
	// first, ties in original chunk order.
	Query(ctx context.Context, text string, k int) ([]SearchResult, error)
	Len() int
	Close(ctx context.Context) error
}

type Builder interface {
	Build(ctx context.Context, chunks []domain.Chunk) (Index, error)
}

// Embed attaches a unit-length vector to every chunk. An empty corpus fails
// with domain.ErrEmptyCorpus before any embedding call.
func Embed(ctx context.Context, embedder llm.Embedder, chunks []domain.Chunk) ([]domain.EmbeddedChunk, error) {
	if len(chunks) == 0 {
		return nil, domain.ErrEmptyCorpus
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := embedder.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vectors), len(chunks))
	}

	embedded := make([]domain.EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		embedded[i] = domain.EmbeddedChunk{Chunk: c, Vector: Normalize(vectors[i])}
	}

	metrics.ChunksIndexed.Observe(float64(len(embedded)))
	return embedded, nil
}

// Normalize returns v scaled to unit length. Zero vectors are returned as is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	n := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

func Dot(a, b []float32) float32 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}
