package memory

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/llm"
	"github.com/forecast-agent/backend/internal/vector"
	"github.com/forecast-agent/backend/pkg/logger"
)

type Builder struct {
	embedder llm.Embedder
}

func NewBuilder(embedder llm.Embedder) *Builder {
	return &Builder{embedder: embedder}
}

func (b *Builder) Build(ctx context.Context, chunks []domain.Chunk) (vector.Index, error) {
	embedded, err := vector.Embed(ctx, b.embedder, chunks)
	if err != nil {
		return nil, err
	}

	logger.Debug("In-memory index built", zap.Int("chunks", len(embedded)))

	return &Index{embedder: b.embedder, chunks: embedded}, nil
}

// Index ranks chunks by cosine similarity. It is immutable after Build and
// safe for concurrent queries.
type Index struct {
	embedder llm.Embedder
	chunks   []domain.EmbeddedChunk
}

func (idx *Index) Len() int {
	return len(idx.chunks)
}

func (idx *Index) Query(ctx context.Context, text string, k int) ([]vector.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	query, err := idx.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	query = vector.Normalize(query)

	results := make([]vector.SearchResult, len(idx.chunks))
	for i, c := range idx.chunks {
		results[i] = vector.SearchResult{Chunk: c.Chunk, Score: vector.Dot(query, c.Vector)}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (idx *Index) Close(context.Context) error {
	return nil
}
