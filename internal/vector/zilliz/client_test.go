package zilliz

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/llm/llmtest"
	"github.com/forecast-agent/backend/internal/vector"
)

func TestCollectionName(t *testing.T) {
	a := collectionName("forecast")
	b := collectionName("forecast")

	assert.True(t, strings.HasPrefix(a, "forecast_"))
	assert.NotContains(t, a, "-")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(collectionName(""), "forecast_"))
}

func TestSortResults_TieBreakByChunkOrder(t *testing.T) {
	results := []vector.SearchResult{
		{Chunk: domain.Chunk{SequenceIndex: 4}, Score: 0.5},
		{Chunk: domain.Chunk{SequenceIndex: 2}, Score: 0.9},
		{Chunk: domain.Chunk{SequenceIndex: 1}, Score: 0.5},
	}

	sortResults(results)

	assert.Equal(t, 2, results[0].Chunk.SequenceIndex)
	assert.Equal(t, 1, results[1].Chunk.SequenceIndex)
	assert.Equal(t, 4, results[2].Chunk.SequenceIndex)
}

// failingIndexMilvus accepts collection creation and rejects index creation.
// Any other call panics through the nil embedded client.
type failingIndexMilvus struct {
	client.Client
	created []string
}

func (f *failingIndexMilvus) CreateCollection(_ context.Context, schema *entity.Schema, _ int32, _ ...client.CreateCollectionOption) error {
	f.created = append(f.created, schema.CollectionName)
	return nil
}

func (f *failingIndexMilvus) CreateIndex(context.Context, string, string, entity.Index, bool, ...client.IndexOption) error {
	return errors.New("index quota exceeded")
}

func TestBuild_DropsCollectionWhenIndexFails(t *testing.T) {
	fake := &failingIndexMilvus{}
	var dropped []string
	z := &Client{
		client:           fake,
		collectionPrefix: "test",
		embedder:         &llmtest.Embedder{},
		drop: func(_ context.Context, collection string) error {
			dropped = append(dropped, collection)
			return nil
		},
	}

	_, err := z.Build(context.Background(), []domain.Chunk{
		{Content: "Revenue grew in BFSI", SourceTitle: "Q1 call"},
	})

	require.ErrorContains(t, err, "index quota exceeded")
	require.Len(t, fake.created, 1)
	assert.Equal(t, fake.created, dropped)
}
