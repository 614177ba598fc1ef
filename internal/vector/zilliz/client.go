package zilliz

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/llm"
	"github.com/forecast-agent/backend/internal/vector"
	"github.com/forecast-agent/backend/pkg/logger"
)

const (
	fieldChunkID     = "chunk_id"
	fieldEmbedding   = "embedding"
	fieldContent     = "content"
	fieldSourceTitle = "source_title"
	fieldOffset      = "offset"
)

// Client holds the Milvus connection. Every Build creates a private
// collection that is dropped when the returned index is closed.
type Client struct {
	client           client.Client
	collectionPrefix string
	embedder         llm.Embedder
	drop             func(ctx context.Context, collection string) error
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionPrefix string, embedder llm.Embedder) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection_prefix", collectionPrefix),
	)

	return &Client{
		client:           c,
		drop: func(ctx context.Context, collection string) error {
			return c.DropCollection(ctx, collection)
		},
		collectionPrefix: collectionPrefix,
		embedder:         embedder,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) Build(ctx context.Context, chunks []domain.Chunk) (vector.Index, error) {
	embedded, err := vector.Embed(ctx, z.embedder, chunks)
	if err != nil {
		return nil, err
	}

	name := collectionName(z.collectionPrefix)
	dim := len(embedded[0].Vector)

	if err := z.createCollection(ctx, name, dim); err != nil {
		return nil, err
	}

	// From here on the collection exists and must not outlive a failed build.
	idx := &Index{client: z.client, drop: z.drop, embedder: z.embedder, collection: name, size: len(embedded)}
	if err := idx.populate(ctx, embedded, dim); err != nil {
		_ = idx.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	return idx, nil
}

func collectionName(prefix string) string {
	if prefix == "" {
		prefix = "forecast"
	}
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (z *Client) createCollection(ctx context.Context, name string, dim int) error {
	schema := &entity.Schema{
		CollectionName: name,
		Description:    "Per-request transcript chunks",
		Fields: []*entity.Field{
			{
				Name:       fieldChunkID,
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     false,
			},
			{
				Name:     fieldEmbedding,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", dim),
				},
			},
			{
				Name:     fieldContent,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "8192",
				},
			},
			{
				Name:     fieldSourceTitle,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     fieldOffset,
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	logger.Debug("Collection created", zap.String("collection", name), zap.Int("dim", dim))
	return nil
}

type Index struct {
	client     client.Client
	drop       func(ctx context.Context, collection string) error
	embedder   llm.Embedder
	collection string
	size       int
}

func (idx *Index) Len() int {
	return idx.size
}

func (idx *Index) populate(ctx context.Context, chunks []domain.EmbeddedChunk, dim int) error {
	// Vectors are unit length, so inner product ranks by cosine similarity.
	params, err := entity.NewIndexFlat(entity.IP)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := idx.client.CreateIndex(ctx, idx.collection, fieldEmbedding, params, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return idx.insert(ctx, chunks, dim)
}

func (idx *Index) insert(ctx context.Context, chunks []domain.EmbeddedChunk, dim int) error {
	ids := make([]int64, len(chunks))
	embeddings := make([][]float32, len(chunks))
	contents := make([]string, len(chunks))
	titles := make([]string, len(chunks))
	offsets := make([]int64, len(chunks))

	for i, c := range chunks {
		ids[i] = int64(c.SequenceIndex)
		embeddings[i] = c.Vector
		contents[i] = c.Content
		titles[i] = c.SourceTitle
		offsets[i] = int64(c.Offset)
	}

	_, err := idx.client.Insert(
		ctx,
		idx.collection,
		"",
		entity.NewColumnInt64(fieldChunkID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, dim, embeddings),
		entity.NewColumnVarChar(fieldContent, contents),
		entity.NewColumnVarChar(fieldSourceTitle, titles),
		entity.NewColumnInt64(fieldOffset, offsets),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := idx.client.Flush(ctx, idx.collection, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	if err := idx.client.LoadCollection(ctx, idx.collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Debug("Chunks inserted into vector DB",
		zap.String("collection", idx.collection),
		zap.Int("count", len(chunks)),
	)
	return nil
}

func (idx *Index) Query(ctx context.Context, text string, k int) ([]vector.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	query, err := idx.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	sp, err := entity.NewIndexFlatSearchParam()
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := idx.client.Search(
		ctx,
		idx.collection,
		[]string{},
		"",
		[]string{fieldChunkID, fieldContent, fieldSourceTitle, fieldOffset},
		[]entity.Vector{entity.FloatVector(vector.Normalize(query))},
		fieldEmbedding,
		entity.IP,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]vector.SearchResult, 0, k)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn(fieldChunkID)
		contentCol := sr.Fields.GetColumn(fieldContent)
		titleCol := sr.Fields.GetColumn(fieldSourceTitle)
		offsetCol := sr.Fields.GetColumn(fieldOffset)
		if idCol == nil || contentCol == nil || titleCol == nil || offsetCol == nil {
			return nil, fmt.Errorf("search result missing output fields")
		}

		for i := 0; i < sr.ResultCount; i++ {
			id, _ := idCol.Get(i)
			content, _ := contentCol.Get(i)
			title, _ := titleCol.Get(i)
			offset, _ := offsetCol.Get(i)

			seq, _ := id.(int64)
			off, _ := offset.(int64)
			contentStr, _ := content.(string)
			titleStr, _ := title.(string)

			results = append(results, vector.SearchResult{
				Chunk: domain.Chunk{
					Content:       contentStr,
					SourceTitle:   titleStr,
					SequenceIndex: int(seq),
					Offset:        int(off),
				},
				Score: sr.Scores[i],
			})
		}
	}

	sortResults(results)
	return results, nil
}

// sortResults orders by score, breaking ties by chunk order since Milvus
// does not guarantee a stable order among equal scores.
func sortResults(results []vector.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.SequenceIndex < results[j].Chunk.SequenceIndex
	})
}

func (idx *Index) Close(ctx context.Context) error {
	if err := idx.drop(ctx, idx.collection); err != nil {
		logger.Warn("Failed to drop collection", zap.String("collection", idx.collection), zap.Error(err))
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}
