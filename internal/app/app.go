package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/acquisition"
	"github.com/forecast-agent/backend/internal/analysis"
	"github.com/forecast-agent/backend/internal/cache/redis"
	"github.com/forecast-agent/backend/internal/extraction"
	"github.com/forecast-agent/backend/internal/forecast"
	"github.com/forecast-agent/backend/internal/ingestion"
	"github.com/forecast-agent/backend/internal/kg/neo4j"
	"github.com/forecast-agent/backend/internal/llm"
	"github.com/forecast-agent/backend/internal/storage/sqlite"
	"github.com/forecast-agent/backend/internal/vector"
	"github.com/forecast-agent/backend/internal/vector/memory"
	"github.com/forecast-agent/backend/internal/vector/zilliz"
	"github.com/forecast-agent/backend/pkg/config"
	"github.com/forecast-agent/backend/pkg/logger"
)

// Store is the persistence sink the application runs against.
type Store interface {
	forecast.Store
	Ping(ctx context.Context) error
	Close() error
}

type App struct {
	Config  *config.Config
	Store   Store
	Service *forecast.Service

	closers []func(context.Context) error
}

// New wires clients, pipeline components and the forecast service from cfg.
// An invalid inference configuration does not stop startup: every request
// fails at preflight with a configuration error instead.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	var provider llm.Provider
	if cfgErr := cfg.Validate(); cfgErr != nil {
		logger.Warn("Inference is not configured; forecast requests will fail", zap.Error(cfgErr))
	} else {
		provider, err = llm.New(ctx, cfg.LLM)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to create llm provider: %w", err)
		}
		logger.Info("LLM provider initialized", zap.String("provider", provider.Name()))
	}

	builder, err := a.newIndexBuilder(ctx, provider)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	splitter := ingestion.NewSplitter(
		ingestion.WithChunkSize(cfg.Pipeline.ChunkSize),
		ingestion.WithOverlap(cfg.Pipeline.ChunkOverlap),
	)
	processor := ingestion.NewProcessor(splitter, cfg.Pipeline.MinContentLength)

	analyst := analysis.NewTranscriptAnalyst(
		processor,
		builder,
		analysis.NewAnalyzer(provider, time.Duration(cfg.Pipeline.FacetTimeoutSec)*time.Second),
	)
	extractor := extraction.NewExtractor(provider,
		extraction.WithMaxChars(cfg.Pipeline.MaxExtractChars),
		extraction.WithMinLength(cfg.Pipeline.MinContentLength),
		extraction.WithWorkers(cfg.Pipeline.ExtractionWorkers),
	)

	orchestrator := forecast.NewOrchestrator(
		acquisition.NewScraper(cfg.Acquisition),
		extractor,
		extraction.NewTrendSynthesizer(provider),
		analyst,
		forecast.WithPreflight(cfg.Validate),
		forecast.WithFetchWorkers(cfg.Acquisition.FetchWorkers),
	)

	a.Service = forecast.NewService(orchestrator, store, cfg.Storage.HistoryLimit, a.exporters(ctx)...)

	return a, nil
}

func newStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case "", "sqlite":
		client, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite client: %w", err)
		}
		if err := client.InitSchema(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		return client, nil
	case "redis":
		client, err := redis.NewClient(ctx,
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.KeyPrefix,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}
}

func (a *App) newIndexBuilder(ctx context.Context, embedder llm.Embedder) (vector.Builder, error) {
	switch a.Config.Pipeline.IndexBackend {
	case "", "memory":
		return memory.NewBuilder(embedder), nil
	case "milvus":
		client, err := zilliz.NewClient(ctx,
			a.Config.Milvus.Endpoint,
			a.Config.Milvus.APIKey,
			a.Config.Milvus.CollectionPrefix,
			embedder,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Milvus client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported index backend: %s", a.Config.Pipeline.IndexBackend)
	}
}

// exporters connects the optional secondary sinks. A sink that cannot be
// reached at startup is skipped.
func (a *App) exporters(ctx context.Context) []forecast.Exporter {
	var out []forecast.Exporter

	if a.Config.Neo4j.Enabled {
		client, err := neo4j.NewClient(ctx,
			a.Config.Neo4j.URI,
			a.Config.Neo4j.Username,
			a.Config.Neo4j.Password,
			a.Config.Neo4j.Database,
		)
		if err != nil {
			logger.Warn("Neo4j export disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, client.Close)
			out = append(out, client)
		}
	}

	return out
}

// ConfigurationError reports why forecasts cannot run, or nil.
func (a *App) ConfigurationError() error {
	return a.Config.Validate()
}

func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}
