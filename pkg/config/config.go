package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/forecast-agent/backend/internal/domain"
)

type Config struct {
	Server      ServerConfig
	SQLite      SQLiteConfig
	Redis       RedisConfig
	Neo4j       Neo4jConfig
	Milvus      MilvusConfig
	LLM         LLMConfig
	Acquisition AcquisitionConfig
	Pipeline    PipelineConfig
	Storage     StorageConfig
	RateLimit   RateLimitConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	AllowOrigins string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type MilvusConfig struct {
	Endpoint         string
	APIKey           string
	CollectionPrefix string
}

type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

type AcquisitionConfig struct {
	BaseURL        string
	UserAgent      string
	TimeoutSec     int
	RequestsPerSec float64
	Burst          int
	MaxBodyBytes   int64
	FetchWorkers   int
}

type PipelineConfig struct {
	ChunkSize         int
	ChunkOverlap      int
	MinContentLength  int
	MaxExtractChars   int
	ExtractionWorkers int
	FacetTimeoutSec   int
	// IndexBackend selects the per-request semantic index: "memory" or "milvus".
	IndexBackend string
}

type StorageConfig struct {
	// Backend selects the persistence sink: "sqlite" or "redis".
	Backend      string
	HistoryLimit int
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/forecast-agent")

	v.SetEnvPrefix("FORECAST_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.LLM.APIKey == "" {
		config.LLM.APIKey = providerKeyFromEnv(config.LLM.Provider)
	}

	return &config, nil
}

func providerKeyFromEnv(provider string) string {
	switch provider {
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}

// Validate reports problems that make every forecast request fail.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return &domain.ConfigurationError{Field: "llm.apiKey", Reason: "inference credential is not configured"}
	}
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return &domain.ConfigurationError{Field: "llm.provider", Reason: fmt.Sprintf("unsupported provider %q", c.LLM.Provider)}
	}
	if c.Pipeline.ChunkSize <= 0 {
		return &domain.ConfigurationError{Field: "pipeline.chunkSize", Reason: "must be positive"}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 300)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowOrigins", "*")

	v.SetDefault("sqlite.path", "./data/forecast_agent.db")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.keyPrefix", "forecast")

	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("milvus.endpoint", "localhost:19530")
	v.SetDefault("milvus.apiKey", "")
	v.SetDefault("milvus.collectionPrefix", "forecast")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.maxTokens", 2048)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)

	v.SetDefault("acquisition.baseURL", "https://www.screener.in")
	v.SetDefault("acquisition.userAgent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("acquisition.timeoutSec", 30)
	v.SetDefault("acquisition.requestsPerSec", 2.0)
	v.SetDefault("acquisition.burst", 2)
	v.SetDefault("acquisition.maxBodyBytes", 50<<20)
	v.SetDefault("acquisition.fetchWorkers", 4)

	v.SetDefault("pipeline.chunkSize", 1000)
	v.SetDefault("pipeline.chunkOverlap", 200)
	v.SetDefault("pipeline.minContentLength", 100)
	v.SetDefault("pipeline.maxExtractChars", 15000)
	v.SetDefault("pipeline.extractionWorkers", 4)
	v.SetDefault("pipeline.facetTimeoutSec", 90)
	v.SetDefault("pipeline.indexBackend", "memory")

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.historyLimit", 10)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requestsPerMinute", 10)
	v.SetDefault("ratelimit.burst", 3)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
