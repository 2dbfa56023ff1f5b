package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        int               `mapstructure:"port"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         LogConfig         `mapstructure:"log"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Generator   GeneratorConfig   `mapstructure:"generator"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	FileStore   FileStoreConfig   `mapstructure:"file_store"`
	RAG         RAGConfig         `mapstructure:"rag"`
	CORS        []string          `mapstructure:"cors_allowlist"`
	RateLimit   int               `mapstructure:"rate_limit_ms"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type LogConfig struct {
	File      string `mapstructure:"file"`
	Level     string `mapstructure:"level"`
	FileCount int    `mapstructure:"file_count"`
	FileSize  int    `mapstructure:"file_size"`
	KeepDays  int    `mapstructure:"keep_days"`
	Console   bool   `mapstructure:"console"`
}

type EmbeddingConfig struct {
	Provider  string                 `mapstructure:"provider"`
	Model     string                 `mapstructure:"model"`
	TaskType  string                 `mapstructure:"task_type"`
	Timeout   int                    `mapstructure:"timeout"`
	CacheSize int                    `mapstructure:"cache_size"`
	CacheTTL  int                    `mapstructure:"cache_ttl"`
	DBCache   bool                   `mapstructure:"db_cache"`
	Data      map[string]interface{} `mapstructure:"data"`
}

type GeneratorConfig struct {
	Provider    string                 `mapstructure:"provider"`
	Model       string                 `mapstructure:"model"`
	Timeout     int                    `mapstructure:"timeout"`
	MaxTokens   int                    `mapstructure:"max_tokens"`
	Temperature float64                `mapstructure:"temperature"`
	Stop        []string               `mapstructure:"stop"`
	Data        map[string]interface{} `mapstructure:"data"`
}

type VectorStoreConfig struct {
	Type string                 `mapstructure:"type"`
	Data map[string]interface{} `mapstructure:"data"`
}

type FileStoreConfig struct {
	Enabled bool                   `mapstructure:"enabled"`
	Type    string                 `mapstructure:"type"`
	Data    map[string]interface{} `mapstructure:"data"`
}

type RAGConfig struct {
	ChunkSize         int    `mapstructure:"chunk_size"`
	ChunkOverlap      int    `mapstructure:"chunk_overlap"`
	TopK              int    `mapstructure:"top_k"`
	HistoryQueries    int    `mapstructure:"history_queries"`
	HistoryWindow     int    `mapstructure:"history_window"`
	DefaultCollection string `mapstructure:"default_collection"`
	MaxUploadMB       int    `mapstructure:"max_upload_mb"`
	Extractor         string `mapstructure:"extractor"` // marker or passthrough
}

type JobsConfig struct {
	EmbeddingCacheCleanup JobConfig `mapstructure:"embedding_cache_cleanup"`
	ConversationRetention JobConfig `mapstructure:"conversation_retention"`
}

// JobConfig leaves a job unscheduled while Spec is empty.
type JobConfig struct {
	Spec       string `mapstructure:"spec"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 9003)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/ragdesk.db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.model", "nomic-embed-text:v1.5")
	v.SetDefault("embedding.timeout", 60)
	v.SetDefault("generator.provider", "ollama")
	v.SetDefault("generator.model", "mistral:latest")
	v.SetDefault("generator.timeout", 120)
	v.SetDefault("generator.max_tokens", 200)
	v.SetDefault("generator.temperature", 0.3)
	v.SetDefault("generator.stop", []string{"User:", "Assistant:"})
	v.SetDefault("vector_store.type", "sqlite")
	v.SetDefault("file_store.type", "local")
	v.SetDefault("rag.chunk_size", 1000)
	v.SetDefault("rag.chunk_overlap", 200)
	v.SetDefault("rag.top_k", 3)
	v.SetDefault("rag.history_queries", 3)
	v.SetDefault("rag.history_window", 5)
	v.SetDefault("rag.default_collection", "tickets")
	v.SetDefault("rag.max_upload_mb", 20)
	v.SetDefault("rag.extractor", "marker")
	v.SetDefault("jobs.embedding_cache_cleanup.max_age_days", 30)
	v.SetDefault("jobs.conversation_retention.max_age_days", 90)
}

// Load reads the config file, applies RAGDESK_* environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RAGDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("port is required")
	}
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.DBName == "") {
			return fmt.Errorf("database.dsn or database.host/dbname are required for postgres")
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres")
	}
	if strings.TrimSpace(c.Embedding.Provider) == "" || strings.TrimSpace(c.Embedding.Model) == "" {
		return fmt.Errorf("embedding.provider and embedding.model are required")
	}
	if strings.TrimSpace(c.Generator.Provider) == "" || strings.TrimSpace(c.Generator.Model) == "" {
		return fmt.Errorf("generator.provider and generator.model are required")
	}
	if c.Embedding.Timeout <= 0 {
		c.Embedding.Timeout = 60
	}
	if c.Generator.Timeout <= 0 {
		c.Generator.Timeout = 120
	}
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive")
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size)")
	}
	if c.RAG.TopK <= 0 {
		c.RAG.TopK = 3
	}
	if c.RAG.HistoryQueries < 0 {
		c.RAG.HistoryQueries = 0
	}
	if c.RAG.HistoryWindow < 0 {
		c.RAG.HistoryWindow = 0
	}
	if strings.TrimSpace(c.RAG.DefaultCollection) == "" {
		return fmt.Errorf("rag.default_collection is required")
	}
	c.RAG.Extractor = strings.ToLower(strings.TrimSpace(c.RAG.Extractor))
	switch c.RAG.Extractor {
	case "":
		c.RAG.Extractor = "marker"
	case "marker", "passthrough":
	default:
		return fmt.Errorf("rag.extractor must be marker or passthrough")
	}
	c.VectorStore.Type = strings.ToLower(strings.TrimSpace(c.VectorStore.Type))
	switch c.VectorStore.Type {
	case "sqlite", "pgvector", "qdrant":
	default:
		return fmt.Errorf("vector_store.type must be sqlite, pgvector or qdrant")
	}
	if c.FileStore.Enabled {
		switch strings.ToLower(c.FileStore.Type) {
		case "local", "s3":
		default:
			return fmt.Errorf("file_store.type must be local or s3")
		}
	}
	return nil
}
