// Package config loads and validates corpusdiff configuration from YAML files
// with environment-variable overrides. It provides typed structs for the
// corpus, analysis defaults, the embedding provider, and the optional
// Redis/PostgreSQL/Kafka integrations.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Corpus    CorpusConfig    `yaml:"corpus"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// CorpusConfig points at the annotated JSONL corpus.
type CorpusConfig struct {
	Path  string `yaml:"path"`
	Limit int    `yaml:"limit"`
}

// GroupConfig is one labelled set of tag match keys.
type GroupConfig struct {
	Label string   `yaml:"label" json:"label"`
	Keys  []string `yaml:"keys" json:"keys"`
}

// AnalysisConfig holds report defaults and grouping presets. Empty preset
// lists fall back to the built-in presets.
type AnalysisConfig struct {
	TopN       int           `yaml:"topN"`
	MinDiff    int           `yaml:"minDiff"`
	POSGroups  []GroupConfig `yaml:"posGroups"`
	DepGroups  []GroupConfig `yaml:"depGroups"`
	USASGroups []GroupConfig `yaml:"usasGroups"`
}

// EmbeddingConfig configures the OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	BaseURL      string        `yaml:"baseURL"`
	APIKey       string        `yaml:"apiKey"`
	Model        string        `yaml:"model"`
	BatchSize    int           `yaml:"batchSize"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"maxAttempts"`
	FailureLimit int           `yaml:"failureLimit"`
}

// ServerConfig holds HTTP server settings for `corpusdiff serve` and the
// report sink.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is requests per minute per client; 0 disables it.
	RateLimit int `yaml:"rateLimit"`
}

// PostgresConfig holds PostgreSQL connection parameters for report snapshots.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds broker and topic settings for report events.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Reports string `yaml:"reports"`
}

// RedisConfig holds Redis connection parameters for the embedding cache.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component could run with.
func (c *Config) Validate() error {
	if c.Corpus.Limit < 0 {
		return fmt.Errorf("corpus.limit must be >= 0, got %d", c.Corpus.Limit)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rateLimit must be >= 0, got %d", c.Server.RateLimit)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batchSize must be > 0, got %d", c.Embedding.BatchSize)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	for _, groups := range [][]GroupConfig{c.Analysis.POSGroups, c.Analysis.DepGroups, c.Analysis.USASGroups} {
		for _, g := range groups {
			if g.Label == "" || len(g.Keys) == 0 {
				return fmt.Errorf("analysis group %q needs a label and at least one key", g.Label)
			}
		}
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Path: "data/output/1_syntax_annotation.jsonl",
		},
		Analysis: AnalysisConfig{
			TopN:    3,
			MinDiff: 2,
		},
		Embedding: EmbeddingConfig{
			BaseURL:      "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Model:        "text-embedding-v4",
			BatchSize:    10,
			Timeout:      30 * time.Second,
			MaxAttempts:  3,
			FailureLimit: 5,
		},
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       60,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "corpusdiff",
			User:            "corpusdiff",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "corpusdiff-reportsink",
			Topics: KafkaTopics{
				Reports: "corpusdiff.reports",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Port: 9091,
		},
	}
}

// applyEnvOverrides reads CD_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CD_CORPUS_PATH"); v != "" {
		cfg.Corpus.Path = v
	}
	if v := os.Getenv("CD_CORPUS_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Corpus.Limit = n
		}
	}
	if v := os.Getenv("CD_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	// LLM_API_KEY is what the annotation pipeline already exports.
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("CD_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("CD_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("CD_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CD_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("CD_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("CD_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("CD_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("CD_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("CD_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("CD_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("CD_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CD_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CD_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CD_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
			cfg.Metrics.Enabled = true
		}
	}
}
