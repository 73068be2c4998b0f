// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Content, Search, Review, Sync, Redis, Kafka, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Content  ContentConfig  `yaml:"content"`
	Search   SearchConfig   `yaml:"search"`
	Review   ReviewConfig   `yaml:"review"`
	Sync     SyncConfig     `yaml:"sync"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowOrigins    []string      `yaml:"allowOrigins"`
}

// ContentConfig points at the upstream content API (or a local export) and
// controls the retry policy used when fetching from it.
type ContentConfig struct {
	BaseURL    string        `yaml:"baseUrl" validate:"omitempty,url"`
	LocalDir   string        `yaml:"localDir"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries" validate:"min=0"`
	BaseDelay  time.Duration `yaml:"baseDelay"`
	MaxDelay   time.Duration `yaml:"maxDelay"`
	CacheTTL   time.Duration `yaml:"cacheTTL"`
}

// SearchConfig controls query defaults and index maintenance.
type SearchConfig struct {
	DefaultLimit      int     `yaml:"defaultLimit" validate:"min=1"`
	MaxResults        int     `yaml:"maxResults" validate:"gtefield=DefaultLimit"`
	MinScore          float64 `yaml:"minScore"`
	HistorySize       int     `yaml:"historySize" validate:"min=1"`
	PruneRatio        float64 `yaml:"pruneRatio" validate:"gt=0,lte=1"`
	MinDocsForPruning int     `yaml:"minDocsForPruning" validate:"min=-1"`
}

// ReviewConfig selects the review state store.
type ReviewConfig struct {
	Driver           string        `yaml:"driver" validate:"oneof=sqlite postgres"`
	DataDir          string        `yaml:"dataDir"`
	DefaultDirection string        `yaml:"defaultDirection" validate:"oneof=bg-de de-bg"`
	SessionSize      int           `yaml:"sessionSize" validate:"min=1"`
	SessionTTL       time.Duration `yaml:"sessionTTL"`
}

// SyncConfig controls the offline progress queue.
type SyncConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Endpoint   string        `yaml:"endpoint" validate:"omitempty,url"`
	QueuePath  string        `yaml:"queuePath"`
	QueueSize  int           `yaml:"queueSize" validate:"min=1"`
	MaxRetries int           `yaml:"maxRetries" validate:"min=1"`
	Interval   time.Duration `yaml:"interval"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled bool        `yaml:"enabled"`
	Brokers []string    `yaml:"brokers" validate:"required_if=Enabled true"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SearchEvents string `yaml:"searchEvents"`
	ReviewEvents string `yaml:"reviewEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
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
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Paths starting with ~ are expanded and the result is validated.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("expanding config path %s: %w", path, err)
		}
		data, err := os.ReadFile(expanded)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", expanded, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", expanded, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := expandPaths(cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Content.BaseURL == "" && cfg.Content.LocalDir == "" {
		return nil, fmt.Errorf("invalid config: content.baseUrl or content.localDir is required")
	}
	if cfg.Sync.Enabled && cfg.Sync.Endpoint == "" {
		return nil, fmt.Errorf("invalid config: sync.endpoint is required when sync is enabled")
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowOrigins:    []string{"*"},
		},
		Content: ContentConfig{
			BaseURL:    "http://localhost:1313",
			Timeout:    10 * time.Second,
			MaxRetries: 3,
			BaseDelay:  time.Second,
			MaxDelay:   30 * time.Second,
			CacheTTL:   10 * time.Minute,
		},
		Search: SearchConfig{
			DefaultLimit:      50,
			MaxResults:        200,
			MinScore:          0.1,
			HistorySize:       100,
			PruneRatio:        0.8,
			MinDocsForPruning: 10,
		},
		Review: ReviewConfig{
			Driver:           "sqlite",
			DataDir:          "~/.bgde",
			DefaultDirection: "bg-de",
			SessionSize:      20,
			SessionTTL:       30 * time.Minute,
		},
		Sync: SyncConfig{
			Enabled:    false,
			QueuePath:  "~/.bgde/sync-queue.db",
			QueueSize:  100,
			MaxRetries: 3,
			Interval:   30 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "bgde",
			User:            "bgde",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				SearchEvents: "bgde.search-events",
				ReviewEvents: "bgde.review-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

func expandPaths(cfg *Config) error {
	for _, p := range []*string{&cfg.Review.DataDir, &cfg.Sync.QueuePath, &cfg.Content.LocalDir} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding path %s: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// applyEnvOverrides reads BGDE_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BGDE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BGDE_CONTENT_BASE_URL"); v != "" {
		cfg.Content.BaseURL = v
	}
	if v := os.Getenv("BGDE_CONTENT_LOCAL_DIR"); v != "" {
		cfg.Content.LocalDir = v
	}
	if v := os.Getenv("BGDE_REVIEW_DRIVER"); v != "" {
		cfg.Review.Driver = v
	}
	if v := os.Getenv("BGDE_REVIEW_DATA_DIR"); v != "" {
		cfg.Review.DataDir = v
	}
	if v := os.Getenv("BGDE_REVIEW_DIRECTION"); v != "" {
		cfg.Review.DefaultDirection = v
	}
	if v := os.Getenv("BGDE_SYNC_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Sync.Enabled = enabled
		}
	}
	if v := os.Getenv("BGDE_SYNC_ENDPOINT"); v != "" {
		cfg.Sync.Endpoint = v
	}
	if v := os.Getenv("BGDE_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("BGDE_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("BGDE_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("BGDE_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("BGDE_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("BGDE_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("BGDE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("BGDE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BGDE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BGDE_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
