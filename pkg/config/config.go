// Package config loads and validates the tree-query configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// the backing store, the query pipeline, summaries, logical partitions, the
// querying command and the reporting sinks.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/tree-query/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Mongo      MongoConfig    `yaml:"mongo"`
	Query      QueryConfig    `yaml:"query"`
	Summary    SummaryConfig  `yaml:"summary"`
	Partitions []string       `yaml:"partitions"`
	Querying   QueryingConfig `yaml:"querying"`
	Redis      RedisConfig    `yaml:"redis"`
	Kafka      KafkaConfig    `yaml:"kafka"`
	Postgres   PostgresConfig `yaml:"postgres"`
	Report     ReportConfig   `yaml:"report"`
	Logging    LoggingConfig  `yaml:"logging"`
	Metrics    MetricsConfig  `yaml:"metrics"`
}

// MongoConfig holds the backing store location. A "memory://<file>" URI
// selects the in-memory store loaded from a JSON-lines file instead.
type MongoConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	Collections    []string      `yaml:"collections"`
	DataBatchSize  int32         `yaml:"dataBatchSize"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	QueryTimeout   time.Duration `yaml:"queryTimeout"`
}

// QueryConfig controls compilation and batching.
type QueryConfig struct {
	BatchSize              int    `yaml:"batchSize"`
	Threads                int    `yaml:"threads"`
	CheckTerminalLeaf      bool   `yaml:"checkTerminalLeaf"`
	InhibitBatchStreamTime bool   `yaml:"inhibitBatchStreamTime"`
	Dots                   bool   `yaml:"dots"`
	PartitionID            string `yaml:"partitionId"`
	Filter                 string `yaml:"filter"`
}

// SummaryConfig points at the schema summary driving type navigation.
type SummaryConfig struct {
	Path string `yaml:"path"`
	Type string `yaml:"type"`
	// Paths optionally gives one summary per collection for explaincolls.
	Paths []string `yaml:"paths"`
}

// QueryingConfig selects the querying mode and its outputs.
type QueryingConfig struct {
	Mode           string `yaml:"mode"`
	Patterns       string `yaml:"patterns"`
	OutputPattern  string `yaml:"outputPattern"`
	DisplayAnswers bool   `yaml:"displayAnswers"`
	// Natives reads native filters (extended JSON, one per line) instead of
	// tree patterns in query mode.
	Natives        bool   `yaml:"natives"`
	OutputMeasures string `yaml:"outputMeasures"`
}

// RedisConfig holds the answer-existence cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds Kafka broker and topic settings for run reports.
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	ReportsTopic string   `yaml:"reportsTopic"`
}

// PostgresConfig holds PostgreSQL connection parameters for run reports.
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

// ReportConfig enables the run report sinks.
type ReportConfig struct {
	Kafka    bool `yaml:"kafka"`
	Postgres bool `yaml:"postgres"`
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

// Query modes.
const (
	ModeEach         = "each"
	ModeStats        = "stats"
	ModeQuery        = "query"
	ModeExplain      = "explain"
	ModeExplainColls = "explaincolls"
)

// Summary types.
const (
	SummaryKey     = "key"
	SummaryKeyType = "key-type"
	SummaryPath    = "path"
)

// Query filter modes.
const (
	FilterNone    = ""
	FilterEmpty   = "empty"
	FilterNoEmpty = "noempty"
)

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Missing values keep their defaults.
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
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "treequery",
			Collections:    []string{"records"},
			DataBatchSize:  100,
			ConnectTimeout: 10 * time.Second,
		},
		Query: QueryConfig{
			BatchSize:              100,
			Threads:                1,
			CheckTerminalLeaf:      true,
			InhibitBatchStreamTime: true,
			PartitionID:            "_id",
		},
		Summary: SummaryConfig{
			Type: SummaryKeyType,
		},
		Querying: QueryingConfig{
			Mode:           ModeExplain,
			OutputMeasures: "-",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			ReportsTopic: "treequery-reports",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "treequery",
			User:            "treequery",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
	}
}

// Validate reports configuration errors up front, before any store
// connection or worker is created.
func (c *Config) Validate() error {
	if c.Query.Threads < 1 {
		return apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.StageConfig,
			"query.threads must be positive, have %d", c.Query.Threads)
	}
	if c.Query.Dots {
		return apperrors.New(apperrors.ErrInvalidConfig, apperrors.StageConfig,
			"query.dots is disabled")
	}
	if len(c.Mongo.Collections) == 0 {
		return apperrors.New(apperrors.ErrInvalidConfig, apperrors.StageConfig,
			"mongo.collections must name at least one collection")
	}
	switch c.Querying.Mode {
	case ModeEach, ModeStats, ModeQuery, ModeExplain, ModeExplainColls:
	default:
		return apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.StageConfig,
			"invalid querying.mode %q", c.Querying.Mode)
	}
	switch c.Summary.Type {
	case SummaryKey, SummaryKeyType, SummaryPath:
	default:
		return apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.StageConfig,
			"invalid summary.type %q (key|key-type|path)", c.Summary.Type)
	}
	switch c.Query.Filter {
	case FilterNone, FilterEmpty, FilterNoEmpty:
	default:
		return apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.StageConfig,
			"invalid query.filter %q (empty|noempty)", c.Query.Filter)
	}
	if len(c.Partitions) > len(c.Mongo.Collections) {
		return apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.StageConfig,
			"%d partitions for %d collections", len(c.Partitions), len(c.Mongo.Collections))
	}
	if c.Querying.OutputPattern != "" && !strings.Contains(c.Querying.OutputPattern, "%s") {
		return apperrors.New(apperrors.ErrInvalidConfig, apperrors.StageConfig,
			"querying.outputPattern must contain %s")
	}
	return nil
}

// PartitionFor returns the partition definition matching the i-th
// collection, or "" when none is configured.
func (c *Config) PartitionFor(i int) string {
	if i < len(c.Partitions) {
		return c.Partitions[i]
	}
	return ""
}

// SummaryFor returns the summary path matching the i-th collection.
func (c *Config) SummaryFor(i int) string {
	if i < len(c.Summary.Paths) {
		return c.Summary.Paths[i]
	}
	return c.Summary.Path
}

// applyEnvOverrides reads TQ_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TQ_MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("TQ_MONGO_DATABASE"); v != "" {
		cfg.Mongo.Database = v
	}
	if v := os.Getenv("TQ_MONGO_COLLECTIONS"); v != "" {
		cfg.Mongo.Collections = strings.Split(v, ",")
	}
	if v := os.Getenv("TQ_QUERY_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Query.BatchSize = n
		}
	}
	if v := os.Getenv("TQ_QUERY_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Query.Threads = n
		}
	}
	if v := os.Getenv("TQ_QUERYING_MODE"); v != "" {
		cfg.Querying.Mode = v
	}
	if v := os.Getenv("TQ_SUMMARY_PATH"); v != "" {
		cfg.Summary.Path = v
	}
	if v := os.Getenv("TQ_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TQ_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TQ_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("TQ_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("TQ_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("TQ_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TQ_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
