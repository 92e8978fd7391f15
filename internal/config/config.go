// Package config defines the configuration structures of the annotation
// service.  No I/O or parsing logic lives here, only plain data types and
// validation.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
)

// ─────────────────────────────────────────────────────────────────────────────
// Annotation core
// ─────────────────────────────────────────────────────────────────────────────

// AnnotationConfig tunes tokenization and recognition.
type AnnotationConfig struct {
	// MaxWordLength caps n-gram size; 0 derives it from the word limits.
	MaxWordLength      int            `mapstructure:"max_word_length"`
	CategoryWordLimits map[string]int `mapstructure:"category_word_limits"`
	DefaultWordLimit   int            `mapstructure:"default_word_limit"`
	// Categories searched when a job names none.  Empty means all.
	Categories          []string      `mapstructure:"categories"`
	CategoryPriority    []string      `mapstructure:"category_priority"`
	StopWordsPath       string        `mapstructure:"stop_words_path"`
	UseBuiltinStopWords bool          `mapstructure:"use_builtin_stop_words"`
	KeepTrivialTokens   bool          `mapstructure:"keep_trivial_tokens"`
	LookupTimeout       time.Duration `mapstructure:"lookup_timeout"`
	DefaultOrganism     string        `mapstructure:"default_organism"`
	// Styles maps a category to its display color.
	Styles map[string]string `mapstructure:"styles"`
}

// DictionaryConfig locates the per-category dictionary artifacts.
type DictionaryConfig struct {
	Dir   string            `mapstructure:"dir"`
	Paths map[string]string `mapstructure:"paths"`
	// Watch reloads the registry when an artifact is replaced.
	Watch         bool          `mapstructure:"watch"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
	// Prefix is the object-store prefix published artifacts live under.
	Prefix string `mapstructure:"prefix"`
	// SyncInterval is how often the worker pulls artifacts; 0 disables.
	SyncInterval time.Duration `mapstructure:"sync_interval"`
}

// OrganismConfig selects and tunes the two resolution tiers.
type OrganismConfig struct {
	TierOne    string        `mapstructure:"tier_one"` // "postgres" | "sqlite" | "none"
	SQLitePath string        `mapstructure:"sqlite_path"`
	TierTwo    string        `mapstructure:"tier_two"` // "neo4j" | "none"
	Timeout    time.Duration `mapstructure:"timeout"`
	// RateLimit is the minimum interval between tier-two calls; 0 disables.
	RateLimit   time.Duration `mapstructure:"rate_limit"`
	RateBurst   int           `mapstructure:"rate_burst"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	NegativeTTL time.Duration `mapstructure:"negative_ttl"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Infrastructure
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds ops HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// GRPCPort serves the gRPC health protocol; 0 disables it.
	GRPCPort int `mapstructure:"grpc_port"`
	// ProbeInterval is how often dependency health is re-checked.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationPath   string        `mapstructure:"migration_path"`
}

// Neo4jConfig holds the gene/taxonomy graph connection parameters.
type Neo4jConfig struct {
	URI                   string        `mapstructure:"uri"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	MaxConnectionPoolSize int           `mapstructure:"max_connection_pool_size"`
	ConnectionTimeout     time.Duration `mapstructure:"connection_timeout"`
	Database              string        `mapstructure:"database"`
}

// RedisConfig holds Redis connection parameters.  An empty Addr disables the
// cache.
type RedisConfig struct {
	Mode         string        `mapstructure:"mode"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds job transport parameters.
type KafkaConfig struct {
	Brokers           []string      `mapstructure:"brokers"`
	GroupID           string        `mapstructure:"group_id"`
	AutoOffsetReset   string        `mapstructure:"auto_offset_reset"` // "earliest" | "latest"
	JobTopic          string        `mapstructure:"job_topic"`
	ResultTopic       string        `mapstructure:"result_topic"`
	DLQTopic          string        `mapstructure:"dlq_topic"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	AutoCreateTopics  bool          `mapstructure:"auto_create_topics"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
	NumPartitions     int           `mapstructure:"num_partitions"`
}

// OpenSearchConfig holds the annotation index parameters.  No addresses
// disables indexing.
type OpenSearchConfig struct {
	Addresses          []string `mapstructure:"addresses"`
	User               string   `mapstructure:"user"`
	Password           string   `mapstructure:"password"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`
	Index              string   `mapstructure:"index"`
	BulkBatchSize      int      `mapstructure:"bulk_batch_size"`
}

// MinIOConfig holds the dictionary artifact bucket parameters.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// WorkerConfig holds job consumer parameters.
type WorkerConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	JobTimeout  time.Duration `mapstructure:"job_timeout"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level            string   `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format           string   `mapstructure:"format"` // "json" | "console"
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Annotation AnnotationConfig `mapstructure:"annotation"`
	Dictionary DictionaryConfig `mapstructure:"dictionary"`
	Organism   OrganismConfig   `mapstructure:"organism"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Neo4j      Neo4jConfig      `mapstructure:"neo4j"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Log        LogConfig        `mapstructure:"log"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config.
// Backends are only checked when the configuration selects them.
func (c *Config) Validate() error {
	// Annotation
	if _, err := annotation.ParseCategories(c.Annotation.Categories); err != nil {
		return fmt.Errorf("config: annotation.categories: %w", err)
	}
	priority, err := annotation.ParseCategories(c.Annotation.CategoryPriority)
	if err != nil {
		return fmt.Errorf("config: annotation.category_priority: %w", err)
	}
	if _, err := annotation.NewPriority(priority); err != nil {
		return fmt.Errorf("config: annotation.category_priority: %w", err)
	}
	for name, limit := range c.Annotation.CategoryWordLimits {
		if _, err := annotation.ParseCategory(name); err != nil {
			return fmt.Errorf("config: annotation.category_word_limits: %w", err)
		}
		if limit < 1 {
			return fmt.Errorf("config: annotation.category_word_limits.%s must be ≥ 1, got %d", name, limit)
		}
	}
	for name := range c.Annotation.Styles {
		if _, err := annotation.ParseCategory(name); err != nil {
			return fmt.Errorf("config: annotation.styles: %w", err)
		}
	}
	if c.Annotation.LookupTimeout <= 0 {
		return fmt.Errorf("config: annotation.lookup_timeout must be positive")
	}
	if c.Annotation.DefaultOrganism == "" {
		return fmt.Errorf("config: annotation.default_organism is required")
	}

	// Dictionary
	if c.Dictionary.Dir == "" && len(c.Dictionary.Paths) == 0 {
		return fmt.Errorf("config: dictionary.dir is required")
	}
	for name := range c.Dictionary.Paths {
		if _, err := annotation.ParseCategory(name); err != nil {
			return fmt.Errorf("config: dictionary.paths: %w", err)
		}
	}

	// Organism tiers and the backends they select
	switch c.Organism.TierOne {
	case "none":
	case "postgres":
		if err := c.validateDatabase(); err != nil {
			return err
		}
	case "sqlite":
		if c.Organism.SQLitePath == "" {
			return fmt.Errorf("config: organism.sqlite_path is required")
		}
	default:
		return fmt.Errorf("config: organism.tier_one %q is invalid; expected postgres|sqlite|none", c.Organism.TierOne)
	}
	switch c.Organism.TierTwo {
	case "none":
	case "neo4j":
		if c.Neo4j.URI == "" {
			return fmt.Errorf("config: neo4j.uri is required")
		}
	default:
		return fmt.Errorf("config: organism.tier_two %q is invalid; expected neo4j|none", c.Organism.TierTwo)
	}
	if c.Organism.Timeout <= 0 {
		return fmt.Errorf("config: organism.timeout must be positive")
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("config: server.grpc_port %d is out of range [0, 65535]", c.Server.GRPCPort)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	// Redis
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
	}

	// Worker
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be ≥ 1, got %d", c.Worker.Concurrency)
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("config: database.host is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
	}
	if c.Database.User == "" {
		return fmt.Errorf("config: database.user is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("config: database.db_name is required")
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("config: database.max_conns must be ≥ 1, got %d", c.Database.MaxConns)
	}
	return nil
}

// ValidateWorker checks the settings only the job worker needs.
func (c *Config) ValidateWorker() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
	}
	if c.Kafka.GroupID == "" {
		return fmt.Errorf("config: kafka.group_id is required")
	}
	if c.Kafka.JobTopic == "" || c.Kafka.ResultTopic == "" {
		return fmt.Errorf("config: kafka.job_topic and kafka.result_topic are required")
	}
	return c.validateDatabase()
}

// ─────────────────────────────────────────────────────────────────────────────
// Typed accessors
// ─────────────────────────────────────────────────────────────────────────────

// WordLimits converts CategoryWordLimits to typed keys.  Call after Validate.
func (a AnnotationConfig) WordLimits() map[annotation.Category]int {
	out := make(map[annotation.Category]int, len(a.CategoryWordLimits))
	for name, n := range a.CategoryWordLimits {
		if c, err := annotation.ParseCategory(name); err == nil {
			out[c] = n
		}
	}
	return out
}

// CategoryList returns Categories as typed values.  Call after Validate.
func (a AnnotationConfig) CategoryList() []annotation.Category {
	out, _ := annotation.ParseCategories(a.Categories)
	return out
}

// Priority returns the overlap tie-break order.  Call after Validate.
func (a AnnotationConfig) Priority() annotation.Priority {
	order, _ := annotation.ParseCategories(a.CategoryPriority)
	return annotation.MustPriority(order)
}

// Palette returns the configured category colors.
func (a AnnotationConfig) Palette() map[annotation.Category]string {
	out := make(map[annotation.Category]string, len(a.Styles))
	for name, color := range a.Styles {
		if c, err := annotation.ParseCategory(name); err == nil {
			out[c] = color
		}
	}
	return out
}

// CategoryPaths returns the per-category artifact overrides.
func (d DictionaryConfig) CategoryPaths() map[annotation.Category]string {
	out := make(map[annotation.Category]string, len(d.Paths))
	for name, p := range d.Paths {
		if c, err := annotation.ParseCategory(name); err == nil {
			out[c] = p
		}
	}
	return out
}
