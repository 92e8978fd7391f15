// Package config provides configuration loading, defaults, and validation for
// the annotation service.
package config

import (
	"time"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultDefaultWordLimit = 6
	DefaultLookupTimeout    = 2 * time.Second
	DefaultOrganism         = annotation.HomoSapiensTaxID

	DefaultDictionaryDir    = "./dictionaries"
	DefaultDictionaryPrefix = "dictionaries/"
	DefaultWatchDebounce    = 500 * time.Millisecond

	DefaultOrganismTier     = "none"
	DefaultOrganismTimeout  = 5 * time.Second
	DefaultOrganismCacheTTL = 24 * time.Hour
	DefaultNegativeTTL      = time.Minute

	DefaultServerPort = 9090
	DefaultServerMode = "release"

	DefaultDBPort     = 5432
	DefaultDBName     = "bioannot"
	DefaultDBMaxConns = 10

	DefaultRedisKeyPrefix = "bioannot:"

	DefaultKafkaGroupID     = "bioannot-worker"
	DefaultKafkaJobTopic    = "annotation.job.requested"
	DefaultKafkaResultTopic = "annotation.job.completed"
	DefaultKafkaDLQTopic    = "annotation.job.requested.dlq"

	DefaultOpenSearchIndex = "annotations"
	DefaultMinIOBucket     = "dictionaries"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultWorkerConcurrency = 4
	DefaultJobTimeout        = 2 * time.Minute
)

// ApplyDefaults fills every zero-value field in cfg with the service default.
// Fields that have already been set are left unchanged so that explicit
// configuration always wins.  Booleans that default to true are seeded by the
// loader instead, since false cannot be told apart from unset here.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Annotation ────────────────────────────────────────────────────────────
	if cfg.Annotation.DefaultWordLimit == 0 {
		cfg.Annotation.DefaultWordLimit = DefaultDefaultWordLimit
	}
	applyWordLimitDefaults(&cfg.Annotation)
	if len(cfg.Annotation.CategoryPriority) == 0 {
		for _, c := range annotation.DefaultPriority {
			cfg.Annotation.CategoryPriority = append(cfg.Annotation.CategoryPriority, string(c))
		}
	}
	if cfg.Annotation.LookupTimeout == 0 {
		cfg.Annotation.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.Annotation.DefaultOrganism == "" {
		cfg.Annotation.DefaultOrganism = DefaultOrganism
	}

	// ── Dictionary ────────────────────────────────────────────────────────────
	if cfg.Dictionary.Dir == "" {
		cfg.Dictionary.Dir = DefaultDictionaryDir
	}
	if cfg.Dictionary.WatchDebounce == 0 {
		cfg.Dictionary.WatchDebounce = DefaultWatchDebounce
	}
	if cfg.Dictionary.Prefix == "" {
		cfg.Dictionary.Prefix = DefaultDictionaryPrefix
	}

	// ── Organism ──────────────────────────────────────────────────────────────
	if cfg.Organism.TierOne == "" {
		cfg.Organism.TierOne = DefaultOrganismTier
	}
	if cfg.Organism.TierTwo == "" {
		cfg.Organism.TierTwo = DefaultOrganismTier
	}
	if cfg.Organism.Timeout == 0 {
		cfg.Organism.Timeout = DefaultOrganismTimeout
	}
	if cfg.Organism.RateBurst == 0 {
		cfg.Organism.RateBurst = 1
	}
	if cfg.Organism.CacheTTL == 0 {
		cfg.Organism.CacheTTL = DefaultOrganismCacheTTL
	}
	if cfg.Organism.NegativeTTL == 0 {
		cfg.Organism.NegativeTTL = DefaultNegativeTTL
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.ProbeInterval == 0 {
		cfg.Server.ProbeInterval = 15 * time.Second
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	// Addr stays empty unless configured: no Redis means no tier-two cache.
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.AutoOffsetReset == "" {
		cfg.Kafka.AutoOffsetReset = "earliest"
	}
	if cfg.Kafka.JobTopic == "" {
		cfg.Kafka.JobTopic = DefaultKafkaJobTopic
	}
	if cfg.Kafka.ResultTopic == "" {
		cfg.Kafka.ResultTopic = DefaultKafkaResultTopic
	}
	if cfg.Kafka.DLQTopic == "" {
		cfg.Kafka.DLQTopic = DefaultKafkaDLQTopic
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = 3
	}
	if cfg.Kafka.RetryBackoff == 0 {
		cfg.Kafka.RetryBackoff = time.Second
	}
	if cfg.Kafka.NumPartitions == 0 {
		cfg.Kafka.NumPartitions = 6
	}
	if cfg.Kafka.ReplicationFactor == 0 {
		cfg.Kafka.ReplicationFactor = 1
	}

	// ── OpenSearch / MinIO ────────────────────────────────────────────────────
	if cfg.OpenSearch.Index == "" {
		cfg.OpenSearch.Index = DefaultOpenSearchIndex
	}
	if cfg.OpenSearch.BulkBatchSize == 0 {
		cfg.OpenSearch.BulkBatchSize = 500
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = DefaultWorkerConcurrency
	}
	if cfg.Worker.JobTimeout == 0 {
		cfg.Worker.JobTimeout = DefaultJobTimeout
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

// defaultCategoryWordLimits are merged under any user-supplied limits.
var defaultCategoryWordLimits = map[annotation.Category]int{
	annotation.CategoryGene: 1,
	annotation.CategoryFood: 4,
}

// applyWordLimitDefaults adds the default limit for every category the user
// did not list.  Keys are matched case-insensitively since viper lower-cases
// map keys.
func applyWordLimitDefaults(a *AnnotationConfig) {
	if a.CategoryWordLimits == nil {
		a.CategoryWordLimits = make(map[string]int, len(defaultCategoryWordLimits))
	}
	listed := make(map[annotation.Category]bool, len(a.CategoryWordLimits))
	for name := range a.CategoryWordLimits {
		if c, err := annotation.ParseCategory(name); err == nil {
			listed[c] = true
		}
	}
	for c, n := range defaultCategoryWordLimits {
		if !listed[c] {
			a.CategoryWordLimits[string(c)] = n
		}
	}
}
