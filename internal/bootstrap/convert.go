package bootstrap

import (
	"time"

	"github.com/turtacn/BioAnnotator/internal/annotation/dictionary"
	"github.com/turtacn/BioAnnotator/internal/annotation/recognition"
	"github.com/turtacn/BioAnnotator/internal/config"
	neo4jdriver "github.com/turtacn/BioAnnotator/internal/infrastructure/database/neo4j"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/database/postgres"
	redisclient "github.com/turtacn/BioAnnotator/internal/infrastructure/database/redis"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	opensearchclient "github.com/turtacn/BioAnnotator/internal/infrastructure/search/opensearch"
	minioclient "github.com/turtacn/BioAnnotator/internal/infrastructure/storage/minio"
)

// NewLogger builds the process logger.  It also becomes logging.Default.
func NewLogger(cfg config.LogConfig) (logging.Logger, error) {
	logger, err := logging.NewLogger(logging.LogConfig{
		Level:            cfg.Level,
		Format:           cfg.Format,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: cfg.ErrorOutputPaths,
	})
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)
	return logger, nil
}

func PostgresConfig(c config.DatabaseConfig) postgres.Config {
	return postgres.Config{
		Host:            c.Host,
		Port:            c.Port,
		Database:        c.DBName,
		Username:        c.User,
		Password:        c.Password,
		SSLMode:         c.SSLMode,
		MaxOpenConns:    c.MaxConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
}

// MigrationURL is the golang-migrate URL of the configured database.
func MigrationURL(c config.DatabaseConfig) string {
	return postgres.DSN(PostgresConfig(c))
}

func Neo4jConfig(c config.Neo4jConfig) neo4jdriver.Config {
	return neo4jdriver.Config{
		URI:                          c.URI,
		Username:                     c.User,
		Password:                     c.Password,
		Database:                     c.Database,
		MaxConnectionPoolSize:        c.MaxConnectionPoolSize,
		ConnectionAcquisitionTimeout: c.ConnectionTimeout,
	}
}

func RedisConfig(c config.RedisConfig) redisclient.Config {
	return redisclient.Config{
		Mode:         c.Mode,
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		KeyPrefix:    c.KeyPrefix,
	}
}

func MinIOConfig(c config.MinIOConfig) minioclient.Config {
	return minioclient.Config{
		Endpoint:     c.Endpoint,
		AccessKey:    c.AccessKey,
		SecretKey:    c.SecretKey,
		UseSSL:       c.UseSSL,
		Bucket:       c.Bucket,
		CreateBucket: true,
	}
}

func OpenSearchConfig(c config.OpenSearchConfig) opensearchclient.ClientConfig {
	return opensearchclient.ClientConfig{
		Addresses:          c.Addresses,
		Username:           c.User,
		Password:           c.Password,
		InsecureSkipVerify: c.InsecureSkipVerify,
		MaxRetries:         3,
		RequestTimeout:     30 * time.Second,
	}
}

func IndexerConfig(c config.OpenSearchConfig) opensearchclient.IndexerConfig {
	return opensearchclient.IndexerConfig{Index: c.Index, BulkBatchSize: c.BulkBatchSize}
}

// ConsumerConfig subscribes the worker group to the job topic.  Failed jobs
// go to the dead-letter topic after MaxRetries.
func ConsumerConfig(c config.KafkaConfig, w config.WorkerConfig) kafka.ConsumerConfig {
	return kafka.ConsumerConfig{
		Brokers:         c.Brokers,
		GroupID:         c.GroupID,
		Topics:          []string{c.JobTopic},
		AutoOffsetReset: c.AutoOffsetReset,
		Concurrency:     w.Concurrency,
		RetryConfig: kafka.RetryConfig{
			MaxRetries:      c.MaxRetries,
			RetryBackoff:    c.RetryBackoff,
			MaxRetryBackoff: 30 * time.Second,
			DeadLetterTopic: c.DLQTopic,
		},
	}
}

func ProducerConfig(c config.KafkaConfig) kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:    c.Brokers,
		Acks:       "all",
		MaxRetries: c.MaxRetries,
	}
}

// RecognitionConfig maps the annotation section onto the engine.
func RecognitionConfig(c config.AnnotationConfig) recognition.Config {
	return recognition.Config{
		Priority:         c.Priority(),
		WordLimits:       c.WordLimits(),
		DefaultWordLimit: c.DefaultWordLimit,
		LookupTimeout:    c.LookupTimeout,
	}
}

func RegistryConfig(c *config.Config) dictionary.RegistryConfig {
	return dictionary.RegistryConfig{
		Dir:   c.Dictionary.Dir,
		Paths: c.Dictionary.CategoryPaths(),
	}
}
