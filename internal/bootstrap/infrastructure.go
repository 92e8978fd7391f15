// Package bootstrap assembles the annotation pipeline and its backends from
// a loaded Config.  The CLI and the worker share it so that both run the
// same pipeline for the same configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/turtacn/BioAnnotator/internal/config"
	neo4jdriver "github.com/turtacn/BioAnnotator/internal/infrastructure/database/neo4j"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/database/postgres"
	redisclient "github.com/turtacn/BioAnnotator/internal/infrastructure/database/redis"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/database/sqlite"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	opensearchclient "github.com/turtacn/BioAnnotator/internal/infrastructure/search/opensearch"
	minioclient "github.com/turtacn/BioAnnotator/internal/infrastructure/storage/minio"
)

// Needs selects the optional backends a process wants on top of the ones
// the organism tiers already require.
type Needs struct {
	// Postgres backs manual annotations and migrations.
	Postgres bool
	// Redis caches overlays and tier-two lookups.  Skipped when no address
	// is configured.
	Redis bool
	// MinIO holds published dictionary artifacts.
	MinIO bool
	// OpenSearch indexes results.  Skipped when no address is configured.
	OpenSearch bool
}

// Infrastructure holds the opened backend clients.  Unused ones are nil.
type Infrastructure struct {
	Postgres   *postgres.Connection
	Neo4j      *neo4jdriver.Driver
	Redis      *redisclient.Client
	MinIO      *minioclient.Client
	OpenSearch *opensearchclient.Client
	SQLite     *sqlite.OrganismStore

	logger logging.Logger
}

// Open connects to every backend cfg selects plus those named in needs.
// On failure the clients opened so far are closed.
func Open(cfg *config.Config, needs Needs, logger logging.Logger) (*Infrastructure, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	infra := &Infrastructure{logger: logger}

	if needs.Postgres || cfg.Organism.TierOne == "postgres" {
		pg, err := postgres.NewConnection(PostgresConfig(cfg.Database), logger)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		infra.Postgres = pg
	}

	if cfg.Organism.TierOne == "sqlite" {
		store, err := sqlite.OpenOrganismStore(cfg.Organism.SQLitePath)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		infra.SQLite = store
	}

	if cfg.Organism.TierTwo == "neo4j" {
		drv, err := neo4jdriver.NewDriver(Neo4jConfig(cfg.Neo4j), logger)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("neo4j: %w", err)
		}
		infra.Neo4j = drv
	}

	if (needs.Redis || cfg.Organism.TierTwo != "none") && cfg.Redis.Addr != "" {
		rdb, err := redisclient.NewClient(RedisConfig(cfg.Redis), logger)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		infra.Redis = rdb
	}

	if needs.MinIO {
		if cfg.MinIO.Endpoint == "" {
			infra.Close()
			return nil, fmt.Errorf("minio: endpoint is not configured")
		}
		mc, err := minioclient.NewClient(MinIOConfig(cfg.MinIO), logger)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("minio: %w", err)
		}
		infra.MinIO = mc
	}

	if needs.OpenSearch && len(cfg.OpenSearch.Addresses) > 0 {
		osc, err := opensearchclient.NewClient(OpenSearchConfig(cfg.OpenSearch), logger)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("opensearch: %w", err)
		}
		infra.OpenSearch = osc
	}

	logger.Info("infrastructure initialized",
		logging.Bool("postgres", infra.Postgres != nil),
		logging.Bool("sqlite", infra.SQLite != nil),
		logging.Bool("neo4j", infra.Neo4j != nil),
		logging.Bool("redis", infra.Redis != nil),
		logging.Bool("minio", infra.MinIO != nil),
		logging.Bool("opensearch", infra.OpenSearch != nil))
	return infra, nil
}

// Checks returns a health probe per opened backend, keyed by component name.
func (i *Infrastructure) Checks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error)
	if i.Postgres != nil {
		checks["postgres"] = i.Postgres.HealthCheck
	}
	if i.Neo4j != nil {
		checks["neo4j"] = i.Neo4j.HealthCheck
	}
	if i.Redis != nil {
		checks["redis"] = i.Redis.Ping
	}
	if i.MinIO != nil {
		checks["minio"] = i.MinIO.HealthCheck
	}
	if i.OpenSearch != nil {
		checks["opensearch"] = i.OpenSearch.Ping
	}
	return checks
}

type closer struct {
	name  string
	close func() error
}

// Close releases every opened client in reverse dependency order.
func (i *Infrastructure) Close() {
	var closers []closer
	if i.OpenSearch != nil {
		closers = append(closers, closer{"opensearch", i.OpenSearch.Close})
	}
	if i.MinIO != nil {
		closers = append(closers, closer{"minio", i.MinIO.Close})
	}
	if i.Redis != nil {
		closers = append(closers, closer{"redis", i.Redis.Close})
	}
	if i.Neo4j != nil {
		closers = append(closers, closer{"neo4j", i.Neo4j.Close})
	}
	if i.SQLite != nil {
		closers = append(closers, closer{"sqlite", i.SQLite.Close})
	}
	if i.Postgres != nil {
		closers = append(closers, closer{"postgres", i.Postgres.Close})
	}
	for _, c := range closers {
		if err := c.close(); err != nil {
			i.logger.Warn("failed to close backend", logging.String("backend", c.name), logging.Err(err))
		}
	}
}
