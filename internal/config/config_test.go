package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioAnnotator/internal/config"
	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
)

// validConfig returns a Config that passes Validate() with no backends selected.
func validConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestConfig_Validate_ValidConfig(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_Annotation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"unknown category", func(c *config.Config) { c.Annotation.Categories = []string{"Vitamin"} }, "annotation.categories"},
		{"duplicate priority", func(c *config.Config) { c.Annotation.CategoryPriority = []string{"Gene", "Gene"} }, "annotation.category_priority"},
		{"unknown word limit category", func(c *config.Config) { c.Annotation.CategoryWordLimits = map[string]int{"Vitamin": 2} }, "annotation.category_word_limits"},
		{"zero word limit", func(c *config.Config) { c.Annotation.CategoryWordLimits = map[string]int{"Gene": 0} }, "annotation.category_word_limits.Gene"},
		{"unknown style", func(c *config.Config) { c.Annotation.Styles = map[string]string{"Vitamin": "#fff"} }, "annotation.styles"},
		{"no lookup timeout", func(c *config.Config) { c.Annotation.LookupTimeout = -1 }, "annotation.lookup_timeout"},
		{"unknown dictionary path", func(c *config.Config) { c.Dictionary.Paths = map[string]string{"Vitamin": "v.dict"} }, "dictionary.paths"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestConfig_Validate_TierOnePostgresNeedsDatabase(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Organism.TierOne = "postgres"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.host")

	cfg.Database.Host = "localhost"
	cfg.Database.User = "bioannot"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_TierOneSQLiteNeedsPath(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Organism.TierOne = "sqlite"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "organism.sqlite_path")
}

func TestConfig_Validate_UnknownTier(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Organism.TierTwo = "ncbi"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "organism.tier_two")
}

func TestConfig_Validate_TierTwoNeo4jNeedsURI(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Organism.TierTwo = "neo4j"
	require.Error(t, cfg.Validate())
	cfg.Neo4j.URI = "bolt://localhost:7687"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_InvalidServerPort(t *testing.T) {
	t.Parallel()
	for _, p := range []int{-1, 65536, 100000} {
		cfg := validConfig()
		cfg.Server.Port = p
		err := cfg.Validate()
		require.Error(t, err, "port %d", p)
		assert.Contains(t, err.Error(), "server.port")
	}
}

func TestConfig_Validate_InvalidLog(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Log.Level = "verbose"
	assert.ErrorContains(t, cfg.Validate(), "log.level")

	cfg = validConfig()
	cfg.Log.Format = "xml"
	assert.ErrorContains(t, cfg.Validate(), "log.format")
}

func TestConfig_ValidateWorker(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	assert.ErrorContains(t, cfg.ValidateWorker(), "kafka.brokers")

	cfg.Kafka.Brokers = []string{"localhost:9092"}
	assert.ErrorContains(t, cfg.ValidateWorker(), "database.host")

	cfg.Database.Host = "localhost"
	cfg.Database.User = "bioannot"
	assert.NoError(t, cfg.ValidateWorker())
}

func TestAnnotationConfig_TypedAccessors(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Annotation.Categories = []string{"Gene", "Disease"}
	cfg.Annotation.CategoryPriority = []string{"Gene"}
	cfg.Annotation.Styles = map[string]string{"Gene": "#00ff00"}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []annotation.Category{annotation.CategoryGene, annotation.CategoryDisease}, cfg.Annotation.CategoryList())
	assert.Equal(t, 1, cfg.Annotation.WordLimits()[annotation.CategoryGene])
	assert.Equal(t, annotation.CategoryGene, cfg.Annotation.Priority().Order()[0])
	assert.Equal(t, "#00ff00", cfg.Annotation.Palette()[annotation.CategoryGene])
}
