package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix of every setting.
const envPrefix = "BIOANNOT"

// newViper builds a Viper instance with the service's standard settings:
// YAML file type, BIOANNOT_ env prefix, automatic env binding, and a key
// replacer that maps "." to "_" so that "database.host" resolves to
// "BIOANNOT_DATABASE_HOST".
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range []string{
		"annotation.max_word_length", "annotation.default_word_limit",
		"annotation.stop_words_path", "annotation.use_builtin_stop_words",
		"annotation.lookup_timeout", "annotation.default_organism",
		"dictionary.dir", "dictionary.watch", "dictionary.prefix", "dictionary.sync_interval",
		"organism.tier_one", "organism.tier_two", "organism.sqlite_path", "organism.timeout",
		"organism.rate_limit", "organism.cache_ttl",
		"server.port", "server.mode", "server.grpc_port",
		"database.host", "database.port", "database.user", "database.password", "database.db_name",
		"neo4j.uri", "neo4j.user", "neo4j.password",
		"redis.addr", "redis.password", "redis.db",
		"kafka.brokers", "kafka.group_id",
		"opensearch.addresses", "opensearch.user", "opensearch.password",
		"minio.endpoint", "minio.access_key", "minio.secret_key", "minio.bucket",
		"worker.concurrency",
		"log.level", "log.format",
	} {
		_ = v.BindEnv(key)
	}
	v.SetDefault("annotation.use_builtin_stop_words", true)
	return v
}

// Load reads the YAML file at configPath, merges BIOANNOT_* environment
// overrides, applies defaults for unset fields, and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from BIOANNOT_* environment variables.
//
//	BIOANNOT_<SECTION>_<FIELD>   e.g.  BIOANNOT_DICTIONARY_DIR, BIOANNOT_REDIS_ADDR
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

// LoadOrDefault loads configPath when given and falls back to the
// environment otherwise.  The CLI uses it so that local runs need no file.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadFromEnv()
	}
	return Load(configPath)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Watch invokes onChange with the newly parsed Config whenever configPath
// changes on disk.  Invalid revisions are skipped.  Only reload-safe
// settings (log level, dictionary paths) should be applied at runtime.
func Watch(configPath string, onChange func(*Config)) {
	v := newViper()
	v.SetConfigFile(configPath)
	_ = v.ReadInConfig()

	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// MustLoad is Load that panics on error, for use in main().
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
