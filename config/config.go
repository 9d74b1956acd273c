// Package config loads promptlib settings from defaults, an optional YAML
// file and PROMPTLIB_* environment variables, and opens the configured
// backends.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full promptlib configuration.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Log      LogConfig      `mapstructure:"log"`
	Paging   PagingConfig   `mapstructure:"paging"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	// Backend is one of memory, sqlite, postgres, redis.
	Backend     string `mapstructure:"backend"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPrefix string `mapstructure:"redis_prefix"`
	// Metrics wraps the store with Prometheus instrumentation.
	Metrics bool `mapstructure:"metrics"`
}

// SnapshotConfig locates snapshot blobs: a local directory, or an S3 bucket
// when Bucket is set.
type SnapshotConfig struct {
	Dir    string `mapstructure:"dir"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

type LogConfig struct {
	Mode string `mapstructure:"mode"`
}

// PagingConfig holds default page sizes for list and search.
type PagingConfig struct {
	ListLimit   int `mapstructure:"list_limit"`
	SearchLimit int `mapstructure:"search_limit"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Backend:     "sqlite",
			SQLitePath:  "promptlib.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "promptlib",
		},
		Snapshot: SnapshotConfig{Dir: "snapshot"},
		Log:      LogConfig{Mode: "dev"},
		Paging:   PagingConfig{ListLimit: 50, SearchLimit: 30},
	}
}

// Load reads the configuration. cfgFile may be empty, in which case
// promptlib.yaml is looked up in the working directory and $HOME/.promptlib
// and is optional.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	d := Default()
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.postgres_dsn", d.Store.PostgresDSN)
	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	v.SetDefault("store.redis_addr", d.Store.RedisAddr)
	v.SetDefault("store.redis_prefix", d.Store.RedisPrefix)
	v.SetDefault("store.metrics", d.Store.Metrics)
	v.SetDefault("snapshot.dir", d.Snapshot.Dir)
	v.SetDefault("snapshot.bucket", d.Snapshot.Bucket)
	v.SetDefault("snapshot.prefix", d.Snapshot.Prefix)
	v.SetDefault("log.mode", d.Log.Mode)
	v.SetDefault("paging.list_limit", d.Paging.ListLimit)
	v.SetDefault("paging.search_limit", d.Paging.SearchLimit)

	// PROMPTLIB_STORE_BACKEND overrides store.backend.
	v.SetEnvPrefix("PROMPTLIB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("promptlib")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.promptlib")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the backend selection and its required settings.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("config: store.sqlite_path is required for the sqlite backend")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("config: store.postgres_dsn is required for the postgres backend")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("config: store.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown store.backend %q (want memory, sqlite, postgres or redis)", c.Store.Backend)
	}
	if c.Snapshot.Bucket == "" && c.Snapshot.Dir == "" {
		return fmt.Errorf("config: snapshot.dir or snapshot.bucket is required")
	}
	return nil
}
