package config

import (
	"context"
	"fmt"

	"github.com/klejdi94/promptlib/registry"
	"github.com/klejdi94/promptlib/registry/metrics"
	"github.com/klejdi94/promptlib/snapshot"
	"github.com/klejdi94/promptlib/snapshot/s3blob"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// OpenStore builds the configured store. The returned close function releases
// its connections. When cfg.Metrics is set and reg is non-nil the store is
// instrumented on reg.
func OpenStore(ctx context.Context, cfg StoreConfig, reg prometheus.Registerer) (registry.Store, func() error, error) {
	var (
		store   registry.Store
		closeFn = func() error { return nil }
	)
	switch cfg.Backend {
	case "memory":
		store = registry.NewMemoryStore()
	case "sqlite":
		s, err := registry.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = s, s.Close
	case "postgres":
		s, err := registry.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = s, s.Close
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis registry: ping %s: %w", cfg.RedisAddr, err)
		}
		store, closeFn = registry.NewRedisStore(client, cfg.RedisPrefix), client.Close
	default:
		return nil, nil, fmt.Errorf("config: unknown store backend %q", cfg.Backend)
	}
	if cfg.Metrics && reg != nil {
		store = metrics.Chain(store, metrics.Metrics(metrics.NewCollectors(reg)))
	}
	return store, closeFn, nil
}

// OpenBlobStore builds the snapshot blob store: S3 when a bucket is set,
// otherwise the local directory.
func OpenBlobStore(ctx context.Context, cfg SnapshotConfig) (snapshot.BlobStore, error) {
	if cfg.Bucket != "" {
		return s3blob.NewFromConfig(ctx, cfg.Bucket, cfg.Prefix)
	}
	return snapshot.NewDirStore(cfg.Dir)
}
