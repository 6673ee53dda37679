// Package cache provides a best-effort result cache keyed by image digest
// and analysis options. Cache failures are never surfaced to callers; a
// broken cache degrades to recomputation, not to request errors.
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lenslab/vision-gateway/internal/app/domain/analysis"
	"github.com/lenslab/vision-gateway/pkg/logger"
)

// ResultCache stores completed analysis results.
type ResultCache interface {
	Get(ctx context.Context, key string) (analysis.Result, bool)
	Set(ctx context.Context, key string, result analysis.Result)
}

// Key builds the cache key for one analysis. The digest identifies the image
// bytes (or source URL), so identical inputs with identical options share an
// entry regardless of which stored image they arrived through.
func Key(digest string, mode analysis.Mode, language string, features []string) string {
	normalized := make([]string, 0, len(features))
	for _, f := range features {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			normalized = append(normalized, f)
		}
	}
	sort.Strings(normalized)

	parts := []string{
		"analysis",
		digest,
		string(mode),
		strings.ToLower(strings.TrimSpace(language)),
		strings.Join(normalized, ","),
	}
	return strings.Join(parts, ":")
}

// Redis is a ResultCache on a Redis server.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

var _ ResultCache = (*Redis)(nil)

// NewRedis connects a cache to the given Redis address. A zero ttl keeps
// entries for one hour.
func NewRedis(addr, password string, db int, ttl time.Duration, log *logger.Logger) *Redis {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if log == nil {
		log = logger.NewDefault("result-cache")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: client, ttl: ttl, log: log}
}

// Ping verifies the connection, for readiness checks.
func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Redis) Close() error {
	return c.client.Close()
}

func (c *Redis) Get(ctx context.Context, key string) (analysis.Result, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("cache read failed")
		}
		return analysis.Result{}, false
	}

	var result analysis.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.log.WithError(err).Warn("cache entry corrupt, treating as miss")
		return analysis.Result{}, false
	}
	return result, true
}

func (c *Redis) Set(ctx context.Context, key string, result analysis.Result) {
	data, err := json.Marshal(result)
	if err != nil {
		c.log.WithError(err).Warn("cache encode failed")
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("cache write failed")
	}
}
