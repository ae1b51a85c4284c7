package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/AnTengye/compliancecheck/backend/config"
	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "compliance:report:"

// ResultCache keeps finished analyses in Redis keyed by document content.
// A nil or disabled cache misses every lookup and drops every write.
type ResultCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewResultCache connects to Redis. When no address is configured or the
// server does not answer, the returned cache is disabled.
func NewResultCache(ctx context.Context, cfg *config.CacheConfig) *ResultCache {
	ttl := time.Duration(cfg.TTLMinutes) * time.Minute
	if cfg.RedisAddr == "" {
		slog.Warn("REDIS_ADDR not set, result caching disabled")
		return &ResultCache{ttl: ttl}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Error("failed to connect to redis, result caching disabled", "addr", cfg.RedisAddr, "error", err)
		rdb.Close()
		return &ResultCache{ttl: ttl}
	}

	slog.Info("connected to redis", "addr", cfg.RedisAddr)
	return &ResultCache{rdb: rdb, ttl: ttl}
}

// ContentKey is the cache key for a document's bytes.
func ContentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c *ResultCache) Enabled() bool {
	return c != nil && c.rdb != nil
}

// Get returns the cached outcome for hash.
func (c *ResultCache) Get(ctx context.Context, hash string) (*AnalysisOutcome, bool) {
	if !c.Enabled() || hash == "" {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, cacheKeyPrefix+hash).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn(ctx, "cache read failed", "error", err)
		}
		return nil, false
	}
	var out AnalysisOutcome
	if err := json.Unmarshal(data, &out); err != nil {
		logger.Warn(ctx, "cache entry corrupt", "error", err)
		return nil, false
	}
	return &out, true
}

// Set stores an outcome. Failures are logged, never returned.
func (c *ResultCache) Set(ctx context.Context, hash string, out *AnalysisOutcome) {
	if !c.Enabled() || hash == "" || out == nil {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		logger.Warn(ctx, "failed to encode cache entry", "error", err)
		return
	}
	if err := c.rdb.Set(ctx, cacheKeyPrefix+hash, data, c.ttl).Err(); err != nil {
		logger.Warn(ctx, "cache write failed", "error", err)
	}
}

func (c *ResultCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Close()
}
