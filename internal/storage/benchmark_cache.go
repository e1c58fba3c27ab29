package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/catherinevee/costopt/internal/logger"
	"github.com/catherinevee/costopt/internal/models"
)

// RedisConfig configures the benchmark cache connection
type RedisConfig struct {
	Addr     string        `json:"addr" yaml:"addr"`
	Password string        `json:"password" yaml:"password"`
	DB       int           `json:"db" yaml:"db"`
	Prefix   string        `json:"prefix" yaml:"prefix"`
	TTL      time.Duration `json:"ttl" yaml:"ttl"`
}

// DefaultRedisConfig returns the default cache configuration
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "costopt:benchmark:",
		TTL:    5 * time.Minute,
	}
}

// CachedBenchmarkStore decorates a BenchmarkStore with a Redis read-through
// cache on FindBest lookups. Benchmark writes invalidate nothing; entries
// expire on their TTL, which bounds staleness after a benchmark update.
type CachedBenchmarkStore struct {
	inner  BenchmarkStore
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    logger.Logger
}

// NewCachedBenchmarkStore wraps a benchmark store with a Redis cache.
// The connection is verified before use.
func NewCachedBenchmarkStore(inner BenchmarkStore, config RedisConfig) (*CachedBenchmarkStore, error) {
	if config.Prefix == "" {
		config.Prefix = "costopt:benchmark:"
	}
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &CachedBenchmarkStore{
		inner:  inner,
		client: client,
		prefix: config.Prefix,
		ttl:    config.TTL,
		log:    logger.New("benchmark-cache"),
	}, nil
}

// Close releases the Redis connection
func (c *CachedBenchmarkStore) Close() error {
	return c.client.Close()
}

// CreateBenchmark writes through to the inner store
func (c *CachedBenchmarkStore) CreateBenchmark(ctx context.Context, benchmark *models.Benchmark) error {
	return c.inner.CreateBenchmark(ctx, benchmark)
}

// ListBenchmarks delegates to the inner store
func (c *CachedBenchmarkStore) ListBenchmarks(ctx context.Context) ([]*models.Benchmark, error) {
	return c.inner.ListBenchmarks(ctx)
}

// FindBest consults the cache before the inner store. Cache errors fall
// back to the inner store rather than failing the lookup. A miss with no
// matching benchmark is cached as an empty entry to absorb repeated
// lookups for unbenchmarked services.
func (c *CachedBenchmarkStore) FindBest(
	ctx context.Context,
	serviceType string,
	provider models.CloudProvider,
	region string,
	ownerID *int64,
	at time.Time,
) (*models.Benchmark, error) {
	key := c.cacheKey(serviceType, provider, region, ownerID)

	cached, err := c.client.Get(ctx, key).Result()
	if err == nil {
		if cached == "" {
			return nil, nil
		}
		var benchmark models.Benchmark
		if err := json.Unmarshal([]byte(cached), &benchmark); err == nil && benchmark.ValidAt(at) {
			return &benchmark, nil
		}
	} else if err != redis.Nil {
		c.log.Warn("benchmark cache read failed", logger.Error(err))
	}

	benchmark, err := c.inner.FindBest(ctx, serviceType, provider, region, ownerID, at)
	if err != nil {
		return nil, err
	}

	payload := ""
	if benchmark != nil {
		data, err := json.Marshal(benchmark)
		if err != nil {
			return benchmark, nil
		}
		payload = string(data)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.log.Warn("benchmark cache write failed", logger.Error(err))
	}

	return benchmark, nil
}

func (c *CachedBenchmarkStore) cacheKey(serviceType string, provider models.CloudProvider, region string, ownerID *int64) string {
	owner := "global"
	if ownerID != nil {
		owner = fmt.Sprintf("%d", *ownerID)
	}
	return fmt.Sprintf("%s%s:%s:%s:%s", c.prefix, provider, serviceType, region, owner)
}
