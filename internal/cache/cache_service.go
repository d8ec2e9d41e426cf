// Package cache provides Redis-based caching for feature flags and announcements.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"bot-dashboard/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrMiss is returned by Get and GetJSON when the key is not cached
var ErrMiss = errors.New("cache miss")

// ErrUnavailable is returned while the circuit breaker is open
var ErrUnavailable = errors.New("redis unavailable (circuit breaker open)")

// Key layout
const (
	keyPrefix           = "dashboard:"
	PrefixSystemConfig  = keyPrefix + "config:%s"
	PrefixAnnouncements = keyPrefix + "announcements:%s"
)

// DefaultTTL applies when the configuration leaves TTL unset
const DefaultTTL = 30 * time.Second

// breaker trips after maxFailures consecutive Redis errors and probes again
// once probeEvery has passed.
type breaker struct {
	mu          sync.RWMutex
	open        bool
	failures    int
	lastChange  time.Time
	maxFailures int
	probeEvery  time.Duration
	probing     bool
}

func (b *breaker) allow() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.open
}

// shouldProbe claims the next probe slot while the breaker is open
func (b *breaker) shouldProbe(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open || b.probing || now.Sub(b.lastChange) < b.probeEvery {
		return false
	}
	b.probing = true
	return true
}

// CacheService is a Redis cache that degrades to ErrUnavailable when Redis
// misbehaves. Callers fall back to the database on any error.
type CacheService struct {
	client *redis.Client
	config config.RedisConfig
	logger zerolog.Logger
	br     breaker
}

// Stats is a snapshot of the cache health
type Stats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Address      string `json:"address"`
	PoolSize     int    `json:"pool_size"`
}

// NewCacheService connects to the configured Redis
func NewCacheService(cfg config.RedisConfig, logger zerolog.Logger) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient wraps an existing Redis client. An unreachable server starts
// the service with the breaker open.
func NewWithClient(client *redis.Client, cfg config.RedisConfig, logger zerolog.Logger) *CacheService {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	cs := &CacheService{
		client: client,
		config: cfg,
		logger: logger.With().Str("component", "cache").Logger(),
		br: breaker{
			maxFailures: 3,
			probeEvery:  30 * time.Second,
			lastChange:  time.Now(),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		cs.br.open = true
		cs.logger.Warn().Err(err).Str("address", cfg.Address).Msg("Initial Redis connection failed, running degraded")
		return cs
	}
	cs.logger.Info().Str("address", cfg.Address).Msg("Redis connected")
	return cs
}

// TTL returns the configured entry lifetime
func (cs *CacheService) TTL() time.Duration {
	return cs.config.TTL
}

// IsHealthy reports whether the breaker is closed
func (cs *CacheService) IsHealthy() bool {
	return cs.br.allow()
}

func (cs *CacheService) failed() {
	cs.br.mu.Lock()
	defer cs.br.mu.Unlock()

	cs.br.failures++
	if cs.br.failures >= cs.br.maxFailures && !cs.br.open {
		cs.br.open = true
		cs.br.lastChange = time.Now()
		cs.logger.Warn().Int("failures", cs.br.failures).Msg("Circuit breaker open, Redis marked unhealthy")
	}
}

func (cs *CacheService) succeeded() {
	cs.br.mu.Lock()
	defer cs.br.mu.Unlock()

	if cs.br.open {
		cs.br.lastChange = time.Now()
		cs.logger.Info().Msg("Circuit breaker closed, Redis recovered")
	}
	cs.br.open = false
	cs.br.failures = 0
}

// probe pings Redis in the background while the breaker is open
func (cs *CacheService) probe() {
	if !cs.br.shouldProbe(time.Now()) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		err := cs.client.Ping(ctx).Err()

		cs.br.mu.Lock()
		cs.br.probing = false
		if err != nil {
			cs.br.lastChange = time.Now()
		}
		cs.br.mu.Unlock()

		if err == nil {
			cs.succeeded()
		}
	}()
}

// do runs a Redis command behind the breaker. redis.Nil is a miss, not a failure.
func (cs *CacheService) do(op string, fn func() error) error {
	cs.probe()
	if !cs.br.allow() {
		return ErrUnavailable
	}

	err := fn()
	switch {
	case err == nil:
		cs.succeeded()
		return nil
	case errors.Is(err, redis.Nil):
		cs.succeeded()
		return ErrMiss
	default:
		cs.failed()
		return fmt.Errorf("redis %s failed: %w", op, err)
	}
}

// Get returns the raw cached value
func (cs *CacheService) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := cs.do("get", func() error {
		var err error
		val, err = cs.client.Get(ctx, key).Result()
		return err
	})
	return val, err
}

// Set stores a value. Strings and byte slices are stored as is, anything else
// as JSON. A zero ttl uses the configured TTL.
func (cs *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl == 0 {
		ttl = cs.config.TTL
	}

	var data interface{}
	switch v := value.(type) {
	case string, []byte:
		data = v
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		data = encoded
	}

	return cs.do("set", func() error {
		return cs.client.Set(ctx, key, data, ttl).Err()
	})
}

// Delete removes keys
func (cs *CacheService) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return cs.do("delete", func() error {
		return cs.client.Del(ctx, keys...).Err()
	})
}

// GetJSON decodes a cached JSON value into dest
func (cs *CacheService) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := cs.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

// SetJSON stores value as JSON
func (cs *CacheService) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return cs.Set(ctx, key, value, ttl)
}

// Close closes the Redis connection
func (cs *CacheService) Close() error {
	if cs.client != nil {
		return cs.client.Close()
	}
	return nil
}

// GetStats returns a health snapshot for the health endpoint
func (cs *CacheService) GetStats() Stats {
	cs.br.mu.RLock()
	defer cs.br.mu.RUnlock()

	return Stats{
		Healthy:      !cs.br.open,
		FailureCount: cs.br.failures,
		Address:      cs.config.Address,
		PoolSize:     cs.config.PoolSize,
	}
}

// SystemConfigKey is the cache key of a feature flag
func SystemConfigKey(key string) string {
	return fmt.Sprintf(PrefixSystemConfig, key)
}

// AnnouncementsKey is the cache key of an announcement listing
func AnnouncementsKey(includeHidden bool) string {
	if includeHidden {
		return fmt.Sprintf(PrefixAnnouncements, "all")
	}
	return fmt.Sprintf(PrefixAnnouncements, "public")
}
