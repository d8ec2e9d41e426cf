// Package sysconfig serves the operator controlled feature flags.
package sysconfig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bot-dashboard/internal/cache"
	"bot-dashboard/internal/database"
	"bot-dashboard/internal/events"

	"github.com/rs/zerolog"
)

// Feature flag keys
const (
	KeyPlansEnabled         = "plans_enabled"
	KeyAnnouncementsEnabled = "announcements_enabled"
)

// KnownKeys lists the flags operators may change
var KnownKeys = []string{KeyPlansEnabled, KeyAnnouncementsEnabled}

// ErrUnknownKey is returned when setting a flag that does not exist
var ErrUnknownKey = errors.New("unknown config key")

// Store is the persistence the config service needs
type Store interface {
	GetSystemConfig(ctx context.Context, key string) (*database.SystemConfig, error)
	ListSystemConfig(ctx context.Context) ([]*database.SystemConfig, error)
	SetSystemConfig(ctx context.Context, key string, value bool, operatorID string) error
}

// Cache is the subset of the Redis cache used for flags
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Service reads and writes feature flags
type Service struct {
	store  Store
	cache  Cache
	bus    *events.EventBus
	ttl    time.Duration
	logger zerolog.Logger
}

// NewService creates a new config service. cache may be nil.
func NewService(store Store, c Cache, bus *events.EventBus, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Service{
		store:  store,
		cache:  c,
		bus:    bus,
		ttl:    ttl,
		logger: logger.With().Str("component", "sysconfig").Logger(),
	}
}

func isKnown(key string) bool {
	for _, k := range KnownKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Enabled reports whether a flag is on. A missing key or any failure reads as
// enabled so a broken config table never hides features.
func (s *Service) Enabled(ctx context.Context, key string) bool {
	if s.cache != nil {
		var cached bool
		if err := s.cache.GetJSON(ctx, cache.SystemConfigKey(key), &cached); err == nil {
			return cached
		} else if !errors.Is(err, cache.ErrMiss) {
			s.logger.Debug().Err(err).Str("key", key).Msg("Config cache read failed")
		}
	}

	cfg, err := s.store.GetSystemConfig(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to read config flag, defaulting to enabled")
		return true
	}

	value := true
	if cfg != nil {
		value = cfg.Value
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cache.SystemConfigKey(key), value, s.ttl); err != nil {
			s.logger.Debug().Err(err).Str("key", key).Msg("Config cache write failed")
		}
	}
	return value
}

// Get returns a flag with its metadata. A missing key reads as enabled.
func (s *Service) Get(ctx context.Context, key string) (*database.SystemConfig, error) {
	cfg, err := s.store.GetSystemConfig(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	if cfg == nil {
		return &database.SystemConfig{Key: key, Value: true}, nil
	}
	return cfg, nil
}

// List returns every stored flag
func (s *Service) List(ctx context.Context) ([]*database.SystemConfig, error) {
	list, err := s.store.ListSystemConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list config: %w", err)
	}
	if list == nil {
		list = []*database.SystemConfig{}
	}
	return list, nil
}

// Set changes a flag and drops its cached value
func (s *Service) Set(ctx context.Context, key string, value bool, operatorID string) error {
	if !isKnown(key) {
		return ErrUnknownKey
	}
	if err := s.store.SetSystemConfig(ctx, key, value, operatorID); err != nil {
		return fmt.Errorf("failed to set config: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.SystemConfigKey(key)); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to invalidate config cache")
		}
	}

	s.logger.Info().Str("key", key).Bool("value", value).Str("operator_id", operatorID).Msg("Config flag updated")
	s.bus.PublishConfigChanged(key, value)
	return nil
}
