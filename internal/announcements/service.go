// Package announcements mirrors the announcement channel into the database
// and serves it to the dashboard.
package announcements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bot-dashboard/internal/cache"
	"bot-dashboard/internal/database"
	"bot-dashboard/internal/events"
	"bot-dashboard/internal/sysconfig"

	"github.com/rs/zerolog"
)

// DefaultLimit is the number of posts returned by List
const DefaultLimit = 50

// ErrNotFound is returned when hiding a post that does not exist
var ErrNotFound = errors.New("announcement not found")

// Source yields new channel posts
type Source interface {
	Fetch(ctx context.Context) ([]*database.Announcement, error)
}

// Store is the persistence the announcements service needs
type Store interface {
	UpsertAnnouncements(ctx context.Context, posts []*database.Announcement) (int, error)
	ListAnnouncements(ctx context.Context, limit int, includeHidden bool) ([]*database.Announcement, error)
	SetAnnouncementHidden(ctx context.Context, id int64, hidden bool, operatorID string) (bool, error)
}

// Flags reports feature flag state
type Flags interface {
	Enabled(ctx context.Context, key string) bool
}

// Cache is the subset of the Redis cache used for listings
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Config tunes the service
type Config struct {
	Limit    int
	CacheTTL time.Duration
}

// Service syncs and lists announcements
type Service struct {
	store  Store
	source Source
	flags  Flags
	cache  Cache
	bus    *events.EventBus
	limit  int
	ttl    time.Duration
	logger zerolog.Logger
}

// NewService creates a new announcements service. source, flags and cache
// may be nil.
func NewService(store Store, source Source, flags Flags, c Cache, bus *events.EventBus, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	return &Service{
		store:  store,
		source: source,
		flags:  flags,
		cache:  c,
		bus:    bus,
		limit:  cfg.Limit,
		ttl:    cfg.CacheTTL,
		logger: logger.With().Str("component", "announcements").Logger(),
	}
}

// Sync pulls new posts from the source and stores them. It returns the
// number of posts written.
func (s *Service) Sync(ctx context.Context) (int, error) {
	if s.source == nil {
		return 0, nil
	}

	posts, err := s.source.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch announcements: %w", err)
	}
	if len(posts) == 0 {
		return 0, nil
	}

	n, err := s.store.UpsertAnnouncements(ctx, posts)
	if n > 0 {
		s.invalidate(ctx)
	}
	if err != nil {
		return n, fmt.Errorf("failed to store announcements: %w", err)
	}

	s.logger.Info().Int("count", n).Msg("Announcements synced")
	s.bus.PublishAnnouncementsUpdated(n)
	return n, nil
}

// Run syncs every interval until ctx is cancelled
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if s.source == nil {
		return
	}

	if _, err := s.Sync(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Announcement sync failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Announcement sync stopped")
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Announcement sync failed")
			}
		}
	}
}

// List returns the newest posts. Hidden posts are only included for
// operators. The public list is empty while announcements are disabled.
func (s *Service) List(ctx context.Context, includeHidden bool) ([]*database.Announcement, error) {
	if !includeHidden && s.flags != nil && !s.flags.Enabled(ctx, sysconfig.KeyAnnouncementsEnabled) {
		return []*database.Announcement{}, nil
	}

	key := cache.AnnouncementsKey(includeHidden)
	if s.cache != nil {
		var cached []*database.Announcement
		if err := s.cache.GetJSON(ctx, key, &cached); err == nil && cached != nil {
			return cached, nil
		} else if err != nil && !errors.Is(err, cache.ErrMiss) {
			s.logger.Debug().Err(err).Msg("Announcement cache read failed")
		}
	}

	posts, err := s.store.ListAnnouncements(ctx, s.limit, includeHidden)
	if err != nil {
		return nil, fmt.Errorf("failed to list announcements: %w", err)
	}
	if posts == nil {
		posts = []*database.Announcement{}
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, posts, s.ttl); err != nil {
			s.logger.Debug().Err(err).Msg("Announcement cache write failed")
		}
	}
	return posts, nil
}

// SetHidden hides or shows a post
func (s *Service) SetHidden(ctx context.Context, id int64, hidden bool, operatorID string) error {
	found, err := s.store.SetAnnouncementHidden(ctx, id, hidden, operatorID)
	if err != nil {
		return fmt.Errorf("failed to update announcement: %w", err)
	}
	if !found {
		return ErrNotFound
	}

	s.invalidate(ctx)
	s.logger.Info().Int64("announcement_id", id).Bool("hidden", hidden).Str("operator_id", operatorID).Msg("Announcement visibility changed")
	s.bus.PublishAnnouncementsUpdated(0)
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.AnnouncementsKey(true), cache.AnnouncementsKey(false)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to invalidate announcement cache")
	}
}
