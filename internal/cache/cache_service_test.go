package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"bot-dashboard/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestCache(t *testing.T) (*CacheService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	cfg := config.RedisConfig{Enabled: true, Address: mr.Addr(), TTL: time.Minute}
	return NewWithClient(client, cfg, zerolog.Nop()), mr
}

func TestNewCacheServiceDisabled(t *testing.T) {
	if _, err := NewCacheService(config.RedisConfig{Enabled: false}, zerolog.Nop()); err == nil {
		t.Error("Expected error when redis is disabled")
	}
}

func TestSetGetDelete(t *testing.T) {
	cs, mr := newTestCache(t)
	ctx := context.Background()

	if !cs.IsHealthy() {
		t.Fatal("Expected healthy cache")
	}

	if _, err := cs.Get(ctx, "missing"); !errors.Is(err, ErrMiss) {
		t.Errorf("Expected ErrMiss, got %v", err)
	}

	if err := cs.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got, _ := cs.Get(ctx, "k"); got != "v" {
		t.Errorf("Expected v, got %q", got)
	}
	if ttl := mr.TTL("k"); ttl != time.Minute {
		t.Errorf("Expected default TTL of 1m, got %v", ttl)
	}

	if err := cs.Delete(ctx, "k"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := cs.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("Expected ErrMiss after delete, got %v", err)
	}
}

func TestJSONRoundTripAndExpiry(t *testing.T) {
	cs, mr := newTestCache(t)
	ctx := context.Background()

	type flag struct {
		Key   string `json:"key"`
		Value bool   `json:"value"`
	}
	if err := cs.SetJSON(ctx, SystemConfigKey("plans_enabled"), flag{"plans_enabled", true}, 10*time.Second); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var got flag
	if err := cs.GetJSON(ctx, SystemConfigKey("plans_enabled"), &got); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !got.Value || got.Key != "plans_enabled" {
		t.Errorf("Unexpected value %+v", got)
	}

	mr.FastForward(11 * time.Second)
	if err := cs.GetJSON(ctx, SystemConfigKey("plans_enabled"), &got); !errors.Is(err, ErrMiss) {
		t.Errorf("Expected ErrMiss after expiry, got %v", err)
	}
}

func TestDeleteMultipleKeys(t *testing.T) {
	cs, mr := newTestCache(t)
	ctx := context.Background()

	cs.Set(ctx, AnnouncementsKey(true), "[]", 0)
	cs.Set(ctx, AnnouncementsKey(false), "[]", 0)
	cs.Set(ctx, SystemConfigKey("x"), "true", 0)

	if err := cs.Delete(ctx, AnnouncementsKey(true), AnnouncementsKey(false)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if mr.Exists(AnnouncementsKey(true)) || mr.Exists(AnnouncementsKey(false)) {
		t.Error("Expected announcement keys removed")
	}
	if !mr.Exists(SystemConfigKey("x")) {
		t.Error("Expected config key to survive")
	}
	if err := cs.Delete(ctx); err != nil {
		t.Errorf("Expected no-op delete, got %v", err)
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	cs, mr := newTestCache(t)
	ctx := context.Background()
	mr.SetError("LOADING redis is down")

	for i := 0; i < cs.br.maxFailures; i++ {
		cs.Set(ctx, "k", "v", 0)
	}

	if cs.IsHealthy() {
		t.Fatal("Expected circuit breaker to open")
	}
	if err := cs.Set(ctx, "k", "v", 0); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
	if stats := cs.GetStats(); stats.Healthy || stats.FailureCount < cs.br.maxFailures {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestCircuitBreakerRecovers(t *testing.T) {
	cs, mr := newTestCache(t)
	ctx := context.Background()
	mr.SetError("LOADING redis is down")
	for i := 0; i < cs.br.maxFailures; i++ {
		cs.Set(ctx, "k", "v", 0)
	}
	if cs.IsHealthy() {
		t.Fatal("Expected circuit breaker to open")
	}

	mr.SetError("")
	cs.br.mu.Lock()
	cs.br.probeEvery = 0
	cs.br.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for !cs.IsHealthy() {
		if time.Now().After(deadline) {
			t.Fatal("Expected breaker to close after a successful probe")
		}
		cs.Get(ctx, "k")
		time.Sleep(5 * time.Millisecond)
	}
	if err := cs.Set(ctx, "k", "v", 0); err != nil {
		t.Errorf("Expected no error after recovery, got %v", err)
	}
}

func TestKeys(t *testing.T) {
	if SystemConfigKey("plans_enabled") != "dashboard:config:plans_enabled" {
		t.Errorf("Unexpected key %s", SystemConfigKey("plans_enabled"))
	}
	if AnnouncementsKey(true) == AnnouncementsKey(false) {
		t.Error("Expected distinct keys for public and full listings")
	}
}
