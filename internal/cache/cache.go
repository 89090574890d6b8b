/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for resolved
// assignments and scope lookups. Keys embed the date, so entries for a new
// day never collide with yesterday's; the TTL only bounds storage.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/muninn_rounds/internal/models"
	"github.com/friendsincode/muninn_rounds/internal/telemetry"
)

// Default TTL values for different cache types
const (
	// DefaultAssignmentTTL outlives the calendar day it was written on in
	// any timezone, then lets the entry lapse.
	DefaultAssignmentTTL = 26 * time.Hour
	DefaultLocationTTL   = 1 * time.Hour
	DefaultWindowTTL     = 1 * time.Hour
)

// Key prefixes for Redis cache
const (
	KeyAssignment = "muninn:cache:assignment:" // + date:brand_id:location_id:slot
	KeyLocation   = "muninn:cache:location:"   // + location_id
	KeyWindows    = "muninn:cache:windows:"    // + location_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	AssignmentTTL time.Duration
	LocationTTL   time.Duration
	WindowTTL     time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		AssignmentTTL:  DefaultAssignmentTTL,
		LocationTTL:    DefaultLocationTTL,
		WindowTTL:      DefaultWindowTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback. Resolution
// is deterministic, so a dead cache only costs recomputation; every path
// degrades to a miss rather than an error.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Assignment caching methods. The Get/Set pair backs the resolver's cache
// tier, so failures surface as misses and successful writes are silent.

func assignmentKey(date string, brandID uint, locationID string, slot models.SlotType) string {
	return fmt.Sprintf("%s%s:%d:%s:%s", KeyAssignment, date, brandID, locationID, slot)
}

// GetAssignment retrieves a cached assignment for one resolution key.
func (c *Cache) GetAssignment(ctx context.Context, date string, brandID uint, locationID string, slot models.SlotType) (*models.Task, bool) {
	var task models.Task
	found, err := c.get(ctx, assignmentKey(date, brandID, locationID, slot), &task)
	if err != nil || !found {
		telemetry.CacheMissesTotal.WithLabelValues("assignment").Inc()
		return nil, false
	}

	telemetry.CacheHitsTotal.WithLabelValues("assignment").Inc()
	c.logger.Debug().
		Str("date", date).
		Str("location_id", locationID).
		Str("slot", string(slot)).
		Msg("assignment cache hit")
	return &task, true
}

// SetAssignment caches a resolved assignment.
func (c *Cache) SetAssignment(ctx context.Context, date string, brandID uint, locationID string, slot models.SlotType, task *models.Task) {
	if err := c.set(ctx, assignmentKey(date, brandID, locationID, slot), task, c.config.AssignmentTTL); err != nil {
		c.logger.Debug().Err(err).Msg("failed to cache assignment")
	}
}

// InvalidateAssignments removes every cached assignment. Used when a
// global task changes and any brand's draw could shift.
func (c *Cache) InvalidateAssignments(ctx context.Context) error {
	c.logger.Debug().Msg("invalidating all assignment caches")
	return c.deletePattern(ctx, KeyAssignment+"*")
}

// InvalidateBrandAssignments removes cached assignments for one brand.
func (c *Cache) InvalidateBrandAssignments(ctx context.Context, brandID uint) error {
	c.logger.Debug().Uint("brand_id", brandID).Msg("invalidating brand assignment caches")
	return c.deletePattern(ctx, fmt.Sprintf("%s*:%d:*", KeyAssignment, brandID))
}

// Location caching methods

// GetLocation retrieves a cached location by ID.
func (c *Cache) GetLocation(ctx context.Context, id string) (*models.Location, bool) {
	var loc models.Location
	found, err := c.get(ctx, KeyLocation+id, &loc)
	if err != nil || !found {
		telemetry.CacheMissesTotal.WithLabelValues("location").Inc()
		return nil, false
	}

	telemetry.CacheHitsTotal.WithLabelValues("location").Inc()
	return &loc, true
}

// SetLocation caches a location.
func (c *Cache) SetLocation(ctx context.Context, loc *models.Location) {
	if err := c.set(ctx, KeyLocation+loc.ID, loc, c.config.LocationTTL); err != nil {
		c.logger.Debug().Err(err).Str("location_id", loc.ID).Msg("failed to cache location")
	}
}

// InvalidateLocation removes a location from cache.
func (c *Cache) InvalidateLocation(ctx context.Context, id string) error {
	c.logger.Debug().Str("location_id", id).Msg("invalidating location cache")
	return c.delete(ctx, KeyLocation+id)
}

// Window caching methods

// CachedWindow is one effective check-in window for a location.
type CachedWindow struct {
	Slot  models.SlotType `json:"slot"`
	Start string          `json:"start"`
	End   string          `json:"end"`
}

// GetWindows retrieves the cached effective windows for a location.
func (c *Cache) GetWindows(ctx context.Context, locationID string) ([]CachedWindow, bool) {
	var windows []CachedWindow
	found, err := c.get(ctx, KeyWindows+locationID, &windows)
	if err != nil || !found {
		telemetry.CacheMissesTotal.WithLabelValues("windows").Inc()
		return nil, false
	}

	telemetry.CacheHitsTotal.WithLabelValues("windows").Inc()
	c.logger.Debug().Str("location_id", locationID).Int("count", len(windows)).Msg("windows cache hit")
	return windows, true
}

// SetWindows caches the effective windows for a location.
func (c *Cache) SetWindows(ctx context.Context, locationID string, windows []CachedWindow) error {
	return c.set(ctx, KeyWindows+locationID, windows, c.config.WindowTTL)
}

// InvalidateWindows removes every cached window set. Window changes land
// at brand scope, which fans out to an unknown set of locations.
func (c *Cache) InvalidateWindows(ctx context.Context) error {
	c.logger.Debug().Msg("invalidating window caches")
	return c.deletePattern(ctx, KeyWindows+"*")
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, "muninn:cache:*")
}
