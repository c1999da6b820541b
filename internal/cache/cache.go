// Package cache memoizes metric bundles keyed by (instrument, interval,
// parameter combination, data version). It guarantees at most one concurrent
// computation per key: concurrent callers for the same key share a single
// in-flight computation instead of duplicating work.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/aristath/sweepd/internal/domain"
)

// Key identifies one cached metric bundle. DataVersion is an opaque token
// supplied by the caller (content hash or source timestamp); the cache never
// derives freshness from wall-clock time beyond the daily boundary rule.
type Key struct {
	Instrument  string
	Interval    string
	Params      domain.ParameterCombination
	DataVersion string
}

// id returns the singleflight / warm-store identity of the key.
func (k Key) id() string {
	return k.Instrument + "|" + k.Interval + "|" + k.Params.String() + "|" + k.DataVersion
}

// daily reports whether the key refers to daily-interval data, which follows
// the calendar-day freshness rule instead of the intraday TTL.
func (k Key) daily() bool {
	return k.Interval == "1d" || k.Interval == "daily"
}

// Entry is a cached metric bundle. Entries are replaced wholesale, never
// partially updated.
type Entry struct {
	Bundle     *domain.MetricBundle
	ComputedAt time.Time
}

// Stats receives cache hit/miss observations. May be nil.
type Stats interface {
	CacheHit()
	CacheMiss()
}

// Config holds result cache configuration.
type Config struct {
	// ExchangeTZ is the timezone whose calendar-day boundary invalidates
	// daily-interval entries.
	ExchangeTZ *time.Location
	// IntradayTTL bounds the life of intraday entries. Zero means entries
	// stay valid until their data version changes (version is part of the key).
	IntradayTTL time.Duration
	// WarmStore optionally persists daily entries across restarts. Intraday
	// entries are never persisted.
	WarmStore *WarmStore
	Stats     Stats
}

// ResultCache memoizes metric bundles with per-key in-flight deduplication.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[Key]Entry

	group singleflight.Group

	loc         *time.Location
	intradayTTL time.Duration
	warm        *WarmStore
	stats       Stats
	log         zerolog.Logger

	now func() time.Time // Overridable in tests
}

// New creates a result cache. Daily entries still fresh in the warm store are
// loaded back into memory.
func New(cfg Config, log zerolog.Logger) *ResultCache {
	loc := cfg.ExchangeTZ
	if loc == nil {
		loc = time.UTC
	}

	c := &ResultCache{
		entries:     make(map[Key]Entry),
		loc:         loc,
		intradayTTL: cfg.IntradayTTL,
		warm:        cfg.WarmStore,
		stats:       cfg.Stats,
		log:         log.With().Str("component", "result_cache").Logger(),
		now:         time.Now,
	}

	if c.warm != nil {
		loaded, err := c.warm.LoadDaily()
		if err != nil {
			c.log.Warn().Err(err).Msg("Failed to load warm cache entries")
		} else {
			fresh := 0
			for key, entry := range loaded {
				if c.fresh(key, entry) {
					c.entries[key] = entry
					fresh++
				}
			}
			c.log.Info().Int("loaded", fresh).Msg("Warm cache entries restored")
		}
	}

	return c
}

// GetOrCompute returns the cached bundle for key, or invokes compute exactly
// once across all concurrent callers for the same key and memoizes the
// result. Compute failures are never memoized: they surface to the in-flight
// waiter set as a CacheComputeError and the next caller retries.
func (c *ResultCache) GetOrCompute(ctx context.Context, key Key, compute func(context.Context) (*domain.MetricBundle, error)) (*domain.MetricBundle, error) {
	if bundle, ok := c.lookup(key); ok {
		if c.stats != nil {
			c.stats.CacheHit()
		}
		return bundle, nil
	}
	if c.stats != nil {
		c.stats.CacheMiss()
	}

	v, err, _ := c.group.Do(key.id(), func() (interface{}, error) {
		// A waiter queued behind the first computation re-checks after it
		// lands instead of recomputing.
		if bundle, ok := c.lookup(key); ok {
			return bundle, nil
		}

		bundle, err := compute(ctx)
		if err != nil {
			return nil, domain.NewCacheComputeError(err)
		}
		c.store(key, bundle)
		return bundle, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.MetricBundle), nil
}

// lookup returns the entry for key when present and still fresh. Stale
// entries are left in place for the janitor to collect.
func (c *ResultCache) lookup(key Key) (*domain.MetricBundle, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.fresh(key, entry) {
		return nil, false
	}
	return entry.Bundle, true
}

// fresh applies the freshness rules: daily entries are valid until the next
// calendar-day boundary in the exchange timezone; intraday entries expire
// after the configured TTL (zero TTL = valid until the data version changes,
// which produces a different key).
func (c *ResultCache) fresh(key Key, entry Entry) bool {
	now := c.now().In(c.loc)
	if key.daily() {
		computed := entry.ComputedAt.In(c.loc)
		return computed.Year() == now.Year() && computed.YearDay() == now.YearDay()
	}
	if c.intradayTTL <= 0 {
		return true
	}
	return c.now().Sub(entry.ComputedAt) < c.intradayTTL
}

// store replaces the entry for key and persists daily entries to the warm
// store.
func (c *ResultCache) store(key Key, bundle *domain.MetricBundle) {
	entry := Entry{Bundle: bundle, ComputedAt: c.now()}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()

	if c.warm != nil && key.daily() {
		if err := c.warm.Put(key, entry); err != nil {
			c.log.Warn().Err(err).Str("key", key.id()).Msg("Failed to persist cache entry")
		}
	}
}

// PurgeStale removes entries that are no longer fresh and returns how many
// were dropped. The warm store is pruned alongside.
func (c *ResultCache) PurgeStale() int {
	c.mu.Lock()
	removed := 0
	for key, entry := range c.entries {
		if !c.fresh(key, entry) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if c.warm != nil {
		cutoff := c.startOfDay()
		if err := c.warm.DeleteOlderThan(cutoff); err != nil {
			c.log.Warn().Err(err).Msg("Failed to prune warm cache store")
		}
	}

	return removed
}

// startOfDay returns the current calendar-day boundary in the exchange timezone.
func (c *ResultCache) startOfDay() time.Time {
	now := c.now().In(c.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc)
}

// Len returns the number of resident entries, fresh or not.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
