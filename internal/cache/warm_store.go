package cache

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/sweepd/internal/database"
	"github.com/aristath/sweepd/internal/domain"
)

const warmStoreSchema = `
CREATE TABLE IF NOT EXISTS metric_cache (
	cache_key     TEXT PRIMARY KEY,
	instrument    TEXT NOT NULL,
	interval      TEXT NOT NULL,
	strategy      TEXT NOT NULL,
	fast_period   INTEGER NOT NULL,
	slow_period   INTEGER NOT NULL,
	signal_period INTEGER NOT NULL,
	data_version  TEXT NOT NULL,
	computed_at   INTEGER NOT NULL,
	bundle        BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metric_cache_computed ON metric_cache(computed_at);
`

// WarmStore persists daily-interval cache entries in SQLite so a restart does
// not throw away a morning's worth of sweep computation. Bundles are encoded
// with msgpack.
type WarmStore struct {
	db *database.DB
}

// NewWarmStore creates the warm store and applies its schema.
func NewWarmStore(db *database.DB) (*WarmStore, error) {
	if err := db.ExecSchema(warmStoreSchema); err != nil {
		return nil, err
	}
	return &WarmStore{db: db}, nil
}

// Put upserts an entry.
func (s *WarmStore) Put(key Key, entry Entry) error {
	blob, err := msgpack.Marshal(entry.Bundle)
	if err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}

	_, err = s.db.Conn().Exec(`
		INSERT INTO metric_cache
			(cache_key, instrument, interval, strategy, fast_period, slow_period, signal_period, data_version, computed_at, bundle)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET computed_at = excluded.computed_at, bundle = excluded.bundle`,
		key.id(), key.Instrument, key.Interval, string(key.Params.Strategy),
		key.Params.FastPeriod, key.Params.SlowPeriod, key.Params.SignalPeriod,
		key.DataVersion, entry.ComputedAt.UnixMilli(), blob,
	)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// LoadDaily returns every persisted entry. The caller applies freshness rules.
func (s *WarmStore) LoadDaily() (map[Key]Entry, error) {
	rows, err := s.db.Conn().Query(`
		SELECT instrument, interval, strategy, fast_period, slow_period, signal_period, data_version, computed_at, bundle
		FROM metric_cache`)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entries: %w", err)
	}
	defer rows.Close()

	out := make(map[Key]Entry)
	for rows.Next() {
		var (
			key        Key
			strategy   string
			computedAt int64
			blob       []byte
		)
		if err := rows.Scan(&key.Instrument, &key.Interval, &strategy,
			&key.Params.FastPeriod, &key.Params.SlowPeriod, &key.Params.SignalPeriod,
			&key.DataVersion, &computedAt, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		key.Params.Strategy = domain.StrategyKind(strategy)

		var bundle domain.MetricBundle
		if err := msgpack.Unmarshal(blob, &bundle); err != nil {
			// A corrupt blob is skipped, not fatal: it will be recomputed.
			continue
		}
		out[key] = Entry{Bundle: &bundle, ComputedAt: time.UnixMilli(computedAt)}
	}
	return out, rows.Err()
}

// DeleteOlderThan removes entries computed before cutoff.
func (s *WarmStore) DeleteOlderThan(cutoff time.Time) error {
	_, err := s.db.Conn().Exec(`DELETE FROM metric_cache WHERE computed_at < ?`, cutoff.UnixMilli())
	return err
}
