package cache

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/sweepd/internal/events"
)

// Janitor purges stale cache entries at the exchange-timezone midnight, the
// moment the daily freshness boundary rolls over.
type Janitor struct {
	cache  *ResultCache
	cron   *cron.Cron
	events *events.Manager
	log    zerolog.Logger
}

// NewJanitor creates a janitor scheduled in the cache's exchange timezone.
func NewJanitor(cache *ResultCache, em *events.Manager, log zerolog.Logger) *Janitor {
	return &Janitor{
		cache:  cache,
		cron:   cron.New(cron.WithLocation(cache.loc)),
		events: em,
		log:    log.With().Str("component", "cache_janitor").Logger(),
	}
}

// Start schedules the midnight purge. Returns an error only on an invalid
// schedule expression.
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc("0 0 * * *", func() {
		removed := j.cache.PurgeStale()
		j.log.Info().Int("removed", removed).Msg("Purged stale cache entries")
		if j.events != nil && removed > 0 {
			j.events.EmitTyped("cache", &events.CachePurgedData{Removed: removed})
		}
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running purge to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}
