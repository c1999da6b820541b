package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorExposesCounters(t *testing.T) {
	c := NewCollector()

	c.JobSubmitted()
	c.JobSubmitted()
	c.JobFinished("completed", 1500*time.Millisecond)
	c.JobFinished("failed", 20*time.Millisecond)
	c.CacheHit()
	c.CacheHit()
	c.CacheMiss()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "sweepd_jobs_submitted_total 2")
	assert.Contains(t, body, `sweepd_jobs_finished_total{status="completed"} 1`)
	assert.Contains(t, body, `sweepd_jobs_finished_total{status="failed"} 1`)
	assert.Contains(t, body, "sweepd_cache_hits_total 2")
	assert.Contains(t, body, "sweepd_cache_misses_total 1")
	assert.Contains(t, body, "sweepd_job_duration_seconds_count 2")
}

func TestCollectorsAreIsolated(t *testing.T) {
	a := NewCollector()
	b := NewCollector()

	a.JobSubmitted()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "sweepd_jobs_submitted_total 0")
}
