package jobs

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sweepd/internal/cache"
	"github.com/aristath/sweepd/internal/domain"
	"github.com/aristath/sweepd/internal/events"
	"github.com/aristath/sweepd/internal/robustness"
	"github.com/aristath/sweepd/internal/sweep"
)

type evaluatorFunc func(domain.PriceSeries, domain.ParameterCombination) (*domain.MetricBundle, error)

func (f evaluatorFunc) Evaluate(s domain.PriceSeries, p domain.ParameterCombination) (*domain.MetricBundle, error) {
	return f(s, p)
}

type sourceFunc func(ctx context.Context, instrument, interval string) (domain.PriceSeries, string, error)

func (f sourceFunc) GetSeries(ctx context.Context, instrument, interval string) (domain.PriceSeries, string, error) {
	return f(ctx, instrument, interval)
}

// peakedEvaluator scores best at (6,15) with positive returns everywhere.
func peakedEvaluator(delay time.Duration) evaluatorFunc {
	return func(_ domain.PriceSeries, p domain.ParameterCombination) (*domain.MetricBundle, error) {
		if delay > 0 {
			time.Sleep(delay)
		}
		dist := math.Abs(float64(p.FastPeriod-6)) + math.Abs(float64(p.SlowPeriod-15))
		return &domain.MetricBundle{TotalReturn: 0.1, Sharpe: 2 / (1 + dist), TradeCount: 30}, nil
	}
}

func flatSource() sourceFunc {
	return func(ctx context.Context, _, _ string) (domain.PriceSeries, string, error) {
		if err := ctx.Err(); err != nil {
			return domain.PriceSeries{}, "", err
		}
		closes := make([]float64, 300)
		for i := range closes {
			closes[i] = 100 + math.Sin(float64(i))
		}
		return domain.PriceSeries{Closes: closes}, "v1", nil
	}
}

type recordingCollector struct {
	submitted int
	finished  map[string]int
}

func (c *recordingCollector) JobSubmitted() { c.submitted++ }
func (c *recordingCollector) JobFinished(status string, _ time.Duration) {
	if c.finished == nil {
		c.finished = make(map[string]int)
	}
	c.finished[status]++
}

func newTestManager(t *testing.T, eval domain.MetricEvaluator, source domain.PriceSource, metrics Collector) *Manager {
	t.Helper()
	log := zerolog.Nop()
	resultCache := cache.New(cache.Config{}, log)
	score := func(b *domain.MetricBundle) float64 { return b.Sharpe }
	engine := sweep.NewEngine(resultCache, eval, source, score, 2, log)
	validator := robustness.NewValidator(eval, score, 2, log)
	return NewManager(engine, validator, source, nil, events.NewManager(events.NewBus(), log), metrics, log)
}

func smallSweep() sweep.Config {
	return sweep.Config{
		Instrument: "AAPL",
		Interval:   "1d",
		Strategies: []domain.StrategyKind{domain.StrategySMACross},
		MinWindow:  5,
		MaxWindow:  16,
	}
}

func TestSubmitRejectsBadConfigWithoutCreatingJob(t *testing.T) {
	collector := &recordingCollector{}
	m := newTestManager(t, peakedEvaluator(0), flatSource(), collector)

	cfg := smallSweep()
	cfg.MaxWindow = cfg.MinWindow // zero fast<slow pairs

	_, err := m.Submit(Request{Sweep: cfg})
	require.Error(t, err)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
	assert.Empty(t, m.List(), "no job may exist for a rejected configuration")
	assert.Zero(t, collector.submitted)
}

func TestRunSyncCompletesWithSelectionAndReport(t *testing.T) {
	collector := &recordingCollector{}
	m := newTestManager(t, peakedEvaluator(0), flatSource(), collector)

	req := Request{
		Sweep:      smallSweep(),
		Robustness: &robustness.Config{NumSimulations: 100, BatchSize: 50, Seed: 17},
	}
	snap, err := m.RunSync(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, snap.Status)
	require.NotNil(t, snap.Result)
	assert.NotEmpty(t, snap.Result.Results)
	require.Len(t, snap.Result.Selections, 1)
	require.Len(t, snap.Result.Reports, 1)

	winner := snap.Result.Selections[0].Winner
	assert.Equal(t, 6, winner.FastPeriod)
	assert.Equal(t, 15, winner.SlowPeriod)
	assert.True(t, snap.Result.Reports[0].Validated)

	assert.Equal(t, 1, collector.submitted)
	assert.Equal(t, 1, collector.finished[string(StatusCompleted)])
}

func TestSubmitAsyncReachesCompleted(t *testing.T) {
	m := newTestManager(t, peakedEvaluator(0), flatSource(), nil)

	snap, err := m.Submit(Request{Sweep: smallSweep()})
	require.NoError(t, err)
	assert.Contains(t, []Status{StatusPending, StatusRunning}, snap.Status)

	require.Eventually(t, func() bool {
		got, err := m.Get(snap.ID)
		return err == nil && got.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	got, err := m.Get(snap.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.Error)
}

func TestSubscriberSeesOrderedEventsAndOneTerminal(t *testing.T) {
	m := newTestManager(t, peakedEvaluator(time.Millisecond), flatSource(), nil)

	snap, err := m.Submit(Request{Sweep: smallSweep()})
	require.NoError(t, err)

	ch, cancel, err := m.Subscribe(snap.ID)
	require.NoError(t, err)
	defer cancel()

	var lastSeq uint64
	var lastPct float64
	terminals := 0
	for ev := range ch {
		assert.Greater(t, ev.Seq, lastSeq, "sequence numbers are strictly increasing")
		lastSeq = ev.Seq
		if ev.Percentage != nil {
			assert.GreaterOrEqual(t, *ev.Percentage, lastPct, "percentage never decreases")
			lastPct = *ev.Percentage
		}
		if ev.Terminal {
			terminals++
			assert.Equal(t, StatusCompleted, ev.Status)
		}
	}
	assert.Equal(t, 1, terminals)
	assert.Equal(t, 100.0, lastPct)
}

func TestCancelRunningJob(t *testing.T) {
	collector := &recordingCollector{}
	m := newTestManager(t, peakedEvaluator(5*time.Millisecond), flatSource(), collector)

	cfg := smallSweep()
	cfg.MaxWindow = 60 // enough work to observe the running state

	snap, err := m.Submit(Request{Sweep: cfg})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.Get(snap.ID)
		return err == nil && got.Status == StatusRunning
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, m.Cancel(snap.ID))

	require.Eventually(t, func() bool {
		got, err := m.Get(snap.ID)
		return err == nil && got.Status == StatusCancelled
	}, 5*time.Second, 10*time.Millisecond)

	// Terminal states accept no further transitions.
	assert.ErrorIs(t, m.Cancel(snap.ID), ErrJobFinished)
	assert.Equal(t, 1, collector.finished[string(StatusCancelled)])

	ch, cancel, err := m.Subscribe(snap.ID)
	require.NoError(t, err)
	defer cancel()
	ev := <-ch
	assert.True(t, ev.Terminal)
	assert.Equal(t, StatusCancelled, ev.Status)
}

func TestFailedJobCarriesErrorTaxonomy(t *testing.T) {
	noData := sourceFunc(func(context.Context, string, string) (domain.PriceSeries, string, error) {
		return domain.PriceSeries{}, "", assert.AnError
	})
	m := newTestManager(t, peakedEvaluator(0), noData, nil)

	snap, err := m.Submit(Request{Sweep: smallSweep()})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.Get(snap.ID)
		return err == nil && got.Status == StatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	got, err := m.Get(snap.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, string(domain.KindDataUnavailable), got.Error.Kind)
	assert.NotEmpty(t, got.Error.Message)

	ch, cancel, err := m.Subscribe(snap.ID)
	require.NoError(t, err)
	defer cancel()
	ev := <-ch
	assert.True(t, ev.Terminal)
	assert.Equal(t, StatusFailed, ev.Status)
	require.NotNil(t, ev.Error)
	assert.Equal(t, string(domain.KindDataUnavailable), ev.Error.Kind)
}

func TestProgressEventsReachBusSubscribers(t *testing.T) {
	log := zerolog.Nop()
	resultCache := cache.New(cache.Config{}, log)
	score := func(b *domain.MetricBundle) float64 { return b.Sharpe }
	eval := peakedEvaluator(0)
	source := flatSource()
	engine := sweep.NewEngine(resultCache, eval, source, score, 2, log)
	validator := robustness.NewValidator(eval, score, 2, log)

	// Handlers run on the emitting goroutine, which for sweep progress is a
	// pool worker; the mutex covers the concurrent appends.
	bus := events.NewBus()
	var mu sync.Mutex
	var progressed []*events.JobProgressData
	completed := 0
	bus.Subscribe(events.JobProgress, func(ev *events.Event) {
		if data, ok := ev.Data.(*events.JobProgressData); ok {
			mu.Lock()
			progressed = append(progressed, data)
			mu.Unlock()
		}
	})
	bus.Subscribe(events.JobCompleted, func(*events.Event) {
		mu.Lock()
		completed++
		mu.Unlock()
	})

	m := NewManager(engine, validator, source, nil, events.NewManager(bus, log), nil, log)
	snap, err := m.RunSync(context.Background(), Request{Sweep: smallSweep()})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, snap.Status)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, progressed)
	assert.Equal(t, snap.ID, progressed[0].JobID)
	assert.Equal(t, string(PhaseSweeping), progressed[0].Phase)
	last := progressed[len(progressed)-1]
	assert.Equal(t, string(PhaseSelecting), last.Phase)
	require.NotNil(t, last.Percentage)
	assert.Equal(t, 100.0, *last.Percentage)
	assert.Equal(t, 1, completed)
}

func TestGetUnknownJob(t *testing.T) {
	m := newTestManager(t, peakedEvaluator(0), flatSource(), nil)

	_, err := m.Get("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, m.Cancel("nope"), ErrJobNotFound)
	_, _, err = m.Subscribe("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestListNewestFirst(t *testing.T) {
	m := newTestManager(t, peakedEvaluator(0), flatSource(), nil)

	first, err := m.Submit(Request{Sweep: smallSweep()})
	require.NoError(t, err)
	second, err := m.Submit(Request{Sweep: smallSweep()})
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}
