package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/sweepd/internal/domain"
	"github.com/aristath/sweepd/internal/events"
	"github.com/aristath/sweepd/internal/robustness"
	"github.com/aristath/sweepd/internal/selection"
	"github.com/aristath/sweepd/internal/sweep"
)

// ErrJobNotFound is returned for lookups of unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrJobFinished is returned when cancelling a job already in a terminal
// state.
var ErrJobFinished = errors.New("job already finished")

// Collector receives job lifecycle observations. The manager takes it by
// reference so wiring stays explicit; a nil collector disables metrics.
type Collector interface {
	JobSubmitted()
	JobFinished(status string, duration time.Duration)
}

// managedJob pairs a job with its progress plumbing. The run goroutine is
// the only writer of job state; the mutex covers snapshot reads.
type managedJob struct {
	mu      sync.Mutex
	job     *Job
	tracker *tracker
	hub     *hub
}

// Manager orchestrates sweep jobs: it owns the registry, drives the
// sweep/select/validate pipeline and fans progress out to subscribers.
type Manager struct {
	engine    *sweep.Engine
	validator *robustness.Validator
	source    domain.PriceSource
	store     domain.Persister
	events    *events.Manager
	metrics   Collector
	log       zerolog.Logger

	mu    sync.RWMutex
	jobs  map[string]*managedJob
	order []string
}

// NewManager wires the orchestrator. store and metrics may be nil.
func NewManager(
	engine *sweep.Engine,
	validator *robustness.Validator,
	source domain.PriceSource,
	store domain.Persister,
	eventManager *events.Manager,
	metrics Collector,
	log zerolog.Logger,
) *Manager {
	return &Manager{
		engine:    engine,
		validator: validator,
		source:    source,
		store:     store,
		events:    eventManager,
		metrics:   metrics,
		log:       log.With().Str("component", "job_manager").Logger(),
		jobs:      make(map[string]*managedJob),
	}
}

// Submit validates the request and starts an asynchronous job. Configuration
// errors are returned immediately and no job is ever created for them.
func (m *Manager) Submit(req Request) (Snapshot, error) {
	mj, err := m.register(req)
	if err != nil {
		return Snapshot{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	mj.job.cancel = cancel
	go func() {
		defer cancel()
		m.run(ctx, mj)
	}()

	return m.snapshotOf(mj), nil
}

// RunSync validates the request and runs the whole pipeline on the calling
// goroutine. The job is still registered and observable while it runs.
func (m *Manager) RunSync(ctx context.Context, req Request) (Snapshot, error) {
	mj, err := m.register(req)
	if err != nil {
		return Snapshot{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	mj.job.cancel = cancel

	m.run(ctx, mj)

	snap := m.snapshotOf(mj)
	switch snap.Status {
	case StatusCompleted:
		return snap, nil
	case StatusCancelled:
		return snap, context.Canceled
	default:
		return snap, m.jobError(mj)
	}
}

func (m *Manager) register(req Request) (*managedJob, error) {
	if err := req.Sweep.Validate(); err != nil {
		return nil, err
	}
	if req.Robustness != nil {
		if err := req.Robustness.WithDefaults().Validate(); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	job := &Job{
		ID:        uuid.NewString(),
		Request:   req,
		status:    StatusPending,
		createdAt: now,
	}
	mj := &managedJob{job: job, hub: newHub()}

	m.mu.Lock()
	m.jobs[job.ID] = mj
	m.order = append(m.order, job.ID)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.JobSubmitted()
	}
	m.events.EmitTyped("jobs", events.NewJobStatusData(
		events.JobSubmitted, job.ID, string(StatusPending), req.Sweep.Instrument))
	m.log.Info().
		Str("job_id", job.ID).
		Str("instrument", req.Sweep.Instrument).
		Int("combinations", req.Sweep.CombinationCount()).
		Msg("Job submitted")
	return mj, nil
}

// Get returns a job snapshot.
func (m *Manager) Get(jobID string) (Snapshot, error) {
	mj, ok := m.lookup(jobID)
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	return m.snapshotOf(mj), nil
}

// List returns snapshots of all known jobs, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if mj, ok := m.lookup(ids[i]); ok {
			out = append(out, m.snapshotOf(mj))
		}
	}
	return out
}

// Cancel requests cooperative cancellation. Terminal jobs cannot be
// cancelled.
func (m *Manager) Cancel(jobID string) error {
	mj, ok := m.lookup(jobID)
	if !ok {
		return ErrJobNotFound
	}

	mj.mu.Lock()
	defer mj.mu.Unlock()
	if mj.job.status.Terminal() {
		return ErrJobFinished
	}
	if mj.job.cancel != nil {
		mj.job.cancel()
	}
	m.log.Info().Str("job_id", jobID).Msg("Job cancellation requested")
	return nil
}

// Subscribe attaches to a job's progress stream. The first event is the
// synthetic current state; the stream ends after the terminal event.
func (m *Manager) Subscribe(jobID string) (<-chan ProgressEvent, func(), error) {
	mj, ok := m.lookup(jobID)
	if !ok {
		return nil, nil, ErrJobNotFound
	}
	ch, cancel := mj.hub.subscribe()
	return ch, cancel, nil
}

func (m *Manager) lookup(jobID string) (*managedJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mj, ok := m.jobs[jobID]
	return mj, ok
}

func (m *Manager) snapshotOf(mj *managedJob) Snapshot {
	mj.mu.Lock()
	defer mj.mu.Unlock()
	var progress *ProgressEvent
	if mj.hub != nil {
		mj.hub.mu.Lock()
		if mj.hub.terminal != nil {
			ev := *mj.hub.terminal
			progress = &ev
		} else if mj.hub.latest != nil {
			ev := *mj.hub.latest
			progress = &ev
		}
		mj.hub.mu.Unlock()
	}
	return mj.job.snapshot(progress)
}

func (m *Manager) jobError(mj *managedJob) error {
	mj.mu.Lock()
	defer mj.mu.Unlock()
	return mj.job.err
}

// run drives the pipeline. It is the single writer of the job's state.
func (m *Manager) run(ctx context.Context, mj *managedJob) {
	job := mj.job
	started := time.Now()

	mj.mu.Lock()
	job.status = StatusRunning
	job.startedAt = started
	mj.tracker = newTracker(job.ID, started)
	mj.mu.Unlock()

	m.events.EmitTyped("jobs", events.NewJobStatusData(
		events.JobStarted, job.ID, string(StatusRunning), job.Request.Sweep.Instrument))

	result, err := m.pipeline(ctx, mj)

	status := StatusCompleted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = StatusCancelled
		err = nil
	default:
		status = StatusFailed
	}

	finished := time.Now()
	mj.mu.Lock()
	job.status = status
	job.finishedAt = finished
	job.err = err
	job.result = result
	mj.mu.Unlock()

	mj.hub.publish(func() ProgressEvent {
		return mj.tracker.terminal(status, terminalMessage(status, err), err)
	})

	statusData := events.NewJobStatusData(lifecycleEvent(status), job.ID, string(status), job.Request.Sweep.Instrument)
	statusData.Elapsed = finished.Sub(started).Seconds()
	if err != nil {
		de := domain.AsError(err)
		statusData.ErrorKind = string(de.Kind)
		statusData.ErrorMsg = de.Message
	}
	m.events.EmitTyped("jobs", statusData)

	if m.metrics != nil {
		m.metrics.JobFinished(string(status), finished.Sub(started))
	}

	logEvent := m.log.Info()
	if status == StatusFailed {
		logEvent = m.log.Error().Err(err)
	}
	logEvent.
		Str("job_id", job.ID).
		Str("status", string(status)).
		Float64("elapsed_seconds", finished.Sub(started).Seconds()).
		Msg("Job finished")
}

// progress publishes the next numbered event for mj and mirrors it onto the
// event bus for lifecycle subscribers. The event is built inside the hub's
// publish lock so emission order matches sequence order.
func (m *Manager) progress(mj *managedJob, phase Phase, current, total int, message string, offset, span float64) {
	ev := mj.hub.publish(func() ProgressEvent {
		return mj.tracker.event(phase, StatusRunning, current, total, message, offset, span)
	})
	m.events.EmitTyped("jobs", &events.JobProgressData{
		JobID:       ev.JobID,
		Phase:       string(phase),
		CurrentStep: ev.CurrentStep,
		TotalSteps:  ev.TotalSteps,
		Message:     ev.Message,
		Percentage:  ev.Percentage,
	})
}

// pipeline runs sweep, selection and optional validation, publishing one
// progress event per unit of work with phase-weighted percentages.
func (m *Manager) pipeline(ctx context.Context, mj *managedJob) (*Result, error) {
	job := mj.job
	cfg := job.Request.Sweep
	validate := job.Request.Robustness != nil

	sweepShare, selectShare := sweepOnlySpan, selectOnlySpan
	validateShare := 0.0
	if validate {
		sweepShare, selectShare, validateShare = sweepSpan, selectSpan, validateSpan
	}

	startedAt := time.Now()
	results, err := m.engine.Run(ctx, job.ID, cfg, func(current, total int, message string) {
		m.progress(mj, PhaseSweeping, current, total, message, 0, sweepShare)
	})
	if err != nil {
		return nil, err
	}

	selections := make([]domain.BestSelection, 0, len(cfg.Strategies))
	for i, strategy := range cfg.Strategies {
		perStrategy := filterByStrategy(results, strategy)
		sel, selErr := selection.Select(job.ID, cfg.Instrument, strategy, perStrategy)
		if selErr != nil {
			return nil, selErr
		}
		selections = append(selections, sel)
		m.progress(mj, PhaseSelecting, i+1, len(cfg.Strategies),
			fmt.Sprintf("Selected %s for %s", sel.Winner, strategy), sweepShare, selectShare)
	}

	var reports []domain.RobustnessReport
	if validate {
		reports, err = m.validateSelections(ctx, mj, cfg, selections, sweepShare+selectShare, validateShare)
		if err != nil {
			return nil, err
		}
	}

	result := &Result{
		Run: domain.SweepRun{
			RunID:        job.ID,
			Instrument:   cfg.Instrument,
			Interval:     cfg.Interval,
			Combinations: len(results),
			StartedAt:    startedAt,
			FinishedAt:   time.Now(),
		},
		Results:    results,
		Selections: selections,
		Reports:    reports,
	}
	m.persist(result)
	return result, nil
}

// validateSelections runs the robustness validator on each winning
// combination. Validation failures with job-level taxonomy propagate;
// per-candidate "never tested" verdicts are carried in the reports.
func (m *Manager) validateSelections(
	ctx context.Context,
	mj *managedJob,
	cfg sweep.Config,
	selections []domain.BestSelection,
	offset, span float64,
) ([]domain.RobustnessReport, error) {
	series, _, err := m.source.GetSeries(ctx, cfg.Instrument, cfg.Interval)
	if err != nil {
		return nil, domain.NewDataUnavailableError(err, "no price series for validation of %s/%s", cfg.Instrument, cfg.Interval)
	}
	returns := series.Returns()

	perCandidate := span / float64(len(selections))
	reports := make([]domain.RobustnessReport, 0, len(selections))
	for i, sel := range selections {
		candidateOffset := offset + perCandidate*float64(i)
		report, err := m.validator.Validate(ctx, sel.Winner, returns, *mj.job.Request.Robustness,
			func(current, total int, message string) {
				m.progress(mj, PhaseValidating, current, total, message, candidateOffset, perCandidate)
			})
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// persist is fire-and-forget: storage failures are logged and never fail the
// job.
func (m *Manager) persist(result *Result) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveSweepResults(result.Run, result.Results); err != nil {
		m.log.Warn().Err(err).Str("run_id", result.Run.RunID).Msg("Failed to persist sweep results")
	}
	for _, sel := range result.Selections {
		if err := m.store.SaveBestSelection(sel); err != nil {
			m.log.Warn().Err(err).Str("run_id", sel.RunID).Msg("Failed to persist best selection")
		}
	}
	for _, report := range result.Reports {
		if err := m.store.SaveRobustnessReport(result.Run.RunID, report); err != nil {
			m.log.Warn().Err(err).Str("run_id", result.Run.RunID).Msg("Failed to persist robustness report")
		}
	}
}

func filterByStrategy(results []domain.SweepResult, strategy domain.StrategyKind) []domain.SweepResult {
	out := make([]domain.SweepResult, 0, len(results))
	for _, r := range results {
		if r.Strategy == strategy {
			out = append(out, r)
		}
	}
	return out
}

func lifecycleEvent(status Status) events.EventType {
	switch status {
	case StatusCancelled:
		return events.JobCancelled
	case StatusFailed:
		return events.JobFailed
	default:
		return events.JobCompleted
	}
}

func terminalMessage(status Status, err error) string {
	switch status {
	case StatusCancelled:
		return "Job cancelled"
	case StatusFailed:
		return fmt.Sprintf("Job failed: %v", err)
	default:
		return "Job completed"
	}
}
