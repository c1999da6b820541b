// Package jobs owns the asynchronous sweep job lifecycle: the state machine,
// the progress stream and the orchestration of sweep, selection and
// robustness validation.
package jobs

import (
	"context"
	"time"

	"github.com/aristath/sweepd/internal/domain"
	"github.com/aristath/sweepd/internal/robustness"
	"github.com/aristath/sweepd/internal/sweep"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is valid.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Request is a submitted sweep job. A nil Robustness skips the validation
// phase.
type Request struct {
	Sweep      sweep.Config       `json:"sweep"`
	Robustness *robustness.Config `json:"robustness,omitempty"`
}

// Result is the full outcome of a completed job. Selections and Reports are
// index-aligned, one entry per requested strategy; Reports is nil when
// validation was not requested.
type Result struct {
	Run        domain.SweepRun            `json:"run"`
	Results    []domain.SweepResult       `json:"results"`
	Selections []domain.BestSelection     `json:"selections"`
	Reports    []domain.RobustnessReport  `json:"reports,omitempty"`
}

// ErrorInfo is the structured error carried by snapshots and terminal
// progress events.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func errorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	de := domain.AsError(err)
	return &ErrorInfo{Kind: string(de.Kind), Message: de.Message}
}

// Job is one unit of work. All state transitions happen on the single
// goroutine that runs the job; readers go through the manager's snapshots.
type Job struct {
	ID      string
	Request Request

	status     Status
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
	err        error
	result     *Result

	cancel context.CancelFunc
}

// Snapshot is the read-only view of a job returned by the status API.
type Snapshot struct {
	ID         string         `json:"id"`
	Status     Status         `json:"status"`
	Instrument string         `json:"instrument"`
	Interval   string         `json:"interval"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Progress   *ProgressEvent `json:"progress,omitempty"`
	Error      *ErrorInfo     `json:"error,omitempty"`
	Result     *Result        `json:"result,omitempty"`
}

func (j *Job) snapshot(progress *ProgressEvent) Snapshot {
	s := Snapshot{
		ID:         j.ID,
		Status:     j.status,
		Instrument: j.Request.Sweep.Instrument,
		Interval:   j.Request.Sweep.Interval,
		CreatedAt:  j.createdAt,
		Progress:   progress,
		Error:      errorInfo(j.err),
		Result:     j.result,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		s.FinishedAt = &t
	}
	return s
}
