package jobs

import "time"

// Phase names the pipeline stage a progress event belongs to.
type Phase string

const (
	PhaseSweeping   Phase = "sweeping"
	PhaseSelecting  Phase = "selecting"
	PhaseValidating Phase = "validating"
)

// Relative weight of each phase in the overall percentage. Validation is the
// expensive tail when requested; without it the sweep dominates.
const (
	sweepSpan    = 0.70
	selectSpan   = 0.05
	validateSpan = 0.25

	sweepOnlySpan  = 0.90
	selectOnlySpan = 0.10
)

// ProgressEvent is one record on a job's progress stream. Seq is strictly
// increasing per job; Percentage is omitted until total_steps is known and
// never decreases once present.
type ProgressEvent struct {
	JobID       string     `json:"job_id"`
	Seq         uint64     `json:"seq"`
	Phase       Phase      `json:"phase,omitempty"`
	CurrentStep int        `json:"current_step"`
	TotalSteps  int        `json:"total_steps,omitempty"`
	Message     string     `json:"message"`
	Elapsed     float64    `json:"elapsed_seconds"`
	Percentage  *float64   `json:"percentage,omitempty"`
	Status      Status     `json:"status"`
	Terminal    bool       `json:"terminal,omitempty"`
	Error       *ErrorInfo `json:"error,omitempty"`
}

// tracker numbers a job's progress events and enforces the monotonic
// percentage invariant. It is not safe for concurrent use on its own: event
// construction always happens inside the hub's publish lock, which serializes
// the sweep workers reporting completions from the pool.
type tracker struct {
	jobID   string
	started time.Time

	seq uint64
	pct float64
}

func newTracker(jobID string, started time.Time) *tracker {
	return &tracker{jobID: jobID, started: started}
}

// event builds the next numbered event. Offset and span place the phase's
// local progress on the overall 0-100 scale; a zero total leaves the
// percentage unset.
func (t *tracker) event(phase Phase, status Status, current, total int, message string, offset, span float64) ProgressEvent {
	t.seq++
	ev := ProgressEvent{
		JobID:       t.jobID,
		Seq:         t.seq,
		Phase:       phase,
		CurrentStep: current,
		TotalSteps:  total,
		Message:     message,
		Elapsed:     time.Since(t.started).Seconds(),
		Status:      status,
	}
	if total > 0 {
		pct := 100 * (offset + span*float64(current)/float64(total))
		if pct < t.pct {
			pct = t.pct
		}
		if pct > 100 {
			pct = 100
		}
		t.pct = pct
		ev.Percentage = &pct
	}
	return ev
}

// terminal builds the final event for the job. The percentage is pinned to
// 100 on completion and left at the last reported value otherwise.
func (t *tracker) terminal(status Status, message string, jobErr error) ProgressEvent {
	t.seq++
	ev := ProgressEvent{
		JobID:    t.jobID,
		Seq:      t.seq,
		Message:  message,
		Elapsed:  time.Since(t.started).Seconds(),
		Status:   status,
		Terminal: true,
		Error:    errorInfo(jobErr),
	}
	if status == StatusCompleted {
		t.pct = 100
	}
	if t.pct > 0 {
		pct := t.pct
		ev.Percentage = &pct
	}
	return ev
}
