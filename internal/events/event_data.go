package events

// EventData is the interface that all event data types must implement.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// JobStatusData contains data for job lifecycle events (submitted, started,
// completed, failed, cancelled).
type JobStatusData struct {
	JobID      string  `json:"job_id"`
	Status     string  `json:"status"`
	Instrument string  `json:"instrument"`
	Elapsed    float64 `json:"elapsed_seconds,omitempty"`
	ErrorKind  string  `json:"error_kind,omitempty"`
	ErrorMsg   string  `json:"error_message,omitempty"`

	eventType EventType
}

// NewJobStatusData builds a JobStatusData bound to a lifecycle event type.
func NewJobStatusData(t EventType, jobID, status, instrument string) *JobStatusData {
	return &JobStatusData{JobID: jobID, Status: status, Instrument: instrument, eventType: t}
}

// EventType returns the event type for JobStatusData.
func (d *JobStatusData) EventType() EventType {
	return d.eventType
}

// JobProgressData contains data for JobProgress events.
type JobProgressData struct {
	JobID       string   `json:"job_id"`
	Phase       string   `json:"phase"`
	CurrentStep int      `json:"current_step"`
	TotalSteps  int      `json:"total_steps"`
	Message     string   `json:"message"`
	Percentage  *float64 `json:"percentage,omitempty"`
}

// EventType returns the event type for JobProgressData.
func (d *JobProgressData) EventType() EventType {
	return JobProgress
}

// CachePurgedData contains data for CachePurged events emitted by the cache
// janitor.
type CachePurgedData struct {
	Removed int `json:"removed"`
}

// EventType returns the event type for CachePurgedData.
func (d *CachePurgedData) EventType() EventType {
	return CachePurged
}
