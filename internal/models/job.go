package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// maxBackoff caps the exponential dispatch-retry delay.
const maxBackoff = time.Hour

// Validation errors returned by Job.Validate.
var (
	ErrSourceURLRequired  = errors.New("models: source_url is required")
	ErrOutputNameRequired = errors.New("models: output_name is required")
)

// JobStatus represents the current status of a download job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be picked up by a worker.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently executing.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed terminally.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled by the caller.
	JobStatusCancelled JobStatus = "cancelled"
)

// ErrorKind mirrors the taxonomy surfaced by the pipeline controller.
type ErrorKind string

const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindNetworkPlaylist  ErrorKind = "network_playlist"
	ErrorKindNoSegments       ErrorKind = "no_segments"
	ErrorKindFetchFloor       ErrorKind = "fetch_floor"
	ErrorKindFormatInvalid    ErrorKind = "format_invalid"
	ErrorKindSinkFailure      ErrorKind = "sink_failure"
	ErrorKindCancelled        ErrorKind = "cancelled"
	ErrorKindStallTimeout     ErrorKind = "stall_timeout"
	ErrorKindConcurrency      ErrorKind = "concurrency"
)

// Job is the persisted form of the DownloadJob aggregate: a queued or
// in-flight request to materialize one HLS playlist URL as a local file.
type Job struct {
	BaseModel

	// SourceURL is the master or media playlist URL supplied by the caller.
	SourceURL string `gorm:"not null;size:2048" json:"source_url"`

	// OutputName is the caller-supplied basename; the engine appends the
	// extension implied by the resolved format_hint.
	OutputName string `gorm:"not null;size:255" json:"output_name"`

	// Status is the current lifecycle status.
	Status JobStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	// Phase is the pipeline controller's current state label
	// (resolving, fetching, validating, assembling, writing).
	Phase string `gorm:"size:32" json:"phase,omitempty"`

	// Percent is the weighted overall completion percentage, 0..100.
	Percent int `gorm:"default:0" json:"percent"`

	// SegmentCount is the number of segments in the resolved media playlist.
	// Populated once the Playlist Resolver runs; used by the Job Runner to
	// enforce the "large file in progress" gating rule (>1000 segments).
	SegmentCount int `json:"segment_count,omitempty"`

	// SettingsJSON carries engine tunables (batch size overrides, thresholds)
	// as an opaque JSON blob, mirroring the reference Job.Result free-form field.
	SettingsJSON string `gorm:"size:4096" json:"settings_json,omitempty"`

	// ErrorKind is the taxonomy kind of the terminal failure, if any.
	ErrorKind ErrorKind `gorm:"size:32" json:"error_kind,omitempty"`

	// LastError contains the error message from a failed attempt.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// AttemptCount is the number of times the runner has dispatched this job.
	AttemptCount int `gorm:"default:0" json:"attempt_count"`

	// MaxAttempts bounds dispatch retries for transient runner-level failures
	// (distinct from the segment-level retry budgets in the fetch pipeline).
	MaxAttempts int `gorm:"default:1" json:"max_attempts"`

	// StartedAt is when the pipeline controller entered Resolving.
	StartedAt *Time `json:"started_at,omitempty"`

	// CompletedAt is when the job reached a terminal state.
	CompletedAt *Time `json:"completed_at,omitempty"`

	// LockedBy is the worker ID holding this job, while Running.
	LockedBy string `gorm:"size:100;index" json:"locked_by,omitempty"`

	// LockedAt is when the lock was acquired; used for stale-lock recovery.
	LockedAt *Time `json:"locked_at,omitempty"`

	// NextRunAt gates dispatch: the runner only acquires a pending job once
	// this time has passed, implementing the dispatch-retry backoff.
	NextRunAt *Time `json:"next_run_at,omitempty"`

	// BackoffSeconds is the last computed dispatch-retry delay.
	BackoffSeconds int `gorm:"default:0" json:"backoff_seconds,omitempty"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// IsPending returns true if the job is waiting to be dispatched.
func (j *Job) IsPending() bool {
	return j.Status == JobStatusPending
}

// IsRunning returns true if the job is currently executing.
func (j *Job) IsRunning() bool {
	return j.Status == JobStatusRunning
}

// IsFinished returns true if the job has reached a terminal state.
func (j *Job) IsFinished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// IsLargeFile reports whether this job trips the "large file in progress" rule.
func (j *Job) IsLargeFile() bool {
	return j.SegmentCount > 1000
}

// MarkRunning transitions the job to Running and records the lock.
func (j *Job) MarkRunning(workerID string) {
	j.Status = JobStatusRunning
	now := Now()
	j.StartedAt = &now
	j.LockedBy = workerID
	j.LockedAt = &now
	j.AttemptCount++
	j.LastError = ""
	j.ErrorKind = ErrorKindNone
}

// MarkCompleted transitions the job to Completed.
func (j *Job) MarkCompleted() {
	j.Status = JobStatusCompleted
	now := Now()
	j.CompletedAt = &now
	j.Percent = 100
	j.Phase = "done"
	j.LockedBy = ""
	j.LockedAt = nil
}

// MarkFailed transitions the job to Failed, recording the taxonomy kind.
func (j *Job) MarkFailed(kind ErrorKind, err error) {
	j.Status = JobStatusFailed
	j.ErrorKind = kind
	now := Now()
	j.CompletedAt = &now
	if err != nil {
		j.LastError = err.Error()
	}
	j.LockedBy = ""
	j.LockedAt = nil
}

// CanRetry reports whether the runner may re-dispatch this job after a
// dispatch-level failure (worker crash, stale lock), distinct from the
// segment-level retry budget inside the fetch pipeline itself.
func (j *Job) CanRetry() bool {
	return j.AttemptCount < j.MaxAttempts
}

// ScheduleRetry moves the job back to Pending and computes the next
// dispatch backoff using exponential doubling capped at maxBackoff.
func (j *Job) ScheduleRetry() {
	j.Status = JobStatusPending
	if j.BackoffSeconds <= 0 {
		j.BackoffSeconds = 1
	} else {
		j.BackoffSeconds *= 2
	}
	if d := time.Duration(j.BackoffSeconds) * time.Second; d > maxBackoff {
		j.BackoffSeconds = int(maxBackoff / time.Second)
	}
	next := Now().Add(time.Duration(j.BackoffSeconds) * time.Second)
	j.NextRunAt = &next
}

// MarkCancelled transitions the job to Cancelled.
func (j *Job) MarkCancelled() {
	j.Status = JobStatusCancelled
	j.ErrorKind = ErrorKindCancelled
	now := Now()
	j.CompletedAt = &now
	j.LockedBy = ""
	j.LockedAt = nil
}

// UpdateProgress applies a monotonic progress publication from the
// pipeline controller. Percent never decreases except on a terminal
// transition, which callers drive through Mark* instead.
func (j *Job) UpdateProgress(phase string, percent int) {
	if percent < j.Percent {
		percent = j.Percent
	}
	j.Phase = phase
	j.Percent = percent
}

// Validate performs basic validation on the job.
func (j *Job) Validate() error {
	if j.SourceURL == "" {
		return ErrSourceURLRequired
	}
	if j.OutputName == "" {
		return ErrOutputNameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the job and generates a ULID.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 1
	}
	return j.Validate()
}

// BeforeUpdate is a GORM hook that validates the job before update.
func (j *Job) BeforeUpdate(tx *gorm.DB) error {
	return j.Validate()
}

// JobHistory stores terminal execution records for completed jobs,
// kept separate from Job to keep the active queue table lean.
type JobHistory struct {
	BaseModel

	JobID      ULID      `gorm:"not null;index" json:"job_id"`
	SourceURL  string    `gorm:"size:2048" json:"source_url"`
	OutputName string    `gorm:"size:255" json:"output_name"`
	Status     JobStatus `gorm:"not null;size:20" json:"status"`
	ErrorKind  ErrorKind `gorm:"size:32" json:"error_kind,omitempty"`
	Error      string    `gorm:"size:4096" json:"error,omitempty"`

	StartedAt   *Time `gorm:"index" json:"started_at,omitempty"`
	CompletedAt *Time `gorm:"index" json:"completed_at,omitempty"`
	DurationMs  int64 `json:"duration_ms,omitempty"`
}

// TableName returns the table name for JobHistory.
func (JobHistory) TableName() string {
	return "job_history"
}

// NewJobHistory builds a history record from a finished job.
func NewJobHistory(j *Job) *JobHistory {
	h := &JobHistory{
		JobID:      j.ID,
		SourceURL:  j.SourceURL,
		OutputName: j.OutputName,
		Status:     j.Status,
		ErrorKind:  j.ErrorKind,
		Error:      j.LastError,
	}
	h.StartedAt = j.StartedAt
	h.CompletedAt = j.CompletedAt
	if j.StartedAt != nil && j.CompletedAt != nil {
		h.DurationMs = j.CompletedAt.Sub(*j.StartedAt).Milliseconds()
	}
	return h
}
