package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/ManuelReschke/TipQueue/internal/pkg/payouts"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeSchedulePayouts JobType = "schedule_payouts"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
	Result      json.RawMessage        `json:"result,omitempty"`
}

// Reasons recorded on schedule_payouts jobs.
const (
	ReasonAdmin = "admin"
	ReasonCLI   = "cli"
	ReasonSweep = "sweep"
)

// SchedulePayoutsJobPayload selects the month a payout run covers.
type SchedulePayoutsJobPayload struct {
	Year   int    `json:"year"`
	Month  int    `json:"month"`
	Reason string `json:"reason"`
}

// Mode is the scheduler mode for the payload. Only sweeps leave settled
// payouts alone; every other reason is an explicit rerun.
func (p SchedulePayoutsJobPayload) Mode() string {
	if p.Reason == ReasonSweep {
		return payouts.ModeSweep
	}
	return payouts.ModeRerun
}

// ToMap converts the payload to a map for storage
func (p SchedulePayoutsJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"year":   p.Year,
		"month":  p.Month,
		"reason": p.Reason,
	}
}

// SchedulePayoutsJobPayloadFromMap creates a payload from a stored map
func SchedulePayoutsJobPayloadFromMap(data map[string]interface{}) (*SchedulePayoutsJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload SchedulePayoutsJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsActive reports whether the job may still run.
func (j *Job) IsActive() bool {
	switch j.Status {
	case JobStatusPending, JobStatusProcessing, JobStatusRetrying:
		return true
	}
	return false
}

func (j *Job) startedAt() time.Time {
	switch {
	case j.ProcessedAt != nil && !j.ProcessedAt.IsZero():
		return *j.ProcessedAt
	case !j.UpdatedAt.IsZero():
		return j.UpdatedAt
	default:
		return j.CreatedAt
	}
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
