package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	// JobTypeRefillSweep runs the billing cycle sweep over every due
	// allocation.
	JobTypeRefillSweep JobType = "refill_sweep"
	// JobTypeTierReconcile re-resolves one account's tier and applies a
	// transition when the stored tier disagrees.
	JobTypeTierReconcile JobType = "tier_reconcile"
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
}

// MarkAsProcessing transitions the job into processing state.
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.ProcessedAt = &now
	j.UpdatedAt = now
}

// MarkAsCompleted transitions the job into completed state.
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkAsFailed records a failure message.
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.ErrorMsg = errorMsg
	j.UpdatedAt = time.Now()
}

// MarkAsRetrying increments the retry counter.
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.RetryCount++
	j.UpdatedAt = time.Now()
}

// IsRetryable reports whether the job has retries left.
func (j *Job) IsRetryable() bool {
	return j.RetryCount < j.MaxRetries
}

// TierReconcileJobPayload contains the payload for tier reconcile jobs
type TierReconcileJobPayload struct {
	AccountID uint   `json:"account_id"`
	Trigger   string `json:"trigger"`
}

// ToMap converts the payload to a map for storage
func (p TierReconcileJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"account_id": p.AccountID,
		"trigger":    p.Trigger,
	}
}

// TierReconcileJobPayloadFromMap creates a payload from a map
func TierReconcileJobPayloadFromMap(data map[string]interface{}) (*TierReconcileJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload TierReconcileJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}
