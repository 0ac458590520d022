package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a match job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobError records one per-event failure. Per-event failures never fail the
// job; they are collected into the summary.
type JobError struct {
	EventID string `json:"event_id"`
	Message string `json:"message"`
}

// JobErrors is a JSONB-backed list of per-event failures
type JobErrors []JobError

func (e JobErrors) Value() (driver.Value, error) {
	if e == nil {
		return json.Marshal(JobErrors{})
	}
	return json.Marshal(e)
}

func (e *JobErrors) Scan(src any) error {
	if src == nil {
		*e = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("JobErrors.Scan: expected []byte, got %T", src)
	}
	return json.Unmarshal(b, e)
}

// MatchJob is one batch resolution run for an account. A job that records
// per-event errors but was able to attempt events is still "completed";
// "failed" is reserved for jobs that could not start at all.
type MatchJob struct {
	ID           string     `json:"id" db:"id"`
	AccountID    string     `json:"account_id" db:"account_id"`
	PolicyID     *string    `json:"policy_id,omitempty" db:"policy_id"`
	ImportID     *string    `json:"import_id,omitempty" db:"import_id"`
	Status       JobStatus  `json:"status" db:"status"`
	EventCount   int        `json:"event_count" db:"event_count"`
	NewLeadCount int        `json:"new_lead_count" db:"new_lead_count"`
	LinkCount    int        `json:"link_count" db:"link_count"`
	Errors       JobErrors  `json:"errors" db:"errors"`
	FailureReason *string   `json:"failure_reason,omitempty" db:"failure_reason"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// CreateMatchJobRequest is the request for triggering a match job
type CreateMatchJobRequest struct {
	PolicyID *string `json:"policy_id,omitempty"`
	ImportID *string `json:"import_id,omitempty"`
}

// MatchJobListResponse is the response for listing match jobs
type MatchJobListResponse struct {
	Items      []MatchJob `json:"items"`
	TotalCount int        `json:"total_count"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
}

// JobSummary is the result surface of a completed job
type JobSummary struct {
	NewLeadCount int       `json:"new_lead_count"`
	LinkCount    int       `json:"link_count"`
	Errors       JobErrors `json:"errors"`
}
