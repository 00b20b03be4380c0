package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ToolType enumerates the AI tools a job can be submitted for.
type ToolType string

const (
	ToolUpscaler        ToolType = "upscaler"
	ToolPoseChanger     ToolType = "pose_changer"
	ToolClothingChanger ToolType = "clothing_changer"
	ToolVideoGenerator  ToolType = "video_generator"
)

// Valid reports whether the tool type is one of the supported tools.
func (t ToolType) Valid() bool {
	switch t {
	case ToolUpscaler, ToolPoseChanger, ToolClothingChanger, ToolVideoGenerator:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states. A job only ever moves forward:
// queued -> running -> {completed|failed|cancelled}, or queued -> cancelled.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status can never be left again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// StepEntry is one progress marker in a job's append-only step history.
type StepEntry struct {
	Step      string    `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

// Job is one asynchronous AI-processing request and its lifecycle record.
// Rows are never physically deleted; terminal rows are retained for audit and
// for the idempotency checks that make duplicate completion signals safe.
type Job struct {
	ID              uuid.UUID
	ToolType        ToolType
	UserID          string
	Status          JobStatus
	CreditCost      int
	Payload         json.RawMessage
	ExternalTaskRef string
	RequiresPoll    bool
	CurrentStep     string
	StepHistory     []StepEntry
	OutputURL       string
	ErrorMessage    string
	CreditsRefunded bool
	RawCompletion   json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LastCheckedAt   *time.Time
}

// Active reports whether the job still occupies its user's single slot.
func (j *Job) Active() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}

// Elapsed returns how long the job has existed, for UI display.
func (j *Job) Elapsed(now time.Time) time.Duration {
	return now.Sub(j.CreatedAt)
}

// TerminalFields carries the outcome-derived columns written in the same
// conditional update as a terminal transition.
type TerminalFields struct {
	OutputURL    string
	ErrorMessage string
	RawPayload   json.RawMessage
}
