package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExecutionStatus is the lifecycle state of one TaskExecution row.
type ExecutionStatus string

const (
	ExecutionPending  ExecutionStatus = "pending"
	ExecutionRunning  ExecutionStatus = "running"
	ExecutionSuccess  ExecutionStatus = "success"
	ExecutionFailed   ExecutionStatus = "failed"
	ExecutionRetrying ExecutionStatus = "retrying"
)

// ErrorCategory classifies a failed execution for retry-policy lookup.
// Declared here (rather than only in pkg/classifier) so storage and models
// can reference it without importing the classifier.
type ErrorCategory string

const (
	ErrorCategoryRateLimit   ErrorCategory = "rate_limit"
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryNetwork     ErrorCategory = "network"
	ErrorCategoryAgentError  ErrorCategory = "agent_error"
	ErrorCategoryUserError   ErrorCategory = "user_error"
	ErrorCategorySystemError ErrorCategory = "system_error"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// ExecutionResult is the JSONB payload of one run's outcome.
type ExecutionResult struct {
	Evidence   string `json:"evidence"`
	Confidence int    `json:"confidence"`
	NextRun    string `json:"next_run,omitempty"`
}

func (r *ExecutionResult) Scan(value interface{}) error {
	return rawJSONB(value, "result", r)
}

func (r ExecutionResult) Value() (driver.Value, error) {
	return jsonbValue(r)
}

// GroundingSource is one evidence citation returned by the agent.
type GroundingSource struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// GroundingSourceList is the JSONB-backed list of citations for a run.
type GroundingSourceList []GroundingSource

func (g *GroundingSourceList) Scan(value interface{}) error {
	var tmp []GroundingSource
	if err := rawJSONB(value, "grounding_sources", &tmp); err != nil {
		return err
	}
	*g = tmp
	return nil
}

func (g GroundingSourceList) Value() (driver.Value, error) {
	if g == nil {
		return jsonbValue([]GroundingSource{})
	}
	return jsonbValue([]GroundingSource(g))
}

// TaskExecution is one record per invocation attempt; retries reuse the row.
type TaskExecution struct {
	ID               uuid.UUID           `json:"id" gorm:"type:uuid;primaryKey"`
	TaskID           uuid.UUID           `json:"task_id" gorm:"type:uuid;not null;index"`
	Status           ExecutionStatus     `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	StartedAt        *time.Time          `json:"started_at"`
	CompletedAt      *time.Time          `json:"completed_at"`
	RetryCount       int                 `json:"retry_count" gorm:"default:0"`
	ErrorCategory    *ErrorCategory      `json:"error_category" gorm:"type:varchar(20)"`
	InternalError    *string             `json:"internal_error"`
	Notification     *string             `json:"notification"`
	Result           ExecutionResult     `json:"result" gorm:"type:jsonb"`
	GroundingSources GroundingSourceList `json:"grounding_sources" gorm:"type:jsonb"`
	AuditURI         *string             `json:"audit_uri"`
	CreatedAt        time.Time           `json:"created_at"`
}

func (e *TaskExecution) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// NewPendingExecution builds a fresh PENDING row for a scheduled or
// manually-triggered fire (execution_id not carried by the job args).
func NewPendingExecution(taskID uuid.UUID) *TaskExecution {
	return &TaskExecution{
		ID:     uuid.New(),
		TaskID: taskID,
		Status: ExecutionPending,
	}
}
