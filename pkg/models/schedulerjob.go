package models

import (
	"time"

	"github.com/google/uuid"
)

// SchedulerJob is the durable row backing one task's single future fire.
// Its id is always "task-<task_uuid>" so add_or_resume/pause/resume/remove
// can address it without a secondary index.
type SchedulerJob struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	TaskID      uuid.UUID  `json:"task_id" gorm:"type:uuid;not null;uniqueIndex"`
	UserID      uuid.UUID  `json:"user_id" gorm:"type:uuid;not null"`
	Name        string     `json:"name"`
	RunDate     time.Time  `json:"run_date" gorm:"index"`
	RetryCount  int        `json:"retry_count" gorm:"default:0"`
	ExecutionID *uuid.UUID `json:"execution_id" gorm:"type:uuid"`
	Paused      bool       `json:"paused" gorm:"default:false;index"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SchedulerJobID derives the canonical job id for a task.
func SchedulerJobID(taskID uuid.UUID) string {
	return "task-" + taskID.String()
}
