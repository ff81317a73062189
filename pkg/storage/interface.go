package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// TaskStore is the typed accessor for the tasks table.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	UpdateTaskState(ctx context.Context, id uuid.UUID, from, to models.TaskState) (bool, error)
	UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun *time.Time) error
	SetLastExecution(ctx context.Context, id uuid.UUID, executionID uuid.UUID) error
	ListByState(ctx context.Context, states []models.TaskState) ([]models.Task, error)
}

// UserStore is the typed accessor for task owners.
type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// ExecutionStore is the typed accessor for task_executions.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *models.TaskExecution) error
	GetExecution(ctx context.Context, id uuid.UUID) (*models.TaskExecution, error)
	TransitionToRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	// MarkSuccessAndApplyRunResult persists the execution row and the owning
	// task's last_known_state (and optional rename) in one transaction, so a
	// crash between the two writes can never happen.
	MarkSuccessAndApplyRunResult(ctx context.Context, execID, taskID uuid.UUID, result models.ExecutionResult, sources models.GroundingSourceList, notification *string, auditURI *string, lastKnownState models.LastKnownState, renameTo *string) error
	MarkFailedOrRetrying(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, retryCount int, category models.ErrorCategory, internalErr, userMessage string) error
	FindActiveForTask(ctx context.Context, taskID uuid.UUID, since time.Time) (*models.TaskExecution, error)
	ListRecentForTask(ctx context.Context, taskID uuid.UUID, limit int) ([]models.TaskExecution, error)
	ReapStaleRunning(ctx context.Context, olderThan time.Duration) (int64, error)
}

// WebhookStore is the typed accessor for webhook_deliveries.
type WebhookStore interface {
	CreateDelivery(ctx context.Context, d *models.WebhookDelivery) error
	UpdateDeliverySuccess(ctx context.Context, id uuid.UUID, code int, body, signature string) error
	UpdateDeliveryRetry(ctx context.Context, id uuid.UUID, attempt int, nextRetryAt time.Time, errMessage, signature string) error
	MarkPermanentlyFailed(ctx context.Context, id uuid.UUID, errMessage string) error
	FindPendingRetries(ctx context.Context, limit int) ([]models.WebhookDelivery, error)
}

// IntegrationStore is the typed accessor for OAuth integrations.
type IntegrationStore interface {
	GetIntegration(ctx context.Context, userID uuid.UUID, provider string) (*models.OAuthIntegration, error)
}

// NotificationSendStore is the typed append-only writer for notification_sends.
type NotificationSendStore interface {
	RecordSend(ctx context.Context, send *models.NotificationSend) error
}

// SchedulerJobStore is the durable job store behind the Scheduler Core.
type SchedulerJobStore interface {
	AddOrResume(ctx context.Context, job *models.SchedulerJob) error
	Pause(ctx context.Context, taskID uuid.UUID) error
	Resume(ctx context.Context, taskID uuid.UUID) error
	Remove(ctx context.Context, taskID uuid.UUID) error
	Get(ctx context.Context, taskID uuid.UUID) (*models.SchedulerJob, error)
	ListDue(ctx context.Context, limit int) ([]models.SchedulerJob, error)
	ListAll(ctx context.Context) ([]models.SchedulerJob, error)
}
