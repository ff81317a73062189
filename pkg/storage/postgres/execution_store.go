package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/models"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/storage"
)

func (s *PostgresStore) CreateExecution(ctx context.Context, exec *models.TaskExecution) error {
	if result := s.db.WithContext(ctx).Create(exec); result.Error != nil {
		return fmt.Errorf("failed to create execution: %w", result.Error)
	}
	return nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, id uuid.UUID) (*models.TaskExecution, error) {
	var exec models.TaskExecution
	result := s.db.WithContext(ctx).First(&exec, "id = ?", id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &exec, nil
}

func (s *PostgresStore) TransitionToRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.TaskExecution{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.ExecutionRunning,
			"started_at": startedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to transition execution to running: %w", result.Error)
	}
	return nil
}

// MarkFailedOrRetrying persists the engine's classified failure path: the
// execution row always records the category of the *most recent* attempt,
// never only the final one.
func (s *PostgresStore) MarkFailedOrRetrying(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, retryCount int, category models.ErrorCategory, internalErr, userMessage string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":         status,
		"retry_count":    retryCount,
		"error_category": category,
		"internal_error": internalErr,
		"notification":   userMessage,
	}
	if status == models.ExecutionFailed {
		updates["completed_at"] = now
	} else {
		updates["completed_at"] = nil
	}

	res := s.db.WithContext(ctx).Model(&models.TaskExecution{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to mark execution failed/retrying: %w", res.Error)
	}
	return nil
}

// MarkSuccessAndApplyRunResult wraps the execution's success update and the
// task's last_known_state/rename update in a single transaction (spec P4:
// a crash between the two writes must never leave one applied without the
// other).
func (s *PostgresStore) MarkSuccessAndApplyRunResult(ctx context.Context, execID, taskID uuid.UUID, result models.ExecutionResult, sources models.GroundingSourceList, notification *string, auditURI *string, lastKnownState models.LastKnownState, renameTo *string) error {
	now := time.Now().UTC()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		execRes := tx.Model(&models.TaskExecution{}).
			Where("id = ?", execID).
			Updates(map[string]interface{}{
				"status":            models.ExecutionSuccess,
				"completed_at":      now,
				"result":            result,
				"grounding_sources": sources,
				"notification":      notification,
				"audit_uri":         auditURI,
			})
		if execRes.Error != nil {
			return fmt.Errorf("failed to mark execution success: %w", execRes.Error)
		}

		taskUpdates := map[string]interface{}{
			"last_known_state": lastKnownState,
			"updated_at":       now,
		}
		if taskRes := tx.Model(&models.Task{}).Where("id = ?", taskID).Updates(taskUpdates); taskRes.Error != nil {
			return fmt.Errorf("failed to apply run result: %w", taskRes.Error)
		}

		if renameTo != nil {
			renameRes := tx.Model(&models.Task{}).
				Where("id = ? AND name = ?", taskID, models.DefaultTaskName).
				Update("name", *renameTo)
			if renameRes.Error != nil {
				return fmt.Errorf("failed to rename task from topic: %w", renameRes.Error)
			}
		}

		return nil
	})
}

// FindActiveForTask backs the dedupe guard: an execution counts as active
// if it's non-terminal and either has no started_at yet or started within
// the dedupe window.
func (s *PostgresStore) FindActiveForTask(ctx context.Context, taskID uuid.UUID, since time.Time) (*models.TaskExecution, error) {
	var exec models.TaskExecution
	result := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Where("status IN ?", []models.ExecutionStatus{models.ExecutionPending, models.ExecutionRunning, models.ExecutionRetrying}).
		Where("started_at IS NULL OR started_at > ?", since).
		Order("created_at desc").
		First(&exec)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query active execution: %w", result.Error)
	}
	return &exec, nil
}

func (s *PostgresStore) ListRecentForTask(ctx context.Context, taskID uuid.UUID, limit int) ([]models.TaskExecution, error) {
	var execs []models.TaskExecution
	result := s.db.WithContext(ctx).
		Where("task_id = ? AND status = ?", taskID, models.ExecutionSuccess).
		Order("completed_at desc").
		Limit(limit).
		Find(&execs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list recent executions: %w", result.Error)
	}
	return execs, nil
}

// ReapStaleRunning force-fails any execution stuck in "running" for longer
// than olderThan.
func (s *PostgresStore) ReapStaleRunning(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	reapedMsg := "Reaped: execution stuck in running state"
	result := s.db.WithContext(ctx).
		Model(&models.TaskExecution{}).
		Where("status = ? AND started_at < ?", models.ExecutionRunning, cutoff).
		Updates(map[string]interface{}{
			"status":         models.ExecutionFailed,
			"completed_at":   time.Now().UTC(),
			"internal_error": reapedMsg,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reap stale executions: %w", result.Error)
	}
	return result.RowsAffected, nil
}
