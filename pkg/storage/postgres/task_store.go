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

func (s *PostgresStore) CreateTask(ctx context.Context, task *models.Task) error {
	if result := s.db.WithContext(ctx).Create(task); result.Error != nil {
		return fmt.Errorf("failed to create task: %w", result.Error)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	result := s.db.WithContext(ctx).First(&task, "id = ?", id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &task, nil
}

// UpdateTaskState issues the conditional UPDATE the state machine relies on:
// the WHERE clause is gated on the expected current state, so a concurrent
// transition loses this race cleanly instead of clobbering it.
func (s *PostgresStore) UpdateTaskState(ctx context.Context, id uuid.UUID, from, to models.TaskState) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ? AND state = ?", id, from).
		Updates(map[string]interface{}{
			"state":            to,
			"state_changed_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to update task state: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *PostgresStore) UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun *time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ?", id).
		Update("next_run", nextRun)
	if result.Error != nil {
		return fmt.Errorf("failed to update next_run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetLastExecution(ctx context.Context, id uuid.UUID, executionID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ?", id).
		Update("last_execution_id", executionID)
	if result.Error != nil {
		return fmt.Errorf("failed to set last_execution_id: %w", result.Error)
	}
	return nil
}

func (s *PostgresStore) ListByState(ctx context.Context, states []models.TaskState) ([]models.Task, error) {
	var tasks []models.Task
	result := s.db.WithContext(ctx).Where("state IN ?", states).Find(&tasks)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list tasks by state: %w", result.Error)
	}
	return tasks, nil
}
