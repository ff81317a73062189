package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/models"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/storage"
)

// AddOrResume upserts the single job row for a task -- this is what keeps
// max_instances=1 true at the storage layer: there is only ever one row
// per task_id no matter how many times a task fires or retries.
func (s *PostgresStore) AddOrResume(ctx context.Context, job *models.SchedulerJob) error {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"run_date", "retry_count", "execution_id", "paused", "updated_at",
		}),
	}).Create(job)
	if result.Error != nil {
		return fmt.Errorf("failed to add or resume scheduler job: %w", result.Error)
	}
	return nil
}

func (s *PostgresStore) Pause(ctx context.Context, taskID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&models.SchedulerJob{}).
		Where("id = ?", models.SchedulerJobID(taskID)).
		Update("paused", true)
	if result.Error != nil {
		return fmt.Errorf("failed to pause scheduler job: %w", result.Error)
	}
	return nil
}

func (s *PostgresStore) Resume(ctx context.Context, taskID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&models.SchedulerJob{}).
		Where("id = ?", models.SchedulerJobID(taskID)).
		Update("paused", false)
	if result.Error != nil {
		return fmt.Errorf("failed to resume scheduler job: %w", result.Error)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, taskID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Where("id = ?", models.SchedulerJobID(taskID)).
		Delete(&models.SchedulerJob{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove scheduler job: %w", result.Error)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, taskID uuid.UUID) (*models.SchedulerJob, error) {
	var job models.SchedulerJob
	result := s.db.WithContext(ctx).First(&job, "id = ?", models.SchedulerJobID(taskID))
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

func (s *PostgresStore) ListDue(ctx context.Context, limit int) ([]models.SchedulerJob, error) {
	var jobs []models.SchedulerJob
	result := s.db.WithContext(ctx).
		Where("paused = ?", false).
		Where("run_date <= ?", time.Now().UTC()).
		Order("run_date asc").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list due scheduler jobs: %w", result.Error)
	}
	return jobs, nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]models.SchedulerJob, error) {
	var jobs []models.SchedulerJob
	result := s.db.WithContext(ctx).Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list scheduler jobs: %w", result.Error)
	}
	return jobs, nil
}
