package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/models"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/storage"
)

func (s *PostgresStore) GetIntegration(ctx context.Context, userID uuid.UUID, provider string) (*models.OAuthIntegration, error) {
	var integration models.OAuthIntegration
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		First(&integration)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get oauth integration: %w", result.Error)
	}
	return &integration, nil
}

func (s *PostgresStore) RecordSend(ctx context.Context, send *models.NotificationSend) error {
	if result := s.db.WithContext(ctx).Create(send); result.Error != nil {
		return fmt.Errorf("failed to record notification send: %w", result.Error)
	}
	return nil
}
