package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/models"
)

func (s *PostgresStore) CreateDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	if result := s.db.WithContext(ctx).Create(d); result.Error != nil {
		return fmt.Errorf("failed to create webhook delivery: %w", result.Error)
	}
	return nil
}

func (s *PostgresStore) UpdateDeliverySuccess(ctx context.Context, id uuid.UUID, code int, body, signature string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.WebhookDelivery{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.WebhookDeliverySuccess,
			"response_code": code,
			"response_body": body,
			"signature":     signature,
			"delivered_at":  now,
			"next_retry_at": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update delivery success: %w", result.Error)
	}
	return nil
}

func (s *PostgresStore) UpdateDeliveryRetry(ctx context.Context, id uuid.UUID, attempt int, nextRetryAt time.Time, errMessage, signature string) error {
	result := s.db.WithContext(ctx).
		Model(&models.WebhookDelivery{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempt_number": attempt,
			"next_retry_at":  nextRetryAt,
			"error_message":  errMessage,
			"signature":      signature,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update delivery retry: %w", result.Error)
	}
	return nil
}

func (s *PostgresStore) MarkPermanentlyFailed(ctx context.Context, id uuid.UUID, errMessage string) error {
	result := s.db.WithContext(ctx).
		Model(&models.WebhookDelivery{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.WebhookDeliveryFailed,
			"error_message": errMessage,
			"next_retry_at": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark delivery permanently failed: %w", result.Error)
	}
	return nil
}

func (s *PostgresStore) FindPendingRetries(ctx context.Context, limit int) ([]models.WebhookDelivery, error) {
	var deliveries []models.WebhookDelivery
	result := s.db.WithContext(ctx).
		Where("delivered_at IS NULL").
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", time.Now().UTC()).
		Order("next_retry_at asc").
		Limit(limit).
		Find(&deliveries)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find pending webhook retries: %w", result.Error)
	}
	return deliveries, nil
}
