package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/logger"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/metrics"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/models"
)

// retryBatchSize caps how many due deliveries one sweep picks up, so a
// backlog can't starve the scheduler's other duties.
const retryBatchSize = 100

// RetrySweeper is the periodic job that drives webhook_deliveries rows
// through their retry schedule. It never blocks an execution's own status:
// every outcome lands back in webhook_deliveries, nothing is surfaced to
// task_executions.
type RetrySweeper struct {
	store    WebhookStore
	webhooks *WebhookService
}

func NewRetrySweeper(store WebhookStore, webhooks *WebhookService) *RetrySweeper {
	return &RetrySweeper{store: store, webhooks: webhooks}
}

// Run scans for deliveries whose next_retry_at has come due and resolves
// each one: deliver, and either stamp success, schedule the next retry, or
// permanently fail once the schedule is exhausted.
func (r *RetrySweeper) Run(ctx context.Context) error {
	deliveries, err := r.store.FindPendingRetries(ctx, retryBatchSize)
	if err != nil {
		return err
	}

	for _, d := range deliveries {
		r.processOne(ctx, d)
	}
	return nil
}

func (r *RetrySweeper) processOne(ctx context.Context, d models.WebhookDelivery) {
	attempt := d.AttemptNumber + 1

	if d.WebhookSecret == "" {
		const msg = "Missing webhook secret for retry"
		if err := r.store.MarkPermanentlyFailed(ctx, d.ID, msg); err != nil {
			logger.Error("failed to mark delivery permanently failed", zap.Error(err))
		}
		metrics.WebhookDeliveriesTotal.WithLabelValues("permanent_failure").Inc()
		return
	}

	outcome := r.webhooks.Deliver(ctx, d.WebhookURL, d.Payload, d.WebhookSecret)

	if outcome.Success {
		if err := r.store.UpdateDeliverySuccess(ctx, d.ID, outcome.StatusCode, outcome.ResponseBody, outcome.Signature); err != nil {
			logger.Error("failed to record webhook retry success", zap.Error(err))
		}
		metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
		return
	}

	errText := deliveryErrorText(outcome)

	delay, ok := NextRetryDelay(attempt)
	if !ok {
		if err := r.store.MarkPermanentlyFailed(ctx, d.ID, errText); err != nil {
			logger.Error("failed to mark delivery permanently failed", zap.Error(err))
		}
		metrics.WebhookDeliveriesTotal.WithLabelValues("permanent_failure").Inc()
		logger.Warn("webhook delivery exhausted retry schedule",
			zap.String("delivery_id", d.ID.String()), zap.Int("attempt", attempt))
		return
	}

	if err := r.store.UpdateDeliveryRetry(ctx, d.ID, attempt, time.Now().Add(delay), errText, outcome.Signature); err != nil {
		logger.Error("failed to schedule next webhook retry", zap.Error(err))
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("retry_scheduled").Inc()
}
