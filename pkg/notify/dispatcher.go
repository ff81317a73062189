package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/logger"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/models"
)

// EmailSender is the external email collaborator. The provider integration
// itself is out of scope; this interface is what the Dispatcher calls.
type EmailSender interface {
	Send(ctx context.Context, recipient, subject, markdownBody string) error
}

// WebhookStore is the storage slice the Dispatcher needs to create a
// delivery row for a webhook channel.
type WebhookStore interface {
	CreateDelivery(ctx context.Context, d *models.WebhookDelivery) error
	UpdateDeliverySuccess(ctx context.Context, id uuid.UUID, code int, body, signature string) error
	UpdateDeliveryRetry(ctx context.Context, id uuid.UUID, attempt int, nextRetryAt time.Time, errMessage, signature string) error
}

// SendStore records one row per channel dispatch attempt, success or
// failure, in the append-only notification_sends table.
type SendStore interface {
	RecordSend(ctx context.Context, send *models.NotificationSend) error
}

// Dispatcher fans a task's completed-run notification out to every
// configured channel.
type Dispatcher struct {
	webhookStore WebhookStore
	sendStore    SendStore
	webhooks     *WebhookService
	slack        *SlackSender
	email        EmailSender
}

func NewDispatcher(webhookStore WebhookStore, sendStore SendStore, webhooks *WebhookService, slack *SlackSender, email EmailSender) *Dispatcher {
	return &Dispatcher{
		webhookStore: webhookStore,
		sendStore:    sendStore,
		webhooks:     webhooks,
		slack:        slack,
		email:        email,
	}
}

// Dispatch iterates task.Notifications in order, invoking the matching
// sub-dispatcher for each. Unknown channel types are skipped with a
// warning. Every attempt is recorded in notification_sends regardless of
// outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, task models.Task, owner models.User, exec models.TaskExecution, notification, evidence string, sources []string) {
	for _, ch := range task.Notifications {
		switch ch.Type {
		case models.NotificationChannelEmail:
			d.dispatchEmail(ctx, task, exec, ch, notification)
		case models.NotificationChannelWebhook:
			d.dispatchWebhook(ctx, task, owner, exec, ch, notification, evidence, sources)
		case models.NotificationChannelSlack:
			d.dispatchSlack(ctx, task, owner, exec, notification)
		default:
			logger.Warn("skipping unknown notification channel type",
				zap.String("task_id", task.ID.String()), zap.String("type", string(ch.Type)))
		}
	}
}

func (d *Dispatcher) recordSend(ctx context.Context, taskID, execID uuid.UUID, recipient string, channelType models.NotificationChannelType, status models.NotificationSendStatus, errMsg *string) {
	send := &models.NotificationSend{
		TaskID:           taskID,
		ExecutionID:      execID,
		Recipient:        recipient,
		NotificationType: string(channelType),
		Status:           status,
		ErrorMessage:     errMsg,
	}
	if err := d.sendStore.RecordSend(ctx, send); err != nil {
		logger.Error("failed to record notification send", zap.Error(err))
	}
}

func (d *Dispatcher) dispatchEmail(ctx context.Context, task models.Task, exec models.TaskExecution, ch models.NotificationConfig, notification string) {
	recipient := ch.Recipient
	err := d.email.Send(ctx, recipient, "Update: "+task.Name, notification)
	status := models.NotificationSendSuccess
	var errMsg *string
	if err != nil {
		status = models.NotificationSendFailed
		msg := err.Error()
		errMsg = &msg
		logger.Warn("email dispatch failed", zap.String("task_id", task.ID.String()), zap.Error(err))
	}
	d.recordSend(ctx, task.ID, exec.ID, recipient, models.NotificationChannelEmail, status, errMsg)
}

func (d *Dispatcher) dispatchWebhook(ctx context.Context, task models.Task, owner models.User, exec models.TaskExecution, ch models.NotificationConfig, notification, evidence string, sources []string) {
	url := ch.WebhookURL
	secret := ch.WebhookSecret
	if url == "" {
		url = owner.DefaultWebhookURL
		secret = owner.DefaultWebhookSecret
	}
	if url == "" {
		d.recordSend(ctx, task.ID, exec.ID, "", models.NotificationChannelWebhook, models.NotificationSendFailed, strPtr("no webhook url configured"))
		return
	}

	payload := models.WebhookPayload{
		TaskID:       task.ID,
		TaskName:     task.Name,
		ExecutionID:  exec.ID,
		ConditionMet: true,
		Notification: notification,
		Evidence:     evidence,
		Sources:      sources,
		Timestamp:    time.Now().UTC(),
	}

	delivery := &models.WebhookDelivery{
		TaskID:        task.ID,
		WebhookURL:    url,
		Payload:       payload,
		WebhookSecret: secret,
		Status:        models.WebhookDeliveryPending,
		AttemptNumber: 1,
	}
	if err := d.webhookStore.CreateDelivery(ctx, delivery); err != nil {
		logger.Error("failed to create webhook delivery row", zap.Error(err))
		return
	}

	outcome := d.webhooks.Deliver(ctx, url, payload, secret)

	status := models.NotificationSendSuccess
	var errMsg *string

	if outcome.Success {
		if err := d.webhookStore.UpdateDeliverySuccess(ctx, delivery.ID, outcome.StatusCode, outcome.ResponseBody, outcome.Signature); err != nil {
			logger.Error("failed to record webhook delivery success", zap.Error(err))
		}
	} else {
		status = models.NotificationSendFailed
		errText := deliveryErrorText(outcome)
		errMsg = &errText

		if delay, ok := NextRetryDelay(1); ok {
			if err := d.webhookStore.UpdateDeliveryRetry(ctx, delivery.ID, 1, time.Now().Add(delay), errText, outcome.Signature); err != nil {
				logger.Error("failed to schedule webhook retry", zap.Error(err))
			}
		}
	}

	d.recordSend(ctx, task.ID, exec.ID, url, models.NotificationChannelWebhook, status, errMsg)
}

func deliveryErrorText(o DeliveryOutcome) string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return "webhook delivery failed with status " + strconv.Itoa(o.StatusCode)
}

func strPtr(s string) *string { return &s }
