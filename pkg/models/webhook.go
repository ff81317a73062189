package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookDeliveryStatus is the lifecycle state of one delivery chain.
type WebhookDeliveryStatus string

const (
	WebhookDeliveryPending WebhookDeliveryStatus = "pending"
	WebhookDeliverySuccess WebhookDeliveryStatus = "success"
	WebhookDeliveryFailed  WebhookDeliveryStatus = "failed"
)

// WebhookPayload is the JSON body POSTed to the subscriber.
type WebhookPayload struct {
	TaskID        uuid.UUID `json:"task_id"`
	TaskName      string    `json:"task_name"`
	ExecutionID   uuid.UUID `json:"execution_id"`
	ConditionMet  bool      `json:"condition_met"`
	Notification  string    `json:"notification"`
	Evidence      string    `json:"evidence"`
	Sources       []string  `json:"sources"`
	Timestamp     time.Time `json:"timestamp"`
}

func (p *WebhookPayload) Scan(value interface{}) error {
	return rawJSONB(value, "payload", p)
}

func (p WebhookPayload) Value() (driver.Value, error) {
	return jsonbValue(p)
}

// WebhookDelivery is one record per webhook attempt chain.
type WebhookDelivery struct {
	ID            uuid.UUID             `json:"id" gorm:"type:uuid;primaryKey"`
	TaskID        uuid.UUID             `json:"task_id" gorm:"type:uuid;not null;index"`
	WebhookURL    string                `json:"webhook_url" gorm:"not null"`
	Payload       WebhookPayload        `json:"payload" gorm:"type:jsonb"`
	WebhookSecret string                `json:"webhook_secret"`
	Status        WebhookDeliveryStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	AttemptNumber int                   `json:"attempt_number" gorm:"default:0"`
	NextRetryAt   *time.Time            `json:"next_retry_at" gorm:"index"`
	DeliveredAt   *time.Time            `json:"delivered_at"`
	ResponseCode  *int                  `json:"response_code"`
	ResponseBody  *string               `json:"response_body"`
	ErrorMessage  *string               `json:"error_message"`
	Signature     *string               `json:"signature"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

func (d *WebhookDelivery) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// OAuthIntegration is a (user, provider) pair with an at-rest encrypted
// access token, used by the Slack notification sub-dispatcher.
type OAuthIntegration struct {
	ID                 uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID             uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index:idx_oauth_user_provider,unique"`
	Provider           string    `json:"provider" gorm:"not null;index:idx_oauth_user_provider,unique"`
	EncryptedAccessToken string  `json:"-" gorm:"column:access_token;not null"`
	ChannelID          string    `json:"channel_id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (o *OAuthIntegration) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// NotificationSendStatus is the outcome of one channel dispatch attempt.
type NotificationSendStatus string

const (
	NotificationSendSuccess NotificationSendStatus = "success"
	NotificationSendFailed  NotificationSendStatus = "failed"
)

// NotificationSend is an append-only audit row, one per channel per
// execution, forming the history view users see.
type NotificationSend struct {
	ID               uuid.UUID               `json:"id" gorm:"type:uuid;primaryKey"`
	TaskID           uuid.UUID               `json:"task_id" gorm:"type:uuid;not null;index"`
	ExecutionID      uuid.UUID               `json:"execution_id" gorm:"type:uuid;not null;index"`
	Recipient        string                  `json:"recipient"`
	NotificationType NotificationChannelType `json:"notification_type" gorm:"type:varchar(20);not null"`
	Status           NotificationSendStatus  `json:"status" gorm:"type:varchar(20);not null"`
	ErrorMessage     *string                 `json:"error_message"`
	CreatedAt        time.Time               `json:"created_at"`
}

func (n *NotificationSend) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
