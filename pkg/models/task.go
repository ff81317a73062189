package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskState is the lifecycle state driven by the task state machine.
type TaskState string

const (
	TaskStateActive    TaskState = "active"
	TaskStatePaused    TaskState = "paused"
	TaskStateCompleted TaskState = "completed"
)

// NotifyBehavior controls whether a task keeps monitoring after its first
// notification or runs forever.
type NotifyBehavior string

const (
	NotifyBehaviorOnce   NotifyBehavior = "once"
	NotifyBehaviorAlways NotifyBehavior = "always"
)

// NotificationChannelType selects the sub-dispatcher a NotificationConfig
// entry is routed to.
type NotificationChannelType string

const (
	NotificationChannelEmail   NotificationChannelType = "email"
	NotificationChannelWebhook NotificationChannelType = "webhook"
	NotificationChannelSlack   NotificationChannelType = "slack"
)

// NotificationConfig is one entry of Task.Notifications.
type NotificationConfig struct {
	Type          NotificationChannelType `json:"type"`
	WebhookURL    string                  `json:"webhook_url,omitempty"`
	WebhookSecret string                  `json:"webhook_secret,omitempty"`
	Recipient     string                  `json:"recipient,omitempty"`
	Provider      string                  `json:"provider,omitempty"`
}

// NotificationConfigList is the JSONB-backed ordered list of channels a
// task fans notifications out to.
type NotificationConfigList []NotificationConfig

func (n *NotificationConfigList) Scan(value interface{}) error {
	var tmp []NotificationConfig
	if err := rawJSONB(value, "notifications", &tmp); err != nil {
		return err
	}
	*n = tmp
	return nil
}

func (n NotificationConfigList) Value() (driver.Value, error) {
	if n == nil {
		return jsonbValue([]NotificationConfig{})
	}
	return jsonbValue([]NotificationConfig(n))
}

// LastKnownState is the opaque snapshot of the most recent successful
// agent evidence, carried forward into the next run's prompt.
type LastKnownState map[string]interface{}

func (s *LastKnownState) Scan(value interface{}) error {
	var tmp map[string]interface{}
	if err := rawJSONB(value, "last_known_state", &tmp); err != nil {
		return err
	}
	*s = tmp
	return nil
}

func (s LastKnownState) Value() (driver.Value, error) {
	if s == nil {
		return jsonbValue(map[string]interface{}{})
	}
	return jsonbValue(map[string]interface{}(s))
}

// Task is the durable mapping between an owner and a monitoring condition.
type Task struct {
	ID                  uuid.UUID              `json:"id" gorm:"type:uuid;primaryKey"`
	UserID              uuid.UUID              `json:"user_id" gorm:"type:uuid;not null;index:idx_tasks_user_name,unique"`
	Name                string                 `json:"name" gorm:"not null;index:idx_tasks_user_name,unique"`
	SearchQuery         string                 `json:"search_query" gorm:"not null"`
	ConditionDescription string                `json:"condition_description" gorm:"not null"`
	Schedule            string                 `json:"schedule" gorm:"not null"`
	State               TaskState              `json:"state" gorm:"type:varchar(20);not null;default:'active'"`
	StateChangedAt      time.Time              `json:"state_changed_at"`
	NextRun             *time.Time             `json:"next_run" gorm:"index"`
	NotifyBehavior      NotifyBehavior         `json:"notify_behavior" gorm:"type:varchar(10);not null;default:'once'"`
	Notifications       NotificationConfigList `json:"notifications" gorm:"type:jsonb"`
	LastKnownState      LastKnownState         `json:"last_known_state" gorm:"type:jsonb"`
	LastExecutionID     *uuid.UUID             `json:"last_execution_id" gorm:"type:uuid"`
	IsPublic            bool                   `json:"is_public" gorm:"default:false"`
	Slug                *string                `json:"slug" gorm:"uniqueIndex:idx_tasks_user_slug"`
	ViewCount           int64                  `json:"view_count" gorm:"default:0"`
	ForkedFromTaskID    *uuid.UUID             `json:"forked_from_task_id" gorm:"type:uuid"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
	DeletedAt            gorm.DeletedAt        `json:"-" gorm:"index"`
}

// DefaultTaskName is the placeholder a task carries until the agent's first
// successful run supplies a topic to rename it with.
const DefaultTaskName = "New Monitor"

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.StateChangedAt.IsZero() {
		t.StateChangedAt = time.Now().UTC()
	}
	return nil
}

// ReservedUsernames blocks usernames that would collide with platform routes.
var ReservedUsernames = map[string]bool{
	"admin": true, "api": true, "auth": true, "explore": true,
	"settings": true, "support": true, "help": true, "www": true,
	"app": true, "dashboard": true, "tasks": true, "public": true,
	"signin": true, "signup": true, "login": true, "logout": true,
	"register": true,
}

// User is the stable owner identity tasks and integrations reference.
type User struct {
	ID                   uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Email                string    `json:"email" gorm:"uniqueIndex;not null"`
	EmailVerified        bool      `json:"email_verified" gorm:"default:false"`
	Username             *string   `json:"username" gorm:"uniqueIndex"`
	DefaultWebhookURL    string    `json:"default_webhook_url"`
	DefaultWebhookSecret string    `json:"default_webhook_secret"`
	DefaultWebhookEnabled bool     `json:"default_webhook_enabled" gorm:"default:false"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
