package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// NotificationType drives how clients render a notification.
type NotificationType string

const (
	NotificationTypeInfo    NotificationType = "info"
	NotificationTypeSuccess NotificationType = "success"
	NotificationTypeWarning NotificationType = "warning"
	NotificationTypeError   NotificationType = "error"
)

// NotificationCategory groups notifications by origin.
type NotificationCategory string

const (
	NotificationCategoryGeneral   NotificationCategory = "general"
	NotificationCategoryAcademic  NotificationCategory = "academic"
	NotificationCategoryFinance   NotificationCategory = "finance"
	NotificationCategoryComplaint NotificationCategory = "complaint"
	NotificationCategorySystem    NotificationCategory = "system"
)

// NotificationPriority orders notifications for display.
type NotificationPriority string

const (
	NotificationPriorityLow    NotificationPriority = "low"
	NotificationPriorityNormal NotificationPriority = "normal"
	NotificationPriorityHigh   NotificationPriority = "high"
	NotificationPriorityUrgent NotificationPriority = "urgent"
)

// Notification is a message delivered to a single recipient.
type Notification struct {
	ID          string               `db:"id" json:"id"`
	RecipientID string               `db:"recipient_id" json:"recipient_id"`
	SenderID    *string              `db:"sender_id" json:"sender_id,omitempty"`
	Title       string               `db:"title" json:"title"`
	Message     string               `db:"message" json:"message"`
	Type        NotificationType     `db:"type" json:"type"`
	Category    NotificationCategory `db:"category" json:"category"`
	Priority    NotificationPriority `db:"priority" json:"priority"`
	IsRead      bool                 `db:"is_read" json:"is_read"`
	ReadAt      *time.Time           `db:"read_at" json:"read_at,omitempty"`
	IsPopup     bool                 `db:"is_popup" json:"is_popup"`
	ExpiresAt   *time.Time           `db:"expires_at" json:"expires_at,omitempty"`
	Metadata    types.JSONText       `db:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time            `db:"created_at" json:"created_at"`
}

// NotificationFilter scopes a recipient's inbox.
type NotificationFilter struct {
	RecipientID string
	UnreadOnly  bool
	Category    NotificationCategory
	Page        int
	PageSize    int
}

// NotificationMessage is the content fanned out to one or more recipients.
type NotificationMessage struct {
	SenderID  *string              `json:"sender_id,omitempty"`
	Title     string               `json:"title" validate:"required,max=200"`
	Message   string               `json:"message" validate:"required"`
	Type      NotificationType     `json:"type" validate:"omitempty,oneof=info success warning error"`
	Category  NotificationCategory `json:"category" validate:"omitempty,oneof=general academic finance complaint system"`
	Priority  NotificationPriority `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	IsPopup   bool                 `json:"is_popup"`
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
	Metadata  map[string]any       `json:"metadata,omitempty"`
}

// SendNotificationRequest targets one user.
type SendNotificationRequest struct {
	RecipientID string `json:"recipient_id" validate:"required"`
	NotificationMessage
}

// BroadcastRequest targets every active user, optionally narrowed to a role.
type BroadcastRequest struct {
	Role *UserRole `json:"role,omitempty"`
	NotificationMessage
}
