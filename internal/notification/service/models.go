// internal/notification/service/models.go
package service

import (
	"context"
	"time"

	"notification-service/internal/common/logger"
	"notification-service/internal/models"
	"notification-service/internal/notification/templates"
)

// SendRequest is a direct notification request from another service.
type SendRequest struct {
	Type           models.NotificationType `json:"type"`
	Recipient      string                  `json:"recipient"`
	RecipientEmail string                  `json:"recipient_email,omitempty"`
	Title          string                  `json:"title"`
	Message        string                  `json:"message"`
	Priority       models.Priority         `json:"priority,omitempty"`
	Data           map[string]interface{}  `json:"data,omitempty"`
	ScheduledAt    *time.Time              `json:"scheduled_at,omitempty"`
}

// TemplateNotification asks for a notification rendered from a registered template.
type TemplateNotification struct {
	Template       string
	RecipientID    string
	RecipientEmail string
	Variables      map[string]interface{}
	Priority       models.Priority
	// Type overrides the template's own type when set.
	Type models.NotificationType
	Data map[string]interface{}
}

// Store is the persistence the facade needs.
type Store interface {
	Create(ctx context.Context, in models.NewNotification) (*models.Notification, error)
	Get(ctx context.Context, id string) (*models.Notification, error)
	Update(ctx context.Context, id string, upd models.NotificationUpdate) (*models.Notification, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListByRecipient(ctx context.Context, recipientID string, page, limit int, status *models.Status) (*models.Page, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	DeleteOlderThan(ctx context.Context, age time.Duration) (int, error)
	Ping(ctx context.Context) error
}

type ServiceDependencies struct {
	Store     Store
	Templates *templates.Registry
	Logger    logger.Logger
}
