// Package service is the notification facade shared by the HTTP API and the event router.
package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	apperrors "notification-service/internal/common/errors"
	"notification-service/internal/common/logger"
	"notification-service/internal/common/metrics"
	"notification-service/internal/common/validation"
	"notification-service/internal/models"
	"notification-service/internal/notification/templates"
)

const (
	MinCleanupDays = 1
	MaxCleanupDays = 365

	originAPI   = "api"
	originEvent = "event"
)

type Service struct {
	store     Store
	templates *templates.Registry
	logger    logger.Logger
}

func NewService(deps ServiceDependencies) *Service {
	reg := deps.Templates
	if reg == nil {
		reg = templates.NewRegistry()
	}
	return &Service{
		store:     deps.Store,
		templates: reg,
		logger:    logger.ForComponent(deps.Logger, "notification-service"),
	}
}

// Send validates and persists a notification supplied verbatim by a caller.
func (s *Service) Send(ctx context.Context, req SendRequest) (*models.Notification, error) {
	result, err := sendRequestSchema.ValidateDocument(req)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if !result.Valid {
		return nil, apperrors.NewValidationFailedError(result.Summary())
	}
	if req.RecipientEmail != "" {
		if err := validation.ValidateEmailAddress(req.RecipientEmail); err != nil {
			return nil, apperrors.NewValidationFailedError(fmt.Sprintf("recipient_email: %v", err))
		}
	}

	return s.create(ctx, models.NewNotification{
		Type:           req.Type,
		RecipientID:    req.Recipient,
		RecipientEmail: req.RecipientEmail,
		Title:          req.Title,
		Message:        req.Message,
		Priority:       req.Priority,
		Data:           req.Data,
		ScheduledAt:    req.ScheduledAt,
	}, originAPI)
}

// Notify renders a template and persists the result. Variables missing from the
// request render as empty text and are logged.
func (s *Service) Notify(ctx context.Context, tn TemplateNotification) (*models.Notification, error) {
	if tn.RecipientID == "" {
		return nil, apperrors.NewValidationFailedError("recipient id is required")
	}

	tmpl, err := s.templates.Get(tn.Template)
	if err != nil {
		return nil, err
	}

	if missing, _ := s.templates.MissingVariables(tn.Template, tn.Variables); len(missing) > 0 {
		s.logger.Warn("template variables missing", map[string]interface{}{
			"template":    tn.Template,
			"recipientId": tn.RecipientID,
			"missing":     missing,
		})
	}

	rendered, err := s.templates.Render(tn.Template, tn.Variables)
	if err != nil {
		return nil, err
	}

	if tn.RecipientEmail != "" {
		if err := validation.ValidateEmailAddress(tn.RecipientEmail); err != nil {
			return nil, apperrors.NewValidationFailedError(fmt.Sprintf("recipient_email: %v", err))
		}
	}
	if n := utf8.RuneCountInString(rendered.Title); n > models.MaxTitleLength {
		return nil, apperrors.NewValidationFailedError(fmt.Sprintf("rendered title is %d characters long", n))
	}
	if n := utf8.RuneCountInString(rendered.Message); n > models.MaxMessageLength {
		return nil, apperrors.NewValidationFailedError(fmt.Sprintf("rendered message is %d characters long", n))
	}

	kind := tn.Type
	if kind == "" {
		kind = tmpl.Type
	}
	priority := tn.Priority
	if priority != "" && !priority.Valid() {
		return nil, apperrors.NewValidationFailedError("unknown priority " + string(priority))
	}

	return s.create(ctx, models.NewNotification{
		Type:           kind,
		RecipientID:    tn.RecipientID,
		RecipientEmail: tn.RecipientEmail,
		Title:          rendered.Title,
		Message:        rendered.Message,
		Priority:       priority,
		Data:           tn.Data,
	}, originEvent)
}

func (s *Service) create(ctx context.Context, in models.NewNotification, origin string) (*models.Notification, error) {
	n, err := s.store.Create(ctx, in)
	if err != nil {
		return nil, err
	}

	metrics.NotificationsCreated.WithLabelValues(string(n.Type), string(n.Priority), origin).Inc()
	s.logger.Info("notification created", map[string]interface{}{
		"notificationId": n.ID,
		"recipientId":    n.RecipientID,
		"type":           n.Type,
		"origin":         origin,
	})
	return n, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Notification, error) {
	return s.store.Get(ctx, id)
}

// ListForRecipient returns one page of a recipient's notifications, optionally filtered by status.
func (s *Service) ListForRecipient(ctx context.Context, recipientID string, page, limit int, status *models.Status) (*models.Page, error) {
	if status != nil && !status.Valid() {
		return nil, apperrors.NewValidationFailedError("unknown status " + string(*status))
	}
	return s.store.ListByRecipient(ctx, recipientID, page, limit, status)
}

func (s *Service) MarkRead(ctx context.Context, id string) (*models.Notification, error) {
	return s.setStatus(ctx, id, models.StatusRead)
}

func (s *Service) MarkSent(ctx context.Context, id string) (*models.Notification, error) {
	return s.setStatus(ctx, id, models.StatusSent)
}

func (s *Service) MarkFailed(ctx context.Context, id string) (*models.Notification, error) {
	return s.setStatus(ctx, id, models.StatusFailed)
}

func (s *Service) setStatus(ctx context.Context, id string, status models.Status) (*models.Notification, error) {
	n, err := s.store.Update(ctx, id, models.NotificationUpdate{Status: &status})
	if err != nil {
		return nil, err
	}
	metrics.NotificationStatusChanges.WithLabelValues(string(status)).Inc()
	return n, nil
}

func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	return s.store.Delete(ctx, id)
}

func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	return s.store.CountUnread(ctx, recipientID)
}

// Cleanup removes notifications older than days. On partial failure the count of
// removed records is returned together with the error.
func (s *Service) Cleanup(ctx context.Context, days int) (int, error) {
	if days < MinCleanupDays || days > MaxCleanupDays {
		return 0, apperrors.NewValidationFailedError(
			fmt.Sprintf("days must be between %d and %d", MinCleanupDays, MaxCleanupDays))
	}

	deleted, err := s.store.DeleteOlderThan(ctx, time.Duration(days)*24*time.Hour)
	metrics.CleanupDeleted.Add(float64(deleted))
	if err != nil {
		s.logger.Error("cleanup interrupted", map[string]interface{}{
			"days":    days,
			"deleted": deleted,
			"error":   err,
		})
		return deleted, err
	}

	s.logger.Info("cleanup finished", map[string]interface{}{
		"days":    days,
		"deleted": deleted,
	})
	return deleted, nil
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *Service) RunCleanup(ctx context.Context, interval time.Duration, days int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Cleanup(ctx, days)
		}
	}
}

func (s *Service) Templates() []models.Template {
	return s.templates.All()
}

// Healthy reports whether the store answers.
func (s *Service) Healthy(ctx context.Context) error {
	return s.store.Ping(ctx)
}
