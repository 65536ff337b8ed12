package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"notification-service/internal/models"
)

const (
	notificationKeyPrefix = "notification:"
	recipientKeyPrefix    = "user_notifications:"
)

func notificationKey(id string) string {
	return notificationKeyPrefix + id
}

func recipientKey(recipientID string) string {
	return recipientKeyPrefix + recipientID
}

// score orders a recipient index by creation time. Microseconds stay exact in a float64.
func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// encode flattens a notification into hash fields. Absent optional values are stored as "".
func encode(n *models.Notification) (map[string]interface{}, error) {
	data := ""
	if n.Data != nil {
		raw, err := json.Marshal(n.Data)
		if err != nil {
			return nil, fmt.Errorf("encode data: %w", err)
		}
		data = string(raw)
	}

	return map[string]interface{}{
		"id":              n.ID,
		"type":            string(n.Type),
		"recipient_id":    n.RecipientID,
		"recipient_email": n.RecipientEmail,
		"title":           n.Title,
		"message":         n.Message,
		"priority":        string(n.Priority),
		"status":          string(n.Status),
		"data":            data,
		"created_at":      formatTime(n.CreatedAt),
		"updated_at":      formatTime(n.UpdatedAt),
		"sent_at":         formatOptionalTime(n.SentAt),
		"read_at":         formatOptionalTime(n.ReadAt),
		"scheduled_at":    formatOptionalTime(n.ScheduledAt),
	}, nil
}

func decode(fields map[string]string) (*models.Notification, error) {
	n := &models.Notification{
		ID:             fields["id"],
		Type:           models.NotificationType(fields["type"]),
		RecipientID:    fields["recipient_id"],
		RecipientEmail: fields["recipient_email"],
		Title:          fields["title"],
		Message:        fields["message"],
		Priority:       models.Priority(fields["priority"]),
		Status:         models.Status(fields["status"]),
	}

	if raw := fields["data"]; raw != "" {
		// Numbers stay json.Number so ids round-trip exactly.
		dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
		dec.UseNumber()
		if err := dec.Decode(&n.Data); err != nil {
			return nil, fmt.Errorf("decode data of %s: %w", n.ID, err)
		}
	}

	var err error
	if n.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode created_at of %s: %w", n.ID, err)
	}
	if n.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("decode updated_at of %s: %w", n.ID, err)
	}
	if n.SentAt, err = parseOptionalTime(fields["sent_at"]); err != nil {
		return nil, fmt.Errorf("decode sent_at of %s: %w", n.ID, err)
	}
	if n.ReadAt, err = parseOptionalTime(fields["read_at"]); err != nil {
		return nil, fmt.Errorf("decode read_at of %s: %w", n.ID, err)
	}
	if n.ScheduledAt, err = parseOptionalTime(fields["scheduled_at"]); err != nil {
		return nil, fmt.Errorf("decode scheduled_at of %s: %w", n.ID, err)
	}

	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
