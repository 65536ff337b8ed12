// internal/models/notification.go
package models

import "time"

const (
	MaxTitleLength   = 255
	MaxMessageLength = 2000
)

type NotificationType string

const (
	TypeEmail  NotificationType = "email"
	TypeSystem NotificationType = "system"
	TypePush   NotificationType = "push"
	TypeSMS    NotificationType = "sms"
)

func (t NotificationType) Valid() bool {
	switch t {
	case TypeEmail, TypeSystem, TypePush, TypeSMS:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Status is the delivery lifecycle of a notification.
//
//	pending -> sent | failed | read
//	sent    -> read
//
// failed and read are terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusRead    Status = "read"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed, StatusRead:
		return true
	}
	return false
}

// CanTransition reports whether a notification in status s may move to next.
// Staying in the same status is always allowed.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusSent || next == StatusFailed || next == StatusRead
	case StatusSent:
		return next == StatusRead
	}
	return false
}

// Notification is a persisted notification record.
type Notification struct {
	ID             string                 `json:"id"`
	Type           NotificationType       `json:"type"`
	RecipientID    string                 `json:"recipient_id"`
	RecipientEmail string                 `json:"recipient_email,omitempty"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	Priority       Priority               `json:"priority"`
	Status         Status                 `json:"status"`
	Data           map[string]interface{} `json:"data,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	SentAt         *time.Time             `json:"sent_at,omitempty"`
	ReadAt         *time.Time             `json:"read_at,omitempty"`
	ScheduledAt    *time.Time             `json:"scheduled_at,omitempty"`
}

// NewNotification holds the caller supplied fields of a notification to create.
type NewNotification struct {
	Type           NotificationType
	RecipientID    string
	RecipientEmail string
	Title          string
	Message        string
	Priority       Priority
	Data           map[string]interface{}
	ScheduledAt    *time.Time
}

// NotificationUpdate is a partial update. Nil fields are left untouched.
type NotificationUpdate struct {
	Status *Status
	ReadAt *time.Time
}

// Page is one window of a recipient's notifications, newest first.
type Page struct {
	Notifications []*Notification `json:"notifications"`
	Total         int64           `json:"total"`
	Page          int             `json:"page"`
	Limit         int             `json:"limit"`
	HasNext       bool            `json:"has_next"`
	HasPrev       bool            `json:"has_prev"`
}
