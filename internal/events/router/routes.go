package router

import (
	"encoding/json"
	"fmt"
	"strconv"

	"notification-service/internal/common/messaging"
	"notification-service/internal/models"
	"notification-service/internal/notification/service"
	"notification-service/internal/notification/templates"
)

// route turns one event type into a template notification.
type route struct {
	template       string
	priority       models.Priority
	recipientField string
	emailField     string
	dataKey        string
	variables      func(data map[string]interface{}) map[string]interface{}
}

// queueRoutes maps a queue to the event types that create notifications. Event types bound
// to a queue but missing here are acknowledged and logged only.
var queueRoutes = map[string]map[string]route{
	QueueUser: {
		"user.registered": {
			template:       templates.UserRegistered,
			priority:       models.PriorityMedium,
			recipientField: "userId",
			emailField:     "email",
			dataKey:        "user_data",
			variables: func(data map[string]interface{}) map[string]interface{} {
				return map[string]interface{}{
					"first_name": valueOr(data, "firstName", "User"),
					"email":      valueOr(data, "email", ""),
				}
			},
		},
		"user.suspended": {
			template:       templates.UserSuspended,
			priority:       models.PriorityHigh,
			recipientField: "userId",
			dataKey:        "suspension_data",
			variables: func(data map[string]interface{}) map[string]interface{} {
				return map[string]interface{}{
					"reason": valueOr(data, "reason", "No reason provided"),
				}
			},
		},
	},
	QueueAdmin: {
		"admin.registered": {
			template:       templates.AdminRegistered,
			priority:       models.PriorityMedium,
			recipientField: "adminId",
			emailField:     "email",
			dataKey:        "admin_data",
			variables: func(data map[string]interface{}) map[string]interface{} {
				createdBy := interface{}("System")
				if by, ok := data["createdBy"].(map[string]interface{}); ok {
					createdBy = valueOr(by, "email", "System")
				}
				return map[string]interface{}{
					"first_name": valueOr(data, "firstName", "Admin"),
					"role":       valueOr(data, "role", "admin"),
					"created_by": createdBy,
				}
			},
		},
	},
	QueueReservation: {
		"reservation.created": {
			template:       templates.ReservationCreated,
			priority:       models.PriorityMedium,
			recipientField: "userId",
			dataKey:        "reservation_data",
			variables: func(data map[string]interface{}) map[string]interface{} {
				return map[string]interface{}{
					"book_title":  valueOr(data, "bookTitle", "Book"),
					"book_author": valueOr(data, "bookAuthor", "Author"),
					"due_date":    valueOr(data, "dueDate", ""),
				}
			},
		},
		"reservation.returned": {
			template:       templates.ReservationReturned,
			priority:       models.PriorityLow,
			recipientField: "userId",
			dataKey:        "reservation_data",
			variables: func(data map[string]interface{}) map[string]interface{} {
				return map[string]interface{}{
					"book_title": valueOr(data, "bookTitle", "Book"),
				}
			},
		},
		"reservation.overdue": {
			template:       templates.ReservationOverdue,
			priority:       models.PriorityHigh,
			recipientField: "userId",
			dataKey:        "reservation_data",
			variables: func(data map[string]interface{}) map[string]interface{} {
				return map[string]interface{}{
					"book_title": valueOr(data, "bookTitle", "Book"),
					"due_date":   valueOr(data, "dueDate", ""),
				}
			},
		},
	},
}

func (r route) notification(data map[string]interface{}) service.TemplateNotification {
	tn := service.TemplateNotification{
		Template:    r.template,
		RecipientID: stringField(data, r.recipientField),
		Variables:   r.variables(data),
		Priority:    r.priority,
		Type:        models.TypeSystem,
		Data: map[string]interface{}{
			"event_type": r.template,
			r.dataKey:    data,
		},
	}
	if r.emailField != "" {
		tn.RecipientEmail = stringField(data, r.emailField)
	}
	return tn
}

// eventIndex resolves any bound routing key alias to its dotted event type, per queue.
func eventIndex(bindings []messaging.Binding) map[string]map[string]string {
	idx := make(map[string]map[string]string, len(bindings))
	for _, b := range bindings {
		aliases := make(map[string]string)
		for _, key := range b.RoutingKeys {
			for _, alias := range messaging.RoutingKeyAliases(key) {
				aliases[alias] = key
			}
		}
		idx[b.Queue] = aliases
	}
	return idx
}

func valueOr(data map[string]interface{}, key string, def interface{}) interface{} {
	if v, ok := data[key]; ok && v != nil {
		return v
	}
	return def
}

// stringField reads an id-like field. Numeric ids are rendered without exponent or fraction.
func stringField(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
