package service

import "notification-service/internal/common/validation"

var sendRequestSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["type", "recipient", "title", "message"],
	"properties": {
		"type": {"type": "string", "enum": ["email", "system", "push", "sms"]},
		"recipient": {"type": "string", "minLength": 1, "maxLength": 255},
		"recipient_email": {"type": "string", "maxLength": 320},
		"title": {"type": "string", "minLength": 1, "maxLength": 255},
		"message": {"type": "string", "minLength": 1, "maxLength": 2000},
		"priority": {"type": "string", "enum": ["low", "medium", "high", "urgent"]},
		"data": {"type": "object"},
		"scheduled_at": {"type": "string"}
	}
}`)
