package router

import (
	"bytes"
	"encoding/json"

	apperrors "notification-service/internal/common/errors"
	"notification-service/internal/common/validation"
)

// Envelope is the JSON body every publisher sends.
type Envelope struct {
	EventType string                 `json:"eventType"`
	Timestamp string                 `json:"timestamp,omitempty"`
	Source    string                 `json:"source,omitempty"`
	Data      map[string]interface{} `json:"data"`
}

var envelopeSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["eventType"],
	"properties": {
		"eventType": {"type": "string", "minLength": 1},
		"timestamp": {"type": "string"},
		"source": {"type": "string"},
		"data": {"type": ["object", "null"]}
	}
}`)

// decodeEnvelope validates and decodes a delivery body. Numbers are kept as json.Number
// so ids survive unchanged.
func decodeEnvelope(body []byte) (*Envelope, error) {
	result, err := envelopeSchema.ValidateJSON(body)
	if err != nil {
		return nil, apperrors.NewDecodeError("body is not valid JSON", err)
	}
	if !result.Valid {
		return nil, apperrors.NewDecodeError(result.Summary(), nil)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, apperrors.NewDecodeError("decode envelope", err)
	}
	if env.Data == nil {
		env.Data = map[string]interface{}{}
	}
	return &env, nil
}
