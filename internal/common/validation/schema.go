package validation

import (
	"fmt"
	"strings"

	"github.com/mcnijman/go-emailaddress"
	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Summary joins the errors into one line for logs and error details.
func (r *ValidationResult) Summary() string {
	parts := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		parts[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return strings.Join(parts, "; ")
}

// Schema is a compiled JSON schema.
type Schema struct {
	schema *gojsonschema.Schema
}

// MustCompile compiles a JSON schema document and panics if it is malformed.
// Schemas are package level literals, so a failure is a programming error.
func MustCompile(source string) *Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return &Schema{schema: s}
}

// ValidateDocument validates a Go value. The value is encoded with its json tags first.
func (s *Schema) ValidateDocument(doc interface{}) (*ValidationResult, error) {
	return s.validate(gojsonschema.NewGoLoader(doc))
}

// ValidateJSON validates raw JSON bytes.
func (s *Schema) ValidateJSON(raw []byte) (*ValidationResult, error) {
	return s.validate(gojsonschema.NewBytesLoader(raw))
}

func (s *Schema) validate(loader gojsonschema.JSONLoader) (*ValidationResult, error) {
	result, err := s.schema.Validate(loader)
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return out, nil
}

// ValidateEmailAddress returns an error if the format of an email address is invalid.
func ValidateEmailAddress(address string) error {
	_, err := emailaddress.Parse(address)
	return err
}
