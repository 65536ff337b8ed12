// internal/notification/templates/registry.go
package templates

import (
	"fmt"
	"sort"
	"strings"

	apperrors "notification-service/internal/common/errors"
	"notification-service/internal/models"
)

// Registry is the immutable set of notification templates.
type Registry struct {
	templates map[string]models.Template
}

// NewRegistry returns a registry holding the built-in templates.
func NewRegistry() *Registry {
	return NewRegistryFrom(builtins())
}

// NewRegistryFrom builds a registry from an explicit template list. Later entries win on id clashes.
func NewRegistryFrom(list []models.Template) *Registry {
	r := &Registry{templates: make(map[string]models.Template, len(list))}
	for _, t := range list {
		t.Variables = append([]string(nil), t.Variables...)
		r.templates[t.ID] = t
	}
	return r
}

func (r *Registry) Get(id string) (models.Template, error) {
	t, ok := r.templates[id]
	if !ok {
		return models.Template{}, apperrors.NewTemplateNotFoundError(id)
	}
	return t, nil
}

// All returns every template sorted by id.
func (r *Registry) All() []models.Template {
	out := make([]models.Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Render fills the template's placeholders. Placeholders without a value render as empty text.
func (r *Registry) Render(id string, vars map[string]interface{}) (models.Rendered, error) {
	t, err := r.Get(id)
	if err != nil {
		return models.Rendered{}, err
	}
	return models.Rendered{
		Title:   renderTemplate(t.TitleTemplate, vars),
		Message: renderTemplate(t.MessageTemplate, vars),
	}, nil
}

// RenderStrict is Render that refuses to run when a declared variable is absent.
func (r *Registry) RenderStrict(id string, vars map[string]interface{}) (models.Rendered, error) {
	missing, err := r.MissingVariables(id, vars)
	if err != nil {
		return models.Rendered{}, err
	}
	if len(missing) > 0 {
		return models.Rendered{}, apperrors.NewMissingVariableError(id, missing)
	}
	return r.Render(id, vars)
}

// MissingVariables lists the declared variables of a template that vars does not provide.
func (r *Registry) MissingVariables(id string, vars map[string]interface{}) ([]string, error) {
	t, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, name := range t.Variables {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// renderTemplate replaces {{name}} placeholders in one pass, so substituted values are
// never scanned again. Unknown placeholders are dropped.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	var b strings.Builder
	b.Grow(len(tmpl))

	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(rest[:start])
		name := strings.TrimSpace(rest[start+2 : end])
		b.WriteString(formatValue(data[name]))
		rest = rest[end+2:]
	}
	b.WriteString(rest)

	return b.String()
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return fmt.Sprintf("%d", val)
	case float64:
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
