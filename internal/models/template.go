package models

// Template describes a notification kind. Placeholders use the {{name}} form.
type Template struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Type            NotificationType `json:"type"`
	TitleTemplate   string           `json:"title_template"`
	MessageTemplate string           `json:"message_template"`
	Variables       []string         `json:"variables"`
	Description     string           `json:"description,omitempty"`
}

type Rendered struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}
