package mail

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/aymerick/raymond"

	"github.com/lorebook/lorebook/pkg/logger"
)

//go:embed templates/*.hbs
var templateFS embed.FS

// subjects maps a subject kind to the message subject line. A payload whose
// subject kind is missing here is malformed and will never send, so the hook
// treats it as a hard failure rather than retrying.
var subjects = map[string]string{
	"account_confirm":    "Confirm your Lorebook account",
	"password_reset":     "Reset your Lorebook password",
	"reply_notification": "New reply on Lorebook",
}

// Rendered is a fully rendered message body
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer renders Handlebars email templates embedded in the binary.
// Templates are parsed once at construction.
type Renderer struct {
	log       *slog.Logger
	templates map[string]*raymond.Template
}

// NewRenderer parses every embedded template
func NewRenderer(log *slog.Logger) (*Renderer, error) {
	r := &Renderer{
		log:       log.With(logger.Scope("mail.templates")),
		templates: make(map[string]*raymond.Template),
	}

	entries, err := fs.ReadDir(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded templates: %w", err)
	}

	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".hbs")
		content, err := templateFS.ReadFile("templates/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
		tmpl, err := raymond.Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}

	r.log.Debug("loaded mail templates", slog.Int("count", len(r.templates)))
	return r, nil
}

// Has reports whether a template exists for the subject kind
func (r *Renderer) Has(subjectKind string) bool {
	_, ok := r.templates[subjectKind]
	return ok
}

// Render renders the template for the subject kind with the given context
func (r *Renderer) Render(subjectKind string, ctx map[string]interface{}) (*Rendered, error) {
	tmpl, ok := r.templates[subjectKind]
	if !ok {
		return nil, fmt.Errorf("unknown subject kind: %s", subjectKind)
	}

	subject, ok := subjects[subjectKind]
	if !ok {
		return nil, fmt.Errorf("no subject line for kind: %s", subjectKind)
	}

	html, err := tmpl.Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", subjectKind, err)
	}

	return &Rendered{
		Subject: subject,
		HTML:    html,
		Text:    plainText(subject, ctx),
	}, nil
}

// plainText builds a minimal text alternative from the context
func plainText(subject string, ctx map[string]interface{}) string {
	parts := []string{subject, ""}
	if token, ok := ctx["token"].(string); ok && token != "" {
		parts = append(parts, fmt.Sprintf("Code: %s", token))
	}
	return strings.Join(parts, "\n")
}
