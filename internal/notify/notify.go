package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"

	"go.uber.org/zap"
)

// Message is one notification request. Template names an entry under
// templates/; Context feeds it.
type Message struct {
	Template   string         `json:"template"`
	Subject    string         `json:"subject"`
	Recipients []string       `json:"recipients"`
	ReplyTo    string         `json:"reply_to,omitempty"`
	Context    map[string]any `json:"context"`
}

// Notifier delivers messages. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// DeliveryError wraps a failed dispatch.
type DeliveryError struct {
	Template string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s notification: %v", e.Template, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Render produces the HTML body for a message.
func Render(msg Message) (string, error) {
	t := templates.Lookup(msg.Template + ".html")
	if t == nil {
		return "", fmt.Errorf("unknown notification template %q", msg.Template)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, msg.Context); err != nil {
		return "", fmt.Errorf("render %s: %w", msg.Template, err)
	}
	return buf.String(), nil
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes messages to a zap logger instead of delivering them.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Notify(_ context.Context, msg Message) error {
	if l.Logger == nil {
		return nil
	}
	l.Logger.Info("notification",
		zap.String("template", msg.Template),
		zap.String("subject", msg.Subject),
		zap.Strings("recipients", msg.Recipients),
		zap.Any("context", msg.Context),
	)
	return nil
}

// Nop drops every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }
