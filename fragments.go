package chaty

import (
	"bytes"
	"io/fs"
	"maps"
	"net/http"
	"time"

	"github.com/gofiber/template/django/v3"
	goerrors "github.com/goliatone/go-errors"
)

const (
	FragmentVerifiedEmail = "verified_email_success"
	FragmentChatMessage   = "chat_message"
	FragmentAlert         = "alert"
)

// FragmentRenderer renders small HTML snippets pushed to htmx clients.
type FragmentRenderer interface {
	Render(name string, data map[string]any) (string, error)
}

// Fragments renders the embedded django templates.
type Fragments struct {
	engine  *django.Engine
	globals map[string]any
}

var _ FragmentRenderer = (*Fragments)(nil)

// NewFragments loads the templates found in fsys. A nil fsys uses the
// templates embedded in this package.
func NewFragments(fsys fs.FS) (*Fragments, error) {
	if fsys == nil {
		sub, err := fs.Sub(templatesFS, "data/templates")
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to scope embedded templates")
		}
		fsys = sub
	}

	engine := django.NewFileSystem(http.FS(fsys), ".html")
	if err := engine.Load(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to load fragment templates")
	}

	return &Fragments{
		engine:  engine,
		globals: TemplateHelpers(),
	}, nil
}

// Render executes template name with data merged over the global helpers.
func (f *Fragments) Render(name string, data map[string]any) (string, error) {
	binding := make(map[string]any, len(f.globals)+len(data))
	maps.Copy(binding, f.globals)
	maps.Copy(binding, data)

	var buf bytes.Buffer
	if err := f.engine.Render(&buf, name, binding); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "unable to render fragment").
			WithMetadata(map[string]any{"fragment": name})
	}
	return buf.String(), nil
}

// TemplateHelpers returns the global data available to every fragment.
func TemplateHelpers() map[string]any {
	return map[string]any{
		"content_types": map[string]string{
			"text":  string(ContentTypeText),
			"image": string(ContentTypeImage),
		},
		"message_statuses": map[string]string{
			"sent":      string(MessageStatusSent),
			"delivered": string(MessageStatusDelivered),
			"read":      string(MessageStatusRead),
		},
	}
}

// ChatMessageView flattens a message into template friendly data.
func ChatMessageView(m ChatMessage) map[string]any {
	return map[string]any{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"content":         m.Body,
		"content_type":    string(m.ContentType),
		"created_at":      m.SentAt.Format(time.RFC3339),
		"status":          string(m.Status),
		"author": map[string]any{
			"id":       m.Author.ID,
			"username": m.Author.Username,
			"email":    m.Author.Email,
			"avatar":   m.Author.Avatar,
		},
	}
}

// RenderEnvelope renders the fragment matching the envelope type.
func RenderEnvelope(r FragmentRenderer, env Envelope) (string, error) {
	if env.Data == nil {
		return "", nil
	}

	switch data := env.Data.(type) {
	case ChatMessage:
		return r.Render(FragmentChatMessage, map[string]any{"message": ChatMessageView(data)})
	case *ChatMessage:
		return r.Render(FragmentChatMessage, map[string]any{"message": ChatMessageView(*data)})
	default:
		return r.Render(FragmentAlert, map[string]any{
			"level":   "info",
			"message": env.Data.Content(),
		})
	}
}
