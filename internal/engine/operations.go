package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/internal/platforms"
)

// Operation names shared by templates and the direct path
const (
	OpSendMessage    = "send_message"
	OpUploadDocument = "upload_document"
	OpDeleteDocument = "delete_document"
	OpCreateEvent    = "create_event"
	OpCancelEvent    = "cancel_event"
)

// OperationFunc performs one operation against a platform adapter and returns
// the values later steps and rollbacks can reference.
type OperationFunc func(ctx context.Context, adapter platforms.Adapter, params map[string]interface{}) (models.JSONB, error)

type opKey struct {
	platform  models.Platform
	operation string
}

// OperationRegistry maps (platform, operation) to its implementation
type OperationRegistry struct {
	mu  sync.RWMutex
	ops map[opKey]OperationFunc
}

// NewOperationRegistry creates an empty registry
func NewOperationRegistry() *OperationRegistry {
	return &OperationRegistry{ops: make(map[opKey]OperationFunc)}
}

// DefaultOperations registers the built-in operations for both platforms
func DefaultOperations() *OperationRegistry {
	r := NewOperationRegistry()

	r.Register(models.PlatformWhatsApp, OpSendMessage, sendMessage)
	r.Register(models.PlatformWhatsApp, OpUploadDocument, uploadDocument)
	r.Register(models.PlatformWhatsApp, OpDeleteDocument, deleteDocument)

	r.Register(models.PlatformGoogleWorkspace, OpUploadDocument, uploadDocument)
	r.Register(models.PlatformGoogleWorkspace, OpDeleteDocument, deleteDocument)
	r.Register(models.PlatformGoogleWorkspace, OpCreateEvent, createEvent)
	r.Register(models.PlatformGoogleWorkspace, OpCancelEvent, cancelEvent)

	return r
}

// Register adds or replaces an operation
func (r *OperationRegistry) Register(platform models.Platform, operation string, fn OperationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[opKey{platform, operation}] = fn
}

// Lookup returns the operation for a platform
func (r *OperationRegistry) Lookup(platform models.Platform, operation string) (OperationFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.ops[opKey{platform, operation}]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownOperation, platform, operation)
	}
	return fn, nil
}

// Has reports whether an operation is registered
func (r *OperationRegistry) Has(platform models.Platform, operation string) bool {
	_, err := r.Lookup(platform, operation)
	return err == nil
}

// Keys lists the registered operations as "platform.operation", sorted
func (r *OperationRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.ops))
	for k := range r.ops {
		keys = append(keys, string(k.platform)+"."+k.operation)
	}
	sort.Strings(keys)
	return keys
}

func sendMessage(ctx context.Context, adapter platforms.Adapter, params map[string]interface{}) (models.JSONB, error) {
	recipients := paramStrings(params, "recipients")
	if r := paramString(params, "recipient"); r != "" {
		recipients = append([]string{r}, recipients...)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: recipient", ErrMissingParameter)
	}

	content := models.MessageContent{
		Text:         paramString(params, "text"),
		TemplateName: paramString(params, "template_name"),
		LanguageCode: paramString(params, "language_code"),
	}
	if content.Text == "" && content.TemplateName == "" {
		return nil, fmt.Errorf("%w: text", ErrMissingParameter)
	}

	ids := make([]string, 0, len(recipients))
	for _, to := range recipients {
		receipt, err := adapter.SendMessage(ctx, models.MessageTarget{
			Recipient: to,
			ReplyTo:   paramString(params, "reply_to"),
		}, content)
		if err != nil {
			return nil, fmt.Errorf("send to %s: %w", to, err)
		}
		ids = append(ids, receipt.MessageID)
	}

	return models.JSONB{
		"message_id":  ids[0],
		"message_ids": ids,
		"recipients":  recipients,
	}, nil
}

func uploadDocument(ctx context.Context, adapter platforms.Adapter, params map[string]interface{}) (models.JSONB, error) {
	meta := models.DocumentMeta{
		Name:        paramString(params, "name"),
		MimeType:    paramString(params, "mime_type"),
		FolderID:    paramString(params, "folder_id"),
		ProjectID:   paramString(params, "project_id"),
		Description: paramString(params, "description"),
	}
	if meta.Name == "" {
		return nil, fmt.Errorf("%w: name", ErrMissingParameter)
	}
	if meta.MimeType == "" {
		meta.MimeType = "text/plain"
	}

	ref, err := adapter.UploadDocument(ctx, meta, []byte(paramString(params, "content")))
	if err != nil {
		return nil, err
	}
	return models.JSONB{
		"document_id": ref.ID,
		"name":        ref.Name,
		"url":         ref.URL,
	}, nil
}

func deleteDocument(ctx context.Context, adapter platforms.Adapter, params map[string]interface{}) (models.JSONB, error) {
	id := paramString(params, "document_id")
	if id == "" {
		return nil, fmt.Errorf("%w: document_id", ErrMissingParameter)
	}
	if err := adapter.DeleteDocument(ctx, id); err != nil {
		return nil, err
	}
	return models.JSONB{"document_id": id, "deleted": true}, nil
}

func createEvent(ctx context.Context, adapter platforms.Adapter, params map[string]interface{}) (models.JSONB, error) {
	meta := models.EventMeta{
		Title:       paramString(params, "title"),
		Description: paramString(params, "description"),
		Location:    paramString(params, "location"),
		Attendees:   paramStrings(params, "attendees"),
		ProjectID:   paramString(params, "project_id"),
	}
	if meta.Title == "" {
		return nil, fmt.Errorf("%w: title", ErrMissingParameter)
	}

	start, err := paramTime(params, "start")
	if err != nil {
		return nil, err
	}
	meta.Start = start

	if end, err := paramTime(params, "end"); err == nil {
		meta.End = end
	} else {
		minutes := paramInt(params, "duration_minutes")
		if minutes <= 0 {
			minutes = 60
		}
		meta.End = start.Add(time.Duration(minutes) * time.Minute)
	}

	ref, err := adapter.CreateEvent(ctx, meta)
	if err != nil {
		return nil, err
	}
	return models.JSONB{
		"event_id":  ref.ID,
		"html_link": ref.HTMLLink,
		"start":     meta.Start.Format(time.RFC3339),
		"end":       meta.End.Format(time.RFC3339),
	}, nil
}

func cancelEvent(ctx context.Context, adapter platforms.Adapter, params map[string]interface{}) (models.JSONB, error) {
	id := paramString(params, "event_id")
	if id == "" {
		return nil, fmt.Errorf("%w: event_id", ErrMissingParameter)
	}
	if err := adapter.CancelEvent(ctx, id); err != nil {
		return nil, err
	}
	return models.JSONB{"event_id": id, "cancelled": true}, nil
}

func paramString(params map[string]interface{}, key string) string {
	switch v := params[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func paramStrings(params map[string]interface{}, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func paramInt(params map[string]interface{}, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func paramTime(params map[string]interface{}, key string) (time.Time, error) {
	switch v := params[key].(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("parameter %s: %w", key, err)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %s", ErrMissingParameter, key)
}
