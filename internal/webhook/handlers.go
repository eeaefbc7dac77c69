package webhook

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/davidmoltin/site-integrations/internal/async"
	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/internal/platforms"
	"github.com/davidmoltin/site-integrations/pkg/logger"
)

var safetyPattern = regexp.MustCompile(`(?i)\b(?:` + strings.Join([]string{
	"safety incident",
	"injury",
	"injuries",
	"injured",
	"accident",
	"emergency",
	"collapse",
	"collapsed",
	"gas leak",
	"fire",
	"near miss",
	"hazard",
	"hazards",
	"unsafe",
}, "|") + `)\b`)

// IsSafetyMessage reports whether text reads like a safety report. Keywords
// match whole words only, so "fired" or "firewall" do not count.
func IsSafetyMessage(text string) bool {
	return safetyPattern.MatchString(text)
}

var (
	entityRef = regexp.MustCompile(`\b([A-Z]{2,10}-\d{1,6})\b`)

	statusWords = []struct {
		pattern *regexp.Regexp
		status  string
	}{
		{regexp.MustCompile(`(?i)\b(done|completed|finished)\b`), "completed"},
		{regexp.MustCompile(`(?i)\b(delayed|behind schedule|late)\b`), "delayed"},
		{regexp.MustCompile(`(?i)\b(blocked|stuck|waiting on)\b`), "blocked"},
		{regexp.MustCompile(`(?i)\bon hold\b`), "on_hold"},
		{regexp.MustCompile(`(?i)\b(approved)\b`), "approved"},
		{regexp.MustCompile(`(?i)\b(rejected|declined)\b`), "rejected"},
		{regexp.MustCompile(`(?i)\b(in progress|started|underway)\b`), "in_progress"},
	}
)

// ExtractEntity finds a tracked entity reference such as "RFI-12" and the
// status the text reports for it.
func ExtractEntity(text string) (entityID, status string) {
	if m := entityRef.FindStringSubmatch(text); m != nil {
		entityID = m[1]
	}
	for _, sw := range statusWords {
		if sw.pattern.MatchString(text) {
			status = sw.status
			break
		}
	}
	return entityID, status
}

// CacheInvalidator drops cached query responses after platform data changed
type CacheInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

// ActivityRecorder keeps inbound messages available to activity queries
type ActivityRecorder interface {
	RecordActivity(item models.ActivityItem)
}

// EventNotifier is told about every processed event; delivery is best effort
type EventNotifier interface {
	NotifyWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
}

// HandlerDeps are the collaborators of the default handlers. Nil fields are skipped.
type HandlerDeps struct {
	Messenger platforms.Adapter
	Recorder  ActivityRecorder
	Cache     CacheInvalidator
	Notifier  EventNotifier
	Logger    *logger.Logger

	// SafetyAckText is sent back to the author of a safety report
	SafetyAckText string
}

const defaultSafetyAck = "Safety report received. The site safety lead has been notified and will follow up shortly."

// RegisterDefaultHandlers wires the built-in handlers for both platforms
func RegisterDefaultHandlers(p *Processor, deps HandlerDeps) {
	h := &defaultHandlers{deps: deps, logger: deps.Logger.WithComponent("webhook_handlers")}
	if h.deps.SafetyAckText == "" {
		h.deps.SafetyAckText = defaultSafetyAck
	}

	p.RegisterHandler(models.PlatformWhatsApp, models.EventMessageReceived, models.PriorityHigh, h.messageReceived)
	p.RegisterHandler(models.PlatformWhatsApp, models.EventMessageStatus, models.PriorityLow, h.messageStatus)
	p.RegisterHandler(models.PlatformGoogleWorkspace, models.EventDocumentChanged, models.PriorityMedium, h.workspaceChanged)
	p.RegisterHandler(models.PlatformGoogleWorkspace, models.EventCalendarChanged, models.PriorityMedium, h.workspaceChanged)
}

type defaultHandlers struct {
	deps   HandlerDeps
	logger *logger.Logger
}

func (h *defaultHandlers) messageReceived(ctx context.Context, ev *models.WebhookEvent) error {
	text := ev.Payload.String("text")
	from := ev.Payload.String("from")
	messageID := ev.Payload.String("message_id")

	if h.deps.Recorder != nil {
		entityID, status := ExtractEntity(text)
		title := "Message from " + from
		if name := ev.Payload.String("contact_name"); name != "" {
			title = "Message from " + name
		}
		if entityID == "" {
			entityID = messageID
		}
		h.deps.Recorder.RecordActivity(models.ActivityItem{
			ID:        messageID,
			Platform:  models.PlatformWhatsApp,
			Kind:      models.ActivityMessage,
			EntityID:  entityID,
			Title:     title,
			Summary:   text,
			Status:    status,
			Author:    from,
			Timestamp: ev.Timestamp,
		})
	}

	if IsSafetyMessage(text) {
		if h.deps.Messenger == nil {
			return fmt.Errorf("safety message %s received but no messaging adapter is configured", messageID)
		}
		_, err := h.deps.Messenger.SendMessage(ctx,
			models.MessageTarget{Recipient: from, ReplyTo: messageID},
			models.MessageContent{Text: h.deps.SafetyAckText},
		)
		if err != nil {
			return fmt.Errorf("acknowledge safety message: %w", err)
		}
		h.logger.Info("Safety message acknowledged",
			logger.String("message_id", messageID),
			logger.String("from", from),
		)
	}

	h.invalidate(ctx, ev)
	h.notify(ev)
	return nil
}

func (h *defaultHandlers) messageStatus(ctx context.Context, ev *models.WebhookEvent) error {
	status := ev.Payload.String("status")
	if h.deps.Recorder != nil {
		h.deps.Recorder.RecordActivity(models.ActivityItem{
			ID:        ev.Payload.String("message_id"),
			Platform:  models.PlatformWhatsApp,
			Kind:      models.ActivityMessage,
			EntityID:  ev.Payload.String("message_id"),
			Title:     "Message to " + ev.Payload.String("recipient_id"),
			Status:    status,
			Timestamp: ev.Timestamp,
		})
	}
	if status == "failed" {
		h.logger.Warn("Outgoing message failed",
			logger.String("message_id", ev.Payload.String("message_id")),
			logger.Any("error_code", ev.Payload["error_code"]),
			logger.String("error_title", ev.Payload.String("error_title")),
		)
	}
	h.notify(ev)
	return nil
}

func (h *defaultHandlers) workspaceChanged(ctx context.Context, ev *models.WebhookEvent) error {
	h.logger.Debug("Workspace resource changed",
		logger.String("type", ev.Type),
		logger.String("resource_id", ev.Payload.String("resource_id")),
		logger.String("state", ev.Payload.String("resource_state")),
	)
	h.invalidate(ctx, ev)
	h.notify(ev)
	return nil
}

// invalidate is best effort; a stale cache entry still expires on its TTL
func (h *defaultHandlers) invalidate(ctx context.Context, ev *models.WebhookEvent) {
	if h.deps.Cache == nil {
		return
	}
	if err := h.deps.Cache.InvalidateAll(ctx); err != nil {
		h.logger.Warn("Failed to invalidate query cache",
			logger.String("event_id", ev.ID),
			logger.Err(err),
		)
	}
}

func (h *defaultHandlers) notify(ev *models.WebhookEvent) {
	if h.deps.Notifier == nil {
		return
	}
	snapshot := *ev
	async.Go(h.logger, "notify_webhook_event", func(ctx context.Context) error {
		return h.deps.Notifier.NotifyWebhookEvent(ctx, &snapshot)
	})
}
