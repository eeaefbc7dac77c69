package models

import "time"

// Platform identifies an external platform integration
type Platform string

const (
	PlatformWhatsApp        Platform = "whatsapp"
	PlatformGoogleWorkspace Platform = "google_workspace"
)

// Internal services observed by the health monitor alongside the platforms
const (
	ServiceWebhookProcessor Platform = "webhook_processor"
	ServiceIntentClassifier Platform = "intent_classifier"
)

// ConnectionStatus is the adapter-reported state of a platform connection
type ConnectionStatus string

const (
	ConnectionConnected      ConnectionStatus = "connected"
	ConnectionNeedsAttention ConnectionStatus = "needs_attention"
	ConnectionDisconnected   ConnectionStatus = "disconnected"
)

// ServiceStatus describes credentials and usage of a platform connection
type ServiceStatus struct {
	AuthValid      bool       `json:"auth_valid"`
	AuthConfigured bool       `json:"auth_configured"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
	Quota          *QuotaInfo `json:"quota,omitempty"`
	Warnings       []string   `json:"warnings,omitempty"`
}

// QuotaInfo reports API quota consumption
type QuotaInfo struct {
	Used     int        `json:"used"`
	Limit    int        `json:"limit"`
	ResetsAt *time.Time `json:"resets_at,omitempty"`
}

// Remaining returns how many calls are left in the current window
func (q QuotaInfo) Remaining() int {
	if q.Limit <= q.Used {
		return 0
	}
	return q.Limit - q.Used
}

// MessageTarget addresses an outgoing message
type MessageTarget struct {
	Recipient string `json:"recipient" yaml:"recipient" validate:"required"`
	ReplyTo   string `json:"reply_to,omitempty" yaml:"reply_to,omitempty"`
}

// MessageContent is the body of an outgoing message
type MessageContent struct {
	Text         string `json:"text" validate:"required"`
	TemplateName string `json:"template_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// MessageReceipt is returned after a message was accepted by the platform
type MessageReceipt struct {
	MessageID string    `json:"message_id"`
	Recipient string    `json:"recipient"`
	SentAt    time.Time `json:"sent_at"`
}

// DocumentMeta describes a document to upload
type DocumentMeta struct {
	Name        string `json:"name" validate:"required"`
	MimeType    string `json:"mime_type"`
	FolderID    string `json:"folder_id,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	Description string `json:"description,omitempty"`
}

// DocumentRef points to a stored document
type DocumentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// EventMeta describes a calendar event to create
type EventMeta struct {
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees,omitempty"`
	ProjectID   string    `json:"project_id,omitempty"`
}

// CalendarEventRef points to a created calendar event
type CalendarEventRef struct {
	ID       string `json:"id"`
	HTMLLink string `json:"html_link,omitempty"`
}

// ActivityKind classifies an activity item
type ActivityKind string

const (
	ActivityMessage  ActivityKind = "message"
	ActivityDocument ActivityKind = "document"
	ActivityEvent    ActivityKind = "event"
	ActivityTask     ActivityKind = "task"
)

// ActivityFilter narrows a recent-activity fetch
type ActivityFilter struct {
	ProjectID string         `json:"project_id,omitempty"`
	Since     *time.Time     `json:"since,omitempty"`
	Until     *time.Time     `json:"until,omitempty"`
	Kinds     []ActivityKind `json:"kinds,omitempty"`
	Keywords  []string       `json:"keywords,omitempty"`
	Limit     int            `json:"limit,omitempty"`
}

// ActivityItem is one fact reported by a platform
type ActivityItem struct {
	ID        string       `json:"id"`
	Platform  Platform     `json:"platform"`
	Kind      ActivityKind `json:"kind"`
	EntityID  string       `json:"entity_id,omitempty"`
	Title     string       `json:"title"`
	Summary   string       `json:"summary,omitempty"`
	Status    string       `json:"status,omitempty"`
	Author    string       `json:"author,omitempty"`
	ProjectID string       `json:"project_id,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
