package models

import "time"

// EventPriority determines where an event is placed in the processing queue
type EventPriority string

const (
	PriorityLow      EventPriority = "low"
	PriorityMedium   EventPriority = "medium"
	PriorityHigh     EventPriority = "high"
	PriorityCritical EventPriority = "critical"
)

// Rank orders priorities, higher is more urgent. Unknown values rank as medium.
func (p EventPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Valid reports whether p is a known priority
func (p EventPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Webhook event types produced by the normalizers
const (
	EventMessageReceived = "message_received"
	EventMessageStatus   = "message_status"
	EventDocumentChanged = "document_changed"
	EventCalendarChanged = "calendar_changed"
)

// WebhookEvent is the normalized form of an inbound platform notification
type WebhookEvent struct {
	ID         string        `json:"id"`
	Source     Platform      `json:"source"`
	Type       string        `json:"type"`
	Timestamp  time.Time     `json:"timestamp"`
	Payload    JSONB         `json:"payload"`
	Processed  bool          `json:"processed"`
	RetryCount int           `json:"retry_count"`
	Priority   EventPriority `json:"priority,omitempty"`
}

// HandlerKey returns the registry key "<source>.<type>"
func (e *WebhookEvent) HandlerKey() string {
	return HandlerKey(e.Source, e.Type)
}

// HandlerKey builds a handler registry key
func HandlerKey(source Platform, eventType string) string {
	return string(source) + "." + eventType
}

// IngestAck acknowledges a webhook delivery
type IngestAck struct {
	Source   Platform `json:"source"`
	Accepted int      `json:"accepted"`
	EventIDs []string `json:"event_ids"`
}

// WebhookStats summarizes the processor state
type WebhookStats struct {
	QueueLength      int            `json:"queue_length"`
	QueuedByPriority map[string]int `json:"queued_by_priority"`
	Processed        int64          `json:"processed"`
	Failed           int64          `json:"failed"`
	Dropped          int64          `json:"dropped"`
	Unhandled        int64          `json:"unhandled"`
	Handlers         int            `json:"handlers"`
	LastProcessedAt  *time.Time     `json:"last_processed_at,omitempty"`
}
