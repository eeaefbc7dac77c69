package websocket

import (
	"encoding/json"
	"time"

	"github.com/davidmoltin/site-integrations/internal/models"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Action event types
	MessageTypeActionProgress MessageType = "action.progress"
	MessageTypeActionResult   MessageType = "action.result"

	// Alert event types are "alert." followed by the lifecycle kind
	MessageTypeAlertRaised       MessageType = "alert.raised"
	MessageTypeAlertRefreshed    MessageType = "alert.refreshed"
	MessageTypeAlertAcknowledged MessageType = "alert.acknowledged"
	MessageTypeAlertResolved     MessageType = "alert.resolved"

	// Confirmation event types are "confirmation." followed by the outcome
	MessageTypeConfirmationRequested MessageType = "confirmation.requested"
	MessageTypeConfirmationApproved  MessageType = "confirmation.approved"
	MessageTypeConfirmationRejected  MessageType = "confirmation.rejected"
	MessageTypeConfirmationExpired   MessageType = "confirmation.expired"
	MessageTypeConfirmationWithdrawn MessageType = "confirmation.withdrawn"

	MessageTypeWebhookProcessed MessageType = "webhook.processed"

	// Connection management
	MessageTypePing         MessageType = "ping"
	MessageTypePong         MessageType = "pong"
	MessageTypeError        MessageType = "error"
	MessageTypeSubscribe    MessageType = "subscribe"
	MessageTypeUnsubscribe  MessageType = "unsubscribe"
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeUnsubscribed MessageType = "unsubscribed"
)

// Channels clients can subscribe to. Per-action updates are also sent on
// "actions:<action_id>".
const (
	ChannelActions       = "actions"
	ChannelAlerts        = "alerts"
	ChannelConfirmations = "confirmations"
	ChannelWebhooks      = "webhooks"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ActionEventData describes an execution in progress or finished
type ActionEventData struct {
	ActionID   string                       `json:"action_id"`
	ActionType string                       `json:"action_type"`
	Status     models.ActionStatus          `json:"status"`
	Steps      []models.ExecutionStepResult `json:"steps,omitempty"`
	Errors     []string                     `json:"errors,omitempty"`
	Result     *models.ExecutionResult      `json:"result,omitempty"`
}

// WebhookEventData describes a processed inbound event. Payloads are not forwarded.
type WebhookEventData struct {
	EventID    string               `json:"event_id"`
	Source     models.Platform      `json:"source"`
	Type       string               `json:"type"`
	Priority   models.EventPriority `json:"priority,omitempty"`
	RetryCount int                  `json:"retry_count"`
	Processed  bool                 `json:"processed"`
}

// ErrorData contains error details
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SubscriptionData contains subscription request details
type SubscriptionData struct {
	Channel string  `json:"channel"` // e.g. "actions", "actions:{id}", "alerts"
	Filters Filters `json:"filters,omitempty"`
}

// Filters for subscription
type Filters struct {
	ActionIDs []string `json:"action_ids,omitempty"`
	Platforms []string `json:"platforms,omitempty"`
	Statuses  []string `json:"statuses,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		rawData = jsonData
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      rawData,
	}, nil
}

// ToJSON converts a message to JSON bytes
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
