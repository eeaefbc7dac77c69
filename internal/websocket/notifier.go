package websocket

import (
	"context"
	"fmt"

	"github.com/davidmoltin/site-integrations/internal/models"
)

// The Hub is the live sink for every component that reports to UIs.

// ShowProgress implements engine.ProgressReporter
func (h *Hub) ShowProgress(ctx context.Context, exec models.ActionExecution) error {
	return h.broadcastAction(MessageTypeActionProgress, exec, nil)
}

// ShowResult implements engine.ProgressReporter
func (h *Hub) ShowResult(ctx context.Context, exec models.ActionExecution, result models.ExecutionResult) error {
	return h.broadcastAction(MessageTypeActionResult, exec, &result)
}

func (h *Hub) broadcastAction(msgType MessageType, exec models.ActionExecution, result *models.ExecutionResult) error {
	message, err := NewMessage(msgType, &ActionEventData{
		ActionID:   exec.ActionID,
		ActionType: exec.ActionType,
		Status:     exec.Status,
		Steps:      exec.Steps,
		Errors:     exec.Errors,
		Result:     result,
	})
	if err != nil {
		return fmt.Errorf("failed to create action message: %w", err)
	}

	for _, channel := range []string{ChannelActions, ChannelActions + ":" + exec.ActionID} {
		h.Broadcast(&BroadcastMessage{
			Channel:  channel,
			Message:  message,
			ActionID: exec.ActionID,
			Status:   string(exec.Status),
		})
	}
	return nil
}

// RecordAlert implements health.AlertSink
func (h *Hub) RecordAlert(ctx context.Context, ev models.AlertEvent) error {
	message, err := NewMessage(MessageType("alert."+string(ev.Kind)), ev)
	if err != nil {
		return fmt.Errorf("failed to create alert message: %w", err)
	}

	h.Broadcast(&BroadcastMessage{
		Channel:  ChannelAlerts,
		Message:  message,
		Platform: string(ev.Alert.Platform),
		Status:   string(ev.Alert.Severity),
	})
	return nil
}

// NotifyConfirmation implements confirmation.Notifier
func (h *Hub) NotifyConfirmation(ctx context.Context, ev models.ConfirmationEvent) error {
	message, err := NewMessage(MessageType("confirmation."+string(ev.Outcome)), ev)
	if err != nil {
		return fmt.Errorf("failed to create confirmation message: %w", err)
	}

	for _, channel := range []string{ChannelConfirmations, ChannelActions + ":" + ev.Request.ID} {
		h.Broadcast(&BroadcastMessage{
			Channel:  channel,
			Message:  message,
			ActionID: ev.Request.ID,
			Status:   string(ev.Outcome),
		})
	}
	return nil
}

// NotifyWebhookEvent implements webhook.EventNotifier
func (h *Hub) NotifyWebhookEvent(ctx context.Context, ev *models.WebhookEvent) error {
	message, err := NewMessage(MessageTypeWebhookProcessed, &WebhookEventData{
		EventID:    ev.ID,
		Source:     ev.Source,
		Type:       ev.Type,
		Priority:   ev.Priority,
		RetryCount: ev.RetryCount,
		Processed:  ev.Processed,
	})
	if err != nil {
		return fmt.Errorf("failed to create webhook message: %w", err)
	}

	h.Broadcast(&BroadcastMessage{
		Channel:  ChannelWebhooks,
		Message:  message,
		Platform: string(ev.Source),
		Status:   ev.Type,
	})
	return nil
}
