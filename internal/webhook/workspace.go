package webhook

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"

	"github.com/davidmoltin/site-integrations/internal/models"
)

// Google push notification headers
const (
	headerChannelID     = "X-Goog-Channel-ID"
	headerChannelToken  = "X-Goog-Channel-Token"
	headerResourceState = "X-Goog-Resource-State"
	headerResourceID    = "X-Goog-Resource-ID"
	headerResourceURI   = "X-Goog-Resource-URI"
	headerMessageNumber = "X-Goog-Message-Number"
	headerChanged       = "X-Goog-Changed"
)

// WorkspaceSource handles Google Drive and Calendar push notifications
type WorkspaceSource struct {
	channelToken string
	verifyToken  string
}

// NewWorkspaceSource creates the workspace source. An empty channelToken disables token checks.
func NewWorkspaceSource(channelToken, verifyToken string) *WorkspaceSource {
	return &WorkspaceSource{channelToken: channelToken, verifyToken: verifyToken}
}

func (s *WorkspaceSource) Platform() models.Platform {
	return models.PlatformGoogleWorkspace
}

// VerifySubscription supports the same hub challenge handshake used for the messaging webhook
func (s *WorkspaceSource) VerifySubscription(query url.Values) (string, error) {
	return verifyHubChallenge(models.PlatformGoogleWorkspace, s.verifyToken, query)
}

// VerifyPayload checks the channel token set when the watch channel was created
func (s *WorkspaceSource) VerifyPayload(body []byte, headers http.Header) error {
	if headers.Get(headerChannelID) == "" {
		return &VerificationError{Source: models.PlatformGoogleWorkspace, Reason: "missing channel id"}
	}
	if s.channelToken == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(headers.Get(headerChannelToken)), []byte(s.channelToken)) != 1 {
		return &VerificationError{Source: models.PlatformGoogleWorkspace, Reason: "channel token mismatch"}
	}
	return nil
}

// Normalize converts a push notification into a document_changed or calendar_changed
// event. The initial "sync" notification produces no events.
func (s *WorkspaceSource) Normalize(body []byte, headers http.Header) ([]*models.WebhookEvent, error) {
	state := headers.Get(headerResourceState)
	if state == "" || state == "sync" {
		return nil, nil
	}

	uri := headers.Get(headerResourceURI)
	eventType := models.EventDocumentChanged
	if strings.Contains(uri, "/calendar/") {
		eventType = models.EventCalendarChanged
	}

	ev := &models.WebhookEvent{
		Source: models.PlatformGoogleWorkspace,
		Type:   eventType,
		Payload: models.JSONB{
			"channel_id":     headers.Get(headerChannelID),
			"resource_id":    headers.Get(headerResourceID),
			"resource_uri":   uri,
			"resource_state": state,
			"message_number": headers.Get(headerMessageNumber),
		},
	}
	if changed := headers.Get(headerChanged); changed != "" {
		ev.Payload["changed"] = strings.Split(changed, ",")
	}
	if state == "not_exists" || state == "trash" {
		ev.Priority = models.PriorityHigh
	}
	return []*models.WebhookEvent{ev}, nil
}
