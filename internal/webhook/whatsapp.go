package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/davidmoltin/site-integrations/internal/models"
)

const signatureHeader = "X-Hub-Signature-256"

// WhatsAppSource handles WhatsApp Cloud API webhooks
type WhatsAppSource struct {
	verifyToken string
	appSecret   string
}

// NewWhatsAppSource creates the WhatsApp source. An empty appSecret disables signature checks.
func NewWhatsAppSource(verifyToken, appSecret string) *WhatsAppSource {
	return &WhatsAppSource{verifyToken: verifyToken, appSecret: appSecret}
}

func (s *WhatsAppSource) Platform() models.Platform {
	return models.PlatformWhatsApp
}

// VerifySubscription implements the hub.mode / hub.verify_token / hub.challenge handshake
func (s *WhatsAppSource) VerifySubscription(query url.Values) (string, error) {
	return verifyHubChallenge(models.PlatformWhatsApp, s.verifyToken, query)
}

func verifyHubChallenge(platform models.Platform, expected string, query url.Values) (string, error) {
	if expected == "" {
		return "", &VerificationError{Source: platform, Reason: "no verify token configured"}
	}
	if query.Get("hub.mode") != "subscribe" {
		return "", &VerificationError{Source: platform, Reason: "unexpected hub.mode"}
	}
	if subtle.ConstantTimeCompare([]byte(query.Get("hub.verify_token")), []byte(expected)) != 1 {
		return "", &VerificationError{Source: platform, Reason: "verify token mismatch"}
	}
	challenge := query.Get("hub.challenge")
	if challenge == "" {
		return "", &VerificationError{Source: platform, Reason: "missing hub.challenge"}
	}
	return challenge, nil
}

// VerifyPayload checks the HMAC-SHA256 signature of the raw body
func (s *WhatsAppSource) VerifyPayload(body []byte, headers http.Header) error {
	if s.appSecret == "" {
		return nil
	}

	sig := headers.Get(signatureHeader)
	if !strings.HasPrefix(sig, "sha256=") {
		return &VerificationError{Source: models.PlatformWhatsApp, Reason: "missing signature"}
	}
	got, err := hex.DecodeString(strings.TrimPrefix(sig, "sha256="))
	if err != nil {
		return &VerificationError{Source: models.PlatformWhatsApp, Reason: "malformed signature"}
	}

	mac := hmac.New(sha256.New, []byte(s.appSecret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return &VerificationError{Source: models.PlatformWhatsApp, Reason: "signature mismatch"}
	}
	return nil
}

// Sign returns the signature header value for body; used by tests and local tooling
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type waPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string  `json:"field"`
			Value waValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type waValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []struct {
		From      string `json:"from"`
		ID        string `json:"id"`
		Timestamp string `json:"timestamp"`
		Type      string `json:"type"`
		Text      *struct {
			Body string `json:"body"`
		} `json:"text,omitempty"`
		Image *struct {
			Caption string `json:"caption"`
			ID      string `json:"id"`
		} `json:"image,omitempty"`
		Document *struct {
			Caption  string `json:"caption"`
			Filename string `json:"filename"`
			ID       string `json:"id"`
		} `json:"document,omitempty"`
	} `json:"messages"`
	Statuses []struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		Timestamp   string `json:"timestamp"`
		RecipientID string `json:"recipient_id"`
		Errors      []struct {
			Code  int    `json:"code"`
			Title string `json:"title"`
		} `json:"errors"`
	} `json:"statuses"`
}

// Normalize converts a WhatsApp delivery into message_received and message_status events
func (s *WhatsAppSource) Normalize(body []byte, headers http.Header) ([]*models.WebhookEvent, error) {
	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode whatsapp payload: %w", err)
	}
	if payload.Object != "whatsapp_business_account" {
		return nil, fmt.Errorf("unexpected object %q", payload.Object)
	}

	var events []*models.WebhookEvent
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			v := change.Value

			names := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, m := range v.Messages {
				text := ""
				switch {
				case m.Text != nil:
					text = m.Text.Body
				case m.Image != nil:
					text = m.Image.Caption
				case m.Document != nil:
					text = m.Document.Caption
				}

				ev := &models.WebhookEvent{
					Source:    models.PlatformWhatsApp,
					Type:      models.EventMessageReceived,
					Timestamp: unixTimestamp(m.Timestamp),
					Payload: models.JSONB{
						"message_id":      m.ID,
						"from":            m.From,
						"contact_name":    names[m.From],
						"message_type":    m.Type,
						"text":            text,
						"phone_number_id": v.Metadata.PhoneNumberID,
						"account_id":      entry.ID,
					},
				}
				if m.Document != nil {
					ev.Payload["filename"] = m.Document.Filename
					ev.Payload["media_id"] = m.Document.ID
				}
				if IsSafetyMessage(text) {
					ev.Priority = models.PriorityCritical
				}
				events = append(events, ev)
			}

			for _, st := range v.Statuses {
				payload := models.JSONB{
					"message_id":   st.ID,
					"status":       st.Status,
					"recipient_id": st.RecipientID,
				}
				if len(st.Errors) > 0 {
					payload["error_code"] = st.Errors[0].Code
					payload["error_title"] = st.Errors[0].Title
				}
				events = append(events, &models.WebhookEvent{
					Source:    models.PlatformWhatsApp,
					Type:      models.EventMessageStatus,
					Timestamp: unixTimestamp(st.Timestamp),
					Payload:   payload,
				})
			}
		}
	}
	return events, nil
}

func unixTimestamp(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
