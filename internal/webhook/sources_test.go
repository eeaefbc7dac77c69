package webhook

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/site-integrations/internal/models"
)

func TestWhatsAppSource_Normalize(t *testing.T) {
	src := NewWhatsAppSource("verify", "")

	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "acct-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"phone_number_id": "555"},
					"contacts": [{"wa_id": "4477", "profile": {"name": "Dana Foreman"}}],
					"messages": [
						{"from": "4477", "id": "wamid.1", "timestamp": "1700000000", "type": "text", "text": {"body": "Injury on level 3, need first aid"}},
						{"from": "4477", "id": "wamid.2", "timestamp": "1700000060", "type": "document", "document": {"caption": "Updated drawings", "filename": "A-101.pdf", "id": "media-9"}}
					],
					"statuses": [
						{"id": "wamid.0", "status": "failed", "timestamp": "1700000100", "recipient_id": "4488", "errors": [{"code": 131026, "title": "Message undeliverable"}]}
					]
				}
			}]
		}]
	}`)

	events, err := src.Normalize(body, http.Header{})
	require.NoError(t, err)
	require.Len(t, events, 3)

	safety := events[0]
	assert.Equal(t, models.EventMessageReceived, safety.Type)
	assert.Equal(t, models.PriorityCritical, safety.Priority)
	assert.Equal(t, "wamid.1", safety.Payload.String("message_id"))
	assert.Equal(t, "Dana Foreman", safety.Payload.String("contact_name"))
	assert.Equal(t, "555", safety.Payload.String("phone_number_id"))
	assert.Equal(t, int64(1700000000), safety.Timestamp.Unix())

	doc := events[1]
	assert.Empty(t, doc.Priority)
	assert.Equal(t, "Updated drawings", doc.Payload.String("text"))
	assert.Equal(t, "A-101.pdf", doc.Payload.String("filename"))
	assert.Equal(t, "media-9", doc.Payload.String("media_id"))

	status := events[2]
	assert.Equal(t, models.EventMessageStatus, status.Type)
	assert.Equal(t, "failed", status.Payload.String("status"))
	assert.Equal(t, 131026, status.Payload["error_code"])
	assert.Equal(t, "Message undeliverable", status.Payload.String("error_title"))
}

func TestWhatsAppSource_NormalizeRejectsOtherObjects(t *testing.T) {
	src := NewWhatsAppSource("verify", "")
	_, err := src.Normalize([]byte(`{"object":"page","entry":[]}`), http.Header{})
	assert.Error(t, err)
}

func TestWhatsAppSource_VerifySubscription(t *testing.T) {
	tests := []struct {
		name        string
		verifyToken string
		query       url.Values
		want        string
		wantErr     bool
	}{
		{
			name:        "valid handshake",
			verifyToken: "tok",
			query:       url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"tok"}, "hub.challenge": {"abc"}},
			want:        "abc",
		},
		{
			name:        "wrong mode",
			verifyToken: "tok",
			query:       url.Values{"hub.mode": {"unsubscribe"}, "hub.verify_token": {"tok"}, "hub.challenge": {"abc"}},
			wantErr:     true,
		},
		{
			name:        "missing challenge",
			verifyToken: "tok",
			query:       url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"tok"}},
			wantErr:     true,
		},
		{
			name:        "no token configured",
			verifyToken: "",
			query:       url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {""}, "hub.challenge": {"abc"}},
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewWhatsAppSource(tt.verifyToken, "").VerifySubscription(tt.query)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrVerification)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWhatsAppSource_VerifyPayload(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)

	src := NewWhatsAppSource("", "s3cret")
	headers := http.Header{}
	headers.Set(signatureHeader, Sign("s3cret", body))
	assert.NoError(t, src.VerifyPayload(body, headers))

	headers.Set(signatureHeader, "sha256=zz")
	assert.ErrorIs(t, src.VerifyPayload(body, headers), ErrVerification)

	tampered := append([]byte{}, body...)
	tampered[2] = 'X'
	headers.Set(signatureHeader, Sign("s3cret", body))
	assert.ErrorIs(t, src.VerifyPayload(tampered, headers), ErrVerification)

	assert.NoError(t, NewWhatsAppSource("", "").VerifyPayload(body, http.Header{}))
}

func TestWorkspaceSource(t *testing.T) {
	src := NewWorkspaceSource("chan-secret", "verify")

	tests := []struct {
		name         string
		headers      map[string]string
		wantVerify   bool
		wantEvents   int
		wantType     string
		wantPriority models.EventPriority
	}{
		{
			name: "sync notification",
			headers: map[string]string{
				headerChannelID: "c1", headerChannelToken: "chan-secret", headerResourceState: "sync",
			},
			wantVerify: true,
			wantEvents: 0,
		},
		{
			name: "drive update",
			headers: map[string]string{
				headerChannelID: "c1", headerChannelToken: "chan-secret", headerResourceState: "update",
				headerResourceURI: "https://www.googleapis.com/drive/v3/files/f1", headerChanged: "content,properties",
			},
			wantVerify: true,
			wantEvents: 1,
			wantType:   models.EventDocumentChanged,
		},
		{
			name: "calendar event removed",
			headers: map[string]string{
				headerChannelID: "c1", headerChannelToken: "chan-secret", headerResourceState: "not_exists",
				headerResourceURI: "https://www.googleapis.com/calendar/v3/calendars/primary/events",
			},
			wantVerify:   true,
			wantEvents:   1,
			wantType:     models.EventCalendarChanged,
			wantPriority: models.PriorityHigh,
		},
		{
			name: "wrong channel token",
			headers: map[string]string{
				headerChannelID: "c1", headerChannelToken: "guess", headerResourceState: "update",
			},
		},
		{
			name:    "missing channel id",
			headers: map[string]string{headerChannelToken: "chan-secret"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			for k, v := range tt.headers {
				headers.Set(k, v)
			}

			err := src.VerifyPayload(nil, headers)
			if !tt.wantVerify {
				assert.ErrorIs(t, err, ErrVerification)
				return
			}
			require.NoError(t, err)

			events, err := src.Normalize(nil, headers)
			require.NoError(t, err)
			require.Len(t, events, tt.wantEvents)
			if tt.wantEvents == 0 {
				return
			}
			assert.Equal(t, tt.wantType, events[0].Type)
			assert.Equal(t, tt.wantPriority, events[0].Priority)
			assert.Equal(t, "c1", events[0].Payload.String("channel_id"))
		})
	}
}
