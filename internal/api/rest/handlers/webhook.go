package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/internal/webhook"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// WebhookHandler receives platform webhook deliveries
type WebhookHandler struct {
	logger    *logger.Logger
	processor WebhookIngestor
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(log *logger.Logger, processor WebhookIngestor) *WebhookHandler {
	return &WebhookHandler{
		logger:    log,
		processor: processor,
	}
}

// Verify handles GET /webhooks/{platform}.
// The provider expects the challenge echoed back as plain text.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	platform := models.Platform(chi.URLParam(r, "platform"))

	challenge, err := h.processor.VerifySubscription(platform, r.URL.Query())
	if err != nil {
		h.respondIngestError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// Receive handles POST /webhooks/{platform}. It answers as soon as the
// delivery is verified and queued; handlers run on the queue worker.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	platform := models.Platform(chi.URLParam(r, "platform"))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	ack, err := h.processor.Ingest(r.Context(), platform, body, r.Header)
	if err != nil {
		h.respondIngestError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, ack)
}

func (h *WebhookHandler) respondIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, webhook.ErrUnknownSource):
		respondError(w, http.StatusNotFound, "Unknown webhook source")
	case errors.Is(err, webhook.ErrVerification):
		respondError(w, http.StatusForbidden, "Verification failed")
	case errors.Is(err, webhook.ErrInvalidPayload):
		respondError(w, http.StatusBadRequest, "Invalid payload")
	default:
		h.logger.Errorf("Failed to ingest webhook: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to process webhook")
	}
}
