// Package cache stores integrated query responses for a short time.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/davidmoltin/site-integrations/internal/models"
)

// ResponseCache stores responses by key. Implementations are safe for concurrent use.
type ResponseCache interface {
	// Get returns an unexpired response
	Get(ctx context.Context, key string) (*models.IntegratedResponse, bool)
	Set(ctx context.Context, key string, resp *models.IntegratedResponse) error
	// InvalidateAll drops every entry, e.g. after platform data changed
	InvalidateAll(ctx context.Context) error
	Len(ctx context.Context) int
}

// Key derives the cache key for a query from its text and user
func Key(text, userID string) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

func clone(resp *models.IntegratedResponse) *models.IntegratedResponse {
	cp := *resp
	return &cp
}
