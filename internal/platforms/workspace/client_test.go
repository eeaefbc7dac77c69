package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/internal/platforms"
	"github.com/davidmoltin/site-integrations/pkg/logger"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{
		BaseURL:     srv.URL,
		CalendarID:  "site-cal",
		FolderID:    "folder-1",
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "access", Expiry: time.Now().Add(time.Hour)}),
	}, logger.NewForTesting())
}

func TestUploadDocument(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		assert.Equal(t, "multipart/related", mediaType)

		mr := multipart.NewReader(r.Body, params["boundary"])
		metaPart, err := mr.NextPart()
		require.NoError(t, err)
		var meta driveFile
		require.NoError(t, json.NewDecoder(metaPart).Decode(&meta))
		assert.Equal(t, "daily-report.pdf", meta.Name)
		assert.Equal(t, []string{"folder-1"}, meta.Parents)
		assert.Equal(t, "p-7", meta.AppProperties["project_id"])

		mediaPart, err := mr.NextPart()
		require.NoError(t, err)
		content, _ := io.ReadAll(mediaPart)
		assert.Equal(t, "%PDF", string(content))

		_, _ = w.Write([]byte(`{"id":"file-9","name":"daily-report.pdf","webViewLink":"https://drive/file-9"}`))
	})
	c := newTestClient(t, mux)

	ref, err := c.UploadDocument(context.Background(),
		models.DocumentMeta{Name: "daily-report.pdf", MimeType: "application/pdf", ProjectID: "p-7"},
		[]byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "file-9", ref.ID)
	assert.Equal(t, "https://drive/file-9", ref.URL)
}

func TestCreateAndCancelEvent(t *testing.T) {
	var deleted bool
	mux := http.NewServeMux()
	mux.HandleFunc("/calendar/v3/calendars/site-cal/events", func(w http.ResponseWriter, r *http.Request) {
		var ev calendarEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		assert.Equal(t, "Site walk", ev.Summary)
		require.Len(t, ev.Attendees, 1)
		assert.Equal(t, "pm@example.com", ev.Attendees[0].Email)
		_, _ = w.Write([]byte(`{"id":"evt-42","htmlLink":"https://cal/evt-42"}`))
	})
	mux.HandleFunc("/calendar/v3/calendars/site-cal/events/evt-42", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		deleted = true
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ref, err := c.CreateEvent(context.Background(), models.EventMeta{
		Title:     "Site walk",
		Start:     start,
		End:       start.Add(time.Hour),
		Attendees: []string{"pm@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-42", ref.ID)

	require.NoError(t, c.CancelEvent(context.Background(), ref.ID))
	assert.True(t, deleted)

	_, err = c.CreateEvent(context.Background(), models.EventMeta{Title: "bad", Start: start, End: start.Add(-time.Hour)})
	assert.Error(t, err)
}

func TestFetchRecentActivity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("q"), "trashed = false")
		_, _ = w.Write([]byte(`{"files":[
			{"id":"f1","name":"RFI-12 response","modifiedTime":"2026-03-01T10:00:00Z","appProperties":{"entity_id":"RFI-12","status":"approved"},"lastModifyingUser":{"displayName":"Ana"}}
		]}`))
	})
	mux.HandleFunc("/calendar/v3/calendars/site-cal/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("singleEvents"))
		_, _ = w.Write([]byte(`{"items":[
			{"id":"e1","status":"confirmed","summary":"Concrete pour","start":{"dateTime":"2026-03-02T07:00:00Z"},"organizer":{"email":"super@example.com"}}
		]}`))
	})
	c := newTestClient(t, mux)

	items, err := c.FetchRecentActivity(context.Background(), models.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "e1", items[0].ID, "sorted newest first")
	assert.Equal(t, models.ActivityEvent, items[0].Kind)
	assert.Equal(t, "super@example.com", items[0].Author)

	assert.Equal(t, "RFI-12", items[1].EntityID)
	assert.Equal(t, "approved", items[1].Status)
	assert.Equal(t, "Ana", items[1].Author)

	docsOnly, err := c.FetchRecentActivity(context.Background(), models.ActivityFilter{Kinds: []models.ActivityKind{models.ActivityDocument}})
	require.NoError(t, err)
	assert.Len(t, docsOnly, 1)
}

func TestGetConnectionStatus(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/drive/v3/about", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"user":{"emailAddress":"bot@example.com"}}`))
		})
		c := newTestClient(t, mux)

		assert.Equal(t, models.ConnectionConnected, c.GetConnectionStatus(context.Background()))
		status, err := c.GetServiceStatus(context.Background())
		require.NoError(t, err)
		assert.True(t, status.AuthValid)
		require.NotNil(t, status.TokenExpiresAt)
	})

	t.Run("server error needs attention", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/drive/v3/about", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"backend","status":"UNAVAILABLE"}}`))
		})
		c := newTestClient(t, mux)
		assert.Equal(t, models.ConnectionNeedsAttention, c.GetConnectionStatus(context.Background()))
	})

	t.Run("not configured", func(t *testing.T) {
		c := New(Config{}, logger.NewForTesting())
		assert.Equal(t, models.ConnectionDisconnected, c.GetConnectionStatus(context.Background()))
		_, err := c.FetchRecentActivity(context.Background(), models.ActivityFilter{})
		assert.True(t, errors.Is(err, platforms.ErrNotConfigured))

		status, err := c.GetServiceStatus(context.Background())
		require.NoError(t, err)
		assert.False(t, status.AuthConfigured)
	})

	t.Run("refresh token rejected", func(t *testing.T) {
		tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
		}))
		defer tokenSrv.Close()

		c := New(Config{
			BaseURL:      "http://127.0.0.1:1",
			TokenURL:     tokenSrv.URL,
			ClientID:     "id",
			ClientSecret: "secret",
			RefreshToken: "revoked",
		}, logger.NewForTesting())

		assert.Equal(t, models.ConnectionDisconnected, c.GetConnectionStatus(context.Background()))
		status, err := c.GetServiceStatus(context.Background())
		require.NoError(t, err)
		assert.True(t, status.AuthConfigured)
		assert.False(t, status.AuthValid)
		assert.NotEmpty(t, status.Warnings)
	})
}
