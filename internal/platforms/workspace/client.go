// Package workspace implements the platform adapter for Google Workspace
// (Drive documents, Calendar events and their recent activity).
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/internal/platforms"
	"github.com/davidmoltin/site-integrations/pkg/logger"
)

const (
	defaultBaseURL  = "https://www.googleapis.com"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	defaultTimeout  = 10 * time.Second
	defaultLookback = 7 * 24 * time.Hour
)

var defaultScopes = []string{
	"https://www.googleapis.com/auth/drive.file",
	"https://www.googleapis.com/auth/calendar.events",
}

// Config configures the Google Workspace client
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	CalendarID   string
	FolderID     string
	Timeout      time.Duration

	// TokenSource overrides the refresh-token flow
	TokenSource oauth2.TokenSource
	// HTTPClient is used for token refreshes and as the base transport
	HTTPClient *http.Client
}

// Client is the Google Workspace adapter
type Client struct {
	cfg        Config
	tokens     oauth2.TokenSource
	httpClient *http.Client
	logger     *logger.Logger

	mu           sync.RWMutex
	lastToken    *oauth2.Token
	lastTokenErr error
	lastActivity *time.Time
}

// New creates a Google Workspace client
func New(cfg Config, log *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	ctx := context.Background()
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}

	ts := cfg.TokenSource
	if ts == nil && cfg.RefreshToken != "" {
		oc := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
			Scopes:       defaultScopes,
		}
		ts = oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	}

	c := &Client{
		cfg:    cfg,
		logger: log.WithPlatform(string(models.PlatformGoogleWorkspace)),
	}
	if ts != nil {
		c.tokens = oauth2.ReuseTokenSource(nil, &trackingSource{src: ts, client: c})
		c.httpClient = oauth2.NewClient(ctx, c.tokens)
		c.httpClient.Timeout = cfg.Timeout
	}
	return c
}

// trackingSource records each token fetch for service status reporting
type trackingSource struct {
	src    oauth2.TokenSource
	client *Client
}

func (t *trackingSource) Token() (*oauth2.Token, error) {
	tok, err := t.src.Token()
	t.client.mu.Lock()
	t.client.lastTokenErr = err
	if err == nil {
		t.client.lastToken = tok
	}
	t.client.mu.Unlock()
	return tok, err
}

func (c *Client) Platform() models.Platform {
	return models.PlatformGoogleWorkspace
}

func (c *Client) configured() error {
	if c.tokens == nil {
		return platforms.ErrNotConfigured
	}
	return nil
}

func (c *Client) url(path string, query url.Values) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) doRequest(ctx context.Context, method, rawURL, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return &platforms.APIError{
				Platform:   models.PlatformGoogleWorkspace,
				StatusCode: http.StatusUnauthorized,
				Code:       retrieveErr.ErrorCode,
				Message:    "token refresh failed: " + retrieveErr.ErrorDescription,
			}
		}
		return fmt.Errorf("%w: %v", platforms.ErrPlatformUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type googleError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func decodeError(resp *http.Response) error {
	apiErr := &platforms.APIError{
		Platform:   models.PlatformGoogleWorkspace,
		StatusCode: resp.StatusCode,
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var ge googleError
	if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
		apiErr.Message = ge.Error.Message
		apiErr.Code = ge.Error.Status
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// SendMessage is not available on the workspace platform
func (c *Client) SendMessage(ctx context.Context, target models.MessageTarget, content models.MessageContent) (*models.MessageReceipt, error) {
	return nil, platforms.ErrOperationNotSupported
}

type driveFile struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	MimeType          string            `json:"mimeType,omitempty"`
	Description       string            `json:"description,omitempty"`
	Parents           []string          `json:"parents,omitempty"`
	WebViewLink       string            `json:"webViewLink,omitempty"`
	ModifiedTime      *time.Time        `json:"modifiedTime,omitempty"`
	AppProperties     map[string]string `json:"appProperties,omitempty"`
	LastModifyingUser *struct {
		DisplayName string `json:"displayName"`
	} `json:"lastModifyingUser,omitempty"`
}

// UploadDocument creates a Drive file using a multipart upload
func (c *Client) UploadDocument(ctx context.Context, meta models.DocumentMeta, content []byte) (*models.DocumentRef, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	file := driveFile{
		Name:        meta.Name,
		MimeType:    meta.MimeType,
		Description: meta.Description,
	}
	folder := meta.FolderID
	if folder == "" {
		folder = c.cfg.FolderID
	}
	if folder != "" {
		file.Parents = []string{folder}
	}
	if meta.ProjectID != "" {
		file.AppProperties = map[string]string{"project_id": meta.ProjectID}
	}

	metaJSON, err := json.Marshal(file)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal file metadata: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	metaHeader := make(textproto.MIMEHeader)
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	part, err := w.CreatePart(metaHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(metaJSON); err != nil {
		return nil, err
	}

	mediaHeader := make(textproto.MIMEHeader)
	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	mediaHeader.Set("Content-Type", mimeType)
	part, err = w.CreatePart(mediaHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	query := url.Values{"uploadType": {"multipart"}, "fields": {"id,name,webViewLink"}}
	var created driveFile
	contentType := "multipart/related; boundary=" + w.Boundary()
	if err := c.doRequest(ctx, http.MethodPost, c.url("upload/drive/v3/files", query), contentType, &buf, &created); err != nil {
		return nil, err
	}

	c.touch(time.Now().UTC())
	return &models.DocumentRef{ID: created.ID, Name: created.Name, URL: created.WebViewLink}, nil
}

// DeleteDocument removes a Drive file
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	if err := c.configured(); err != nil {
		return err
	}
	return c.doRequest(ctx, http.MethodDelete, c.url("drive/v3/files/"+url.PathEscape(documentID), nil), "", nil, nil)
}

type eventTime struct {
	DateTime time.Time `json:"dateTime"`
}

type calendarEvent struct {
	ID          string     `json:"id,omitempty"`
	Status      string     `json:"status,omitempty"`
	HTMLLink    string     `json:"htmlLink,omitempty"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Start       *eventTime `json:"start,omitempty"`
	End         *eventTime `json:"end,omitempty"`
	Updated     *time.Time `json:"updated,omitempty"`
	Attendees   []person   `json:"attendees,omitempty"`
	Organizer   *person    `json:"organizer,omitempty"`

	ExtendedProperties *extendedProperties `json:"extendedProperties,omitempty"`
}

type person struct {
	Email string `json:"email"`
}

type extendedProperties struct {
	Private map[string]string `json:"private,omitempty"`
}

// CreateEvent inserts a calendar event
func (c *Client) CreateEvent(ctx context.Context, meta models.EventMeta) (*models.CalendarEventRef, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	if meta.End.Before(meta.Start) {
		return nil, fmt.Errorf("event end %s is before start %s", meta.End, meta.Start)
	}

	ev := calendarEvent{
		Summary:     meta.Title,
		Description: meta.Description,
		Location:    meta.Location,
		Start:       &eventTime{DateTime: meta.Start},
		End:         &eventTime{DateTime: meta.End},
	}
	for _, a := range meta.Attendees {
		ev.Attendees = append(ev.Attendees, person{Email: a})
	}
	if meta.ProjectID != "" {
		ev.ExtendedProperties = &extendedProperties{Private: map[string]string{"project_id": meta.ProjectID}}
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	var created calendarEvent
	path := "calendar/v3/calendars/" + url.PathEscape(c.cfg.CalendarID) + "/events"
	if err := c.doRequest(ctx, http.MethodPost, c.url(path, nil), "application/json", bytes.NewReader(body), &created); err != nil {
		return nil, err
	}

	c.touch(time.Now().UTC())
	return &models.CalendarEventRef{ID: created.ID, HTMLLink: created.HTMLLink}, nil
}

// CancelEvent deletes a calendar event
func (c *Client) CancelEvent(ctx context.Context, eventID string) error {
	if err := c.configured(); err != nil {
		return err
	}
	path := "calendar/v3/calendars/" + url.PathEscape(c.cfg.CalendarID) + "/events/" + url.PathEscape(eventID)
	return c.doRequest(ctx, http.MethodDelete, c.url(path, nil), "", nil, nil)
}

// FetchRecentActivity lists recently modified Drive files and upcoming or recent calendar events
func (c *Client) FetchRecentActivity(ctx context.Context, filter models.ActivityFilter) ([]models.ActivityItem, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	since := time.Now().UTC().Add(-defaultLookback)
	if filter.Since != nil {
		since = filter.Since.UTC()
	}

	var items []models.ActivityItem
	if wantKind(filter, models.ActivityDocument) {
		docs, err := c.listFiles(ctx, since, filter)
		if err != nil {
			return nil, err
		}
		items = append(items, docs...)
	}
	if wantKind(filter, models.ActivityEvent) {
		events, err := c.listEvents(ctx, since, filter)
		if err != nil {
			return nil, err
		}
		items = append(items, events...)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	if len(items) > 0 {
		c.touch(items[0].Timestamp)
	}
	return items, nil
}

func wantKind(f models.ActivityFilter, k models.ActivityKind) bool {
	if len(f.Kinds) == 0 {
		return true
	}
	for _, want := range f.Kinds {
		if want == k {
			return true
		}
	}
	return false
}

func (c *Client) listFiles(ctx context.Context, since time.Time, filter models.ActivityFilter) ([]models.ActivityItem, error) {
	q := fmt.Sprintf("modifiedTime > '%s' and trashed = false", since.Format(time.RFC3339))
	if filter.ProjectID != "" {
		q += fmt.Sprintf(" and appProperties has { key='project_id' and value='%s' }", escapeQuery(filter.ProjectID))
	}
	for _, kw := range filter.Keywords {
		q += fmt.Sprintf(" and fullText contains '%s'", escapeQuery(kw))
	}
	query := url.Values{
		"q":        {q},
		"orderBy":  {"modifiedTime desc"},
		"pageSize": {"50"},
		"fields":   {"files(id,name,description,webViewLink,modifiedTime,appProperties,lastModifyingUser(displayName))"},
	}

	var resp struct {
		Files []driveFile `json:"files"`
	}
	if err := c.doRequest(ctx, http.MethodGet, c.url("drive/v3/files", query), "", nil, &resp); err != nil {
		return nil, err
	}

	items := make([]models.ActivityItem, 0, len(resp.Files))
	for _, f := range resp.Files {
		item := models.ActivityItem{
			ID:       f.ID,
			Platform: models.PlatformGoogleWorkspace,
			Kind:     models.ActivityDocument,
			EntityID: f.ID,
			Title:    f.Name,
			Summary:  f.Description,
		}
		if f.ModifiedTime != nil {
			item.Timestamp = *f.ModifiedTime
		}
		if f.AppProperties != nil {
			item.ProjectID = f.AppProperties["project_id"]
			item.Status = f.AppProperties["status"]
			if id := f.AppProperties["entity_id"]; id != "" {
				item.EntityID = id
			}
		}
		if f.LastModifyingUser != nil {
			item.Author = f.LastModifyingUser.DisplayName
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *Client) listEvents(ctx context.Context, since time.Time, filter models.ActivityFilter) ([]models.ActivityItem, error) {
	query := url.Values{
		"timeMin":      {since.Format(time.RFC3339)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
		"maxResults":   {"50"},
	}
	if filter.Until != nil {
		query.Set("timeMax", filter.Until.UTC().Format(time.RFC3339))
	}
	if filter.ProjectID != "" {
		query.Set("privateExtendedProperty", "project_id="+filter.ProjectID)
	}
	if len(filter.Keywords) > 0 {
		query.Set("q", strings.Join(filter.Keywords, " "))
	}

	var resp struct {
		Items []calendarEvent `json:"items"`
	}
	path := "calendar/v3/calendars/" + url.PathEscape(c.cfg.CalendarID) + "/events"
	if err := c.doRequest(ctx, http.MethodGet, c.url(path, query), "", nil, &resp); err != nil {
		return nil, err
	}

	items := make([]models.ActivityItem, 0, len(resp.Items))
	for _, ev := range resp.Items {
		item := models.ActivityItem{
			ID:       ev.ID,
			Platform: models.PlatformGoogleWorkspace,
			Kind:     models.ActivityEvent,
			EntityID: ev.ID,
			Title:    ev.Summary,
			Summary:  ev.Description,
			Status:   ev.Status,
		}
		if ev.Updated != nil {
			item.Timestamp = *ev.Updated
		}
		if ev.Start != nil {
			item.Timestamp = ev.Start.DateTime
		}
		if ev.Organizer != nil {
			item.Author = ev.Organizer.Email
		}
		if ev.ExtendedProperties != nil {
			item.ProjectID = ev.ExtendedProperties.Private["project_id"]
			if id := ev.ExtendedProperties.Private["entity_id"]; id != "" {
				item.EntityID = id
			}
			if st := ev.ExtendedProperties.Private["status"]; st != "" {
				item.Status = st
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `'`, `\'`)
}

func (c *Client) touch(ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastActivity == nil || ts.After(*c.lastActivity) {
		c.lastActivity = &ts
	}
}

// GetConnectionStatus refreshes the token if needed and calls the Drive about endpoint
func (c *Client) GetConnectionStatus(ctx context.Context) models.ConnectionStatus {
	if c.configured() != nil {
		return models.ConnectionDisconnected
	}

	query := url.Values{"fields": {"user(emailAddress)"}}
	err := c.doRequest(ctx, http.MethodGet, c.url("drive/v3/about", query), "", nil, nil)
	if err == nil {
		return models.ConnectionConnected
	}

	c.logger.Warn("Google Workspace connection check failed", logger.Err(err))
	var apiErr *platforms.APIError
	if errors.As(err, &apiErr) && !apiErr.IsAuthError() {
		return models.ConnectionNeedsAttention
	}
	return models.ConnectionDisconnected
}

// GetServiceStatus reports the OAuth token state and last observed activity
func (c *Client) GetServiceStatus(ctx context.Context) (*models.ServiceStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &models.ServiceStatus{
		AuthConfigured: c.tokens != nil,
		AuthValid:      c.lastToken != nil && c.lastTokenErr == nil,
	}
	if c.lastToken != nil && !c.lastToken.Expiry.IsZero() {
		expiry := c.lastToken.Expiry
		status.TokenExpiresAt = &expiry
	}
	if c.lastActivity != nil {
		last := *c.lastActivity
		status.LastActivity = &last
	}
	if c.lastTokenErr != nil {
		status.Warnings = append(status.Warnings, "token refresh failed: "+c.lastTokenErr.Error())
	}
	return status, nil
}
