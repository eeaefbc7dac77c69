// Package messaging implements the platform adapter for the WhatsApp Business Cloud API.
package messaging

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
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/internal/platforms"
	"github.com/davidmoltin/site-integrations/pkg/logger"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v19.0"
	defaultTimeout    = 10 * time.Second
	activityCapacity  = 200
)

// Config configures the WhatsApp client
type Config struct {
	BaseURL       string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
	SendRate      float64 // messages per second, 0 disables limiting
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Client is the WhatsApp Cloud API adapter
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger

	mu           sync.RWMutex
	activity     []models.ActivityItem
	lastActivity *time.Time
	authValid    bool
	lastCheckErr error
	quality      string
}

// New creates a WhatsApp client
func New(cfg Config, log *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), int(cfg.SendRate)+1)
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     log.WithPlatform(string(models.PlatformWhatsApp)),
		authValid:  cfg.AccessToken != "",
	}
}

func (c *Client) Platform() models.Platform {
	return models.PlatformWhatsApp
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.APIVersion, strings.TrimLeft(path, "/"))
}

func (c *Client) configured() error {
	if c.cfg.AccessToken == "" || c.cfg.PhoneNumberID == "" {
		return platforms.ErrNotConfigured
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", platforms.ErrPlatformUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *Client) decodeError(resp *http.Response) error {
	apiErr := &platforms.APIError{
		Platform:   models.PlatformWhatsApp,
		StatusCode: resp.StatusCode,
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var ge graphError
	if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
		apiErr.Message = ge.Error.Message
		apiErr.Code = fmt.Sprintf("%d", ge.Error.Code)
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}

	if apiErr.IsAuthError() {
		c.mu.Lock()
		c.authValid = false
		c.mu.Unlock()
	}
	return apiErr
}

type sendRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	RecipientType    string           `json:"recipient_type"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             *textBody        `json:"text,omitempty"`
	Template         *templateBody    `json:"template,omitempty"`
	Context          *replyContextRef `json:"context,omitempty"`
}

type textBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type templateBody struct {
	Name     string `json:"name"`
	Language struct {
		Code string `json:"code"`
	} `json:"language"`
}

type replyContextRef struct {
	MessageID string `json:"message_id"`
}

type sendResponse struct {
	Contacts []struct {
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendMessage sends a text or template message
func (c *Client) SendMessage(ctx context.Context, target models.MessageTarget, content models.MessageContent) (*models.MessageReceipt, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	if target.Recipient == "" {
		return nil, fmt.Errorf("message recipient is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("send rate limit: %w", err)
	}

	payload := sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               target.Recipient,
	}
	if content.TemplateName != "" {
		payload.Type = "template"
		payload.Template = &templateBody{Name: content.TemplateName}
		payload.Template.Language.Code = content.LanguageCode
		if payload.Template.Language.Code == "" {
			payload.Template.Language.Code = "en_US"
		}
	} else {
		payload.Type = "text"
		payload.Text = &textBody{Body: content.Text}
	}
	if target.ReplyTo != "" {
		payload.Context = &replyContextRef{MessageID: target.ReplyTo}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	var resp sendResponse
	if err := c.doRequest(ctx, http.MethodPost, c.cfg.PhoneNumberID+"/messages", "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, fmt.Errorf("whatsapp accepted the request but returned no message id")
	}

	now := time.Now().UTC()
	receipt := &models.MessageReceipt{
		MessageID: resp.Messages[0].ID,
		Recipient: target.Recipient,
		SentAt:    now,
	}

	c.RecordActivity(models.ActivityItem{
		ID:        receipt.MessageID,
		Platform:  models.PlatformWhatsApp,
		Kind:      models.ActivityMessage,
		EntityID:  receipt.MessageID,
		Title:     "Message sent to " + target.Recipient,
		Summary:   content.Text,
		Status:    "sent",
		Timestamp: now,
	})

	c.logger.Debug("WhatsApp message sent", logger.String("message_id", receipt.MessageID))
	return receipt, nil
}

type mediaResponse struct {
	ID string `json:"id"`
}

// UploadDocument uploads a media document that can later be sent by id
func (c *Client) UploadDocument(ctx context.Context, meta models.DocumentMeta, content []byte) (*models.DocumentRef, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = "application/pdf"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("messaging_product", "whatsapp"); err != nil {
		return nil, err
	}
	if err := w.WriteField("type", mimeType); err != nil {
		return nil, err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, meta.Name))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var resp mediaResponse
	if err := c.doRequest(ctx, http.MethodPost, c.cfg.PhoneNumberID+"/media", w.FormDataContentType(), &buf, &resp); err != nil {
		return nil, err
	}

	return &models.DocumentRef{ID: resp.ID, Name: meta.Name}, nil
}

// DeleteDocument deletes uploaded media
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	if err := c.configured(); err != nil {
		return err
	}
	return c.doRequest(ctx, http.MethodDelete, documentID, "", nil, nil)
}

// CreateEvent is not available on a messaging platform
func (c *Client) CreateEvent(ctx context.Context, meta models.EventMeta) (*models.CalendarEventRef, error) {
	return nil, platforms.ErrOperationNotSupported
}

// CancelEvent is not available on a messaging platform
func (c *Client) CancelEvent(ctx context.Context, eventID string) error {
	return platforms.ErrOperationNotSupported
}

// FetchRecentActivity returns messages seen through webhooks and sends.
// The Cloud API has no history endpoint, so the client keeps its own log.
func (c *Client) FetchRecentActivity(ctx context.Context, filter models.ActivityFilter) ([]models.ActivityItem, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.ActivityItem, 0)
	for i := len(c.activity) - 1; i >= 0; i-- {
		item := c.activity[i]
		if !matches(item, filter) {
			continue
		}
		out = append(out, item)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matches(item models.ActivityItem, f models.ActivityFilter) bool {
	if f.ProjectID != "" && item.ProjectID != "" && item.ProjectID != f.ProjectID {
		return false
	}
	if f.Since != nil && item.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && item.Timestamp.After(*f.Until) {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == item.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Keywords) > 0 {
		text := strings.ToLower(item.Title + " " + item.Summary)
		for _, kw := range f.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	}
	return true
}

// RecordActivity appends an item to the activity log, or updates the status
// of an existing item with the same id.
func (c *Client) RecordActivity(item models.ActivityItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.activity {
		if c.activity[i].ID == item.ID {
			if item.Status != "" {
				c.activity[i].Status = item.Status
			}
			c.touch(item.Timestamp)
			return
		}
	}

	c.activity = append(c.activity, item)
	if len(c.activity) > activityCapacity {
		c.activity = c.activity[len(c.activity)-activityCapacity:]
	}
	c.touch(item.Timestamp)
}

func (c *Client) touch(ts time.Time) {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if c.lastActivity == nil || ts.After(*c.lastActivity) {
		c.lastActivity = &ts
	}
}

type phoneNumberInfo struct {
	ID                 string `json:"id"`
	VerifiedName       string `json:"verified_name"`
	QualityRating      string `json:"quality_rating"`
	CodeVerifyStatus   string `json:"code_verification_status"`
	MessagingLimitTier string `json:"messaging_limit_tier"`
}

func (c *Client) fetchPhoneNumber(ctx context.Context) (*phoneNumberInfo, error) {
	var info phoneNumberInfo
	path := c.cfg.PhoneNumberID + "?fields=verified_name,quality_rating,code_verification_status,messaging_limit_tier"
	err := c.doRequest(ctx, http.MethodGet, path, "", nil, &info)

	c.mu.Lock()
	c.lastCheckErr = err
	if err == nil {
		c.authValid = true
		c.quality = info.QualityRating
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &info, nil
}

// GetConnectionStatus reads the phone number resource
func (c *Client) GetConnectionStatus(ctx context.Context) models.ConnectionStatus {
	if c.configured() != nil {
		return models.ConnectionDisconnected
	}

	info, err := c.fetchPhoneNumber(ctx)
	if err != nil {
		c.logger.Warn("WhatsApp connection check failed", logger.Err(err))
		var apiErr *platforms.APIError
		if errors.As(err, &apiErr) && !apiErr.IsAuthError() {
			return models.ConnectionNeedsAttention
		}
		return models.ConnectionDisconnected
	}

	if strings.EqualFold(info.QualityRating, "RED") || strings.EqualFold(info.QualityRating, "YELLOW") {
		return models.ConnectionNeedsAttention
	}
	return models.ConnectionConnected
}

// GetServiceStatus reports credential validity, last activity and send quota
func (c *Client) GetServiceStatus(ctx context.Context) (*models.ServiceStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &models.ServiceStatus{
		AuthConfigured: c.cfg.AccessToken != "" && c.cfg.PhoneNumberID != "",
		AuthValid:      c.authValid && c.cfg.AccessToken != "",
	}
	if c.lastActivity != nil {
		last := *c.lastActivity
		status.LastActivity = &last
	}
	if c.cfg.SendRate > 0 {
		burst := c.limiter.Burst()
		used := burst - int(c.limiter.Tokens())
		if used < 0 {
			used = 0
		}
		status.Quota = &models.QuotaInfo{Limit: burst, Used: used}
	}
	switch strings.ToUpper(c.quality) {
	case "YELLOW":
		status.Warnings = append(status.Warnings, "phone number quality rating is YELLOW")
	case "RED":
		status.Warnings = append(status.Warnings, "phone number quality rating is RED")
	}
	if c.lastCheckErr != nil && !platforms.IsAuthError(c.lastCheckErr) {
		status.Warnings = append(status.Warnings, "last connection check failed: "+c.lastCheckErr.Error())
	}
	return status, nil
}
