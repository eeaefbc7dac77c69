package websocket

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/davidmoltin/site-integrations/pkg/logger"
)

// Connection timing. pingPeriod must stay below pongWait.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client is one dashboard connection. userID is empty for anonymous viewers.
type Client struct {
	id     string
	userID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *logger.Logger

	mu            sync.RWMutex
	subscriptions map[string]*Subscription

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Subscription is a channel plus the filters narrowing what it delivers
type Subscription struct {
	Channel string
	Filters Filters
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, log *logger.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Client{
		id:            id,
		userID:        userID,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		logger:        log.With(zap.String("client_id", id)),
		subscriptions: make(map[string]*Subscription),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start runs the read and write loops until the connection drops or Close is called
func (c *Client) Start() {
	go c.writeLoop()
	go c.readLoop()
}

// Close detaches the client from the hub. Safe to call repeatedly.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
	})
}

func (c *Client) Subscribe(channel string, filters Filters) {
	c.mu.Lock()
	c.subscriptions[channel] = &Subscription{Channel: channel, Filters: filters}
	c.mu.Unlock()
	c.logger.Debug("Subscribed", zap.String("channel", channel))
}

func (c *Client) Unsubscribe(channel string) {
	c.mu.Lock()
	delete(c.subscriptions, channel)
	c.mu.Unlock()
	c.logger.Debug("Unsubscribed", zap.String("channel", channel))
}

func (c *Client) IsSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// MatchesFilters reports whether an event on channel passes the client's
// filters. An empty filter list accepts every value.
func (c *Client) MatchesFilters(channel, actionID, platform, status string) bool {
	c.mu.RLock()
	sub, ok := c.subscriptions[channel]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return accepts(sub.Filters.ActionIDs, actionID) &&
		accepts(sub.Filters.Platforms, platform) &&
		accepts(sub.Filters.Statuses, status)
}

func accepts(allowed []string, v string) bool {
	return len(allowed) == 0 || slices.Contains(allowed, v)
}

func (c *Client) readLoop() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for c.ctx.Err() == nil {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read failed", zap.Error(err))
			}
			return
		}
		c.handleMessage(data)
	}
}

// writeLoop owns all writes to the connection. Messages already queued are
// coalesced into one frame, newline separated.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.writeClose()
			return

		case msg, ok := <-c.send:
			if !ok {
				c.writeClose()
				return
			}
			if err := c.writeBatch(msg); err != nil {
				c.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeBatch(first []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	_, _ = w.Write(first)
	for n := len(c.send); n > 0; n-- {
		_, _ = w.Write([]byte{'\n'})
		_, _ = w.Write(<-c.send)
	}
	return w.Close()
}

func (c *Client) writeClose() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *Client) handleMessage(data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		c.reply(MessageTypeError, ErrorData{Code: "PARSE_ERROR", Message: "Invalid message format"})
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.reply(MessageTypePong, nil)

	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		var sub SubscriptionData
		if err := json.Unmarshal(msg.Data, &sub); err != nil {
			c.reply(MessageTypeError, ErrorData{Code: "INVALID_SUBSCRIPTION", Message: "Invalid subscription data"})
			return
		}
		if msg.Type == MessageTypeUnsubscribe {
			c.Unsubscribe(sub.Channel)
			c.reply(MessageTypeUnsubscribed, map[string]string{"channel": sub.Channel})
			return
		}
		if !validChannel(sub.Channel) {
			c.reply(MessageTypeError, ErrorData{Code: "UNKNOWN_CHANNEL", Message: "Unknown channel " + sub.Channel})
			return
		}
		c.Subscribe(sub.Channel, sub.Filters)
		c.reply(MessageTypeSubscribed, map[string]string{"channel": sub.Channel})

	default:
		c.reply(MessageTypeError, ErrorData{Code: "UNKNOWN_TYPE", Message: "Unsupported message type " + string(msg.Type)})
	}
}

// reply queues a control message for this client only, dropping it when the buffer is full
func (c *Client) reply(t MessageType, data interface{}) {
	msg, err := NewMessage(t, data)
	if err != nil {
		return
	}
	raw, err := msg.ToJSON()
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
		c.logger.Warn("Send buffer full, dropping reply", zap.String("type", string(t)))
	}
}

func validChannel(channel string) bool {
	resource, id := ParseChannel(channel)
	switch resource {
	case ChannelActions:
		return true
	case ChannelAlerts, ChannelConfirmations, ChannelWebhooks:
		return id == ""
	}
	return false
}
