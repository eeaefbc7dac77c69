// Package websocket streams execution progress, alerts, confirmations and
// webhook activity to connected clients, fanned out across instances via Redis.
package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidmoltin/site-integrations/pkg/logger"
)

const (
	// Redis pub/sub channel shared by every instance
	redisChannelAll = "siteint:ws:broadcast"
)

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// clients by user ID; anonymous viewers share the "" key
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	// instanceID tags messages published to Redis so they are not delivered twice locally
	instanceID  string
	redisClient redis.UniversalClient
	redisPubSub *redis.PubSub

	logger *logger.Logger

	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// BroadcastMessage is a message plus the attributes subscription filters match on
type BroadcastMessage struct {
	Channel  string   `json:"channel"`
	Message  *Message `json:"message"`
	ActionID string   `json:"action_id,omitempty"`
	Platform string   `json:"platform,omitempty"`
	Status   string   `json:"status,omitempty"`
	// Origin is the publishing instance, set only on the Redis copy
	Origin string `json:"origin,omitempty"`
}

// NewHub creates a new Hub. redisClient may be nil for a single instance.
func NewHub(redisClient redis.UniversalClient, log *logger.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *BroadcastMessage, 256),
		instanceID:  uuid.New().String(),
		redisClient: redisClient,
		logger:      log.WithComponent("websocket"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the hub
func (h *Hub) Start() error {
	// Subscribe to Redis pub/sub for distributed broadcasting
	if h.redisClient != nil {
		h.redisPubSub = h.redisClient.Subscribe(h.ctx, redisChannelAll)
		go h.handleRedisPubSub()
	}

	go h.run()

	h.logger.Info("WebSocket hub started")
	return nil
}

// Stop stops the hub
func (h *Hub) Stop() error {
	h.cancel()

	if h.redisPubSub != nil {
		h.redisPubSub.Close()
	}

	h.logger.Info("WebSocket hub stopped")
	return nil
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	set := h.clients[client.userID]
	if set == nil {
		set = make(map[*Client]bool)
		h.clients[client.userID] = set
	}
	set[client] = true
	total := h.getTotalClients()
	h.mu.Unlock()

	h.logger.Debug("Client registered", zap.String("client_id", client.id), zap.Int("total_clients", total))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	set := h.clients[client.userID]
	if !set[client] {
		h.mu.Unlock()
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.userID)
	}
	close(client.send)
	total := h.getTotalClients()
	h.mu.Unlock()

	h.logger.Debug("Client unregistered", zap.String("client_id", client.id), zap.Int("total_clients", total))
}

// deliver hands the message to every local client whose subscription matches.
// A client too slow to keep up is disconnected rather than blocking the hub.
func (h *Hub) deliver(bm *BroadcastMessage) {
	raw, err := bm.Message.ToJSON()
	if err != nil {
		h.logger.Error("Failed to encode broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	recipients := 0
	for _, set := range h.clients {
		for client := range set {
			if !client.MatchesFilters(bm.Channel, bm.ActionID, bm.Platform, bm.Status) {
				continue
			}
			select {
			case client.send <- raw:
				recipients++
			default:
				h.logger.Warn("Client send buffer full, disconnecting", zap.String("client_id", client.id))
				go client.Close()
			}
		}
	}

	h.logger.Debug("Broadcast delivered",
		zap.String("channel", bm.Channel),
		zap.String("type", string(bm.Message.Type)),
		zap.Int("recipients", recipients),
	)
}

// Broadcast sends a message to local clients and, via Redis, to other instances
func (h *Hub) Broadcast(bm *BroadcastMessage) {
	h.enqueue(bm)

	if h.redisClient != nil {
		h.publishToRedis(bm)
	}
}

func (h *Hub) enqueue(bm *BroadcastMessage) {
	select {
	case h.broadcast <- bm:
	default:
		h.logger.Warn("broadcast channel full, dropping message",
			zap.String("channel", bm.Channel),
		)
	}
}

func (h *Hub) publishToRedis(bm *BroadcastMessage) {
	out := *bm
	out.Origin = h.instanceID

	data, err := json.Marshal(&out)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message for Redis", zap.Error(err))
		return
	}

	if err := h.redisClient.Publish(h.ctx, redisChannelAll, data).Err(); err != nil {
		h.logger.Error("failed to publish to Redis", zap.Error(err))
	}
}

// handleRedisPubSub relays messages published by other instances
func (h *Hub) handleRedisPubSub() {
	ch := h.redisPubSub.Channel()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			var bm BroadcastMessage
			if err := json.Unmarshal([]byte(msg.Payload), &bm); err != nil {
				h.logger.Error("failed to unmarshal Redis message", zap.Error(err))
				continue
			}
			if bm.Origin == h.instanceID || bm.Message == nil {
				continue
			}

			// Local clients only; never re-publish
			h.enqueue(&bm)
		}
	}
}

// GetClientCount returns the total number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.getTotalClients()
}

// getTotalClients must be called with the lock held
func (h *Hub) getTotalClients() int {
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}

// Stats returns hub statistics
type Stats struct {
	TotalClients int  `json:"total_clients"`
	TotalUsers   int  `json:"total_users"`
	Distributed  bool `json:"distributed"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return Stats{
		TotalClients: h.getTotalClients(),
		TotalUsers:   len(h.clients),
		Distributed:  h.redisClient != nil,
	}
}

// ParseChannel splits "actions:<id>" into its resource type and id
func ParseChannel(channel string) (resourceType, resourceID string) {
	resourceType, resourceID, _ = strings.Cut(channel, ":")
	return resourceType, resourceID
}
