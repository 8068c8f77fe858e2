package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/KevinKickass/EndpointRegistry/internal/auth"
	"github.com/KevinKickass/EndpointRegistry/internal/historian"
	"go.uber.org/zap"
)

// SubscriberGauge receives the live client count. Implemented by metrics.Metrics.
type SubscriberGauge interface {
	SetLiveSubscribers(n int)
}

// Hub maintains active WebSocket clients and fans out history dispatch events.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex

	logger *zap.Logger

	// nil disables the auth handshake
	jwtHandler *auth.JWTHandler

	gauge SubscriberGauge
}

func NewHub(logger *zap.Logger, jwtHandler *auth.JWTHandler) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
		jwtHandler: jwtHandler,
	}
}

func (h *Hub) SetGauge(g SubscriberGauge) {
	h.gauge = g
}

// Run is the hub's event loop. It returns when ctx is cancelled, closing all clients.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket Hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.closeSend()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.reportCount()
			h.logger.Info("WebSocket Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.reportCount()
			h.logger.Info("WebSocket client registered",
				zap.String("remote_addr", client.remoteAddr()),
				zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.logger.Info("WebSocket client unregistered",
					zap.String("remote_addr", client.remoteAddr()),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()
			client.closeSend()
			h.reportCount()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message",
					zap.Error(err))
				continue
			}

			dropped := 0
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(message.endpointID) {
					continue
				}
				if !client.enqueue(data) {
					// slow or dead client
					client.closeSend()
					delete(h.clients, client)
					dropped++
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("remote_addr", client.remoteAddr()))
				}
			}
			h.mu.Unlock()
			if dropped > 0 {
				h.reportCount()
			}
		}
	}
}

// join registers c. It reports false once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues msg for all interested clients without blocking.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// OnPhase forwards dispatcher lifecycle events to subscribed clients.
func (h *Hub) OnPhase(ev historian.Event) {
	h.Broadcast(NewPhaseMessage(ev))
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) reportCount() {
	if h.gauge != nil {
		h.gauge.SetLiveSubscribers(h.GetClientCount())
	}
}

var _ historian.Observer = (*Hub)(nil)
