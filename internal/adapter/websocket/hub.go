// Package websocket fans pipeline events out to connected browser clients.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/couchcryptid/los-telemetry-service/internal/observability"
	"github.com/gorilla/websocket"
)

const (
	broadcastBacklog = 256
	clientBuffer     = 64
)

// ErrBacklogFull is returned by Broadcast when the hub cannot keep up.
var ErrBacklogFull = errors.New("websocket hub backlog full")

// Envelope is the frame sent to clients for every event.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub maintains the set of active clients and broadcasts events to them.
// It implements pipeline.Broadcaster.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewHub creates a Hub. Call Run to start delivering.
func NewHub(logger *slog.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBacklog),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The feed is read-only public telemetry; CORS is applied at the router.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		metrics: metrics,
	}
}

// Run owns the client set until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			h.drop(c)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.metrics.WebsocketClients.Set(float64(len(h.clients)))
			h.logger.Info("websocket client registered", "remote_addr", c.remoteAddr())

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Info("websocket client unregistered", "remote_addr", c.remoteAddr())
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow clients are dropped rather than stalling ingest.
					h.logger.Warn("websocket client send buffer full, removing", "remote_addr", c.remoteAddr())
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.metrics.WebsocketClients.Set(float64(len(h.clients)))
}

// Broadcast queues event for every connected client without blocking.
func (h *Hub) Broadcast(_ context.Context, event string, payload any) error {
	msg, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	select {
	case h.broadcast <- msg:
		return nil
	default:
		return ErrBacklogFull
	}
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, clientBuffer), logger: h.logger}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
