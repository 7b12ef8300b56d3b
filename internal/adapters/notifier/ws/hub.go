// Package ws pushes score notifications to websocket subscribers.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/leadflow/internal/domain/notify"
	"github.com/okian/leadflow/pkg/logger"
	"github.com/okian/leadflow/pkg/metrics"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod  = (pongWait * 9) / 10
	sendBufSize = 16

	// clientTopic is the broker topic every connection listens on.
	clientTopic = "ws"
)

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub tracks websocket clients and implements notify.Publisher. A client
// that cannot keep up misses messages instead of slowing publishers down.
type Hub struct {
	broker   *notify.Broker
	upgrader websocket.Upgrader
	log      logger.Logger

	mu      sync.Mutex
	cancels map[*websocket.Conn]func()
	closed  bool
}

var _ notify.Publisher = (*Hub)(nil)

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// WithCheckOrigin overrides the upgrade origin check. The default accepts
// every origin; CORS is enforced by the HTTP layer.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		if fn != nil {
			h.upgrader.CheckOrigin = fn
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		broker: notify.NewBroker(sendBufSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     logger.NewNop(),
		cancels: make(map[*websocket.Conn]func()),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish sends {event: topic, data: payload} to every connected client.
func (h *Hub) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(Message{Event: topic, Data: payload})
	if err != nil {
		return fmt.Errorf("ws publish %s: %w", topic, err)
	}
	return h.broker.Publish(ctx, clientTopic, json.RawMessage(data))
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	return h.broker.Subscribers(clientTopic)
}

// ServeHTTP upgrades the connection and streams notifications until the
// client goes away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	send, cancel := h.broker.Subscribe(clientTopic)
	h.mu.Lock()
	h.cancels[conn] = cancel
	h.mu.Unlock()
	metrics.UpdateNotificationClients(h.Count())
	h.log.Debug(r.Context(), "client connected", logger.String("remote", r.RemoteAddr))

	defer func() {
		h.mu.Lock()
		delete(h.cancels, conn)
		h.mu.Unlock()
		cancel()
		metrics.UpdateNotificationClients(h.Count())
		h.log.Debug(context.WithoutCancel(r.Context()), "client disconnected", logger.String("remote", r.RemoteAddr))
	}()

	go writePump(conn, send)
	readPump(conn)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	cancels := make([]func(), 0, len(h.cancels))
	for _, cancel := range h.cancels {
		cancels = append(cancels, cancel)
	}
	h.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return nil
}

// writePump forwards messages and pings to conn. It exits when send is
// closed or a write fails.
func writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames and detects disconnects.
func readPump(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
