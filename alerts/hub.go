/*
# Module: alerts/hub.go
Websocket fan-out of queue and processing events with origin-based roles and a single overlay slot.

## Linked Modules
- [types/event](../types/event.go) - Event envelope

## Tags
alerts, websocket, pubsub, overlay

## Exports
Hub, NewHub, Role, RoleOverlay, RoleAdmin, CodeOverlayAlreadyConnected, CloseOverlayAlreadyConnected

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "alerts/hub.go" ;
    code:description "Websocket fan-out of queue and processing events with origin-based roles and a single overlay slot" ;
    code:linksTo [
        code:name "types/event" ;
        code:path "../types/event.go" ;
        code:relationship "Event envelope"
    ] ;
    code:exports :Hub, :NewHub, :Role, :RoleOverlay, :RoleAdmin, :CodeOverlayAlreadyConnected, :CloseOverlayAlreadyConnected ;
    code:tags "alerts", "websocket", "pubsub", "overlay" .
<!-- End LinkedDoc RDF -->
*/
package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"donation-alerts/types"
)

// Role is derived from the connecting origin
type Role string

const (
	RoleOverlay Role = "overlay"
	RoleAdmin   Role = "admin"
)

const (
	// CodeOverlayAlreadyConnected is sent in the error event before the close
	CodeOverlayAlreadyConnected = "OVERLAY_ALREADY_CONNECTED"
	// CloseOverlayAlreadyConnected is the websocket close code for a refused overlay
	CloseOverlayAlreadyConnected = 4000

	writeWait  = 10 * time.Second
	sendBuffer = 32
)

type client struct {
	conn  *websocket.Conn
	role  Role
	send  chan []byte
	alive atomic.Bool
	once  sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

// Hub tracks open connections and broadcasts events to all of them
type Hub struct {
	overlayOrigins map[string]bool
	adminOrigins   map[string]bool
	pingInterval   time.Duration
	upgrader       websocket.Upgrader
	logger         zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a hub. Origins are compared case-insensitively without a
// trailing slash.
func NewHub(overlayOrigins, adminOrigins []string, pingInterval time.Duration, logger zerolog.Logger) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Hub{
		overlayOrigins: originSet(overlayOrigins),
		adminOrigins:   originSet(adminOrigins),
		pingInterval:   pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is classified before the upgrade
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.With().Str("component", "alerts").Logger(),
		clients: make(map[*client]struct{}),
	}
}

func normalizeOrigin(origin string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
}

func originSet(origins []string) map[string]bool {
	set := make(map[string]bool, len(origins))
	for _, o := range origins {
		if n := normalizeOrigin(o); n != "" {
			set[n] = true
		}
	}
	return set
}

// Classify maps an Origin header to a role
func (h *Hub) Classify(origin string) (Role, bool) {
	n := normalizeOrigin(origin)
	switch {
	case n == "":
		return "", false
	case h.overlayOrigins[n]:
		return RoleOverlay, true
	case h.adminOrigins[n]:
		return RoleAdmin, true
	}
	return "", false
}

// ServeHTTP upgrades the connection and registers the client
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	role, ok := h.Classify(r.Header.Get("Origin"))
	if !ok {
		h.logger.Warn().Str("origin", r.Header.Get("Origin")).Msg("🚫 websocket origin rejected")
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("⚠️  websocket upgrade failed")
		return
	}

	c := &client{conn: conn, role: role, send: make(chan []byte, sendBuffer)}
	c.alive.Store(true)

	if !h.register(c) {
		h.refuseOverlay(conn)
		return
	}

	h.logger.Info().Str("role", string(role)).Str("remote", r.RemoteAddr).Msg("🔌 websocket client connected")
	go h.writePump(c)
	go h.readPump(c)
}

// register adds c unless it is an overlay and a live overlay exists
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.role == RoleOverlay {
		for existing := range h.clients {
			if existing.role == RoleOverlay && existing.alive.Load() {
				return false
			}
		}
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) refuseOverlay(conn *websocket.Conn) {
	defer conn.Close()

	h.logger.Warn().Msg("⛔ second overlay connection refused")
	event := types.NewEvent(types.EventError, "", "")
	event.Code = CodeOverlayAlreadyConnected
	event.Message = "another overlay is already connected"

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(event); err != nil {
		return
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(CloseOverlayAlreadyConnected, CodeOverlayAlreadyConnected),
		time.Now().Add(writeWait))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Info().Str("role", string(c.role)).Msg("🔌 websocket client disconnected")
	}
}

// readPump consumes client frames so pongs and closes are processed
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(4096)
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		c.alive.Store(true)
	}
}

func (h *Hub) writePump(c *client) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.unregister(c)
			return
		}
	}
}

// Broadcast sends event to every open connection. Clients whose buffer is
// full miss the event and reconcile through the status endpoint.
func (h *Hub) Broadcast(event types.Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("type", event.Type).Msg("❌ failed to marshal event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug().Str("role", string(c.role)).Str("type", event.Type).Msg("📭 client buffer full, event dropped")
		}
	}
}

// heartbeat prunes clients that missed the previous ping and pings the rest
func (h *Hub) heartbeat() int {
	h.mu.Lock()
	var dead []*client
	var live []*client
	for c := range h.clients {
		if !c.alive.Load() {
			dead = append(dead, c)
			continue
		}
		c.alive.Store(false)
		live = append(live, c)
	}
	h.mu.Unlock()

	for _, c := range dead {
		h.unregister(c)
	}
	for _, c := range live {
		if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			h.unregister(c)
		}
	}
	if len(dead) > 0 {
		h.logger.Info().Int("pruned", len(dead)).Msg("🧹 unresponsive websocket clients pruned")
	}
	return len(dead)
}

// Run pings clients every interval until ctx ends, then closes them all
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.heartbeat()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

// Counts returns the number of open connections per role
func (h *Hub) Counts() map[Role]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := map[Role]int{RoleOverlay: 0, RoleAdmin: 0}
	for c := range h.clients {
		counts[c.role]++
	}
	return counts
}
