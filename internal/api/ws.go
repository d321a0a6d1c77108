package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wlnet/metaclient/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64

	hubSubscriber = "websocket"
)

// streamClient is one websocket subscriber. A nil filter accepts every
// event type.
type streamClient struct {
	send   chan []byte
	filter map[events.EventType]bool
}

func (c *streamClient) wants(t events.EventType) bool {
	return c.filter == nil || c.filter[t]
}

// Hub fans session events out to websocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*streamClient]struct{})}
}

// Attach subscribes the hub to every session event.
func (h *Hub) Attach(bus *events.EventBus) {
	bus.SubscribeAll(hubSubscriber, h.onEvent)
}

// Detach removes the hub from the bus.
func (h *Hub) Detach(bus *events.EventBus) {
	bus.UnsubscribeAll(hubSubscriber)
}

func (h *Hub) register(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected stream clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) onEvent(_ context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.broadcast(event.Type, data)
	return nil
}

// broadcast queues data for every interested client. Slow clients drop
// messages instead of stalling the bus.
func (h *Hub) broadcast(t events.EventType, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(t) {
			continue
		}
		select {
		case c.send <- data:
		default:
			log.Warn().Str("event", string(t)).Msg("websocket client too slow, dropping event")
		}
	}
}

func (s *Server) upgrader() *websocket.Upgrader {
	allowed := s.cfg.GetApplicationData().API.AllowedOrigins
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowed {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
}

// parseFilter reads ?types=chat,motd into a set. An empty list means all.
func parseFilter(raw string) map[events.EventType]bool {
	if raw == "" {
		return nil
	}
	filter := make(map[events.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[events.EventType(t)] = true
		}
	}
	return filter
}

// handleEventStream upgrades to a websocket that streams session events as
// JSON.
func (s *Server) handleEventStream(c *gin.Context) {
	wsConn, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &streamClient{
		send:   make(chan []byte, sendBuffer),
		filter: parseFilter(c.Query("types")),
	}
	s.hub.register(client)
	log.Debug().Str("client_ip", c.ClientIP()).Msg("event stream client connected")

	go s.writePump(wsConn, client)
	go s.readPump(wsConn, client)
}

// readPump only services control frames; clients send nothing.
func (s *Server) readPump(wsConn *websocket.Conn, client *streamClient) {
	defer func() {
		s.hub.unregister(client)
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := wsConn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
	}
}

func (s *Server) writePump(wsConn *websocket.Conn, client *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := wsConn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
