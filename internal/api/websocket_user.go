package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"bot-dashboard/internal/auth"
	"bot-dashboard/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// UserWSClient represents a user-specific WebSocket client
type UserWSClient struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	hub       *UserWSHub
	userID    string
	closeChan chan struct{}
}

// UserWSHub routes bus events to the connections of the user they belong to
type UserWSHub struct {
	// All connected clients (for global broadcasts)
	clients map[*UserWSClient]bool
	// User-specific client mappings
	userClients map[string]map[*UserWSClient]bool
	broadcast   chan []byte
	userCast    chan userMessage
	register    chan *UserWSClient
	unregister  chan *UserWSClient
	disconnect  chan string
	mu          sync.RWMutex
	logger      zerolog.Logger
}

type userMessage struct {
	userID string
	data   []byte
}

// NewUserWSHub creates a new user-aware WebSocket hub
func NewUserWSHub(logger zerolog.Logger) *UserWSHub {
	return &UserWSHub{
		clients:     make(map[*UserWSClient]bool),
		userClients: make(map[string]map[*UserWSClient]bool),
		broadcast:   make(chan []byte, 256),
		userCast:    make(chan userMessage, 256),
		register:    make(chan *UserWSClient),
		unregister:  make(chan *UserWSClient),
		disconnect:  make(chan string, 16),
		logger:      logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Attach forwards every bus event to the hub. Events without a user go to
// everyone; a logout also closes that user's connections.
func (h *UserWSHub) Attach(bus *events.EventBus) {
	if bus == nil {
		return
	}
	bus.SubscribeAll(func(event events.Event) {
		if event.UserID == "" {
			h.BroadcastToAll(event)
			return
		}
		h.BroadcastToUser(event.UserID, event)
		if event.Type == events.EventUserLogout {
			h.DisconnectUser(event.UserID)
		}
	})
}

// Run processes hub traffic until ctx is cancelled
func (h *UserWSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			// Add to user-specific map
			if client.userID != "" {
				if h.userClients[client.userID] == nil {
					h.userClients[client.userID] = make(map[*UserWSClient]bool)
				}
				h.userClients[client.userID][client] = true
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()

		case userID := <-h.disconnect:
			h.mu.Lock()
			for client := range h.userClients[userID] {
				h.drop(client)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			// Broadcast to all clients
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.drop(client)
				}
			}
			h.mu.Unlock()

		case userMsg := <-h.userCast:
			// Broadcast to specific user's clients
			h.mu.Lock()
			for client := range h.userClients[userMsg.userID] {
				select {
				case client.send <- userMsg.data:
				default:
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes a client from both maps and closes its send channel once.
// Callers hold h.mu.
func (h *UserWSHub) drop(client *UserWSClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	if userClients, ok := h.userClients[client.userID]; ok {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.userClients, client.userID)
		}
	}
	close(client.send)
}

// BroadcastToUser sends an event to a specific user's connections
func (h *UserWSHub) BroadcastToUser(userID string, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to marshal user event")
		return
	}

	select {
	case h.userCast <- userMessage{userID: userID, data: data}:
	default:
		h.logger.Warn().Str("user_id", userID).Msg("User broadcast channel full, dropping message")
	}
}

// BroadcastToAll sends an event to all connected clients
func (h *UserWSHub) BroadcastToAll(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to marshal event")
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn().Msg("Broadcast channel full, dropping message")
	}
}

// DisconnectUser closes every connection of userID
func (h *UserWSHub) DisconnectUser(userID string) {
	select {
	case h.disconnect <- userID:
	default:
		h.logger.Warn().Str("user_id", userID).Msg("Disconnect channel full")
	}
}

// GetUserClientCount returns the number of connected clients for a user
func (h *UserWSHub) GetUserClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userClients[userID])
}

// GetTotalClientCount returns the total number of connected clients
func (h *UserWSHub) GetTotalClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump pumps messages from the hub to the websocket connection
func (c *UserWSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

// readPump drains the connection so pongs and close frames are processed
func (c *UserWSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		close(c.closeChan)
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Str("client_id", c.id).Msg("WebSocket read error")
			}
			return
		}
	}
}

// checkOrigin allows the configured dashboard origins
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.config.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// handleUserWebSocket upgrades an authenticated request. The token may come
// from the Authorization header or the token query parameter.
func (s *Server) handleUserWebSocket(c *gin.Context) {
	userID := auth.GetUserID(c)

	up := upgrader
	up.CheckOrigin = s.checkOrigin
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to upgrade connection")
		return
	}

	client := &UserWSClient{
		id:        uuid.New().String(),
		conn:      conn,
		send:      make(chan []byte, wsSendBuffer),
		hub:       s.hub,
		userID:    userID,
		closeChan: make(chan struct{}),
	}

	// Queue the welcome message before the hub can close the channel
	welcome := map[string]interface{}{
		"type":      "CONNECTED",
		"timestamp": time.Now(),
		"data": map[string]interface{}{
			"user_id":   userID,
			"client_id": client.id,
		},
	}
	if data, err := json.Marshal(welcome); err == nil {
		client.send <- data
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
