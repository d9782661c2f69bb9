package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"helpdesk/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Event types pushed to subscribers.
const (
	EventTicketCreated    = "ticket.created"
	EventTicketAssigned   = "ticket.assigned"
	EventTicketResolved   = "ticket.resolved"
	EventRolePermissions  = "role.permissions_changed"
	EventUserRolesChanged = "user.roles_changed"
)

// Event is one notification. A nil Recipients list reaches every subscriber.
type Event struct {
	Type       string      `json:"type"`
	Data       any         `json:"data"`
	At         time.Time   `json:"at"`
	Recipients []uuid.UUID `json:"-"`
}

type envelope struct {
	recipients []uuid.UUID
	payload    []byte
}

// Client represents a single connected WebSocket client
type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	UserID uuid.UUID
}

// Hub maintains the set of active clients and fans events out to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewHub initializes a new WS Hub instance. allowedOrigins empty accepts any origin.
func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Hub{
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin]
			},
		},
	}
}

// Run starts the core dispatch loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			metrics.NotificationClients.Set(0)
			return
		case client := <-h.register:
			h.clients[client] = true
			metrics.NotificationClients.Inc()
			h.logger.Debug("websocket client connected", slog.String("user_id", client.UserID.String()))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				metrics.NotificationClients.Dec()
				h.logger.Debug("websocket client disconnected", slog.String("user_id", client.UserID.String()))
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				if !addressed(client, msg.recipients) {
					continue
				}
				select {
				case client.Send <- msg.payload:
				default:
					close(client.Send)
					delete(h.clients, client)
					metrics.NotificationClients.Dec()
				}
			}
		}
	}
}

func addressed(c *Client, recipients []uuid.UUID) bool {
	if recipients == nil {
		return true
	}
	for _, id := range recipients {
		if id == c.UserID {
			return true
		}
	}
	return false
}

// Publish queues an event without blocking; events are dropped when the
// queue is full.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("websocket marshal event", slog.String("type", ev.Type), slog.Any("error", err))
		return
	}
	select {
	case h.broadcast <- envelope{recipients: ev.Recipients, payload: payload}:
	default:
		h.logger.Warn("websocket queue full, event dropped", slog.String("type", ev.Type))
	}
}

// writePump handles writing messages from the Hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so control frames are processed
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		_ = c.Conn.Close()
	}()
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("websocket read", slog.Any("error", err))
			}
			return
		}
	}
}

// ServeWs upgrades an already authenticated and authorized request.
func ServeWs(hub *Hub, c *gin.Context, userID uuid.UUID) {
	conn, err := hub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	client := &Client{Hub: hub, Conn: conn, Send: make(chan []byte, 256), UserID: userID}
	select {
	case hub.register <- client:
	case <-hub.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
