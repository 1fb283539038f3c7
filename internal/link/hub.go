// Package link carries scenes to browser map surfaces over websockets and
// hands their commands back to the server.
package link

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fleet-dashboard/internal/observability"
)

const (
	writeWait    = 5 * time.Second
	maxCommandSz = 16 << 10
)

// Handler runs one command from a client. A returned error is sent back to
// that client only.
type Handler func(ctx context.Context, c *Client, cmd Command) error

// Client is one connected map surface.
type Client struct {
	ID string

	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[*Client]struct{}
	handler Handler
	// lastScene is replayed to clients as they connect.
	lastScene []byte
}

// NewHub accepts browser connections from the host serving the hub and from
// allowedOrigins (scheme://host[:port]). Clients that send no Origin header
// are not browsers and are accepted.
func NewHub(handler Handler, allowedOrigins []string, lg *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
		handler: handler,
		logger:  lg.With("component", "link"),
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*Client]struct{}),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimSuffix(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

// ServeHTTP upgrades the request and serves the client until it goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("link: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := &Client{ID: uuid.NewString(), conn: conn}
	conn.SetReadLimit(maxCommandSz)

	last := h.add(c)
	h.logger.Info("link: client connected", "client_id", c.ID, "remote", r.RemoteAddr)
	if last != nil {
		if err := c.write(last); err != nil {
			h.drop(c)
			return
		}
	}
	h.readLoop(c)
}

// Handle replaces the command handler.
func (h *Hub) Handle(fn Handler) {
	h.mu.Lock()
	h.handler = fn
	h.mu.Unlock()
}

func (h *Hub) currentHandler() Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handler
}

func (h *Hub) add(c *Client) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	observability.MapClients.Set(float64(len(h.clients)))
	return h.lastScene
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	observability.MapClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
	_ = c.conn.Close()
	if ok {
		h.logger.Info("link: client disconnected", "client_id", c.ID)
	}
}

func (h *Hub) readLoop(c *Client) {
	defer h.drop(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("link: read error", "client_id", c.ID, "err", err)
			}
			return
		}
		cmd, err := DecodeCommand(data)
		if err != nil {
			_ = h.Send(c, ErrorMessage("", err))
			continue
		}
		handler := h.currentHandler()
		if handler == nil {
			continue
		}
		if err := handler(h.ctx, c, cmd); err != nil {
			h.logger.Debug("link: command failed", "client_id", c.ID, "type", cmd.Type, "err", err)
			_ = h.Send(c, ErrorMessage(cmd.Type, err))
		}
	}
}

// Broadcast sends msg to every client. Clients that cannot keep up are
// dropped. The latest scene is kept for clients that connect later.
func (h *Hub) Broadcast(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.mu.Lock()
	if msg.Type == TypeScene {
		h.lastScene = data
	}
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.logger.Warn("link: write failed, dropping client", "client_id", c.ID, "err", err)
			h.drop(c)
		}
	}
	return nil
}

func (h *Hub) Send(c *Client, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and cancels commands still running.
func (h *Hub) Close() {
	h.cancel()
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		c.mu.Unlock()
		h.drop(c)
	}
}
