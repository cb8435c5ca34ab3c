package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"daa-assistant/backend/internal/service"
	"daa-assistant/backend/pkg/chat"
	apperrors "daa-assistant/backend/pkg/errors"
	"daa-assistant/backend/pkg/logger"
	"daa-assistant/backend/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Images arrive base64 encoded inside chat frames
	maxMessageSize = 8 << 20

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	// single-user LAN deployment
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
}

// Chatter runs one chat turn.
type Chatter interface {
	HandleChat(ctx context.Context, req service.ChatRequest) (<-chan string, error)
}

// Hub tracks connected clients.
type Hub struct {
	chat       Chatter
	log        *logger.Logger
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
}

func NewHub(chat Chatter, log *logger.Logger) *Hub {
	return &Hub{
		chat:       chat,
		log:        log.WithComponent("ws"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes registrations until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("client registered", "client_id", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.cancel()
				h.log.Debug("client unregistered", "client_id", client.ID)
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.cancel()
			}
			h.mu.Unlock()
			return
		}
	}
}

// ActiveConnections returns the number of registered clients.
func (h *Hub) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Client is one socket. Its context ends when the socket closes, which
// cancels the turn in flight; Send is never closed.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *Hub

	ctx    context.Context
	cancel context.CancelFunc

	turnMu     sync.Mutex
	cancelTurn context.CancelFunc
}

// ServeWs upgrades the request and starts the client pumps.
func ServeWs(hub *Hub, c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.LogError(err, "websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	client := &Client{
		ID:     uuid.NewString(),
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		Hub:    hub,
		ctx:    ctx,
		cancel: cancel,
	}
	select {
	case hub.register <- client:
	case <-hub.done:
		cancel()
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func (c *Client) ReadPump() {
	defer func() {
		c.cancel()
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.LogError(err, "websocket read failed", "client_id", c.ID)
			}
			return
		}

		var frame ws.Inbound
		if err := json.Unmarshal(data, &frame); err != nil {
			c.send(ws.Outbound{Type: ws.TypeError, Content: "malformed frame", Code: apperrors.CodeInvalidRequest})
			continue
		}

		switch frame.Type {
		case ws.TypeChat:
			c.startTurn(frame)
		case ws.TypeCancel:
			c.stopTurn()
		case ws.TypePing:
			c.send(ws.Outbound{Type: ws.TypePong})
		default:
			c.send(ws.Outbound{Type: ws.TypeError, Content: "unknown frame type " + frame.Type, Code: apperrors.CodeInvalidRequest})
		}
	}
}

// startTurn runs a chat turn in the background, replacing any turn still
// streaming. The read loop keeps serving cancel and ping frames meanwhile.
func (c *Client) startTurn(frame ws.Inbound) {
	ctx, cancel := context.WithCancel(c.ctx)
	c.turnMu.Lock()
	if c.cancelTurn != nil {
		c.cancelTurn()
	}
	c.cancelTurn = cancel
	c.turnMu.Unlock()

	go func() {
		defer cancel()
		stream, err := c.Hub.chat.HandleChat(ctx, service.ChatRequest{
			SessionID: frame.SessionID,
			ModelID:   frame.Model,
			Messages:  []chat.Message{{Role: chat.RoleUser, Content: frame.Content, Image: frame.Image}},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			out := ws.Outbound{Type: ws.TypeError, Content: err.Error()}
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) {
				out.Content, out.Code = appErr.Message, appErr.Code
			}
			c.send(out)
			return
		}

		for frag := range stream {
			c.send(ws.Outbound{Type: ws.TypeFragment, Content: frag})
		}
		if ctx.Err() == nil {
			c.send(ws.Outbound{Type: ws.TypeDone})
		}
	}()
}

func (c *Client) stopTurn() {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	if c.cancelTurn != nil {
		c.cancelTurn()
		c.cancelTurn = nil
	}
}

// send queues a frame; it gives up once the client is gone.
func (c *Client) send(frame ws.Outbound) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.Hub.log.LogError(err, "failed to marshal frame")
		return
	}
	select {
	case c.Send <- data:
	case <-c.ctx.Done():
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.cancel()
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}
