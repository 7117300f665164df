package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mediation-hub/mediation-hub/internal/domain/realtime"
)

var (
	ErrClientNotFound = errors.New("websocket client not found")
	ErrSendBufferFull = errors.New("websocket send buffer full")
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pingInterval = 25 * time.Second
	pingTimeout  = 5 * time.Second
	readLimit    = 64 << 10
)

// Inbound is a client frame: an event name and its payload.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handler reacts to inbound frames.
type Handler interface {
	HandleSocket(ctx context.Context, c *Client, msg Inbound)
}

// Client is one WebSocket connection.
type Client struct {
	ID     string
	UserID uuid.UUID

	conn *websocket.Conn
	send chan realtime.Event

	mu    sync.RWMutex
	rooms map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func (c *Client) Conn(node string) realtime.Connection {
	return realtime.Connection{ConnID: c.ID, UserID: c.UserID, Transport: realtime.TransportWebSocket, Node: node}
}

// Join adds the client to room. It reports whether the client was new there.
func (c *Client) Join(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[room]; ok {
		return false
	}
	c.rooms[room] = struct{}{}
	return true
}

func (c *Client) Leave(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
}

func (c *Client) InRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// Send queues ev without blocking.
func (c *Client) Send(ev realtime.Event) error {
	select {
	case <-c.ctx.Done():
		return ErrClientNotFound
	default:
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Reply sends a direct response frame to the client.
func (c *Client) Reply(name string, data interface{}) {
	ev, err := realtime.NewEvent(realtime.EventName(name), "", 0, data)
	if err != nil {
		return
	}
	_ = c.Send(ev)
}

func (c *Client) writeLoop(logger zerolog.Logger) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.conn, ev)
			cancel()
			if err != nil {
				logger.Debug().Err(err).Str("conn_id", c.ID).Msg("websocket write failed")
				c.cancel()
				return
			}
		}
	}
}

func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, pingTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

// Hub tracks the WebSocket clients of this node.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	node     string
	registry realtime.Registry
	logger   zerolog.Logger
}

func NewHub(node string, registry realtime.Registry, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		node:     node,
		registry: registry,
		logger:   logger.With().Str("component", "ws").Logger(),
	}
}

// Serve runs an accepted connection until it closes. Inbound frames go to h
// one at a time.
func (hub *Hub) Serve(ctx context.Context, conn *websocket.Conn, userID uuid.UUID, h Handler) error {
	conn.SetReadLimit(readLimit)
	c := hub.add(ctx, conn, userID)
	if err := hub.registry.Register(ctx, c.Conn(hub.node)); err != nil {
		hub.remove(c)
		return err
	}
	defer hub.remove(c)

	go c.writeLoop(hub.logger)
	go c.keepAliveLoop()

	for {
		typ, data, err := conn.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil
			}
			if c.ctx.Err() != nil {
				return nil
			}
			return err
		}
		var msg Inbound
		if typ != websocket.MessageText || json.Unmarshal(data, &msg) != nil {
			c.Reply("error", map[string]string{"key": "socket.invalid_frame"})
			continue
		}
		if msg.Event == "" {
			c.Reply("error", map[string]string{"key": "socket.missing_event"})
			continue
		}
		h.HandleSocket(c.ctx, c, msg)
	}
}

func (hub *Hub) add(ctx context.Context, conn *websocket.Conn, userID uuid.UUID) *Client {
	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		conn:   conn,
		send:   make(chan realtime.Event, sendBuffer),
		rooms:  make(map[string]struct{}),
		ctx:    cctx,
		cancel: cancel,
	}
	hub.mu.Lock()
	hub.clients[c.ID] = c
	hub.mu.Unlock()
	return c
}

func (hub *Hub) remove(c *Client) {
	c.cancel()
	hub.mu.Lock()
	delete(hub.clients, c.ID)
	hub.mu.Unlock()
	if err := hub.registry.Unregister(context.Background(), c.Conn(hub.node)); err != nil {
		hub.logger.Warn().Err(err).Str("conn_id", c.ID).Msg("failed to unregister websocket client")
	}
	_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (hub *Hub) ClientCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

// Deliver queues ev for the connection. Room scoped events are dropped for
// clients that have not joined the room.
func (hub *Hub) Deliver(_ context.Context, conn realtime.Connection, ev realtime.Event) error {
	hub.mu.RLock()
	c := hub.clients[conn.ConnID]
	hub.mu.RUnlock()
	if c == nil {
		return ErrClientNotFound
	}
	if ev.RoomScoped() && !c.InRoom(ev.Room) {
		return nil
	}
	return c.Send(ev)
}

// Stop closes every client.
func (hub *Hub) Stop() {
	hub.mu.RLock()
	clients := make([]*Client, 0, len(hub.clients))
	for _, c := range hub.clients {
		clients = append(clients, c)
	}
	hub.mu.RUnlock()
	for _, c := range clients {
		c.cancel()
	}
}
