package sse

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediation-hub/mediation-hub/internal/domain/realtime"
)

var (
	ErrClientNotFound = errors.New("SSE client not found")
	ErrChannelFull    = errors.New("SSE message channel full")
)

const clientBuffer = 100

// Client is one open event stream.
type Client struct {
	ID          string
	UserID      uuid.UUID
	ConnectedAt time.Time
	Events      chan realtime.Event
}

// Conn is the presence record for c on node.
func (c *Client) Conn(node string) realtime.Connection {
	return realtime.Connection{ConnID: c.ID, UserID: c.UserID, Transport: realtime.TransportSSE, Node: node}
}

// Hub manages SSE clients. An SSE stream receives every event addressed to
// its user, room scoped or not.
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
		logger:   logger.With().Str("component", "sse").Logger(),
	}
}

// Register opens a client for userID and announces it to presence.
func (h *Hub) Register(ctx context.Context, userID uuid.UUID) (*Client, error) {
	c := &Client{
		ID:          uuid.NewString(),
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		Events:      make(chan realtime.Event, clientBuffer),
	}
	if err := h.registry.Register(ctx, c.Conn(h.node)); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	return c, nil
}

func (h *Hub) Unregister(ctx context.Context, c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		close(c.Events)
		delete(h.clients, c.ID)
	}
	h.mu.Unlock()
	if err := h.registry.Unregister(context.WithoutCancel(ctx), c.Conn(h.node)); err != nil {
		h.logger.Warn().Err(err).Str("conn_id", c.ID).Msg("failed to unregister sse client")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Deliver queues ev on the client. A full client drops the event.
func (h *Hub) Deliver(_ context.Context, conn realtime.Connection, ev realtime.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.clients[conn.ConnID]
	if c == nil {
		return ErrClientNotFound
	}
	select {
	case c.Events <- ev:
		return nil
	default:
		return ErrChannelFull
	}
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.Events)
		delete(h.clients, id)
	}
}
