package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mediation-hub/mediation-hub/internal/domain/realtime"
)

// Presence tracks the connections attached to this process.
type Presence struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]map[string]realtime.Connection
}

func NewPresence() *Presence {
	return &Presence{conns: make(map[uuid.UUID]map[string]realtime.Connection)}
}

func (p *Presence) Register(_ context.Context, conn realtime.Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	byID, ok := p.conns[conn.UserID]
	if !ok {
		byID = make(map[string]realtime.Connection)
		p.conns[conn.UserID] = byID
	}
	byID[conn.ConnID] = conn
	return nil
}

func (p *Presence) Unregister(_ context.Context, conn realtime.Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	byID := p.conns[conn.UserID]
	delete(byID, conn.ConnID)
	if len(byID) == 0 {
		delete(p.conns, conn.UserID)
	}
	return nil
}

func (p *Presence) ResolveConnections(_ context.Context, userID uuid.UUID) ([]realtime.Connection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]realtime.Connection, 0, len(p.conns[userID]))
	for _, c := range p.conns[userID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out, nil
}
