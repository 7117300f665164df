package realtime

import (
	"context"
	"fmt"

	domain "github.com/mediation-hub/mediation-hub/internal/domain/realtime"
)

// Router delivers to local hubs by transport and hands connections owned by
// other nodes to a remote publisher.
type Router struct {
	node   string
	local  map[domain.Transport]domain.Publisher
	remote domain.Publisher
}

// NewRouter creates a router for node. remote may be nil on a single node.
func NewRouter(node string, remote domain.Publisher) *Router {
	return &Router{node: node, local: make(map[domain.Transport]domain.Publisher), remote: remote}
}

// Handle registers the local publisher for a transport.
func (r *Router) Handle(t domain.Transport, p domain.Publisher) {
	r.local[t] = p
}

func (r *Router) Node() string {
	return r.node
}

func (r *Router) Deliver(ctx context.Context, conn domain.Connection, ev domain.Event) error {
	if conn.Node != "" && conn.Node != r.node {
		if r.remote == nil {
			return fmt.Errorf("connection %s lives on node %s", conn.ConnID, conn.Node)
		}
		return r.remote.Deliver(ctx, conn, ev)
	}
	return r.DeliverLocal(ctx, conn, ev)
}

// DeliverLocal skips node routing. Brokers use it for events received from
// other nodes.
func (r *Router) DeliverLocal(ctx context.Context, conn domain.Connection, ev domain.Event) error {
	p, ok := r.local[conn.Transport]
	if !ok {
		return fmt.Errorf("no publisher for transport %q", conn.Transport)
	}
	return p.Deliver(ctx, conn, ev)
}
