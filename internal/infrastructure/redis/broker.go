package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goRedis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mediation-hub/mediation-hub/internal/domain/realtime"
)

// LocalDeliverer delivers to connections owned by this node.
type LocalDeliverer interface {
	DeliverLocal(ctx context.Context, conn realtime.Connection, ev realtime.Event) error
}

type envelope struct {
	Conn  realtime.Connection `json:"conn"`
	Event realtime.Event      `json:"event"`
}

// Broker forwards events to the node that owns a connection over a per-node
// pub/sub channel.
type Broker struct {
	client *goRedis.Client
	node   string
	logger zerolog.Logger
}

func NewBroker(client *goRedis.Client, node string, logger zerolog.Logger) *Broker {
	return &Broker{
		client: client,
		node:   node,
		logger: logger.With().Str("component", "redis_broker").Logger(),
	}
}

func channel(node string) string {
	return "realtime:" + node
}

// Deliver publishes ev to the node owning conn.
func (b *Broker) Deliver(ctx context.Context, conn realtime.Connection, ev realtime.Event) error {
	raw, err := json.Marshal(envelope{Conn: conn, Event: ev})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, channel(conn.Node), raw).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Run consumes this node's channel until ctx ends.
func (b *Broker) Run(ctx context.Context, local LocalDeliverer) error {
	sub := b.client.Subscribe(ctx, channel(b.node))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel(b.node), err)
	}
	b.logger.Info().Str("channel", channel(b.node)).Msg("broker subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn().Err(err).Msg("dropping malformed envelope")
				continue
			}
			if err := local.DeliverLocal(ctx, env.Conn, env.Event); err != nil {
				b.logger.Debug().Err(err).Str("conn_id", env.Conn.ConnID).Msg("local delivery failed")
			}
		}
	}
}
