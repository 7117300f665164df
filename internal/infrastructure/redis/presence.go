package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	goRedis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mediation-hub/mediation-hub/internal/domain/realtime"
)

// Presence stores connections per user in a sorted set scored by expiry.
// Connections registered here are refreshed by Run until unregistered, so
// entries of a crashed node age out after one TTL.
type Presence struct {
	client *goRedis.Client
	ttl    time.Duration
	prefix string
	logger zerolog.Logger

	mu    sync.Mutex
	local map[string]realtime.Connection
}

func NewPresence(client *goRedis.Client, ttl time.Duration, logger zerolog.Logger) *Presence {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Presence{
		client: client,
		ttl:    ttl,
		prefix: "presence:user:",
		logger: logger.With().Str("component", "redis_presence").Logger(),
		local:  make(map[string]realtime.Connection),
	}
}

func (p *Presence) key(userID uuid.UUID) string {
	return p.prefix + userID.String()
}

func member(conn realtime.Connection) (string, error) {
	raw, err := json.Marshal(conn)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (p *Presence) touch(ctx context.Context, conns ...realtime.Connection) error {
	if len(conns) == 0 {
		return nil
	}
	expiry := float64(time.Now().Add(p.ttl).Unix())
	pipe := p.client.TxPipeline()
	for _, c := range conns {
		m, err := member(c)
		if err != nil {
			return err
		}
		pipe.ZAdd(ctx, p.key(c.UserID), goRedis.Z{Score: expiry, Member: m})
		pipe.Expire(ctx, p.key(c.UserID), 2*p.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (p *Presence) Register(ctx context.Context, conn realtime.Connection) error {
	if err := p.touch(ctx, conn); err != nil {
		return fmt.Errorf("register presence: %w", err)
	}
	p.mu.Lock()
	p.local[conn.ConnID] = conn
	p.mu.Unlock()
	return nil
}

func (p *Presence) Unregister(ctx context.Context, conn realtime.Connection) error {
	p.mu.Lock()
	delete(p.local, conn.ConnID)
	p.mu.Unlock()
	m, err := member(conn)
	if err != nil {
		return err
	}
	if err := p.client.ZRem(ctx, p.key(conn.UserID), m).Err(); err != nil {
		return fmt.Errorf("unregister presence: %w", err)
	}
	return nil
}

func (p *Presence) ResolveConnections(ctx context.Context, userID uuid.UUID) ([]realtime.Connection, error) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	key := p.key(userID)
	if err := p.client.ZRemRangeByScore(ctx, key, "-inf", "("+now).Err(); err != nil {
		return nil, fmt.Errorf("prune presence: %w", err)
	}
	members, err := p.client.ZRangeByScore(ctx, key, &goRedis.ZRangeBy{Min: now, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("resolve presence: %w", err)
	}
	out := make([]realtime.Connection, 0, len(members))
	for _, m := range members {
		var c realtime.Connection
		if err := json.Unmarshal([]byte(m), &c); err != nil {
			p.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("dropping malformed presence entry")
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Run refreshes local connections until ctx ends.
func (p *Presence) Run(ctx context.Context) {
	ticker := time.NewTicker(p.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			conns := make([]realtime.Connection, 0, len(p.local))
			for _, c := range p.local {
				conns = append(conns, c)
			}
			p.mu.Unlock()
			if err := p.touch(ctx, conns...); err != nil {
				p.logger.Warn().Err(err).Int("connections", len(conns)).Msg("presence heartbeat failed")
			}
		}
	}
}
