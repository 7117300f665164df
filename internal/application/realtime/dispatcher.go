package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediation-hub/mediation-hub/internal/domain/chat"
	domain "github.com/mediation-hub/mediation-hub/internal/domain/realtime"
)

// DefaultGapTimeout bounds how long a room waits for a missing sequence.
const DefaultGapTimeout = 2 * time.Second

type delivery struct {
	userID uuid.UUID
	ev     domain.Event
}

type batch struct {
	first      int64
	deliveries []delivery
	queuedAt   time.Time
}

type roomQueue struct {
	pending []*batch
	// held are sequences committed on this node whose commit has not been
	// dispatched yet.
	held     map[int64]struct{}
	draining bool
	signal   chan struct{}
}

func (q *roomQueue) wake() {
	if q.signal != nil {
		close(q.signal)
		q.signal = nil
	}
}

// heldBelow returns the lowest held sequence under seq, or 0.
func (q *roomQueue) heldBelow(seq int64) int64 {
	var low int64
	for s := range q.held {
		if s < seq && (low == 0 || s < low) {
			low = s
		}
	}
	return low
}

// Dispatcher turns committed results into events and pushes them to the
// connections of their recipients. Commits carrying chat messages are
// published per room in sequence order. A room only waits for sequences
// held on this node, and for at most the gap timeout; sequences committed
// by other nodes never delay local delivery.
type Dispatcher struct {
	presence  domain.Presence
	publisher domain.Publisher
	gap       time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*roomQueue
	wg    sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A non-positive gap uses DefaultGapTimeout.
func NewDispatcher(presence domain.Presence, publisher domain.Publisher, logger zerolog.Logger, gap time.Duration) *Dispatcher {
	if gap <= 0 {
		gap = DefaultGapTimeout
	}
	return &Dispatcher{
		presence:  presence,
		publisher: publisher,
		gap:       gap,
		now:       time.Now,
		logger:    logger.With().Str("service", "realtime").Logger(),
		rooms:     make(map[string]*roomQueue),
	}
}

// Hold marks seq of room as committed here and not yet dispatched. Later
// sequences of the room wait for it until the commit carrying it is
// dispatched or release runs. Release is idempotent.
func (d *Dispatcher) Hold(room string, seq int64) (release func()) {
	d.mu.Lock()
	d.room(room).held[seq] = struct{}{}
	d.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { d.release(room, seq) }) }
}

func (d *Dispatcher) release(room string, seq int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.rooms[room]
	if !ok {
		return
	}
	if _, held := q.held[seq]; !held {
		return
	}
	delete(q.held, seq)
	q.wake()
	d.prune(room, q)
}

// room returns the queue of key. d.mu must be held.
func (d *Dispatcher) room(key string) *roomQueue {
	q, ok := d.rooms[key]
	if !ok {
		q = &roomQueue{held: make(map[int64]struct{})}
		d.rooms[key] = q
	}
	return q
}

// prune forgets an idle room. d.mu must be held.
func (d *Dispatcher) prune(key string, q *roomQueue) {
	if !q.draining && len(q.pending) == 0 && len(q.held) == 0 && d.rooms[key] == q {
		delete(d.rooms, key)
	}
}

// Dispatch publishes c. It never fails; delivery errors are logged.
func (d *Dispatcher) Dispatch(ctx context.Context, c domain.Commit) {
	if c.IsEmpty() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	deliveries := d.build(c)
	if len(c.Messages) == 0 {
		d.deliver(ctx, deliveries)
		return
	}

	key := c.Messages[0].Room.Key()
	b := &batch{first: c.Messages[0].Seq, deliveries: deliveries, queuedAt: d.now()}
	for _, m := range c.Messages[1:] {
		if m.Seq < b.first {
			b.first = m.Seq
		}
	}

	d.mu.Lock()
	q := d.room(key)
	for _, m := range c.Messages {
		delete(q.held, m.Seq)
	}
	q.pending = append(q.pending, b)
	sort.Slice(q.pending, func(i, j int) bool { return q.pending[i].first < q.pending[j].first })
	q.wake()
	start := !q.draining
	q.draining = true
	d.mu.Unlock()

	if start {
		d.wg.Add(1)
		go d.drain(ctx, key, q)
	}
}

// Wait blocks until every room queue is drained.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) drain(ctx context.Context, key string, q *roomQueue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			d.prune(key, q)
			d.mu.Unlock()
			return
		}
		head := q.pending[0]
		if low := q.heldBelow(head.first); low != 0 {
			waited := d.now().Sub(head.queuedAt)
			if waited < d.gap {
				if q.signal == nil {
					q.signal = make(chan struct{})
				}
				signal := q.signal
				d.mu.Unlock()
				timer := time.NewTimer(d.gap - waited)
				select {
				case <-signal:
				case <-timer.C:
				}
				timer.Stop()
				continue
			}
			d.logger.Warn().Str("room", key).Int64("expected", low).Int64("got", head.first).Msg("sequence gap skipped")
			for seq := range q.held {
				if seq < head.first {
					delete(q.held, seq)
				}
			}
		}
		q.pending = q.pending[1:]
		d.mu.Unlock()

		d.deliver(ctx, head.deliveries)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, deliveries []delivery) {
	conns := make(map[uuid.UUID][]domain.Connection)
	for _, dl := range deliveries {
		cs, ok := conns[dl.userID]
		if !ok {
			var err error
			cs, err = d.presence.ResolveConnections(ctx, dl.userID)
			if err != nil {
				d.logger.Warn().Err(err).Str("user_id", dl.userID.String()).Msg("failed to resolve connections")
			}
			conns[dl.userID] = cs
		}
		for _, conn := range cs {
			if err := d.publisher.Deliver(ctx, conn, dl.ev); err != nil {
				d.logger.Debug().Err(err).
					Str("user_id", dl.userID.String()).
					Str("conn_id", conn.ConnID).
					Str("event", string(dl.ev.Name)).
					Msg("event delivery failed")
			}
		}
	}
}

func (d *Dispatcher) build(c domain.Commit) []delivery {
	var out []delivery
	add := func(name domain.EventName, room string, seq int64, data interface{}, to ...uuid.UUID) {
		ev, err := domain.NewEvent(name, room, seq, data)
		if err != nil {
			d.logger.Error().Err(err).Str("event", string(name)).Msg("failed to encode event")
			return
		}
		for _, id := range to {
			out = append(out, delivery{userID: id, ev: ev})
		}
	}

	if c.Mediation != nil {
		add(domain.EventMediationUpdated, "", 0, c.Mediation, c.Mediation.Participants()...)
	}
	for _, m := range c.Messages {
		name := domain.EventMediationMessage
		if m.Room.Type == chat.RoomSubChat {
			name = domain.EventSubChatMessage
		}
		add(name, m.Room.Key(), m.Seq, m, c.Members...)
	}
	for _, r := range c.Reads {
		add(domain.EventMessagesRead, r.Room.Key(), 0, r, c.Members...)
	}
	for _, u := range c.Unread {
		add(domain.EventUnreadCountUpdated, u.Room.Key(), 0, domain.UnreadPayload{Room: u.Room, Count: u.Count}, u.UserID)
	}
	if len(c.Accounts) > 0 {
		var order []uuid.UUID
		byUser := make(map[uuid.UUID]*domain.BalancesPayload)
		for _, a := range c.Accounts {
			p, ok := byUser[a.UserID]
			if !ok {
				p = &domain.BalancesPayload{UserID: a.UserID}
				byUser[a.UserID] = p
				order = append(order, a.UserID)
			}
			p.Accounts = append(p.Accounts, a)
		}
		for _, id := range order {
			add(domain.EventBalancesUpdated, "", 0, byUser[id], id)
		}
	}
	for _, n := range c.Notifications {
		add(domain.EventNotification, "", 0, n, n.UserID)
	}
	return out
}
