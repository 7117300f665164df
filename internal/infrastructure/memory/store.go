package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mediation-hub/mediation-hub/internal/application/txn"
	"github.com/mediation-hub/mediation-hub/internal/domain/chat"
	"github.com/mediation-hub/mediation-hub/internal/domain/ledger"
	"github.com/mediation-hub/mediation-hub/internal/domain/mediation"
	"github.com/mediation-hub/mediation-hub/internal/domain/notification"
	"github.com/mediation-hub/mediation-hub/internal/domain/user"
)

// Store is an in-process implementation of txn.Runner. Transactions are
// serialized and a failed transaction restores the state it started from.
// Repositories hand out copies, so callers never alias stored records.
type Store struct {
	mu   sync.Mutex
	data *state
}

func NewStore() *Store {
	return &Store{data: newState()}
}

type roomLog struct {
	seq      int64
	messages []*chat.Message
}

type state struct {
	nextID        int64
	users         map[uuid.UUID]*user.User
	mediations    map[uuid.UUID]*mediation.Mediation
	history       []mediation.HistoryEntry
	accounts      map[ledger.AccountKey]*ledger.Account
	entries       []*ledger.Entry
	rooms         map[string]*roomLog
	messageRoom   map[uuid.UUID]string
	subChats      map[uuid.UUID]*chat.SubChat
	notifications []*notification.Notification
}

func newState() *state {
	return &state{
		users:       make(map[uuid.UUID]*user.User),
		mediations:  make(map[uuid.UUID]*mediation.Mediation),
		accounts:    make(map[ledger.AccountKey]*ledger.Account),
		rooms:       make(map[string]*roomLog),
		messageRoom: make(map[uuid.UUID]string),
		subChats:    make(map[uuid.UUID]*chat.SubChat),
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *state) clone() *state {
	cp := newState()
	cp.nextID = s.nextID
	for k, v := range s.users {
		u := *v
		cp.users[k] = &u
	}
	for k, v := range s.mediations {
		cp.mediations[k] = v.Clone()
	}
	cp.history = append(cp.history, s.history...)
	for k, v := range s.accounts {
		cp.accounts[k] = v.Clone()
	}
	cp.entries = append(cp.entries, s.entries...)
	for k, v := range s.rooms {
		r := &roomLog{seq: v.seq, messages: make([]*chat.Message, len(v.messages))}
		for i, m := range v.messages {
			r.messages[i] = m.Clone()
		}
		cp.rooms[k] = r
	}
	for k, v := range s.messageRoom {
		cp.messageRoom[k] = v
	}
	for k, v := range s.subChats {
		cp.subChats[k] = v.Clone()
	}
	for _, n := range s.notifications {
		cp.notifications = append(cp.notifications, n.Clone())
	}
	return cp
}

// WithTx runs fn with exclusive access to the store.
func (s *Store) WithTx(ctx context.Context, fn func(stores txn.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.data.clone()
	if err := fn(&stores{st: s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) view(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

type stores struct {
	st *state
}

func (x *stores) Mediations() mediation.Repository       { return &mediationRepo{st: x.st} }
func (x *stores) Ledger() ledger.Repository              { return &ledgerRepo{st: x.st} }
func (x *stores) Chats() chat.Repository                 { return &chatRepo{st: x.st} }
func (x *stores) Notifications() notification.Repository { return &notificationRepo{st: x.st} }
func (x *stores) Users() user.Repository                 { return &userRepo{st: x.st} }

func paginate(n, limit, offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		return n, n
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return offset, end
}
