package realtime

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_realtime.go -package=mocks . Presence,Publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mediation-hub/mediation-hub/internal/domain/chat"
	"github.com/mediation-hub/mediation-hub/internal/domain/ledger"
	"github.com/mediation-hub/mediation-hub/internal/domain/mediation"
	"github.com/mediation-hub/mediation-hub/internal/domain/notification"
)

// EventName is the wire name of a pushed event.
type EventName string

const (
	EventMediationUpdated   EventName = "mediation_details_updated"
	EventMediationMessage   EventName = "new_mediation_message"
	EventSubChatMessage     EventName = "new_admin_sub_chat_message"
	EventMessagesRead       EventName = "messages_read_update"
	EventBalancesUpdated    EventName = "user_balances_updated"
	EventUnreadCountUpdated EventName = "unread_count_updated"
	EventNotification       EventName = "new_notification"
)

// Event is one pushed payload. Room is set for chat room scoped events.
type Event struct {
	Name EventName       `json:"event"`
	Room string          `json:"room,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
	Data json.RawMessage `json:"data"`
	At   time.Time       `json:"at"`
}

// NewEvent encodes data into an event.
func NewEvent(name EventName, room string, seq int64, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Room: room, Seq: seq, Data: raw, At: time.Now().UTC()}, nil
}

// RoomScoped reports whether the event only reaches connections that joined
// its room. Other events reach every connection of the recipient.
func (e Event) RoomScoped() bool {
	switch e.Name {
	case EventMediationMessage, EventSubChatMessage, EventMessagesRead:
		return e.Room != ""
	}
	return false
}

// Transport identifies how a connection is attached.
type Transport string

const (
	TransportWebSocket Transport = "ws"
	TransportSSE       Transport = "sse"
)

// Connection is a live client attachment on some node.
type Connection struct {
	ConnID    string    `json:"connId"`
	UserID    uuid.UUID `json:"userId"`
	Transport Transport `json:"transport"`
	Node      string    `json:"node"`
}

// Presence resolves a user to their live connections. An empty result means
// the user is offline and is not an error.
type Presence interface {
	ResolveConnections(ctx context.Context, userID uuid.UUID) ([]Connection, error)
}

// Registry records connections as they come and go.
type Registry interface {
	Register(ctx context.Context, conn Connection) error
	Unregister(ctx context.Context, conn Connection) error
}

// Publisher delivers an event to one connection.
type Publisher interface {
	Deliver(ctx context.Context, conn Connection, ev Event) error
}

// Commit is the committed result of one operation. Everything in it is
// already durable; dispatching only pushes it to connected clients.
//
// Mediation, when set, is pushed to its participants. Messages and Reads
// belong to one room and go to Members.
type Commit struct {
	Mediation     *mediation.Mediation
	Members       []uuid.UUID
	Messages      []*chat.Message
	Reads         []chat.ReadUpdate
	Unread        []chat.UnreadCount
	Accounts      []*ledger.Account
	Notifications []*notification.Notification
}

// IsEmpty reports whether there is nothing to push.
func (c Commit) IsEmpty() bool {
	return c.Mediation == nil && len(c.Messages) == 0 && len(c.Reads) == 0 &&
		len(c.Unread) == 0 && len(c.Accounts) == 0 && len(c.Notifications) == 0
}

// Dispatcher pushes committed results. It never fails the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, c Commit)
	// Hold reserves a room sequence assigned inside a running transaction so
	// later sequences of the room are not pushed ahead of it. The hold ends
	// when a commit carrying seq is dispatched or release runs.
	Hold(room string, seq int64) (release func())
}

// Holds collects the releases of one transaction.
type Holds []func()

func (h *Holds) Add(release func()) {
	*h = append(*h, release)
}

// Release ends every hold. Holds already consumed by Dispatch are unaffected.
func (h *Holds) Release() {
	for _, release := range *h {
		release()
	}
	*h = nil
}

// BalancesPayload is the body of user_balances_updated.
type BalancesPayload struct {
	UserID   uuid.UUID         `json:"userId"`
	Accounts []*ledger.Account `json:"accounts"`
}

// UnreadPayload is the body of unread_count_updated.
type UnreadPayload struct {
	Room  chat.Room `json:"room"`
	Count int       `json:"count"`
}
