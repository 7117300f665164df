// Package socket maps inbound WebSocket frames onto the chat service.
package socket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appChat "github.com/mediation-hub/mediation-hub/internal/application/chat"
	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
	"github.com/mediation-hub/mediation-hub/internal/domain/chat"
	"github.com/mediation-hub/mediation-hub/internal/domain/user"
	"github.com/mediation-hub/mediation-hub/internal/infrastructure/ws"
)

const (
	EventJoinMediationChat    = "joinMediationChat"
	EventLeaveMediationChat   = "leaveMediationChat"
	EventSendMediationMessage = "sendMediationMessage"
	EventMarkMessagesAsRead   = "markMessagesAsRead"
	EventJoinAdminSubChat     = "joinAdminSubChat"
	EventSendSubChatMessage   = "sendAdminSubChatMessage"
	EventMarkSubChatMessages  = "markAdminSubChatMessagesRead"

	ackSuffix         = "_ack"
	errorSuffix       = "_error"
	unknownEventReply = "error"
)

// ChatService is the subset of the chat service used by sockets.
type ChatService interface {
	AuthorizeRoom(ctx context.Context, actor user.Actor, room chat.Room) error
	PostMediationMessage(ctx context.Context, actor user.Actor, mediationID uuid.UUID, input appChat.PostInput) (*chat.Message, error)
	MarkMediationRead(ctx context.Context, actor user.Actor, mediationID uuid.UUID, messageIDs []uuid.UUID) (*chat.ReadUpdate, error)
	PostSubChatMessage(ctx context.Context, actor user.Actor, subChatID uuid.UUID, input appChat.PostInput) (*chat.Message, error)
	MarkSubChatRead(ctx context.Context, actor user.Actor, subChatID uuid.UUID, messageIDs []uuid.UUID) (*chat.ReadUpdate, error)
}

// UserLookup resolves the connected user on every frame so role and status
// changes apply to open sockets.
type UserLookup interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*user.User, error)
}

type Handler struct {
	chats  ChatService
	users  UserLookup
	logger zerolog.Logger
}

func NewHandler(chats ChatService, users UserLookup, logger zerolog.Logger) *Handler {
	return &Handler{
		chats:  chats,
		users:  users,
		logger: logger.With().Str("component", "socket").Logger(),
	}
}

var authenticated = map[string]bool{
	EventJoinMediationChat:    true,
	EventSendMediationMessage: true,
	EventMarkMessagesAsRead:   true,
	EventJoinAdminSubChat:     true,
	EventSendSubChatMessage:   true,
	EventMarkSubChatMessages:  true,
}

type mediationRef struct {
	MediationID uuid.UUID `json:"mediationId"`
}

type subChatRef struct {
	SubChatID uuid.UUID `json:"subChatId"`
}

type messagePayload struct {
	MediationID uuid.UUID `json:"mediationId"`
	SubChatID   uuid.UUID `json:"subChatId"`
	Body        string    `json:"body"`
	ImageURL    *string   `json:"imageUrl,omitempty"`
}

type readPayload struct {
	MediationID uuid.UUID   `json:"mediationId"`
	SubChatID   uuid.UUID   `json:"subChatId"`
	MessageIDs  []uuid.UUID `json:"messageIds"`
}

type errorPayload struct {
	Key    string                 `json:"key"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type roomAck struct {
	Room   string `json:"room"`
	Joined bool   `json:"joined"`
}

// HandleSocket implements ws.Handler.
func (h *Handler) HandleSocket(ctx context.Context, c *ws.Client, msg ws.Inbound) {
	result, err := h.dispatch(ctx, c, msg)
	if err != nil {
		h.replyError(c, msg.Event, err)
		return
	}
	if result != nil {
		c.Reply(msg.Event+ackSuffix, result)
	}
}

func (h *Handler) dispatch(ctx context.Context, c *ws.Client, msg ws.Inbound) (interface{}, error) {
	if msg.Event == EventLeaveMediationChat {
		var p mediationRef
		if err := decode(msg.Data, &p); err != nil {
			return nil, err
		}
		c.Leave(chat.Room{Type: chat.RoomMediation, ID: p.MediationID}.Key())
		return nil, nil
	}
	if !authenticated[msg.Event] {
		c.Reply(unknownEventReply, errorPayload{Key: "socket.unknown_event", Params: map[string]interface{}{"event": msg.Event}})
		return nil, nil
	}

	actor, err := h.actor(ctx, c.UserID)
	if err != nil {
		return nil, err
	}

	switch msg.Event {
	case EventJoinMediationChat:
		var p mediationRef
		if err := decode(msg.Data, &p); err != nil {
			return nil, err
		}
		return h.join(ctx, c, actor, chat.Room{Type: chat.RoomMediation, ID: p.MediationID})
	case EventJoinAdminSubChat:
		var p subChatRef
		if err := decode(msg.Data, &p); err != nil {
			return nil, err
		}
		return h.join(ctx, c, actor, chat.Room{Type: chat.RoomSubChat, ID: p.SubChatID})
	case EventSendMediationMessage:
		var p messagePayload
		if err := decode(msg.Data, &p); err != nil {
			return nil, err
		}
		return h.chats.PostMediationMessage(ctx, actor, p.MediationID, appChat.PostInput{Body: p.Body, ImageURL: p.ImageURL})
	case EventSendSubChatMessage:
		var p messagePayload
		if err := decode(msg.Data, &p); err != nil {
			return nil, err
		}
		return h.chats.PostSubChatMessage(ctx, actor, p.SubChatID, appChat.PostInput{Body: p.Body, ImageURL: p.ImageURL})
	case EventMarkMessagesAsRead:
		var p readPayload
		if err := decode(msg.Data, &p); err != nil {
			return nil, err
		}
		return h.chats.MarkMediationRead(ctx, actor, p.MediationID, p.MessageIDs)
	default: // EventMarkSubChatMessages
		var p readPayload
		if err := decode(msg.Data, &p); err != nil {
			return nil, err
		}
		return h.chats.MarkSubChatRead(ctx, actor, p.SubChatID, p.MessageIDs)
	}
}

func (h *Handler) join(ctx context.Context, c *ws.Client, actor user.Actor, room chat.Room) (interface{}, error) {
	if err := h.chats.AuthorizeRoom(ctx, actor, room); err != nil {
		return nil, err
	}
	key := room.Key()
	return roomAck{Room: key, Joined: c.Join(key)}, nil
}

func (h *Handler) actor(ctx context.Context, userID uuid.UUID) (user.Actor, error) {
	u, err := h.users.GetByID(ctx, userID)
	if err != nil {
		return user.Actor{}, fmt.Errorf("load socket user: %w", err)
	}
	if u == nil || !u.IsActive() {
		return user.Actor{}, apperr.Unauthorized("auth.inactive_user", "user is not active")
	}
	return u.Actor(), nil
}

func (h *Handler) replyError(c *ws.Client, event string, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		h.logger.Error().Err(err).Str("event", event).Str("user_id", c.UserID.String()).Msg("socket event failed")
		c.Reply(event+errorSuffix, errorPayload{Key: "internal_error"})
		return
	}
	c.Reply(event+errorSuffix, errorPayload{Key: e.Key, Params: e.Params})
}

func decode(data json.RawMessage, v interface{}) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return apperr.Validation("socket.missing_payload", "payload is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Validation("socket.invalid_payload", "payload is malformed")
	}
	return nil
}
