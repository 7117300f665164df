package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
)

// RoomType distinguishes the main mediation chat from admin sub-chats.
type RoomType string

const (
	RoomMediation RoomType = "MEDIATION"
	RoomSubChat   RoomType = "SUB_CHAT"
)

// MessageType is the kind of chat entry.
type MessageType string

const (
	MessageSystem MessageType = "system"
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
)

const maxBodyLength = 4000

// Room identifies a chat room.
type Room struct {
	Type RoomType  `json:"type"`
	ID   uuid.UUID `json:"id"`
}

// Key is the stable string form used by transports.
func (r Room) Key() string {
	return strings.ToLower(string(r.Type)) + ":" + r.ID.String()
}

// ReadReceipt records that a reader saw a message.
type ReadReceipt struct {
	ReaderID uuid.UUID `json:"readerId"`
	ReadAt   time.Time `json:"readAt"`
}

// Message is an entry in a chat room. Seq is assigned at commit and is
// strictly increasing within a room.
type Message struct {
	ID        int64         `json:"-"`
	MessageID uuid.UUID     `json:"messageId"`
	Room      Room          `json:"room"`
	Seq       int64         `json:"seq"`
	SenderID  *uuid.UUID    `json:"senderId,omitempty"`
	Type      MessageType   `json:"type"`
	SystemKey string        `json:"systemKey,omitempty"`
	Body      string        `json:"body,omitempty"`
	ImageURL  *string       `json:"imageUrl,omitempty"`
	ReadBy    []ReadReceipt `json:"readBy"`
	CreatedAt time.Time     `json:"createdAt"`
}

// NewSystemMessage documents a lifecycle event.
func NewSystemMessage(room Room, key, body string, at time.Time) *Message {
	return &Message{
		MessageID: uuid.New(),
		Room:      room,
		Type:      MessageSystem,
		SystemKey: key,
		Body:      body,
		ReadBy:    []ReadReceipt{},
		CreatedAt: at,
	}
}

// NewUserMessage builds a participant message. A message needs a body or an
// image; when both are given the body is the caption.
func NewUserMessage(room Room, sender uuid.UUID, body string, imageURL *string, at time.Time) (*Message, error) {
	body = strings.TrimSpace(body)
	var img *string
	if imageURL != nil {
		if v := strings.TrimSpace(*imageURL); v != "" {
			img = &v
		}
	}
	if body == "" && img == nil {
		return nil, apperr.Validation("chat.empty_message", "a message needs text or an image")
	}
	if len(body) > maxBodyLength {
		return nil, apperr.Validation("chat.message_too_long", "message is too long").WithParam("max", maxBodyLength)
	}
	typ := MessageText
	if img != nil {
		typ = MessageImage
	}
	s := sender
	return &Message{
		MessageID: uuid.New(),
		Room:      room,
		SenderID:  &s,
		Type:      typ,
		Body:      body,
		ImageURL:  img,
		ReadBy:    []ReadReceipt{},
		CreatedAt: at,
	}, nil
}

func (m *Message) IsSystem() bool {
	return m.Type == MessageSystem
}

func (m *Message) SentBy(userID uuid.UUID) bool {
	return m.SenderID != nil && *m.SenderID == userID
}

func (m *Message) IsReadBy(userID uuid.UUID) bool {
	for _, r := range m.ReadBy {
		if r.ReaderID == userID {
			return true
		}
	}
	return false
}

// MarkReadBy adds a receipt for reader. It is idempotent and ignores the
// sender's own messages. It reports whether a receipt was added.
func (m *Message) MarkReadBy(reader uuid.UUID, at time.Time) bool {
	if m.SentBy(reader) || m.IsReadBy(reader) {
		return false
	}
	m.ReadBy = append(m.ReadBy, ReadReceipt{ReaderID: reader, ReadAt: at})
	return true
}

// IsUnreadFor reports whether the message counts towards userID's unread
// total.
func (m *Message) IsUnreadFor(userID uuid.UUID) bool {
	return !m.SentBy(userID) && !m.IsReadBy(userID)
}

func (m *Message) Clone() *Message {
	cp := *m
	if m.SenderID != nil {
		s := *m.SenderID
		cp.SenderID = &s
	}
	if m.ImageURL != nil {
		u := *m.ImageURL
		cp.ImageURL = &u
	}
	cp.ReadBy = append([]ReadReceipt{}, m.ReadBy...)
	return &cp
}

// Participant is a sub-chat member with an independent read pointer.
type Participant struct {
	UserID            uuid.UUID  `json:"userId"`
	LastReadMessageID *uuid.UUID `json:"lastReadMessageId,omitempty"`
	LastReadSeq       int64      `json:"lastReadSeq"`
	LastReadAt        *time.Time `json:"lastReadAt,omitempty"`
}

// SubChat is an admin private channel under a disputed mediation.
type SubChat struct {
	ID           int64         `json:"-"`
	SubChatID    uuid.UUID     `json:"subChatId"`
	MediationID  uuid.UUID     `json:"mediationId"`
	Title        string        `json:"title"`
	CreatedBy    uuid.UUID     `json:"createdBy"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// NewSubChat builds a sub-chat. The creating admin is always a participant.
func NewSubChat(mediationID, createdBy uuid.UUID, title string, members []uuid.UUID, at time.Time) *SubChat {
	title = strings.TrimSpace(title)
	s := &SubChat{
		SubChatID:   uuid.New(),
		MediationID: mediationID,
		Title:       title,
		CreatedBy:   createdBy,
		CreatedAt:   at,
	}
	s.addParticipant(createdBy)
	for _, id := range members {
		s.addParticipant(id)
	}
	return s
}

func (s *SubChat) addParticipant(id uuid.UUID) {
	if id == uuid.Nil || s.IsParticipant(id) {
		return
	}
	s.Participants = append(s.Participants, Participant{UserID: id})
}

func (s *SubChat) Room() Room {
	return Room{Type: RoomSubChat, ID: s.SubChatID}
}

func (s *SubChat) IsParticipant(userID uuid.UUID) bool {
	return s.participant(userID) != nil
}

func (s *SubChat) participant(userID uuid.UUID) *Participant {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i]
		}
	}
	return nil
}

// ParticipantIDs lists member user ids.
func (s *SubChat) ParticipantIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s.Participants))
	for _, p := range s.Participants {
		out = append(out, p.UserID)
	}
	return out
}

// AdvanceReadPointer moves userID's pointer forward to msg. Pointers never
// move backwards. It returns the updated participant when it moved.
func (s *SubChat) AdvanceReadPointer(userID uuid.UUID, msg *Message, at time.Time) (*Participant, bool) {
	p := s.participant(userID)
	if p == nil || msg.Seq <= p.LastReadSeq {
		return nil, false
	}
	id := msg.MessageID
	p.LastReadMessageID = &id
	p.LastReadSeq = msg.Seq
	p.LastReadAt = &at
	cp := *p
	return &cp, true
}

func (s *SubChat) Clone() *SubChat {
	cp := *s
	cp.Participants = make([]Participant, len(s.Participants))
	for i, p := range s.Participants {
		c := p
		if p.LastReadMessageID != nil {
			id := *p.LastReadMessageID
			c.LastReadMessageID = &id
		}
		if p.LastReadAt != nil {
			t := *p.LastReadAt
			c.LastReadAt = &t
		}
		cp.Participants[i] = c
	}
	return &cp
}

// UnreadCount is the authoritative unread total of one user in one room.
type UnreadCount struct {
	UserID uuid.UUID `json:"userId"`
	Room   Room      `json:"room"`
	Count  int       `json:"count"`
}
