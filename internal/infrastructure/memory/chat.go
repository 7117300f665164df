package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/mediation-hub/mediation-hub/internal/domain/chat"
)

type chatRepo struct {
	st *state
}

func (r *chatRepo) AppendMessage(_ context.Context, m *chat.Message) error {
	key := m.Room.Key()
	room, ok := r.st.rooms[key]
	if !ok {
		room = &roomLog{}
		r.st.rooms[key] = room
	}
	room.seq++
	m.Seq = room.seq
	m.ID = r.st.id()
	room.messages = append(room.messages, m.Clone())
	r.st.messageRoom[m.MessageID] = key
	return nil
}

func (r *chatRepo) ListMessages(_ context.Context, room chat.Room, afterSeq int64, limit int) ([]*chat.Message, error) {
	log, ok := r.st.rooms[room.Key()]
	if !ok {
		return nil, nil
	}
	var out []*chat.Message
	for _, m := range log.messages {
		if m.Seq <= afterSeq {
			continue
		}
		out = append(out, m.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *chatRepo) GetMessages(_ context.Context, room chat.Room, messageIDs []uuid.UUID) ([]*chat.Message, error) {
	log, ok := r.st.rooms[room.Key()]
	if !ok {
		return nil, nil
	}
	want := make(map[uuid.UUID]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = struct{}{}
	}
	var out []*chat.Message
	for _, m := range log.messages {
		if _, ok := want[m.MessageID]; ok {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (r *chatRepo) AddReceipt(_ context.Context, messageID uuid.UUID, receipt chat.ReadReceipt) (bool, error) {
	key, ok := r.st.messageRoom[messageID]
	if !ok {
		return false, fmt.Errorf("message %s does not exist", messageID)
	}
	for _, m := range r.st.rooms[key].messages {
		if m.MessageID == messageID {
			if m.IsReadBy(receipt.ReaderID) {
				return false, nil
			}
			m.ReadBy = append(m.ReadBy, receipt)
			return true, nil
		}
	}
	return false, fmt.Errorf("message %s does not exist", messageID)
}

func (r *chatRepo) CountUnread(_ context.Context, room chat.Room, userID uuid.UUID) (int, error) {
	log, ok := r.st.rooms[room.Key()]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, m := range log.messages {
		if m.IsUnreadFor(userID) {
			n++
		}
	}
	return n, nil
}

func (r *chatRepo) CreateSubChat(_ context.Context, s *chat.SubChat) error {
	if _, ok := r.st.subChats[s.SubChatID]; ok {
		return fmt.Errorf("sub-chat %s already exists", s.SubChatID)
	}
	s.ID = r.st.id()
	r.st.subChats[s.SubChatID] = s.Clone()
	return nil
}

func (r *chatRepo) GetSubChat(_ context.Context, subChatID uuid.UUID) (*chat.SubChat, error) {
	s, ok := r.st.subChats[subChatID]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (r *chatRepo) ListSubChats(_ context.Context, mediationID uuid.UUID) ([]*chat.SubChat, error) {
	var out []*chat.SubChat
	for _, s := range r.st.subChats {
		if s.MediationID == mediationID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *chatRepo) SaveReadPointer(_ context.Context, subChatID uuid.UUID, p chat.Participant) error {
	s, ok := r.st.subChats[subChatID]
	if !ok {
		return fmt.Errorf("sub-chat %s does not exist", subChatID)
	}
	for i := range s.Participants {
		if s.Participants[i].UserID == p.UserID {
			s.Participants[i] = p
			return nil
		}
	}
	return fmt.Errorf("user %s is not a participant of sub-chat %s", p.UserID, subChatID)
}
