package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence for chat rooms.
type Repository interface {
	// AppendMessage assigns the next room sequence to m and stores it.
	AppendMessage(ctx context.Context, m *Message) error
	// ListMessages returns messages with Seq > afterSeq in Seq order. A
	// non-positive limit returns all of them.
	ListMessages(ctx context.Context, room Room, afterSeq int64, limit int) ([]*Message, error)
	GetMessages(ctx context.Context, room Room, messageIDs []uuid.UUID) ([]*Message, error)
	// AddReceipt stores a read receipt once. It reports whether it was new.
	AddReceipt(ctx context.Context, messageID uuid.UUID, receipt ReadReceipt) (bool, error)
	CountUnread(ctx context.Context, room Room, userID uuid.UUID) (int, error)

	CreateSubChat(ctx context.Context, s *SubChat) error
	GetSubChat(ctx context.Context, subChatID uuid.UUID) (*SubChat, error)
	ListSubChats(ctx context.Context, mediationID uuid.UUID) ([]*SubChat, error)
	SaveReadPointer(ctx context.Context, subChatID uuid.UUID, p Participant) error
}

// ReadUpdate describes a read pointer advance for fan-out.
type ReadUpdate struct {
	Room       Room        `json:"room"`
	ReaderID   uuid.UUID   `json:"readerId"`
	MessageIDs []uuid.UUID `json:"messageIds"`
	ReadAt     time.Time   `json:"readAt"`
}

// UnreadCounts computes the stored unread totals of members in room.
func UnreadCounts(ctx context.Context, repo Repository, room Room, members []uuid.UUID) ([]UnreadCount, error) {
	out := make([]UnreadCount, 0, len(members))
	for _, id := range members {
		n, err := repo.CountUnread(ctx, room, id)
		if err != nil {
			return nil, fmt.Errorf("count unread: %w", err)
		}
		out = append(out, UnreadCount{UserID: id, Room: room, Count: n})
	}
	return out, nil
}
