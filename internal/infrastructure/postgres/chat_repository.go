package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mediation-hub/mediation-hub/internal/domain/chat"
)

const messageColumns = `id, message_id, room_type, room_id, seq, sender_id, type, system_key, body, image_url, created_at`

// ChatRepository implements chat.Repository. Sequence numbers come from a
// per-room counter row whose lock is held until commit, so seq order within a
// room matches commit order.
type ChatRepository struct {
	db DBTX
}

func NewChatRepository(db DBTX) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) AppendMessage(ctx context.Context, m *chat.Message) error {
	row := r.db.QueryRow(ctx, `
		INSERT INTO chat_rooms (room_type, room_id, last_seq) VALUES ($1,$2,1)
		ON CONFLICT (room_type, room_id) DO UPDATE SET last_seq = chat_rooms.last_seq + 1
		RETURNING last_seq
	`, m.Room.Type, m.Room.ID)
	if err := row.Scan(&m.Seq); err != nil {
		return fmt.Errorf("next room seq: %w", err)
	}
	row = r.db.QueryRow(ctx, `
		INSERT INTO chat_messages (message_id, room_type, room_id, seq, sender_id, type, system_key, body, image_url, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, m.MessageID, m.Room.Type, m.Room.ID, m.Seq, m.SenderID, m.Type, m.SystemKey, m.Body, m.ImageURL, m.CreatedAt)
	if err := row.Scan(&m.ID); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *ChatRepository) ListMessages(ctx context.Context, room chat.Room, afterSeq int64, limit int) ([]*chat.Message, error) {
	var w where
	w.add("room_type=?", room.Type)
	w.add("room_id=?", room.ID)
	w.add("seq>?", afterSeq)
	query := `SELECT ` + messageColumns + ` FROM chat_messages` + w.String() + ` ORDER BY seq ASC` + w.page(limit, 0)
	return r.queryMessages(ctx, query, w.args...)
}

func (r *ChatRepository) GetMessages(ctx context.Context, room chat.Room, messageIDs []uuid.UUID) ([]*chat.Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	return r.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM chat_messages
		WHERE room_type=$1 AND room_id=$2 AND message_id = ANY($3)
		ORDER BY seq ASC
	`, room.Type, room.ID, messageIDs)
}

func (r *ChatRepository) AddReceipt(ctx context.Context, messageID uuid.UUID, receipt chat.ReadReceipt) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO chat_read_receipts (message_id, reader_id, read_at) VALUES ($1,$2,$3)
		ON CONFLICT (message_id, reader_id) DO NOTHING
	`, messageID, receipt.ReaderID, receipt.ReadAt)
	if err != nil {
		return false, fmt.Errorf("insert receipt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ChatRepository) CountUnread(ctx context.Context, room chat.Room, userID uuid.UUID) (int, error) {
	row := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM chat_messages m
		WHERE m.room_type=$1 AND m.room_id=$2
		  AND (m.sender_id IS NULL OR m.sender_id <> $3)
		  AND NOT EXISTS (
			SELECT 1 FROM chat_read_receipts rr WHERE rr.message_id = m.message_id AND rr.reader_id = $3
		  )
	`, room.Type, room.ID, userID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (r *ChatRepository) CreateSubChat(ctx context.Context, s *chat.SubChat) error {
	row := r.db.QueryRow(ctx, `
		INSERT INTO sub_chats (sub_chat_id, mediation_id, title, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, s.SubChatID, s.MediationID, s.Title, s.CreatedBy, s.CreatedAt)
	if err := row.Scan(&s.ID); err != nil {
		return fmt.Errorf("insert sub-chat: %w", err)
	}
	batch := &pgx.Batch{}
	for i, p := range s.Participants {
		batch.Queue(`
			INSERT INTO sub_chat_participants (sub_chat_id, user_id, position, last_read_message_id, last_read_seq, last_read_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, s.SubChatID, p.UserID, i, p.LastReadMessageID, p.LastReadSeq, p.LastReadAt)
	}
	results := r.db.SendBatch(ctx, batch)
	for range s.Participants {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert sub-chat participant: %w", err)
		}
	}
	return results.Close()
}

func (r *ChatRepository) GetSubChat(ctx context.Context, subChatID uuid.UUID) (*chat.SubChat, error) {
	var s chat.SubChat
	err := r.db.QueryRow(ctx, `
		SELECT id, sub_chat_id, mediation_id, title, created_by, created_at FROM sub_chats WHERE sub_chat_id=$1
	`, subChatID).Scan(&s.ID, &s.SubChatID, &s.MediationID, &s.Title, &s.CreatedBy, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load sub-chat: %w", err)
	}
	if err := r.loadParticipants(ctx, []*chat.SubChat{&s}); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *ChatRepository) ListSubChats(ctx context.Context, mediationID uuid.UUID) ([]*chat.SubChat, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, sub_chat_id, mediation_id, title, created_by, created_at
		FROM sub_chats WHERE mediation_id=$1 ORDER BY id ASC
	`, mediationID)
	if err != nil {
		return nil, fmt.Errorf("list sub-chats: %w", err)
	}
	var out []*chat.SubChat
	for rows.Next() {
		var s chat.SubChat
		if err := rows.Scan(&s.ID, &s.SubChatID, &s.MediationID, &s.Title, &s.CreatedBy, &s.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, &s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadParticipants(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ChatRepository) SaveReadPointer(ctx context.Context, subChatID uuid.UUID, p chat.Participant) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sub_chat_participants SET last_read_message_id=$1, last_read_seq=$2, last_read_at=$3
		WHERE sub_chat_id=$4 AND user_id=$5
	`, p.LastReadMessageID, p.LastReadSeq, p.LastReadAt, subChatID, p.UserID)
	if err != nil {
		return fmt.Errorf("update read pointer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s is not a participant of sub-chat %s", p.UserID, subChatID)
	}
	return nil
}

func (r *ChatRepository) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*chat.Message, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	var out []*chat.Message
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.MessageID, &m.Room.Type, &m.Room.ID, &m.Seq, &m.SenderID, &m.Type, &m.SystemKey, &m.Body, &m.ImageURL, &m.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		m.ReadBy = []chat.ReadReceipt{}
		out = append(out, &m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadReceipts(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ChatRepository) loadReceipts(ctx context.Context, msgs []*chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*chat.Message, len(msgs))
	ids := make([]uuid.UUID, 0, len(msgs))
	for _, m := range msgs {
		byID[m.MessageID] = m
		ids = append(ids, m.MessageID)
	}
	rows, err := r.db.Query(ctx, `
		SELECT message_id, reader_id, read_at FROM chat_read_receipts
		WHERE message_id = ANY($1) ORDER BY read_at ASC, reader_id ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("load receipts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			messageID uuid.UUID
			rc        chat.ReadReceipt
		)
		if err := rows.Scan(&messageID, &rc.ReaderID, &rc.ReadAt); err != nil {
			return err
		}
		if m := byID[messageID]; m != nil {
			m.ReadBy = append(m.ReadBy, rc)
		}
	}
	return rows.Err()
}

func (r *ChatRepository) loadParticipants(ctx context.Context, subs []*chat.SubChat) error {
	if len(subs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*chat.SubChat, len(subs))
	ids := make([]uuid.UUID, 0, len(subs))
	for _, s := range subs {
		byID[s.SubChatID] = s
		ids = append(ids, s.SubChatID)
	}
	rows, err := r.db.Query(ctx, `
		SELECT sub_chat_id, user_id, last_read_message_id, last_read_seq, last_read_at
		FROM sub_chat_participants WHERE sub_chat_id = ANY($1) ORDER BY position ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			subChatID uuid.UUID
			p         chat.Participant
		)
		if err := rows.Scan(&subChatID, &p.UserID, &p.LastReadMessageID, &p.LastReadSeq, &p.LastReadAt); err != nil {
			return err
		}
		if s := byID[subChatID]; s != nil {
			s.Participants = append(s.Participants, p)
		}
	}
	return rows.Err()
}
