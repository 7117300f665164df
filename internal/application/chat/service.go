package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appAudit "github.com/mediation-hub/mediation-hub/internal/application/audit"
	appNotification "github.com/mediation-hub/mediation-hub/internal/application/notification"
	"github.com/mediation-hub/mediation-hub/internal/application/txn"
	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
	"github.com/mediation-hub/mediation-hub/internal/domain/audit"
	domain "github.com/mediation-hub/mediation-hub/internal/domain/chat"
	"github.com/mediation-hub/mediation-hub/internal/domain/mediation"
	"github.com/mediation-hub/mediation-hub/internal/domain/notification"
	"github.com/mediation-hub/mediation-hub/internal/domain/realtime"
	"github.com/mediation-hub/mediation-hub/internal/domain/user"
)

const (
	defaultPageSize    = 50
	maxPageSize        = 200
	subChatStartedKey  = "system.sub_chat_started"
	defaultSubChatName = "Dispute discussion"
)

// Service handles the main mediation chat and admin sub-chats.
type Service struct {
	tx         txn.Runner
	dispatcher realtime.Dispatcher
	auditSvc   *appAudit.Service
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(tx txn.Runner, dispatcher realtime.Dispatcher, auditSvc *appAudit.Service, logger zerolog.Logger) *Service {
	return &Service{
		tx:         tx,
		dispatcher: dispatcher,
		auditSvc:   auditSvc,
		logger:     logger.With().Str("service", "chat").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// PostInput is a participant message.
type PostInput struct {
	Body     string
	ImageURL *string
}

// PostMediationMessage appends a message to the main chat. Posting is open
// while the mediation is in progress or disputed.
func (s *Service) PostMediationMessage(ctx context.Context, actor user.Actor, mediationID uuid.UUID, input PostInput) (*domain.Message, error) {
	var (
		msg    *domain.Message
		commit realtime.Commit
		holds  realtime.Holds
	)
	defer holds.Release()
	now := s.now()
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		m, err := st.Mediations().GetForUpdate(ctx, mediationID)
		if err != nil {
			return fmt.Errorf("load mediation: %w", err)
		}
		if err := requireMainMember(m, actor, mediationID); err != nil {
			return err
		}
		if m.Status != mediation.StatusInProgress && m.Status != mediation.StatusDisputed {
			return apperr.InvalidState("chat is closed in the current status").WithParam("status", string(m.Status))
		}
		room := domain.Room{Type: domain.RoomMediation, ID: m.MediationID}
		msg, err = domain.NewUserMessage(room, actor.UserID, input.Body, input.ImageURL, now)
		if err != nil {
			return err
		}
		if err := st.Chats().AppendMessage(ctx, msg); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		holds.Add(s.dispatcher.Hold(msg.Room.Key(), msg.Seq))
		members := m.Participants()
		unread, err := domain.UnreadCounts(ctx, st.Chats(), room, others(members, actor.UserID))
		if err != nil {
			return err
		}
		commit = realtime.Commit{Members: members, Messages: []*domain.Message{msg}, Unread: unread}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatcher.Dispatch(ctx, commit)
	return msg, nil
}

// ListMediationMessages returns messages after afterSeq in commit order.
func (s *Service) ListMediationMessages(ctx context.Context, actor user.Actor, mediationID uuid.UUID, afterSeq int64, limit int) ([]*domain.Message, error) {
	var out []*domain.Message
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		m, err := st.Mediations().GetByID(ctx, mediationID)
		if err != nil {
			return fmt.Errorf("load mediation: %w", err)
		}
		if err := requireMainReader(m, actor, mediationID); err != nil {
			return err
		}
		out, err = st.Chats().ListMessages(ctx, domain.Room{Type: domain.RoomMediation, ID: mediationID}, afterSeq, pageSize(limit))
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*domain.Message{}
	}
	return out, nil
}

// MarkMediationRead records read receipts in the main chat. An empty id set
// covers every unread message.
func (s *Service) MarkMediationRead(ctx context.Context, actor user.Actor, mediationID uuid.UUID, messageIDs []uuid.UUID) (*domain.ReadUpdate, error) {
	var (
		update domain.ReadUpdate
		commit realtime.Commit
	)
	now := s.now()
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		m, err := st.Mediations().GetByID(ctx, mediationID)
		if err != nil {
			return fmt.Errorf("load mediation: %w", err)
		}
		if err := requireMainMember(m, actor, mediationID); err != nil {
			return err
		}
		room := domain.Room{Type: domain.RoomMediation, ID: mediationID}
		covered, _, err := markRead(ctx, st.Chats(), room, actor.UserID, messageIDs, now)
		if err != nil {
			return err
		}
		update = domain.ReadUpdate{Room: room, ReaderID: actor.UserID, MessageIDs: ids(covered), ReadAt: now}
		unread, err := domain.UnreadCounts(ctx, st.Chats(), room, []uuid.UUID{actor.UserID})
		if err != nil {
			return err
		}
		commit = realtime.Commit{Members: m.Participants(), Unread: unread}
		if len(covered) > 0 {
			commit.Reads = []domain.ReadUpdate{update}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatcher.Dispatch(ctx, commit)
	return &update, nil
}

// CreateSubChatInput opens an admin side channel.
type CreateSubChatInput struct {
	ParticipantIDs []uuid.UUID
	Title          string
}

// CreateSubChat opens a private channel between an overseer and a subset of
// the parties of a disputed mediation.
func (s *Service) CreateSubChat(ctx context.Context, actor user.Actor, mediationID uuid.UUID, input CreateSubChatInput) (*domain.SubChat, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("chat.admin_only", "admin role required")
	}
	var (
		created *domain.SubChat
		commit  realtime.Commit
		holds   realtime.Holds
	)
	defer holds.Release()
	now := s.now()
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		m, err := st.Mediations().GetForUpdate(ctx, mediationID)
		if err != nil {
			return fmt.Errorf("load mediation: %w", err)
		}
		if m == nil {
			return mediationNotFound(mediationID)
		}
		if m.Status != mediation.StatusDisputed {
			return apperr.InvalidState("sub-chats can only be opened on a disputed mediation").WithParam("status", string(m.Status))
		}
		if !m.IsOverseer(actor.UserID) {
			return apperr.Forbidden("chat.not_overseer", "only an overseer of this dispute may open a sub-chat")
		}
		if len(input.ParticipantIDs) == 0 {
			return apperr.Validation("chat.participants_required", "select at least one participant")
		}
		allowed := m.UsersIn([]mediation.PartyRole{mediation.RoleSeller, mediation.RoleBuyer, mediation.RoleMediator})
		for _, id := range input.ParticipantIDs {
			if !contains(allowed, id) {
				return apperr.Validation("chat.invalid_participant", "participants must be the seller, the buyer or the mediator").
					WithParam("userId", id.String())
			}
		}
		title := strings.TrimSpace(input.Title)
		if title == "" {
			title = defaultSubChatName
		}

		sub := domain.NewSubChat(m.MediationID, actor.UserID, title, input.ParticipantIDs, now)
		if err := st.Chats().CreateSubChat(ctx, sub); err != nil {
			return fmt.Errorf("create sub-chat: %w", err)
		}
		started := domain.NewSystemMessage(sub.Room(), subChatStartedKey, "An administrator started a private chat: "+title, now)
		if err := st.Chats().AppendMessage(ctx, started); err != nil {
			return fmt.Errorf("append system message: %w", err)
		}
		holds.Add(s.dispatcher.Hold(started.Room.Key(), started.Seq))

		members := sub.ParticipantIDs()
		notifications, err := appNotification.Fanout(ctx, st.Notifications(), members, actor.UserID, notification.TypeSubChatCreated, map[string]interface{}{
			"mediationId": m.MediationID,
			"subChatId":   sub.SubChatID,
			"title":       title,
		})
		if err != nil {
			return err
		}
		unread, err := domain.UnreadCounts(ctx, st.Chats(), sub.Room(), members)
		if err != nil {
			return err
		}
		commit = realtime.Commit{
			Members:       members,
			Messages:      []*domain.Message{started},
			Unread:        unread,
			Notifications: notifications,
		}
		created = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(ctx, commit)
	s.auditSvc.Log(ctx, &audit.AuditEntry{
		EntityType: audit.EntitySubChat,
		EntityID:   created.SubChatID.String(),
		Action:     audit.ActionCreate,
		Actor:      actor.ActorString(),
		ActorID:    &actor.UserID,
		NewValues:  created,
	})
	s.logger.Info().
		Str("subChatId", created.SubChatID.String()).
		Str("mediationId", mediationID.String()).
		Int("participants", len(created.Participants)).
		Msg("sub-chat created")
	return created, nil
}

// PostSubChatMessage appends a participant message to a sub-chat. Sub-chats
// accept messages only while the parent dispute is open.
func (s *Service) PostSubChatMessage(ctx context.Context, actor user.Actor, subChatID uuid.UUID, input PostInput) (*domain.Message, error) {
	var (
		msg    *domain.Message
		commit realtime.Commit
		holds  realtime.Holds
	)
	defer holds.Release()
	now := s.now()
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		sub, err := participantSubChat(ctx, st, actor, subChatID)
		if err != nil {
			return err
		}
		m, err := st.Mediations().GetForUpdate(ctx, sub.MediationID)
		if err != nil {
			return fmt.Errorf("load mediation: %w", err)
		}
		if m == nil {
			return mediationNotFound(sub.MediationID)
		}
		if m.Status != mediation.StatusDisputed {
			return apperr.InvalidState("the dispute is closed").WithParam("status", string(m.Status))
		}
		msg, err = domain.NewUserMessage(sub.Room(), actor.UserID, input.Body, input.ImageURL, now)
		if err != nil {
			return err
		}
		if err := st.Chats().AppendMessage(ctx, msg); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		holds.Add(s.dispatcher.Hold(msg.Room.Key(), msg.Seq))
		members := sub.ParticipantIDs()
		unread, err := domain.UnreadCounts(ctx, st.Chats(), sub.Room(), others(members, actor.UserID))
		if err != nil {
			return err
		}
		commit = realtime.Commit{Members: members, Messages: []*domain.Message{msg}, Unread: unread}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatcher.Dispatch(ctx, commit)
	return msg, nil
}

// MarkSubChatRead records receipts and advances only the caller's read
// pointer.
func (s *Service) MarkSubChatRead(ctx context.Context, actor user.Actor, subChatID uuid.UUID, messageIDs []uuid.UUID) (*domain.ReadUpdate, error) {
	var (
		update domain.ReadUpdate
		commit realtime.Commit
	)
	now := s.now()
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		sub, err := participantSubChat(ctx, st, actor, subChatID)
		if err != nil {
			return err
		}
		covered, latest, err := markRead(ctx, st.Chats(), sub.Room(), actor.UserID, messageIDs, now)
		if err != nil {
			return err
		}
		if latest != nil {
			if p, moved := sub.AdvanceReadPointer(actor.UserID, latest, now); moved {
				if err := st.Chats().SaveReadPointer(ctx, sub.SubChatID, *p); err != nil {
					return fmt.Errorf("save read pointer: %w", err)
				}
			}
		}
		update = domain.ReadUpdate{Room: sub.Room(), ReaderID: actor.UserID, MessageIDs: ids(covered), ReadAt: now}
		unread, err := domain.UnreadCounts(ctx, st.Chats(), sub.Room(), []uuid.UUID{actor.UserID})
		if err != nil {
			return err
		}
		commit = realtime.Commit{Members: sub.ParticipantIDs(), Unread: unread}
		if len(covered) > 0 {
			commit.Reads = []domain.ReadUpdate{update}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatcher.Dispatch(ctx, commit)
	return &update, nil
}

// GetSubChat returns a sub-chat the caller participates in.
func (s *Service) GetSubChat(ctx context.Context, actor user.Actor, subChatID uuid.UUID) (*domain.SubChat, error) {
	var sub *domain.SubChat
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		var err error
		sub, err = participantSubChat(ctx, st, actor, subChatID)
		return err
	})
	return sub, err
}

func (s *Service) ListSubChatMessages(ctx context.Context, actor user.Actor, subChatID uuid.UUID, afterSeq int64, limit int) ([]*domain.Message, error) {
	var out []*domain.Message
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		sub, err := participantSubChat(ctx, st, actor, subChatID)
		if err != nil {
			return err
		}
		out, err = st.Chats().ListMessages(ctx, sub.Room(), afterSeq, pageSize(limit))
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*domain.Message{}
	}
	return out, nil
}

// ListSubChats lists the sub-chats of a mediation. Overseers see all of them;
// everyone else only those they participate in.
func (s *Service) ListSubChats(ctx context.Context, actor user.Actor, mediationID uuid.UUID) ([]*domain.SubChat, error) {
	out := []*domain.SubChat{}
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		m, err := st.Mediations().GetByID(ctx, mediationID)
		if err != nil {
			return fmt.Errorf("load mediation: %w", err)
		}
		if m == nil || !m.CanView(actor.UserID, actor.IsAdmin()) {
			return mediationNotFound(mediationID)
		}
		subs, err := st.Chats().ListSubChats(ctx, mediationID)
		if err != nil {
			return fmt.Errorf("list sub-chats: %w", err)
		}
		for _, sub := range subs {
			if m.IsOverseer(actor.UserID) || sub.IsParticipant(actor.UserID) {
				out = append(out, sub)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UnreadSummary lists the caller's unread totals for a mediation's rooms.
func (s *Service) UnreadSummary(ctx context.Context, actor user.Actor, mediationID uuid.UUID) ([]domain.UnreadCount, error) {
	var out []domain.UnreadCount
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		m, err := st.Mediations().GetByID(ctx, mediationID)
		if err != nil {
			return fmt.Errorf("load mediation: %w", err)
		}
		if err := requireMainReader(m, actor, mediationID); err != nil {
			return err
		}
		rooms := []domain.Room{{Type: domain.RoomMediation, ID: mediationID}}
		subs, err := st.Chats().ListSubChats(ctx, mediationID)
		if err != nil {
			return fmt.Errorf("list sub-chats: %w", err)
		}
		for _, sub := range subs {
			if sub.IsParticipant(actor.UserID) {
				rooms = append(rooms, sub.Room())
			}
		}
		for _, room := range rooms {
			counts, err := domain.UnreadCounts(ctx, st.Chats(), room, []uuid.UUID{actor.UserID})
			if err != nil {
				return err
			}
			out = append(out, counts...)
		}
		return nil
	})
	return out, err
}

// AuthorizeRoom reports whether actor may subscribe to room.
func (s *Service) AuthorizeRoom(ctx context.Context, actor user.Actor, room domain.Room) error {
	return s.tx.WithTx(ctx, func(st txn.Stores) error {
		switch room.Type {
		case domain.RoomMediation:
			m, err := st.Mediations().GetByID(ctx, room.ID)
			if err != nil {
				return fmt.Errorf("load mediation: %w", err)
			}
			return requireMainReader(m, actor, room.ID)
		case domain.RoomSubChat:
			_, err := participantSubChat(ctx, st, actor, room.ID)
			return err
		default:
			return apperr.Validation("chat.invalid_room", "unknown room type").WithParam("type", string(room.Type))
		}
	})
}

// requireMainMember allows the seller, buyer, mediator and overseers.
func requireMainMember(m *mediation.Mediation, actor user.Actor, mediationID uuid.UUID) error {
	if m == nil || !m.CanView(actor.UserID, actor.IsAdmin()) {
		return mediationNotFound(mediationID)
	}
	if !contains(m.Participants(), actor.UserID) {
		return apperr.Forbidden("chat.not_participant", "you are not a participant of this chat")
	}
	return nil
}

// requireMainReader additionally lets any admin read.
func requireMainReader(m *mediation.Mediation, actor user.Actor, mediationID uuid.UUID) error {
	if m != nil && actor.IsAdmin() {
		return nil
	}
	return requireMainMember(m, actor, mediationID)
}

func participantSubChat(ctx context.Context, st txn.Stores, actor user.Actor, subChatID uuid.UUID) (*domain.SubChat, error) {
	sub, err := st.Chats().GetSubChat(ctx, subChatID)
	if err != nil {
		return nil, fmt.Errorf("load sub-chat: %w", err)
	}
	if sub == nil {
		return nil, apperr.NotFound("chat.sub_chat_not_found", "sub-chat not found").WithParam("subChatId", subChatID.String())
	}
	if !sub.IsParticipant(actor.UserID) {
		return nil, apperr.Forbidden("chat.not_participant", "you are not a participant of this sub-chat")
	}
	return sub, nil
}

// markRead adds receipts for reader. It returns the messages newly covered
// and the highest-sequence message among those requested.
func markRead(ctx context.Context, repo domain.Repository, room domain.Room, reader uuid.UUID, messageIDs []uuid.UUID, now time.Time) ([]*domain.Message, *domain.Message, error) {
	var (
		msgs []*domain.Message
		err  error
	)
	if len(messageIDs) == 0 {
		msgs, err = repo.ListMessages(ctx, room, 0, 0)
	} else {
		msgs, err = repo.GetMessages(ctx, room, messageIDs)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w", err)
	}

	var (
		covered []*domain.Message
		latest  *domain.Message
	)
	for _, msg := range msgs {
		if latest == nil || msg.Seq > latest.Seq {
			latest = msg
		}
		if !msg.IsUnreadFor(reader) {
			continue
		}
		added, err := repo.AddReceipt(ctx, msg.MessageID, domain.ReadReceipt{ReaderID: reader, ReadAt: now})
		if err != nil {
			return nil, nil, fmt.Errorf("add read receipt: %w", err)
		}
		if added {
			msg.MarkReadBy(reader, now)
			covered = append(covered, msg)
		}
	}
	return covered, latest, nil
}

func mediationNotFound(mediationID uuid.UUID) error {
	return apperr.NotFound("mediation.not_found", "mediation not found").WithParam("mediationId", mediationID.String())
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

func ids(msgs []*domain.Message) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.MessageID)
	}
	return out
}

func others(members []uuid.UUID, self uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(members))
	for _, id := range members {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
