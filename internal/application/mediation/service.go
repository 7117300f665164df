package mediation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	appAudit "github.com/mediation-hub/mediation-hub/internal/application/audit"
	appLedger "github.com/mediation-hub/mediation-hub/internal/application/ledger"
	appNotification "github.com/mediation-hub/mediation-hub/internal/application/notification"
	"github.com/mediation-hub/mediation-hub/internal/application/txn"
	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
	"github.com/mediation-hub/mediation-hub/internal/domain/audit"
	"github.com/mediation-hub/mediation-hub/internal/domain/chat"
	domain "github.com/mediation-hub/mediation-hub/internal/domain/mediation"
	"github.com/mediation-hub/mediation-hub/internal/domain/realtime"
	"github.com/mediation-hub/mediation-hub/internal/domain/user"
)

// Service runs the mediation lifecycle. Every status change goes through
// transition.
type Service struct {
	tx         txn.Runner
	fees       *FeePolicy
	dispatcher realtime.Dispatcher
	auditSvc   *appAudit.Service
	logger     zerolog.Logger
	now        func() time.Time
}

// NewService creates a mediation service.
func NewService(tx txn.Runner, fees *FeePolicy, dispatcher realtime.Dispatcher, auditSvc *appAudit.Service, logger zerolog.Logger) *Service {
	return &Service{
		tx:         tx,
		fees:       fees,
		dispatcher: dispatcher,
		auditSvc:   auditSvc,
		logger:     logger.With().Str("service", "mediation").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput opens a mediation request.
type CreateInput struct {
	BuyerID      uuid.UUID
	ProductTitle string
	BidAmount    decimal.Decimal
	Currency     string
}

// Create opens a mediation on behalf of the calling seller.
func (s *Service) Create(ctx context.Context, actor user.Actor, input CreateInput) (*domain.Mediation, error) {
	var created *domain.Mediation
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		buyer, err := st.Users().GetByID(ctx, input.BuyerID)
		if err != nil {
			return fmt.Errorf("load buyer: %w", err)
		}
		if buyer == nil || !buyer.IsActive() {
			return apperr.Validation("mediation.buyer_not_found", "buyer does not exist").WithParam("buyerId", input.BuyerID.String())
		}
		m, err := domain.New(actor.UserID, buyer.UserID, input.ProductTitle, input.BidAmount, input.Currency, s.now())
		if err != nil {
			return err
		}
		if err := st.Mediations().Create(ctx, m); err != nil {
			return fmt.Errorf("create mediation: %w", err)
		}
		created = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(ctx, realtime.Commit{Mediation: created.Clone()})
	s.auditSvc.Log(ctx, &audit.AuditEntry{
		EntityType: audit.EntityMediation,
		EntityID:   created.MediationID.String(),
		Action:     audit.ActionCreate,
		Actor:      actor.ActorString(),
		ActorID:    &actor.UserID,
		NewValues:  created,
	})
	s.logger.Info().
		Str("mediationId", created.MediationID.String()).
		Str("seller", actor.UserID.String()).
		Str("bid", created.BidAmount.String()).
		Msg("mediation created")
	return created, nil
}

// Get returns a mediation the caller may see.
func (s *Service) Get(ctx context.Context, actor user.Actor, mediationID uuid.UUID) (*domain.Mediation, error) {
	var m *domain.Mediation
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		var err error
		m, err = visible(ctx, st, actor, mediationID)
		return err
	})
	return m, err
}

// ListInput filters the caller's mediations.
type ListInput struct {
	Status *domain.Status
	// All lists every mediation. Only admins may set it.
	All    bool
	Limit  int
	Offset int
}

func (s *Service) List(ctx context.Context, actor user.Actor, input ListInput) ([]*domain.Mediation, error) {
	if input.Status != nil {
		if err := domain.ValidateStatus(*input.Status); err != nil {
			return nil, err
		}
	}
	filter := domain.Filter{Status: input.Status}
	if !input.All || !actor.IsAdmin() {
		id := actor.UserID
		filter.ParticipantID = &id
	}
	var out []*domain.Mediation
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		var err error
		out, err = st.Mediations().List(ctx, filter, input.Limit, input.Offset)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list mediations: %w", err)
	}
	if out == nil {
		out = []*domain.Mediation{}
	}
	return out, nil
}

// ListPendingAssignment is the admin queue of mediations without a mediator.
func (s *Service) ListPendingAssignment(ctx context.Context, actor user.Actor, limit, offset int) ([]*domain.Mediation, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("mediation.admin_only", "admin role required")
	}
	status := domain.StatusPendingMediatorSelection
	var out []*domain.Mediation
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		var err error
		out, err = st.Mediations().List(ctx, domain.Filter{Status: &status, Unassigned: true}, limit, offset)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list pending mediations: %w", err)
	}
	if out == nil {
		out = []*domain.Mediation{}
	}
	return out, nil
}

func (s *Service) History(ctx context.Context, actor user.Actor, mediationID uuid.UUID) ([]domain.HistoryEntry, error) {
	var out []domain.HistoryEntry
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		if _, err := visible(ctx, st, actor, mediationID); err != nil {
			return err
		}
		var err error
		out, err = st.Mediations().ListHistory(ctx, mediationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.HistoryEntry{}
	}
	return out, nil
}

func (s *Service) AssignMediator(ctx context.Context, actor user.Actor, mediationID, mediatorID uuid.UUID) (*domain.Mediation, error) {
	return s.transition(ctx, actor, mediationID, domain.ActionAssignMediator, domain.Input{MediatorID: mediatorID})
}

func (s *Service) MediatorAccept(ctx context.Context, actor user.Actor, mediationID uuid.UUID) (*domain.Mediation, error) {
	return s.transition(ctx, actor, mediationID, domain.ActionMediatorAccept, domain.Input{})
}

func (s *Service) MediatorReject(ctx context.Context, actor user.Actor, mediationID uuid.UUID, reason string) (*domain.Mediation, error) {
	return s.transition(ctx, actor, mediationID, domain.ActionMediatorReject, domain.Input{Reason: reason})
}

func (s *Service) SellerConfirm(ctx context.Context, actor user.Actor, mediationID uuid.UUID) (*domain.Mediation, error) {
	return s.transition(ctx, actor, mediationID, domain.ActionSellerConfirm, domain.Input{})
}

// BuyerConfirmAndEscrow confirms readiness and moves the bid into escrow.
func (s *Service) BuyerConfirmAndEscrow(ctx context.Context, actor user.Actor, mediationID uuid.UUID) (*domain.Mediation, error) {
	return s.transition(ctx, actor, mediationID, domain.ActionBuyerConfirmAndEscrow, domain.Input{})
}

// ConfirmReceipt releases the escrow to the seller.
func (s *Service) ConfirmReceipt(ctx context.Context, actor user.Actor, mediationID uuid.UUID) (*domain.Mediation, error) {
	return s.transition(ctx, actor, mediationID, domain.ActionConfirmReceipt, domain.Input{})
}

// Cancel withdraws a mediation that has not started yet.
func (s *Service) Cancel(ctx context.Context, actor user.Actor, mediationID uuid.UUID, reason string) (*domain.Mediation, error) {
	return s.transition(ctx, actor, mediationID, domain.ActionPartyCancel, domain.Input{Reason: reason})
}

type transitionPayload struct {
	MediationID  uuid.UUID     `json:"mediationId"`
	ProductTitle string        `json:"productTitle"`
	Action       domain.Action `json:"action"`
	Status       domain.Status `json:"status"`
}

func (s *Service) transition(ctx context.Context, actor user.Actor, mediationID uuid.UUID, action domain.Action, input domain.Input) (*domain.Mediation, error) {
	var (
		result  *domain.Mediation
		outcome *domain.Outcome
		commit  realtime.Commit
		holds   realtime.Holds
	)
	defer holds.Release()
	now := s.now()
	who := domain.Actor{UserID: actor.UserID, Admin: actor.IsAdmin()}

	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		m, err := st.Mediations().GetForUpdate(ctx, mediationID)
		if err != nil {
			return fmt.Errorf("load mediation: %w", err)
		}
		if m == nil || !m.CanView(actor.UserID, actor.IsAdmin()) {
			return notFound(mediationID)
		}
		t, err := domain.Resolve(m, action, who)
		if err != nil {
			return err
		}
		if err := s.prepare(ctx, st, m, t, &input); err != nil {
			return err
		}

		expected := m.Version
		out, err := m.Apply(t, who, input, now)
		if err != nil {
			return err
		}
		accounts, err := appLedger.Post(ctx, st.Ledger(), &m.MediationID, out.Postings, now)
		if err != nil {
			return err
		}
		if err := st.Mediations().Update(ctx, m, expected); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				return apperr.InvalidState("mediation was modified concurrently").WithParam("mediationId", mediationID.String())
			}
			return fmt.Errorf("update mediation: %w", err)
		}
		if err := st.Mediations().AppendHistory(ctx, out.History); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		room := chat.Room{Type: chat.RoomMediation, ID: m.MediationID}
		messages := make([]*chat.Message, 0, len(out.SystemMessages))
		for _, key := range out.SystemMessages {
			msg := chat.NewSystemMessage(room, string(key), key.Text(), now)
			if err := st.Chats().AppendMessage(ctx, msg); err != nil {
				return fmt.Errorf("append system message: %w", err)
			}
			holds.Add(s.dispatcher.Hold(room.Key(), msg.Seq))
			messages = append(messages, msg)
		}

		payload := transitionPayload{MediationID: m.MediationID, ProductTitle: m.ProductTitle, Action: action, Status: m.Status}
		notifications, err := appNotification.Fanout(ctx, st.Notifications(), m.UsersIn(t.Notify), actor.UserID, out.Notification, payload)
		if err != nil {
			return err
		}

		members := m.Participants()
		unread, err := chat.UnreadCounts(ctx, st.Chats(), room, members)
		if err != nil {
			return err
		}

		commit = realtime.Commit{
			Mediation:     m.Clone(),
			Members:       members,
			Messages:      messages,
			Unread:        unread,
			Accounts:      accounts,
			Notifications: notifications,
		}
		result = m
		outcome = out
		return nil
	})
	if err != nil {
		s.logger.Debug().Err(err).
			Str("mediationId", mediationID.String()).
			Str("action", string(action)).
			Str("actor", actor.ActorString()).
			Msg("transition rejected")
		return nil, err
	}

	s.dispatcher.Dispatch(ctx, commit)
	s.auditTransition(ctx, actor, result, outcome)
	s.logger.Info().
		Str("mediationId", result.MediationID.String()).
		Str("action", string(action)).
		Str("from", string(outcome.From)).
		Str("to", string(result.Status)).
		Int("postings", len(outcome.Postings)).
		Msg("mediation transition applied")
	return result, nil
}

// prepare resolves inputs that need other aggregates.
func (s *Service) prepare(ctx context.Context, st txn.Stores, m *domain.Mediation, t domain.Transition, input *domain.Input) error {
	switch t.Action {
	case domain.ActionAssignMediator:
		if input.MediatorID == uuid.Nil {
			return apperr.Validation("mediation.mediator_required", "mediator is required")
		}
		candidate, err := st.Users().GetByID(ctx, input.MediatorID)
		if err != nil {
			return fmt.Errorf("load mediator: %w", err)
		}
		if candidate == nil || !candidate.IsActive() || candidate.Role != user.RoleMediator {
			return apperr.Validation("mediation.invalid_mediator", "the selected user is not an active mediator").
				WithParam("mediatorId", input.MediatorID.String())
		}
		fee, err := s.fees.Fee(m.BidAmount, m.BidCurrency)
		if err != nil {
			return fmt.Errorf("compute mediator fee: %w", err)
		}
		input.Fee = fee
	case domain.ActionOpenDispute:
		admins, err := st.Users().ActiveAdmins(ctx)
		if err != nil {
			return fmt.Errorf("load admins: %w", err)
		}
		input.Overseers = make([]uuid.UUID, 0, len(admins))
		for _, a := range admins {
			input.Overseers = append(input.Overseers, a.UserID)
		}
	}
	return nil
}

func (s *Service) auditTransition(ctx context.Context, actor user.Actor, m *domain.Mediation, out *domain.Outcome) {
	var action audit.Action
	reason := ""
	switch out.Transition.Action {
	case domain.ActionAssignMediator:
		action = audit.ActionAssignMediator
	case domain.ActionResolveDispute:
		action = audit.ActionResolve
		if m.ResolutionNotes != nil {
			reason = *m.ResolutionNotes
		}
	case domain.ActionCancelDispute, domain.ActionPartyCancel:
		action = audit.ActionCancel
		if m.CancellationReason != nil {
			reason = *m.CancellationReason
		}
	default:
		return
	}
	s.auditSvc.Log(ctx, &audit.AuditEntry{
		EntityType: audit.EntityMediation,
		EntityID:   m.MediationID.String(),
		Action:     action,
		Actor:      actor.ActorString(),
		ActorID:    &actor.UserID,
		NewValues:  m,
		Reason:     reason,
	})
}

func visible(ctx context.Context, st txn.Stores, actor user.Actor, mediationID uuid.UUID) (*domain.Mediation, error) {
	m, err := st.Mediations().GetByID(ctx, mediationID)
	if err != nil {
		return nil, fmt.Errorf("load mediation: %w", err)
	}
	if m == nil || !m.CanView(actor.UserID, actor.IsAdmin()) {
		return nil, notFound(mediationID)
	}
	return m, nil
}

func notFound(mediationID uuid.UUID) error {
	return apperr.NotFound("mediation.not_found", "mediation not found").WithParam("mediationId", mediationID.String())
}
