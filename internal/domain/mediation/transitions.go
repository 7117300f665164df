package mediation

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
	"github.com/mediation-hub/mediation-hub/internal/domain/ledger"
	"github.com/mediation-hub/mediation-hub/internal/domain/notification"
)

// Action is a request to move the aggregate.
type Action string

const (
	ActionAssignMediator        Action = "ASSIGN_MEDIATOR"
	ActionMediatorAccept        Action = "MEDIATOR_ACCEPT"
	ActionMediatorReject        Action = "MEDIATOR_REJECT"
	ActionSellerConfirm         Action = "SELLER_CONFIRM"
	ActionBuyerConfirmAndEscrow Action = "BUYER_CONFIRM_AND_ESCROW"
	ActionConfirmReceipt        Action = "CONFIRM_RECEIPT"
	ActionOpenDispute           Action = "OPEN_DISPUTE"
	ActionResolveDispute        Action = "RESOLVE_DISPUTE"
	ActionCancelDispute         Action = "CANCEL_DISPUTE"
	ActionPartyCancel           Action = "PARTY_CANCEL"
	// ActionAdvance marks the automatic PARTIES_CONFIRMED -> IN_PROGRESS steps.
	ActionAdvance Action = "ADVANCE"
)

// LedgerEffect names the money movement a transition performs.
type LedgerEffect string

const (
	LedgerNone           LedgerEffect = "NONE"
	LedgerHold           LedgerEffect = "HOLD"
	LedgerRelease        LedgerEffect = "RELEASE"
	LedgerRefund         LedgerEffect = "REFUND"
	LedgerRefundIfFunded LedgerEffect = "REFUND_IF_FUNDED"
)

// MessageKey identifies a system chat message.
type MessageKey string

const (
	MsgMediatorAssigned  MessageKey = "system.mediator_assigned"
	MsgMediatorAccepted  MessageKey = "system.mediator_accepted"
	MsgMediatorRejected  MessageKey = "system.mediator_rejected"
	MsgSellerConfirmed   MessageKey = "system.seller_confirmed"
	MsgEscrowFunded      MessageKey = "system.escrow_funded"
	MsgMediationStarted  MessageKey = "system.mediation_started"
	MsgReceiptConfirmed  MessageKey = "system.receipt_confirmed"
	MsgDisputeOpened     MessageKey = "system.dispute_opened"
	MsgDisputeResolved   MessageKey = "system.dispute_resolved"
	MsgDisputeCancelled  MessageKey = "system.dispute_cancelled"
	MsgMediationCanceled MessageKey = "system.mediation_cancelled"
)

var messageText = map[MessageKey]string{
	MsgMediatorAssigned:  "A mediator has been assigned to this transaction.",
	MsgMediatorAccepted:  "The mediator accepted the assignment.",
	MsgMediatorRejected:  "The mediator declined the assignment. A new mediator will be selected.",
	MsgSellerConfirmed:   "The seller confirmed they are ready to start.",
	MsgEscrowFunded:      "The buyer confirmed and the funds are now held in escrow.",
	MsgMediationStarted:  "Both parties confirmed. The mediation is in progress.",
	MsgReceiptConfirmed:  "The buyer confirmed receipt. Funds were released to the seller.",
	MsgDisputeOpened:     "A dispute was opened. An administrator will review the case.",
	MsgDisputeResolved:   "The dispute was resolved by an administrator.",
	MsgDisputeCancelled:  "The mediation was cancelled by an administrator and the buyer refunded.",
	MsgMediationCanceled: "The mediation was cancelled.",
}

// Text returns the default rendering of the system message.
func (k MessageKey) Text() string {
	if t, ok := messageText[k]; ok {
		return t
	}
	return string(k)
}

// Transition is one row of the lifecycle table.
type Transition struct {
	From          Status
	Action        Action
	To            Status
	Actors        []PartyRole
	Ledger        LedgerEffect
	SystemMessage MessageKey
	Notify        []PartyRole
	Notification  notification.Type
}

// Permits reports whether any of roles may perform the transition.
func (t Transition) Permits(roles []PartyRole) bool {
	for _, want := range t.Actors {
		for _, have := range roles {
			if want == have {
				return true
			}
		}
	}
	return false
}

type transitionKey struct {
	from   Status
	action Action
}

var (
	parties    = []PartyRole{RoleSeller, RoleBuyer}
	everyone   = []PartyRole{RoleSeller, RoleBuyer, RoleMediator}
	preStarted = []Status{StatusPendingMediatorSelection, StatusMediatorAssigned, StatusMediationOfferAccepted, StatusEscrowFunded}
)

var table = buildTable()

func buildTable() map[transitionKey]Transition {
	rows := []Transition{
		{From: StatusPendingMediatorSelection, Action: ActionAssignMediator, To: StatusMediatorAssigned,
			Actors: []PartyRole{RoleAdmin}, Ledger: LedgerNone, SystemMessage: MsgMediatorAssigned,
			Notify: everyone, Notification: notification.TypeMediationAssigned},
		{From: StatusMediatorAssigned, Action: ActionMediatorAccept, To: StatusMediationOfferAccepted,
			Actors: []PartyRole{RoleMediator}, Ledger: LedgerNone, SystemMessage: MsgMediatorAccepted,
			Notify: parties, Notification: notification.TypeMediationAccepted},
		{From: StatusMediatorAssigned, Action: ActionMediatorReject, To: StatusPendingMediatorSelection,
			Actors: []PartyRole{RoleMediator}, Ledger: LedgerNone, SystemMessage: MsgMediatorRejected,
			Notify: parties, Notification: notification.TypeMediationRejected},
		{From: StatusMediationOfferAccepted, Action: ActionSellerConfirm, To: StatusMediationOfferAccepted,
			Actors: []PartyRole{RoleSeller}, Ledger: LedgerNone, SystemMessage: MsgSellerConfirmed,
			Notify: []PartyRole{RoleBuyer, RoleMediator}, Notification: notification.TypePartyConfirmed},
		{From: StatusMediationOfferAccepted, Action: ActionBuyerConfirmAndEscrow, To: StatusEscrowFunded,
			Actors: []PartyRole{RoleBuyer}, Ledger: LedgerHold, SystemMessage: MsgEscrowFunded,
			Notify: []PartyRole{RoleSeller, RoleMediator}, Notification: notification.TypeEscrowFunded},
		{From: StatusEscrowFunded, Action: ActionSellerConfirm, To: StatusInProgress,
			Actors: []PartyRole{RoleSeller}, Ledger: LedgerNone, SystemMessage: MsgMediationStarted,
			Notify: []PartyRole{RoleBuyer, RoleMediator}, Notification: notification.TypeMediationStarted},
		{From: StatusInProgress, Action: ActionConfirmReceipt, To: StatusCompleted,
			Actors: []PartyRole{RoleBuyer}, Ledger: LedgerRelease, SystemMessage: MsgReceiptConfirmed,
			Notify: []PartyRole{RoleSeller, RoleMediator}, Notification: notification.TypeMediationCompleted},
		{From: StatusInProgress, Action: ActionOpenDispute, To: StatusDisputed,
			Actors: parties, Ledger: LedgerNone, SystemMessage: MsgDisputeOpened,
			Notify: []PartyRole{RoleSeller, RoleBuyer, RoleMediator, RoleOverseer}, Notification: notification.TypeDisputeOpened},
		{From: StatusDisputed, Action: ActionResolveDispute, To: StatusCompleted,
			Actors: []PartyRole{RoleOverseer}, Ledger: LedgerRelease, SystemMessage: MsgDisputeResolved,
			Notify: everyone, Notification: notification.TypeDisputeResolved},
		{From: StatusDisputed, Action: ActionCancelDispute, To: StatusCancelled,
			Actors: []PartyRole{RoleOverseer}, Ledger: LedgerRefund, SystemMessage: MsgDisputeCancelled,
			Notify: everyone, Notification: notification.TypeMediationCancelled},
	}
	for _, from := range preStarted {
		rows = append(rows, Transition{From: from, Action: ActionPartyCancel, To: StatusCancelled,
			Actors: parties, Ledger: LedgerRefundIfFunded, SystemMessage: MsgMediationCanceled,
			Notify: everyone, Notification: notification.TypeMediationCancelled})
	}

	out := make(map[transitionKey]Transition, len(rows))
	for _, r := range rows {
		out[transitionKey{from: r.From, action: r.Action}] = r
	}
	return out
}

// Lookup returns the transition for (from, action).
func Lookup(from Status, action Action) (Transition, bool) {
	t, ok := table[transitionKey{from: from, action: action}]
	return t, ok
}

// Table returns every transition ordered by source status and action.
func Table() []Transition {
	order := make(map[Status]int, len(Statuses))
	for i, s := range Statuses {
		order[s] = i
	}
	out := make([]Transition, 0, len(table))
	for _, t := range table {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return order[out[i].From] < order[out[j].From]
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// Actor is the authenticated caller.
type Actor struct {
	UserID uuid.UUID
	Admin  bool
}

// Resolve checks the state guard first and the actor guard second.
func Resolve(m *Mediation, action Action, actor Actor) (Transition, error) {
	t, ok := Lookup(m.Status, action)
	if !ok {
		return Transition{}, apperr.InvalidState("action is not allowed in the current status").
			WithParam("status", string(m.Status)).
			WithParam("action", string(action))
	}
	if !t.Permits(m.RolesOf(actor.UserID, actor.Admin)) {
		return Transition{}, apperr.Forbidden("mediation.actor_not_allowed", "you are not allowed to perform this action on this mediation").
			WithParam("action", string(action))
	}
	return t, nil
}

// Input carries the action specific arguments.
type Input struct {
	MediatorID uuid.UUID
	Fee        decimal.Decimal
	Reason     string
	Notes      string
	WinnerID   uuid.UUID
	LoserID    uuid.UUID
	Overseers  []uuid.UUID
}

// Outcome is everything a successful Apply produced besides the mutated
// aggregate.
type Outcome struct {
	Transition     Transition
	From           Status
	History        []HistoryEntry
	Postings       []ledger.Posting
	SystemMessages []MessageKey
	Notification   notification.Type
}

// Apply validates in and mutates m according to t. On error m is unchanged.
func (m *Mediation) Apply(t Transition, actor Actor, in Input, now time.Time) (*Outcome, error) {
	if m.Status != t.From {
		return nil, apperr.InvalidState("mediation status changed").WithParam("status", string(m.Status))
	}
	next := m.Clone()
	out := &Outcome{
		Transition:     t,
		From:           m.Status,
		SystemMessages: []MessageKey{t.SystemMessage},
		Notification:   t.Notification,
	}
	var reason *string

	switch t.Action {
	case ActionAssignMediator:
		if in.MediatorID == uuid.Nil {
			return nil, apperr.Validation("mediation.mediator_required", "mediator is required")
		}
		if in.MediatorID == m.SellerID || in.MediatorID == m.BuyerID {
			return nil, apperr.Validation("mediation.mediator_is_party", "the mediator cannot be a party to the transaction")
		}
		if in.Fee.IsNegative() || in.Fee.GreaterThan(m.BidAmount) {
			return nil, apperr.Validation("mediation.invalid_fee", "mediator fee must be between zero and the bid amount").
				WithParam("fee", in.Fee.String())
		}
		id := in.MediatorID
		next.MediatorID = &id
		next.MediatorFee = in.Fee.Round(2)
		next.FeeCurrency = m.BidCurrency

	case ActionMediatorAccept:

	case ActionMediatorReject:
		r, err := requireText(in.Reason, "mediation.reason_required", "a reason is required")
		if err != nil {
			return nil, err
		}
		reason = &r
		next.MediatorID = nil
		next.MediatorFee = decimal.Zero
		next.FeeCurrency = ""

	case ActionSellerConfirm:
		if m.SellerConfirmedStart {
			return nil, apperr.Conflict("mediation.already_confirmed", "seller already confirmed")
		}
		next.SellerConfirmedStart = true

	case ActionBuyerConfirmAndEscrow:
		if m.BuyerConfirmedStart {
			return nil, apperr.Conflict("mediation.already_confirmed", "buyer already confirmed")
		}
		next.BuyerConfirmedStart = true
		next.EscrowedAmount = m.BidAmount
		next.EscrowedCurrency = m.BidCurrency
		next.EscrowHeld = m.BidAmount
		if next.FeeCurrency == "" {
			next.FeeCurrency = m.BidCurrency
		}

	case ActionConfirmReceipt:
		next.EscrowHeld = decimal.Zero

	case ActionOpenDispute:
		if len(in.Overseers) == 0 {
			return nil, apperr.Validation("mediation.no_overseers", "no administrator is available to oversee the dispute")
		}
		by := actor.UserID
		at := now
		next.DisputeOpenedBy = &by
		next.DisputeOpenedAt = &at
		next.Overseers = dedupe(in.Overseers)
		if r := strings.TrimSpace(in.Reason); r != "" {
			next.DisputeReason = &r
			reason = &r
		}

	case ActionResolveDispute:
		notes, err := requireText(in.Notes, "mediation.notes_required", "resolution notes are required")
		if err != nil {
			return nil, err
		}
		if !m.isRuling(in.WinnerID, in.LoserID) {
			return nil, apperr.Validation("mediation.invalid_ruling", "winner and loser must be the buyer and the seller of this mediation").
				WithParam("winnerId", in.WinnerID.String()).
				WithParam("loserId", in.LoserID.String())
		}
		w, l := in.WinnerID, in.LoserID
		next.ResolutionNotes = &notes
		next.WinnerID = &w
		next.LoserID = &l
		next.EscrowHeld = decimal.Zero
		reason = &notes

	case ActionCancelDispute:
		notes, err := requireText(in.Notes, "mediation.notes_required", "resolution notes are required")
		if err != nil {
			return nil, err
		}
		next.ResolutionNotes = &notes
		next.CancellationReason = &notes
		next.EscrowHeld = decimal.Zero
		reason = &notes

	case ActionPartyCancel:
		r, err := requireText(in.Reason, "mediation.reason_required", "a reason is required")
		if err != nil {
			return nil, err
		}
		next.CancellationReason = &r
		next.EscrowHeld = decimal.Zero
		reason = &r

	default:
		return nil, apperr.Validation("mediation.unknown_action", "unknown action").WithParam("action", string(t.Action))
	}

	out.Postings = m.settlement(t, in)

	actorID := actor.UserID
	next.Status = t.To
	if t.From == StatusEscrowFunded && t.To == StatusInProgress {
		// IN_PROGRESS is reached through PARTIES_CONFIRMED below.
		next.Status = StatusEscrowFunded
	} else {
		out.History = append(out.History, HistoryEntry{
			MediationID: m.MediationID, FromStatus: t.From, ToStatus: t.To,
			Action: t.Action, ActorID: &actorID, Reason: reason, CreatedAt: now,
		})
	}
	if next.Status == StatusEscrowFunded && next.SellerConfirmedStart && next.BuyerConfirmedStart {
		out.History = append(out.History,
			HistoryEntry{MediationID: m.MediationID, FromStatus: StatusEscrowFunded, ToStatus: StatusPartiesConfirmed,
				Action: t.Action, ActorID: &actorID, CreatedAt: now},
			HistoryEntry{MediationID: m.MediationID, FromStatus: StatusPartiesConfirmed, ToStatus: StatusInProgress,
				Action: ActionAdvance, CreatedAt: now},
		)
		next.Status = StatusInProgress
		if t.Action == ActionBuyerConfirmAndEscrow {
			out.SystemMessages = append(out.SystemMessages, MsgMediationStarted)
			out.Notification = notification.TypeMediationStarted
		}
	}

	next.Version = m.Version + 1
	next.UpdatedAt = now
	*m = *next
	return out, nil
}

// settlement computes the postings for t from the pre-transition state.
func (m *Mediation) settlement(t Transition, in Input) []ledger.Posting {
	net := m.NetAmount()
	switch t.Ledger {
	case LedgerHold:
		bidNet := m.BidAmount.Sub(m.MediatorFee)
		ps := []ledger.Posting{
			{UserID: m.BuyerID, Currency: m.BidCurrency, Kind: ledger.EntryEscrowHold, Amount: m.BidAmount},
		}
		if bidNet.IsPositive() {
			ps = append(ps, ledger.Posting{UserID: m.SellerID, Currency: m.BidCurrency, Kind: ledger.EntryPendingAdd, Amount: bidNet})
		}
		return ps
	case LedgerRelease:
		winner := m.SellerID
		if t.Action == ActionResolveDispute {
			winner = in.WinnerID
		}
		ps := []ledger.Posting{
			{UserID: m.BuyerID, Currency: m.EscrowedCurrency, Kind: ledger.EntryEscrowRelease, Amount: m.EscrowHeld},
		}
		if net.IsPositive() {
			ps = append(ps,
				ledger.Posting{UserID: m.SellerID, Currency: m.EscrowedCurrency, Kind: ledger.EntryPendingClear, Amount: net},
				ledger.Posting{UserID: winner, Currency: m.EscrowedCurrency, Kind: ledger.EntryPayout, Amount: net},
			)
		}
		if m.MediatorFee.IsPositive() && m.MediatorID != nil {
			ps = append(ps, ledger.Posting{UserID: *m.MediatorID, Currency: m.FeeCurrency, Kind: ledger.EntryFee, Amount: m.MediatorFee})
		}
		return ps
	case LedgerRefund, LedgerRefundIfFunded:
		if !m.IsFunded() {
			return nil
		}
		ps := []ledger.Posting{
			{UserID: m.BuyerID, Currency: m.EscrowedCurrency, Kind: ledger.EntryEscrowRelease, Amount: m.EscrowHeld},
		}
		if net.IsPositive() {
			ps = append(ps, ledger.Posting{UserID: m.SellerID, Currency: m.EscrowedCurrency, Kind: ledger.EntryPendingClear, Amount: net})
		}
		ps = append(ps, ledger.Posting{UserID: m.BuyerID, Currency: m.EscrowedCurrency, Kind: ledger.EntryRefund, Amount: m.EscrowHeld})
		return ps
	default:
		return nil
	}
}

func (m *Mediation) isRuling(winner, loser uuid.UUID) bool {
	if winner == loser {
		return false
	}
	return (winner == m.BuyerID && loser == m.SellerID) || (winner == m.SellerID && loser == m.BuyerID)
}

func requireText(v, key, msg string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", apperr.Validation(key, msg)
	}
	return v, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == uuid.Nil {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
