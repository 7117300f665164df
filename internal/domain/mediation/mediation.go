package mediation

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
	"github.com/mediation-hub/mediation-hub/internal/domain/ledger"
)

// Status is the single source of truth for which actions are legal.
type Status string

const (
	StatusPendingMediatorSelection Status = "PENDING_MEDIATOR_SELECTION"
	StatusMediatorAssigned         Status = "MEDIATOR_ASSIGNED"
	StatusMediationOfferAccepted   Status = "MEDIATION_OFFER_ACCEPTED"
	StatusEscrowFunded             Status = "ESCROW_FUNDED"
	StatusPartiesConfirmed         Status = "PARTIES_CONFIRMED"
	StatusInProgress               Status = "IN_PROGRESS"
	StatusDisputed                 Status = "DISPUTED"
	StatusCompleted                Status = "COMPLETED"
	StatusCancelled                Status = "CANCELLED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPendingMediatorSelection,
	StatusMediatorAssigned,
	StatusMediationOfferAccepted,
	StatusEscrowFunded,
	StatusPartiesConfirmed,
	StatusInProgress,
	StatusDisputed,
	StatusCompleted,
	StatusCancelled,
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func ValidateStatus(s Status) error {
	for _, known := range Statuses {
		if s == known {
			return nil
		}
	}
	return apperr.Validation("mediation.invalid_status", "unknown mediation status").WithParam("status", string(s))
}

// PartyRole is the part a user plays on one specific mediation.
type PartyRole string

const (
	RoleSeller   PartyRole = "SELLER"
	RoleBuyer    PartyRole = "BUYER"
	RoleMediator PartyRole = "MEDIATOR"
	RoleOverseer PartyRole = "OVERSEER"
	RoleAdmin    PartyRole = "ADMIN"
)

// Mediation is the aggregate root of an escrow-backed transaction.
type Mediation struct {
	ID           int64       `json:"-"`
	MediationID  uuid.UUID   `json:"mediationId"`
	ProductTitle string      `json:"productTitle"`
	SellerID     uuid.UUID   `json:"sellerId"`
	BuyerID      uuid.UUID   `json:"buyerId"`
	MediatorID   *uuid.UUID  `json:"mediatorId,omitempty"`
	Overseers    []uuid.UUID `json:"overseers"`

	BidAmount        decimal.Decimal `json:"bidAmount"`
	BidCurrency      string          `json:"bidCurrency"`
	EscrowedAmount   decimal.Decimal `json:"escrowedAmount"`
	EscrowedCurrency string          `json:"escrowedCurrency,omitempty"`
	// EscrowHeld is the part of EscrowedAmount not yet settled. It drops to
	// zero exactly once.
	EscrowHeld  decimal.Decimal `json:"escrowHeld"`
	MediatorFee decimal.Decimal `json:"calculatedMediatorFee"`
	FeeCurrency string          `json:"feeCurrency,omitempty"`

	Status               Status `json:"status"`
	SellerConfirmedStart bool   `json:"sellerConfirmedStart"`
	BuyerConfirmedStart  bool   `json:"buyerConfirmedStart"`

	DisputeOpenedBy    *uuid.UUID `json:"disputeOpenedBy,omitempty"`
	DisputeOpenedAt    *time.Time `json:"disputeOpenedAt,omitempty"`
	DisputeReason      *string    `json:"disputeReason,omitempty"`
	ResolutionNotes    *string    `json:"resolutionNotes,omitempty"`
	WinnerID           *uuid.UUID `json:"winnerId,omitempty"`
	LoserID            *uuid.UUID `json:"loserId,omitempty"`
	CancellationReason *string    `json:"cancellationReason,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HistoryEntry records one status change.
type HistoryEntry struct {
	ID          int64      `json:"id"`
	MediationID uuid.UUID  `json:"mediationId"`
	FromStatus  Status     `json:"fromStatus"`
	ToStatus    Status     `json:"toStatus"`
	Action      Action     `json:"action"`
	ActorID     *uuid.UUID `json:"actorId,omitempty"`
	Reason      *string    `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// New opens a mediation request on behalf of the seller.
func New(sellerID, buyerID uuid.UUID, title string, bid decimal.Decimal, currency string, now time.Time) (*Mediation, error) {
	title = strings.TrimSpace(title)
	currency = ledger.NormalizeCurrency(currency)
	if title == "" {
		return nil, apperr.Validation("mediation.title_required", "product title is required")
	}
	if sellerID == uuid.Nil || buyerID == uuid.Nil {
		return nil, apperr.Validation("mediation.parties_required", "seller and buyer are required")
	}
	if sellerID == buyerID {
		return nil, apperr.Validation("mediation.same_party", "seller and buyer must be different users")
	}
	if !bid.IsPositive() {
		return nil, apperr.Validation("mediation.invalid_bid", "bid amount must be positive").WithParam("bidAmount", bid.String())
	}
	if err := ledger.ValidateCurrency(currency); err != nil {
		return nil, err
	}
	return &Mediation{
		MediationID:  uuid.New(),
		ProductTitle: title,
		SellerID:     sellerID,
		BuyerID:      buyerID,
		Overseers:    []uuid.UUID{},
		BidAmount:    bid.Round(2),
		BidCurrency:  currency,
		Status:       StatusPendingMediatorSelection,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// RolesOf returns the roles userID holds on this mediation.
func (m *Mediation) RolesOf(userID uuid.UUID, isAdmin bool) []PartyRole {
	var roles []PartyRole
	if userID == m.SellerID {
		roles = append(roles, RoleSeller)
	}
	if userID == m.BuyerID {
		roles = append(roles, RoleBuyer)
	}
	if m.MediatorID != nil && *m.MediatorID == userID {
		roles = append(roles, RoleMediator)
	}
	if m.IsOverseer(userID) {
		roles = append(roles, RoleOverseer)
	}
	if isAdmin {
		roles = append(roles, RoleAdmin)
	}
	return roles
}

func (m *Mediation) IsOverseer(userID uuid.UUID) bool {
	for _, id := range m.Overseers {
		if id == userID {
			return true
		}
	}
	return false
}

// IsParty reports whether userID is the seller, buyer or mediator.
func (m *Mediation) IsParty(userID uuid.UUID) bool {
	return userID == m.SellerID || userID == m.BuyerID || (m.MediatorID != nil && *m.MediatorID == userID)
}

// CanView reports whether userID may see the mediation at all. Admins see
// every mediation; acting on a dispute still requires overseer status.
func (m *Mediation) CanView(userID uuid.UUID, isAdmin bool) bool {
	return isAdmin || m.IsParty(userID) || m.IsOverseer(userID)
}

// Participants lists the members of the main chat room.
func (m *Mediation) Participants() []uuid.UUID {
	return m.UsersIn([]PartyRole{RoleSeller, RoleBuyer, RoleMediator, RoleOverseer})
}

// UsersIn resolves roles to distinct user ids.
func (m *Mediation) UsersIn(roles []PartyRole) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	out := make([]uuid.UUID, 0, 4)
	add := func(id uuid.UUID) {
		if id == uuid.Nil {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, r := range roles {
		switch r {
		case RoleSeller:
			add(m.SellerID)
		case RoleBuyer:
			add(m.BuyerID)
		case RoleMediator:
			if m.MediatorID != nil {
				add(*m.MediatorID)
			}
		case RoleOverseer:
			for _, id := range m.Overseers {
				add(id)
			}
		}
	}
	return out
}

func (m *Mediation) IsFunded() bool {
	return m.EscrowHeld.IsPositive()
}

// NetAmount is what the payee receives once the mediator fee is deducted.
func (m *Mediation) NetAmount() decimal.Decimal {
	net := m.EscrowedAmount.Sub(m.MediatorFee)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

// Clone returns a deep copy.
func (m *Mediation) Clone() *Mediation {
	cp := *m
	cp.Overseers = append([]uuid.UUID{}, m.Overseers...)
	cp.MediatorID = cloneUUID(m.MediatorID)
	cp.DisputeOpenedBy = cloneUUID(m.DisputeOpenedBy)
	cp.WinnerID = cloneUUID(m.WinnerID)
	cp.LoserID = cloneUUID(m.LoserID)
	cp.DisputeReason = cloneString(m.DisputeReason)
	cp.ResolutionNotes = cloneString(m.ResolutionNotes)
	cp.CancellationReason = cloneString(m.CancellationReason)
	if m.DisputeOpenedAt != nil {
		t := *m.DisputeOpenedAt
		cp.DisputeOpenedAt = &t
	}
	return &cp
}

func cloneUUID(v *uuid.UUID) *uuid.UUID {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
