package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type classifies a notification for the client.
type Type string

const (
	TypeMediationAssigned  Type = "MEDIATION_ASSIGNED"
	TypeMediationAccepted  Type = "MEDIATION_ACCEPTED"
	TypeMediationRejected  Type = "MEDIATION_REJECTED"
	TypePartyConfirmed     Type = "PARTY_CONFIRMED"
	TypeEscrowFunded       Type = "ESCROW_FUNDED"
	TypeMediationStarted   Type = "MEDIATION_STARTED"
	TypeMediationCompleted Type = "MEDIATION_COMPLETED"
	TypeDisputeOpened      Type = "DISPUTE_OPENED"
	TypeDisputeResolved    Type = "DISPUTE_RESOLVED"
	TypeMediationCancelled Type = "MEDIATION_CANCELLED"
	TypeSubChatCreated     Type = "SUB_CHAT_CREATED"
	TypeBalanceDeposit     Type = "BALANCE_DEPOSIT"
)

// Notification is a durable per-user record. Delivery is best effort; the
// record is what a returning client catches up from.
type Notification struct {
	ID             int64           `json:"id"`
	NotificationID uuid.UUID       `json:"notificationId"`
	UserID         uuid.UUID       `json:"userId"`
	Type           Type            `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	ReadAt         *time.Time      `json:"readAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// New builds a notification, encoding payload as JSON.
func New(userID uuid.UUID, typ Type, payload interface{}) (*Notification, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Notification{
		NotificationID: uuid.New(),
		UserID:         userID,
		Type:           typ,
		Payload:        raw,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

// MarkRead sets the read time once. It reports whether anything changed.
func (n *Notification) MarkRead(at time.Time) bool {
	if n.ReadAt != nil {
		return false
	}
	n.ReadAt = &at
	return true
}

func (n *Notification) Clone() *Notification {
	cp := *n
	if n.ReadAt != nil {
		t := *n.ReadAt
		cp.ReadAt = &t
	}
	cp.Payload = append(json.RawMessage(nil), n.Payload...)
	return &cp
}
