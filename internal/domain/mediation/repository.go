package mediation

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrVersionConflict is returned by Update when the stored version moved.
var ErrVersionConflict = errors.New("mediation version conflict")

// Filter controls mediation listing.
type Filter struct {
	ParticipantID *uuid.UUID
	Status        *Status
	Unassigned    bool
}

// Repository defines persistence for mediations and their history.
type Repository interface {
	Create(ctx context.Context, m *Mediation) error
	GetByID(ctx context.Context, mediationID uuid.UUID) (*Mediation, error)
	// GetForUpdate loads the aggregate and locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, mediationID uuid.UUID) (*Mediation, error)
	// Update persists m if the stored version equals expectedVersion.
	Update(ctx context.Context, m *Mediation, expectedVersion int64) error
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Mediation, error)
	AppendHistory(ctx context.Context, entries []HistoryEntry) error
	ListHistory(ctx context.Context, mediationID uuid.UUID) ([]HistoryEntry, error)
}
