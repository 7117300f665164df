package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/mediation-hub/mediation-hub/internal/domain/mediation"
)

type mediationRepo struct {
	st *state
}

func (r *mediationRepo) Create(_ context.Context, m *mediation.Mediation) error {
	if _, ok := r.st.mediations[m.MediationID]; ok {
		return fmt.Errorf("mediation %s already exists", m.MediationID)
	}
	m.ID = r.st.id()
	r.st.mediations[m.MediationID] = m.Clone()
	return nil
}

func (r *mediationRepo) GetByID(_ context.Context, mediationID uuid.UUID) (*mediation.Mediation, error) {
	m, ok := r.st.mediations[mediationID]
	if !ok {
		return nil, nil
	}
	return m.Clone(), nil
}

// GetForUpdate is GetByID; the store lock already serializes transactions.
func (r *mediationRepo) GetForUpdate(ctx context.Context, mediationID uuid.UUID) (*mediation.Mediation, error) {
	return r.GetByID(ctx, mediationID)
}

func (r *mediationRepo) Update(_ context.Context, m *mediation.Mediation, expectedVersion int64) error {
	cur, ok := r.st.mediations[m.MediationID]
	if !ok {
		return fmt.Errorf("mediation %s does not exist", m.MediationID)
	}
	if cur.Version != expectedVersion {
		return mediation.ErrVersionConflict
	}
	r.st.mediations[m.MediationID] = m.Clone()
	return nil
}

func (r *mediationRepo) List(_ context.Context, filter mediation.Filter, limit, offset int) ([]*mediation.Mediation, error) {
	var out []*mediation.Mediation
	for _, m := range r.st.mediations {
		if filter.ParticipantID != nil && !m.IsParty(*filter.ParticipantID) && !m.IsOverseer(*filter.ParticipantID) {
			continue
		}
		if filter.Status != nil && m.Status != *filter.Status {
			continue
		}
		if filter.Unassigned && m.MediatorID != nil {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	start, end := paginate(len(out), limit, offset)
	return out[start:end], nil
}

func (r *mediationRepo) AppendHistory(_ context.Context, entries []mediation.HistoryEntry) error {
	for _, e := range entries {
		e.ID = r.st.id()
		r.st.history = append(r.st.history, e)
	}
	return nil
}

func (r *mediationRepo) ListHistory(_ context.Context, mediationID uuid.UUID) ([]mediation.HistoryEntry, error) {
	var out []mediation.HistoryEntry
	for _, e := range r.st.history {
		if e.MediationID == mediationID {
			out = append(out, e)
		}
	}
	return out, nil
}
