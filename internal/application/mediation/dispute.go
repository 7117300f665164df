package mediation

import (
	"context"

	"github.com/google/uuid"

	domain "github.com/mediation-hub/mediation-hub/internal/domain/mediation"
	"github.com/mediation-hub/mediation-hub/internal/domain/user"
)

// OpenDispute moves an in-progress mediation to DISPUTED. Every active admin
// becomes an overseer.
func (s *Service) OpenDispute(ctx context.Context, actor user.Actor, mediationID uuid.UUID, reason string) (*domain.Mediation, error) {
	return s.transition(ctx, actor, mediationID, domain.ActionOpenDispute, domain.Input{Reason: reason})
}

// ResolveInput is an overseer's decision.
type ResolveInput struct {
	WinnerID        *uuid.UUID
	LoserID         *uuid.UUID
	ResolutionNotes string
	CancelMediation bool
}

// ResolveDispute rules in favour of a party or cancels the mediation with a
// full refund to the buyer.
func (s *Service) ResolveDispute(ctx context.Context, actor user.Actor, mediationID uuid.UUID, input ResolveInput) (*domain.Mediation, error) {
	if input.CancelMediation {
		return s.transition(ctx, actor, mediationID, domain.ActionCancelDispute, domain.Input{Notes: input.ResolutionNotes})
	}
	in := domain.Input{Notes: input.ResolutionNotes}
	if input.WinnerID != nil {
		in.WinnerID = *input.WinnerID
	}
	if input.LoserID != nil {
		in.LoserID = *input.LoserID
	}
	return s.transition(ctx, actor, mediationID, domain.ActionResolveDispute, in)
}
