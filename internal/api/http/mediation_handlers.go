package httpapi

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appMediation "github.com/mediation-hub/mediation-hub/internal/application/mediation"
	"github.com/mediation-hub/mediation-hub/internal/domain/mediation"
	"github.com/mediation-hub/mediation-hub/internal/domain/user"
)

type mediationCreateRequest struct {
	BuyerID      uuid.UUID       `json:"buyerId"`
	ProductTitle string          `json:"productTitle"`
	BidAmount    decimal.Decimal `json:"bidAmount"`
	Currency     string          `json:"currency"`
}

type assignMediatorRequest struct {
	MediatorID uuid.UUID `json:"mediatorId"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type resolveRequest struct {
	WinnerID        *uuid.UUID `json:"winnerId,omitempty"`
	LoserID         *uuid.UUID `json:"loserId,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes"`
	CancelMediation bool       `json:"cancelMediation"`
}

func (s *Server) createMediation(w http.ResponseWriter, r *http.Request) {
	var req mediationCreateRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	m, err := s.mediationSvc.Create(r.Context(), actorFrom(r.Context()), appMediation.CreateInput{
		BuyerID:      req.BuyerID,
		ProductTitle: req.ProductTitle,
		BidAmount:    req.BidAmount,
		Currency:     req.Currency,
	})
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

func (s *Server) listMediations(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 50, 200)
	input := appMediation.ListInput{Limit: limit, Offset: offset, All: r.URL.Query().Get("all") == "true"}
	if v := r.URL.Query().Get("status"); v != "" {
		status := mediation.Status(strings.ToUpper(v))
		input.Status = &status
	}
	items, err := s.mediationSvc.List(r.Context(), actorFrom(r.Context()), input)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondMediations(w, items, limit, offset)
}

func (s *Server) pendingMediations(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 50, 200)
	items, err := s.mediationSvc.ListPendingAssignment(r.Context(), actorFrom(r.Context()), limit, offset)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondMediations(w, items, limit, offset)
}

func respondMediations(w http.ResponseWriter, items []*mediation.Mediation, limit, offset int) {
	if items == nil {
		items = []*mediation.Mediation{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"mediations": items, "limit": limit, "offset": offset})
}

func (s *Server) getMediation(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "mediationId")
	if !ok {
		return
	}
	m, err := s.mediationSvc.Get(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) mediationHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "mediationId")
	if !ok {
		return
	}
	entries, err := s.mediationSvc.History(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	if entries == nil {
		entries = []mediation.HistoryEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// transitionHandler adapts a body-less lifecycle action.
func (s *Server) transitionHandler(fn func(*Server, *http.Request, user.Actor, uuid.UUID) (*mediation.Mediation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "mediationId")
		if !ok {
			return
		}
		m, err := fn(s, r, actorFrom(r.Context()), id)
		if err != nil {
			s.respondAppError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, m)
	}
}

func (s *Server) assignMediator(w http.ResponseWriter, r *http.Request) {
	var req assignMediatorRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	s.transitionHandler(func(s *Server, r *http.Request, actor user.Actor, id uuid.UUID) (*mediation.Mediation, error) {
		return s.mediationSvc.AssignMediator(r.Context(), actor, id, req.MediatorID)
	})(w, r)
}

func (s *Server) mediatorAccept(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(func(s *Server, r *http.Request, actor user.Actor, id uuid.UUID) (*mediation.Mediation, error) {
		return s.mediationSvc.MediatorAccept(r.Context(), actor, id)
	})(w, r)
}

func (s *Server) mediatorReject(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	s.transitionHandler(func(s *Server, r *http.Request, actor user.Actor, id uuid.UUID) (*mediation.Mediation, error) {
		return s.mediationSvc.MediatorReject(r.Context(), actor, id, req.Reason)
	})(w, r)
}

func (s *Server) sellerConfirm(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(func(s *Server, r *http.Request, actor user.Actor, id uuid.UUID) (*mediation.Mediation, error) {
		return s.mediationSvc.SellerConfirm(r.Context(), actor, id)
	})(w, r)
}

func (s *Server) buyerConfirm(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(func(s *Server, r *http.Request, actor user.Actor, id uuid.UUID) (*mediation.Mediation, error) {
		return s.mediationSvc.BuyerConfirmAndEscrow(r.Context(), actor, id)
	})(w, r)
}

func (s *Server) confirmReceipt(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(func(s *Server, r *http.Request, actor user.Actor, id uuid.UUID) (*mediation.Mediation, error) {
		return s.mediationSvc.ConfirmReceipt(r.Context(), actor, id)
	})(w, r)
}

func (s *Server) openDispute(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	s.transitionHandler(func(s *Server, r *http.Request, actor user.Actor, id uuid.UUID) (*mediation.Mediation, error) {
		return s.mediationSvc.OpenDispute(r.Context(), actor, id, req.Reason)
	})(w, r)
}

func (s *Server) cancelMediation(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	s.transitionHandler(func(s *Server, r *http.Request, actor user.Actor, id uuid.UUID) (*mediation.Mediation, error) {
		return s.mediationSvc.Cancel(r.Context(), actor, id, req.Reason)
	})(w, r)
}

func (s *Server) resolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	s.transitionHandler(func(s *Server, r *http.Request, actor user.Actor, id uuid.UUID) (*mediation.Mediation, error) {
		return s.mediationSvc.ResolveDispute(r.Context(), actor, id, appMediation.ResolveInput{
			WinnerID:        req.WinnerID,
			LoserID:         req.LoserID,
			ResolutionNotes: req.ResolutionNotes,
			CancelMediation: req.CancelMediation,
		})
	})(w, r)
}
