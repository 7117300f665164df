package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appLedger "github.com/mediation-hub/mediation-hub/internal/application/ledger"
	"github.com/mediation-hub/mediation-hub/internal/domain/ledger"
)

type depositRequest struct {
	UserID   uuid.UUID       `json:"userId"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Note     string          `json:"note,omitempty"`
}

func (s *Server) myBalances(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	accounts, err := s.ledgerSvc.Balances(r.Context(), actor.UserID)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []*ledger.Account{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"balances": accounts})
}

func (s *Server) myLedger(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	limit, offset := parseLimitOffset(r, 50, 200)
	entries, err := s.ledgerSvc.Entries(r.Context(), actor.UserID, limit, offset)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "limit": limit, "offset": offset})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	account, err := s.ledgerSvc.Deposit(r.Context(), actorFrom(r.Context()), appLedger.DepositInput{
		UserID:   req.UserID,
		Currency: req.Currency,
		Amount:   req.Amount,
		Note:     req.Note,
	})
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}
