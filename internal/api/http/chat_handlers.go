package httpapi

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	appChat "github.com/mediation-hub/mediation-hub/internal/application/chat"
	"github.com/mediation-hub/mediation-hub/internal/domain/chat"
)

type postMessageRequest struct {
	Body     string  `json:"body"`
	ImageURL *string `json:"imageUrl,omitempty"`
}

type markReadRequest struct {
	MessageIDs []uuid.UUID `json:"messageIds"`
}

type createSubChatRequest struct {
	ParticipantIDs []uuid.UUID `json:"participantIds"`
	Title          string      `json:"title"`
}

// parseHistoryWindow reads afterSeq and limit from the query string.
func parseHistoryWindow(r *http.Request) (int64, int) {
	limit, _ := parseLimitOffset(r, 100, 500)
	var after int64
	if v := r.URL.Query().Get("afterSeq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			after = n
		}
	}
	return after, limit
}

func respondMessages(w http.ResponseWriter, msgs []*chat.Message) {
	if msgs == nil {
		msgs = []*chat.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (s *Server) listMediationMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "mediationId")
	if !ok {
		return
	}
	after, limit := parseHistoryWindow(r)
	msgs, err := s.chatSvc.ListMediationMessages(r.Context(), actorFrom(r.Context()), id, after, limit)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondMessages(w, msgs)
}

func (s *Server) postMediationMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "mediationId")
	if !ok {
		return
	}
	var req postMessageRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	msg, err := s.chatSvc.PostMediationMessage(r.Context(), actorFrom(r.Context()), id, appChat.PostInput{Body: req.Body, ImageURL: req.ImageURL})
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) markMediationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "mediationId")
	if !ok {
		return
	}
	var req markReadRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	update, err := s.chatSvc.MarkMediationRead(r.Context(), actorFrom(r.Context()), id, req.MessageIDs)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, update)
}

func (s *Server) unreadSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "mediationId")
	if !ok {
		return
	}
	counts, err := s.chatSvc.UnreadSummary(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	if counts == nil {
		counts = []chat.UnreadCount{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"rooms": counts})
}

func (s *Server) listSubChats(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "mediationId")
	if !ok {
		return
	}
	subs, err := s.chatSvc.ListSubChats(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	if subs == nil {
		subs = []*chat.SubChat{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"subChats": subs})
}

func (s *Server) createSubChat(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "mediationId")
	if !ok {
		return
	}
	var req createSubChatRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	sub, err := s.chatSvc.CreateSubChat(r.Context(), actorFrom(r.Context()), id, appChat.CreateSubChatInput{
		ParticipantIDs: req.ParticipantIDs,
		Title:          req.Title,
	})
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sub)
}

func (s *Server) getSubChat(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "subChatId")
	if !ok {
		return
	}
	sub, err := s.chatSvc.GetSubChat(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (s *Server) listSubChatMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "subChatId")
	if !ok {
		return
	}
	after, limit := parseHistoryWindow(r)
	msgs, err := s.chatSvc.ListSubChatMessages(r.Context(), actorFrom(r.Context()), id, after, limit)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondMessages(w, msgs)
}

func (s *Server) postSubChatMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "subChatId")
	if !ok {
		return
	}
	var req postMessageRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	msg, err := s.chatSvc.PostSubChatMessage(r.Context(), actorFrom(r.Context()), id, appChat.PostInput{Body: req.Body, ImageURL: req.ImageURL})
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) markSubChatRead(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "subChatId")
	if !ok {
		return
	}
	var req markReadRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	update, err := s.chatSvc.MarkSubChatRead(r.Context(), actorFrom(r.Context()), id, req.MessageIDs)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, update)
}
