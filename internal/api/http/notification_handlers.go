package httpapi

import "net/http"

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 50, 200)
	unreadOnly := r.URL.Query().Get("unread") == "true"
	inbox, err := s.notificationSvc.List(r.Context(), actorFrom(r.Context()), unreadOnly, limit, offset)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, inbox)
}

func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "notificationId")
	if !ok {
		return
	}
	n, err := s.notificationSvc.MarkRead(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}
