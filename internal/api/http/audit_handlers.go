package httpapi

import (
	"net/http"
	"strconv"
	"time"

	appAudit "github.com/mediation-hub/mediation-hub/internal/application/audit"
)

func (s *Server) queryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := appAudit.QueryParams{Limit: 50}
	for key, dst := range map[string]**string{
		"entityType": &params.EntityType,
		"entityId":   &params.EntityID,
		"action":     &params.Action,
		"actor":      &params.Actor,
		"riskLevel":  &params.RiskLevel,
		"cursor":     &params.Cursor,
	} {
		if v := q.Get(key); v != "" {
			*dst = &v
		}
	}
	if v := q.Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			params.Limit = l
		}
	}
	for key, dst := range map[string]**time.Time{
		"startTime": &params.StartTime,
		"endTime":   &params.EndTime,
	} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(w, "request.invalid_time", key+" must be RFC3339")
			return
		}
		*dst = &t
	}
	res, err := s.auditSvc.Query(r.Context(), params)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) verifyAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "auditId")
	if !ok {
		return
	}
	res, err := s.auditSvc.Verify(r.Context(), id)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
