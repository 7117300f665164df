package httpapi

import (
	"net"
	"net/http"
	"time"

	"github.com/mediation-hub/mediation-hub/internal/domain/audit"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	User         interface{} `json:"user"`
	SessionID    string      `json:"sessionId"`
	ExpiresAt    string      `json:"expiresAt"`
	SessionToken string      `json:"sessionToken"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	userAgent := r.UserAgent()
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	res, err := s.authSvc.Login(r.Context(), req.Username, req.Password, &userAgent, &ip)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	s.auditSvc.Log(r.Context(), &audit.AuditEntry{
		EntityType: audit.EntityUser,
		EntityID:   res.User.UserID.String(),
		Action:     audit.ActionLogin,
		Actor:      res.User.ActorString(),
		ActorID:    &res.User.UserID,
		Reason:     "login",
	})

	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.SessionCookieName,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.Session.ExpiresAt,
		HttpOnly: true,
		Secure:   s.opts.SessionCookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	respondJSON(w, http.StatusOK, loginResponse{
		User:         res.User,
		SessionID:    res.Session.SessionID.String(),
		ExpiresAt:    res.Session.ExpiresAt.Format(time.RFC3339),
		SessionToken: res.Token,
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r, s.opts.SessionCookieName)
	if auth := authUserFromContext(r.Context()); auth != nil {
		s.auditSvc.Log(r.Context(), &audit.AuditEntry{
			EntityType: audit.EntityUser,
			EntityID:   auth.UserID.String(),
			Action:     audit.ActionLogout,
			Actor:      auth.ActorString(),
			ActorID:    &auth.UserID,
			Reason:     "logout",
		})
	}
	if err := s.authSvc.Logout(r.Context(), token); err != nil {
		s.respondAppError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.opts.SessionCookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "OK"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	u, err := s.userSvc.GetUser(r.Context(), actor, actor.UserID)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (s *Server) bootstrapAdmin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	u, err := s.userSvc.Bootstrap(r.Context(), req.Username, req.Password)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, u)
}
