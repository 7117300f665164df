package httpapi

import (
	"net/http"
	"strings"

	appUser "github.com/mediation-hub/mediation-hub/internal/application/user"
	domainUser "github.com/mediation-hub/mediation-hub/internal/domain/user"
)

type userCreateRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
	Role        string `json:"role"`
}

type userUpdateRequest struct {
	DisplayName *string `json:"displayName,omitempty"`
	Role        *string `json:"role,omitempty"`
	Status      *string `json:"status,omitempty"`
}

type passwordUpdateRequest struct {
	Password string `json:"password"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	role := domainUser.RoleUser
	if req.Role != "" {
		role = domainUser.Role(strings.ToUpper(req.Role))
	}
	u, err := s.userSvc.CreateUser(r.Context(), actorFrom(r.Context()), appUser.CreateInput{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Role:        role,
		Status:      domainUser.StatusActive,
	})
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, u)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	var filter domainUser.Filter
	q := r.URL.Query()
	if v := q.Get("role"); v != "" {
		role := domainUser.Role(strings.ToUpper(v))
		filter.Role = &role
	}
	if v := q.Get("status"); v != "" {
		status := domainUser.Status(strings.ToUpper(v))
		filter.Status = &status
	}
	if v := q.Get("username"); v != "" {
		username := domainUser.NormalizeUsername(v)
		filter.Username = &username
	}
	limit, offset := parseLimitOffset(r, 50, 200)
	users, err := s.userSvc.ListUsers(r.Context(), actorFrom(r.Context()), filter, limit, offset)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	if users == nil {
		users = []*domainUser.User{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"users": users, "limit": limit, "offset": offset})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "userId")
	if !ok {
		return
	}
	u, err := s.userSvc.GetUser(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "userId")
	if !ok {
		return
	}
	var req userUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	input := appUser.UpdateInput{DisplayName: req.DisplayName}
	if req.Role != nil {
		role := domainUser.Role(strings.ToUpper(*req.Role))
		input.Role = &role
	}
	if req.Status != nil {
		status := domainUser.Status(strings.ToUpper(*req.Status))
		input.Status = &status
	}
	u, err := s.userSvc.UpdateUser(r.Context(), actorFrom(r.Context()), id, input)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (s *Server) setUserPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "userId")
	if !ok {
		return
	}
	var req passwordUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "request.invalid_body", err.Error())
		return
	}
	if err := s.userSvc.SetPassword(r.Context(), id, req.Password); err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "OK"})
}
