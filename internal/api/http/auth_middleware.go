package httpapi

import (
	"net/http"
	"strings"

	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
)

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r, s.opts.SessionCookieName)
		u, sess, err := s.authSvc.Authenticate(r.Context(), token)
		if err != nil {
			s.respondAppError(w, r, err)
			return
		}
		ctx := withAuthUser(r.Context(), &AuthUser{Actor: u.Actor(), SessionID: sess.SessionID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{})
	for _, r := range roles {
		allowed[strings.ToUpper(r)] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := authUserFromContext(r.Context())
			if user == nil {
				respondError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "auth.missing_token", "missing auth")
				return
			}
			if _, ok := allowed[strings.ToUpper(string(user.Role))]; !ok {
				respondError(w, http.StatusForbidden, apperr.KindForbidden, "auth.insufficient_role", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken reads the session token from the Authorization header, the
// session cookie or, for browser stream clients, the token query parameter.
func extractToken(r *http.Request, cookieName string) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil {
			return c.Value
		}
	}
	return r.URL.Query().Get("token")
}
