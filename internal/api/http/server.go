package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appAudit "github.com/mediation-hub/mediation-hub/internal/application/audit"
	appAuth "github.com/mediation-hub/mediation-hub/internal/application/auth"
	appChat "github.com/mediation-hub/mediation-hub/internal/application/chat"
	appLedger "github.com/mediation-hub/mediation-hub/internal/application/ledger"
	appMediation "github.com/mediation-hub/mediation-hub/internal/application/mediation"
	appNotification "github.com/mediation-hub/mediation-hub/internal/application/notification"
	appUser "github.com/mediation-hub/mediation-hub/internal/application/user"
	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
	domainUser "github.com/mediation-hub/mediation-hub/internal/domain/user"
	"github.com/mediation-hub/mediation-hub/internal/infrastructure/sse"
	"github.com/mediation-hub/mediation-hub/internal/infrastructure/ws"
)

// Options carries transport settings.
type Options struct {
	SessionCookieName   string
	SessionCookieSecure bool
	// AllowedOrigins are host patterns accepted on WebSocket upgrades.
	AllowedOrigins []string
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	authSvc         *appAuth.Service
	userSvc         *appUser.Service
	mediationSvc    *appMediation.Service
	chatSvc         *appChat.Service
	ledgerSvc       *appLedger.Service
	notificationSvc *appNotification.Service
	auditSvc        *appAudit.Service
	sseHub          *sse.Hub
	wsHub           *ws.Hub
	socket          ws.Handler
	opts            Options
	logger          zerolog.Logger
}

func NewServer(
	authSvc *appAuth.Service,
	userSvc *appUser.Service,
	mediationSvc *appMediation.Service,
	chatSvc *appChat.Service,
	ledgerSvc *appLedger.Service,
	notificationSvc *appNotification.Service,
	auditSvc *appAudit.Service,
	sseHub *sse.Hub,
	wsHub *ws.Hub,
	socket ws.Handler,
	opts Options,
	logger zerolog.Logger,
) *Server {
	return &Server{
		authSvc:         authSvc,
		userSvc:         userSvc,
		mediationSvc:    mediationSvc,
		chatSvc:         chatSvc,
		ledgerSvc:       ledgerSvc,
		notificationSvc: notificationSvc,
		auditSvc:        auditSvc,
		sseHub:          sseHub,
		wsHub:           wsHub,
		socket:          socket,
		opts:            opts,
		logger:          logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		// Streams are long lived and stay outside the request timeout.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/events", s.sseEndpoint)
			r.Get("/ws", s.wsEndpoint)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Route("/auth", func(r chi.Router) {
				r.Post("/login", s.login)
				r.Post("/bootstrap", s.bootstrapAdmin)
				r.Group(func(r chi.Router) {
					r.Use(s.requireAuth)
					r.Post("/logout", s.logout)
					r.Get("/me", s.me)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				admin := s.requireRole(string(domainUser.RoleAdmin))

				r.Route("/users", func(r chi.Router) {
					r.With(admin).Post("/", s.createUser)
					r.With(admin).Get("/", s.listUsers)
					r.Get("/{userId}", s.getUser)
					r.With(admin).Patch("/{userId}", s.updateUser)
					r.With(admin).Put("/{userId}/password", s.setUserPassword)
				})

				r.Route("/me", func(r chi.Router) {
					r.Get("/balances", s.myBalances)
					r.Get("/ledger", s.myLedger)
				})

				r.Route("/mediations", func(r chi.Router) {
					r.Post("/", s.createMediation)
					r.Get("/", s.listMediations)
					r.Route("/{mediationId}", func(r chi.Router) {
						r.Get("/", s.getMediation)
						r.Get("/history", s.mediationHistory)
						r.With(admin).Post("/assign-mediator", s.assignMediator)
						r.Post("/mediator-accept", s.mediatorAccept)
						r.Post("/mediator-reject", s.mediatorReject)
						r.Post("/seller-confirm", s.sellerConfirm)
						r.Post("/buyer-confirm", s.buyerConfirm)
						r.Post("/confirm-receipt", s.confirmReceipt)
						r.Post("/dispute", s.openDispute)
						r.Post("/cancel", s.cancelMediation)

						r.Get("/messages", s.listMediationMessages)
						r.Post("/messages", s.postMediationMessage)
						r.Post("/messages/read", s.markMediationRead)
						r.Get("/unread", s.unreadSummary)
						r.Get("/subchats", s.listSubChats)
					})
				})

				r.Route("/subchats/{subChatId}", func(r chi.Router) {
					r.Get("/", s.getSubChat)
					r.Get("/messages", s.listSubChatMessages)
					r.Post("/messages", s.postSubChatMessage)
					r.Post("/messages/read", s.markSubChatRead)
				})

				r.Route("/notifications", func(r chi.Router) {
					r.Get("/", s.listNotifications)
					r.Post("/{notificationId}/read", s.markNotificationRead)
				})

				r.Route("/admin", func(r chi.Router) {
					r.Use(admin)
					r.Post("/ledger/deposits", s.deposit)
					r.Get("/mediations/pending", s.pendingMediations)
					r.Post("/mediations/{mediationId}/resolve", s.resolveDispute)
					r.Post("/mediations/{mediationId}/subchats", s.createSubChat)
					r.Get("/audit", s.queryAudit)
					r.Get("/audit/{auditId}/verify", s.verifyAudit)
				})
			})
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   apperr.Kind            `json:"error"`
	Key     string                 `json:"key"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

func respondError(w http.ResponseWriter, status int, kind apperr.Kind, key, message string) {
	respondJSON(w, status, errorBody{Error: kind, Key: key, Message: message})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondAppError renders err by its kind. Unclassified errors are logged
// and answered with a generic body.
func (s *Server) respondAppError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		s.logger.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		respondError(w, http.StatusInternalServerError, apperr.KindInternal, "internal_error", "internal error")
		return
	}
	respondJSON(w, statusFor(e.Kind), errorBody{Error: e.Kind, Key: e.Key, Message: e.Message, Params: e.Params})
}

func badRequest(w http.ResponseWriter, key, message string) {
	respondError(w, http.StatusBadRequest, apperr.KindValidation, key, message)
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, key))
}

// uuidParam parses a path id and answers 400 when it is malformed.
func uuidParam(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := parseUUIDParam(r, key)
	if err != nil {
		badRequest(w, "request.invalid_id", "invalid "+key)
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(r *http.Request, v interface{}) error {
	if err := decodeBody(r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
