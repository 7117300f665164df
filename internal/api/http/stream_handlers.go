package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
)

const sseHeartbeat = 25 * time.Second

// sseEndpoint streams every event addressed to the caller.
func (s *Server) sseEndpoint(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, apperr.KindInternal, "streaming_unsupported", "streaming not supported")
		return
	}
	ctx := r.Context()
	actor := actorFrom(ctx)
	client, err := s.sseHub.Register(ctx, actor.UserID)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	defer s.sseHub.Unregister(ctx, client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case ev, open := <-client.Events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn().Err(err).Str("event", string(ev.Name)).Msg("failed to encode sse event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, payload); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// wsEndpoint upgrades to a socket bound to the caller.
func (s *Server) wsEndpoint(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.AllowedOrigins})
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	if err := s.wsHub.Serve(r.Context(), conn, actor.UserID, s.socket); err != nil {
		s.logger.Debug().Err(err).Str("user_id", actor.UserID.String()).Msg("websocket closed")
	}
}
