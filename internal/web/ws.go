package web

import (
	"net/http"

	"github.com/madhatter5501/blaze/internal/auth"
)

// handleWS upgrades to the realtime channel. Browsers cannot set headers
// on an upgrade request, so the token may also arrive as ?token=.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if err := s.auth.Check(token); err != nil {
		s.logger.Warn("Rejected WebSocket connection", "remote", r.RemoteAddr)
		w.Header().Set("WWW-Authenticate", "Bearer")
		s.jsonError(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}

	s.hub.ServeWS(w, r, r.URL.Query().Get("client_id"))
}
