package web

import (
	"net/http"
	"strconv"

	"github.com/madhatter5501/blaze/kanban"
)

func (s *Server) apiAgentReady(w http.ResponseWriter, r *http.Request) {
	cards := s.svc.AgentReady()
	if cards == nil {
		cards = []kanban.Card{}
	}
	s.jsonResponse(w, cards)
}

func (s *Server) apiAgentProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	card, err := s.svc.AddProgress(r.Context(), r.PathValue("id"), req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, card)
}

func (s *Server) apiAgentStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status        string `json:"status"`
		BlockedReason string `json:"blocked_reason"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	card, err := s.svc.SetAgentStatus(r.Context(), r.PathValue("id"), kanban.AgentStatus(req.Status), req.BlockedReason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Agent status changed", "id", card.ID, "status", card.AgentStatus)
	s.jsonResponse(w, card)
}

func (s *Server) apiCheckCriterion(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		s.jsonError(w, "Invalid criterion index", http.StatusBadRequest)
		return
	}
	var req struct {
		Checked bool `json:"checked"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	card, err := s.svc.CheckCriterion(r.Context(), r.PathValue("id"), index, req.Checked)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, card)
}
