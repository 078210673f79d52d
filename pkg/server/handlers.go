package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/nstogner/solemate/pkg/controller"
	"github.com/nstogner/solemate/pkg/domain"
)

// --- Threads ---

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.threads.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, threads)
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	// Threads come into existence with their first commit; this only hands
	// out a fresh id.
	s.jsonResponse(w, http.StatusCreated, map[string]string{"id": uuid.NewString()})
}

// threadView is a thread with its derived state.
type threadView struct {
	*domain.Thread
	State domain.State `json:"state"`
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	th, err := s.agent.Thread(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, threadView{Thread: th, State: th.State()})
}

// --- Turns ---

type messageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}

	reply, err := s.agent.HandleMessage(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, reply)
}

func (s *Server) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	var d controller.Decision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}

	reply, err := s.agent.Resume(r.Context(), r.PathValue("id"), d)
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, reply)
}

// --- Tools ---

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.agent.Tools())
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.threads.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.errorResponse(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
