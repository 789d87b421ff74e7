package service

import (
	"log"
	"net/http"

	"github.com/google/uuid"
)

// handleCaptureStart handles POST /capture/start. Mints a fresh session
// id; subsequent proxied traffic under that id is recorded.
func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	sessionID := uuid.NewString()
	s.captures.Start(sessionID)

	log.Printf("capture: session %s started", sessionID)
	writeJSON(w, http.StatusOK, CaptureStartResponse{SessionID: sessionID})
}

// handleCaptureStatus handles GET /capture/{id}.
func (s *Server) handleCaptureStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	exchanges, ok := s.captures.Exchanges(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "capture session not found", "")
		return
	}
	writeJSON(w, http.StatusOK, CaptureStatusResponse{
		SessionID:     id,
		ExchangeCount: len(exchanges),
	})
}
