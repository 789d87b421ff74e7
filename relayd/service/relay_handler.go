package service

import (
	"net/http"
)

// handleSubmitTask handles POST /task/{key}.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var req SubmitTaskRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp := s.relay.SubmitTask(key, req, clientIP(r))
	writeJSON(w, http.StatusOK, resp)
}

// handlePollTask handles GET /task/{key}.
func (s *Server) handlePollTask(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	resp := PollTaskResponse{}
	if task, ok := s.relay.PollTask(key); ok {
		resp.Task = &task
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePostResult handles POST /result/{key}.
func (s *Server) handlePostResult(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var req PostResultRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result := s.relay.PostResult(key, req)
	writeJSON(w, http.StatusOK, result)
}

// handlePollResult handles GET /result/{key}.
func (s *Server) handlePollResult(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	resp := PollResultResponse{}
	if result, ok := s.relay.PollResult(key); ok {
		resp.Result = &result
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleClear handles DELETE /clear/{key}. Idempotent.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	s.relay.Clear(key)
	writeJSON(w, http.StatusOK, ClearResponse{Key: key})
}
