package service

import "net/http"

// routes builds the REST surface. Path parameters use the net/http
// pattern syntax; the proxy route is method-agnostic by design.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Task/result relay.
	mux.HandleFunc("POST /task/{key}", s.handleSubmitTask)
	mux.HandleFunc("GET /task/{key}", s.handlePollTask)
	mux.HandleFunc("POST /result/{key}", s.handlePostResult)
	mux.HandleFunc("GET /result/{key}", s.handlePollResult)
	mux.HandleFunc("DELETE /clear/{key}", s.handleClear)

	// Rewriting reverse proxy, all methods.
	mux.HandleFunc("/proxy/{key}/{target...}", s.handleProxy)

	// Capture sessions.
	mux.HandleFunc("POST /capture/start", s.handleCaptureStart)
	mux.HandleFunc("GET /capture/{id}", s.handleCaptureStatus)

	// Recordings.
	mux.HandleFunc("POST /recording/save", s.handleRecordingSave)
	mux.HandleFunc("POST /recording/upload", s.handleRecordingUpload)
	mux.HandleFunc("GET /recordings", s.handleListRecordings)
	mux.HandleFunc("POST /recording/{id}/bind", s.handleRecordingBind)
	mux.HandleFunc("POST /recording/{id}/unbind", s.handleRecordingUnbind)
	mux.HandleFunc("DELETE /recording/{id}", s.handleRecordingDelete)
	mux.HandleFunc("POST /recording/{id}/replay", s.handleRecordingReplay)
	mux.HandleFunc("GET /recording/{id}/export", s.handleRecordingExport)

	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}
