package service

import (
	"errors"
	"io"
	"log"
	"net/http"
	"sort"

	"github.com/go-appsec/relay/relayd/service/replay"
	"github.com/go-appsec/relay/relayd/service/store"
)

// handleRecordingSave handles POST /recording/save. Finalizes a capture
// session into a recording.
func (s *Server) handleRecordingSave(w http.ResponseWriter, r *http.Request) {
	var req SaveRecordingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	rec, err := s.replayer.Finalize(req.SessionID, req.Label, req.BindKey)
	if err != nil {
		if errors.Is(err, replay.ErrEmptyCapture) {
			writeError(w, http.StatusBadRequest, ErrCodeEmptyCapture,
				"capture session is empty or unknown", "proxy at least one request through the session before saving")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, summarizeRecording(rec))
}

// handleRecordingUpload handles POST /recording/upload. Stores a media
// blob submitted as multipart form data (file field "media", optional
// "label" and "bind_key" fields).
func (s *Server) handleRecordingUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMediaBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "expected multipart form data", err.Error())
		return
	}

	file, header, err := r.FormFile("media")
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "missing media file field", "")
		return
	}
	defer func() { _ = file.Close() }()

	media, err := io.ReadAll(io.LimitReader(file, maxMediaBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "failed to read media upload", "")
		return
	}
	if len(media) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "media file is empty", "")
		return
	}

	mediaType := header.Header.Get("Content-Type")
	rec := s.replayer.Upload(r.FormValue("label"), r.FormValue("bind_key"), mediaType, media)
	writeJSON(w, http.StatusOK, summarizeRecording(rec))
}

// handleListRecordings handles GET /recordings.
func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	all := s.recordings.All()
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	resp := ListRecordingsResponse{
		Recordings: make([]RecordingSummary, 0, len(all)),
		Bindings:   s.bindings.All(),
	}
	for _, rec := range all {
		resp.Recordings = append(resp.Recordings, summarizeRecording(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRecordingBind handles POST /recording/{id}/bind.
func (s *Server) handleRecordingBind(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req BindRecordingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if _, ok := s.recordings.Get(id); !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "recording not found", "")
		return
	}
	s.bindings.Bind(req.Key, id)

	log.Printf("recording: key %s bound to recording %s", req.Key, id)
	writeJSON(w, http.StatusOK, nil)
}

// handleRecordingUnbind handles POST /recording/{id}/unbind. Idempotent;
// unbinding a key that is not bound (or bound elsewhere) succeeds.
func (s *Server) handleRecordingUnbind(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req UnbindRecordingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if bound, ok := s.bindings.RecordingFor(req.Key); ok && bound == id {
		s.bindings.Unbind(req.Key)
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleRecordingDelete handles DELETE /recording/{id}. Removes the
// recording and cascades through every binding referencing it.
func (s *Server) handleRecordingDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.bindings.RemoveByRecording(id)
	s.recordings.Delete(id)

	log.Printf("recording: %s deleted", id)
	writeJSON(w, http.StatusOK, nil)
}

// handleRecordingReplay handles POST /recording/{id}/replay. Runs the
// replay synchronously and reports the extracted token, if any.
func (s *Server) handleRecordingReplay(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req ReplayRecordingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	token, found, err := s.replayer.Replay(r.Context(), id, req.CorrelationA, req.CorrelationB, req.OriginIP)
	if err != nil {
		if errors.Is(err, replay.ErrRecordingNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "recording not found", "")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, ReplayRecordingResponse{Token: token, Found: found})
}

// handleRecordingExport handles GET /recording/{id}/export. Streams the
// recording as a portable msgpack bundle.
func (s *Server) handleRecordingExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rec, ok := s.recordings.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "recording not found", "")
		return
	}

	bundle, err := store.EncodeBundle(rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to encode bundle", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/msgpack")
	w.Header().Set("Content-Disposition", `attachment; filename="recording-`+id+`.bundle"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(bundle); err != nil {
		log.Printf("recording: failed to write export for %s: %v", id, err)
	}
}
