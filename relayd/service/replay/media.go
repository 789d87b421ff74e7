package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"mime/multipart"

	"github.com/go-appsec/relay/relayd/service/store"
)

// replayMedia performs the fixed two-step media protocol: create a
// session resource carrying the new correlation pair, then upload the
// stored media blob as multipart alongside the correlation fields and
// the session identifier. Exactly two upstream calls, always.
func (e *Engine) replayMedia(ctx context.Context, rec store.Recording, corrA, corrB, originIP string) (string, bool) {
	if e.cfg.MediaHost == "" {
		log.Printf("replay: recording %s is media but no media host is configured", rec.ID)
		return "", false
	}

	// Step 1: create the session resource.
	createBody, err := json.Marshal(map[string]string{
		"user_id":        corrA,
		"transaction_id": corrB,
	})
	if err != nil {
		return "", false
	}

	var sessionID string
	respBody, err := e.issue(ctx, "POST", e.mediaURL(e.cfg.SessionCreatePath), "application/json", createBody, originIP)
	if err != nil {
		log.Printf("replay: recording %s session create failed: %v", rec.ID, err)
	} else if id, ok := ExtractSessionID(respBody); ok {
		sessionID = id
	} else {
		log.Printf("replay: recording %s session create returned no session id", rec.ID)
	}

	// Step 2: upload the media. Issued even when step one yielded no
	// session id; some upstreams accept the correlation pair alone.
	uploadBody, uploadType, err := buildMediaUpload(rec, corrA, corrB, sessionID)
	if err != nil {
		log.Printf("replay: recording %s multipart build failed: %v", rec.ID, err)
		return "", false
	}

	respBody, err = e.issue(ctx, "POST", e.mediaURL(e.cfg.MediaUploadPath), uploadType, uploadBody, originIP)
	if err != nil {
		log.Printf("replay: recording %s media upload failed: %v", rec.ID, err)
		return "", false
	}

	return ExtractToken(respBody)
}

// buildMediaUpload assembles the multipart body for the upload step.
func buildMediaUpload(rec store.Recording, corrA, corrB, sessionID string) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := map[string]string{
		"user_id":        corrA,
		"transaction_id": corrB,
	}
	if sessionID != "" {
		fields["session_id"] = sessionID
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}

	part, err := mw.CreateFormFile("media", "media")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(rec.Media); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), mw.FormDataContentType(), nil
}
