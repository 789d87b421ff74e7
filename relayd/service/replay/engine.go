package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-appsec/relay/relayd/service/ids"
	"github.com/go-appsec/relay/relayd/service/proxy"
	"github.com/go-appsec/relay/relayd/service/store"
)

var (
	// ErrEmptyCapture is returned when finalizing a session with no
	// recorded exchanges.
	ErrEmptyCapture = errors.New("capture session is empty or unknown")

	// ErrRecordingNotFound is returned for replay of an unknown id.
	ErrRecordingNotFound = errors.New("recording not found")
)

const (
	// DefaultCallTimeout bounds each individual replayed call.
	DefaultCallTimeout = 60 * time.Second

	// DefaultCallDelay spaces consecutive replayed calls so the
	// upstream is not hammered with the full sequence at once.
	DefaultCallDelay = 250 * time.Millisecond
)

// Config tunes the replay engine. The media endpoint settings drive the
// fixed two-step protocol for media-blob recordings.
type Config struct {
	CallTimeout time.Duration
	// CallDelay spaces consecutive replayed calls. Zero uses the
	// default; a negative value disables the delay entirely.
	CallDelay time.Duration

	// MediaHost is the upstream host (host[:port]) for media replays.
	MediaHost string
	// SessionCreatePath is the resource created in step one.
	SessionCreatePath string
	// MediaUploadPath is the multipart upload target in step two.
	MediaUploadPath string
}

// Engine finalizes capture sessions into recordings and replays
// recordings against the upstream with substituted identity fields.
type Engine struct {
	cfg        Config
	client     *http.Client
	captures   *store.CaptureStore
	recordings *store.RecordingStore
	bindings   *store.BindingStore
}

// NewEngine creates a replay engine over the shared stores.
func NewEngine(cfg Config, captures *store.CaptureStore, recordings *store.RecordingStore, bindings *store.BindingStore) *Engine {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.CallDelay == 0 {
		cfg.CallDelay = DefaultCallDelay
	} else if cfg.CallDelay < 0 {
		cfg.CallDelay = 0
	}
	if cfg.SessionCreatePath == "" {
		cfg.SessionCreatePath = "/v1/sessions"
	}
	if cfg.MediaUploadPath == "" {
		cfg.MediaUploadPath = "/v1/sessions/media"
	}
	return &Engine{
		cfg:        cfg,
		client:     &http.Client{},
		captures:   captures,
		recordings: recordings,
		bindings:   bindings,
	}
}

// Finalize converts a live capture session into a SavedRecording and
// deletes the session. The session must contain at least one exchange.
func (e *Engine) Finalize(sessionID, label, boundKey string) (store.Recording, error) {
	exchanges, ok := e.captures.Exchanges(sessionID)
	if !ok || len(exchanges) == 0 {
		return store.Recording{}, fmt.Errorf("%w: %s", ErrEmptyCapture, sessionID)
	}

	rec := store.Recording{
		ID:        ids.Generate(ids.DefaultLength),
		Label:     label,
		Exchanges: exchanges,
		Status:    store.RecordingReady,
		CreatedAt: time.Now(),
	}
	e.recordings.Put(rec)
	if boundKey != "" {
		e.bindings.Bind(boundKey, rec.ID)
	}
	e.captures.Delete(sessionID)

	log.Printf("replay: finalized session %s into recording %s (%d exchanges)", sessionID, rec.ID, len(exchanges))
	return rec, nil
}

// Upload stores a raw media artifact directly as a SavedRecording, for
// flows where the verification artifact is a single media upload rather
// than a call sequence.
func (e *Engine) Upload(label, boundKey, mediaType string, media []byte) store.Recording {
	rec := store.Recording{
		ID:        ids.Generate(ids.DefaultLength),
		Label:     label,
		Media:     media,
		MediaType: mediaType,
		Status:    store.RecordingReady,
		CreatedAt: time.Now(),
	}
	e.recordings.Put(rec)
	if boundKey != "" {
		e.bindings.Bind(boundKey, rec.ID)
	}

	log.Printf("replay: stored media recording %s (%d bytes)", rec.ID, len(media))
	return rec
}

// Replay re-issues a recording against the upstream with the new
// correlation pair and origin IP. Returns the extracted token and
// whether one was found; an absent token is a replay failure for the
// caller but not an error here. Only an unknown recording id errors.
func (e *Engine) Replay(ctx context.Context, recordingID, corrA, corrB, originIP string) (string, bool, error) {
	rec, ok := e.recordings.Get(recordingID)
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrRecordingNotFound, recordingID)
	}

	var token string
	var found bool
	if rec.IsMedia() {
		token, found = e.replayMedia(ctx, rec, corrA, corrB, originIP)
	} else {
		token, found = e.replayExchanges(ctx, rec, corrA, corrB, originIP)
	}

	// Use accounting happens regardless of outcome.
	e.recordings.MarkUsed(recordingID, found)
	return token, found, nil
}

// replayExchanges walks the recorded sequence in original order,
// re-issuing only the mutating calls. Individual call failures are
// logged and skipped; a partial sequence can still yield a token. The
// last token seen across the sequence wins.
func (e *Engine) replayExchanges(ctx context.Context, rec store.Recording, corrA, corrB, originIP string) (string, bool) {
	var token string
	var found bool
	issued := 0

	for _, ex := range rec.Exchanges {
		if ex.Method != http.MethodPost {
			continue
		}
		if issued > 0 && e.cfg.CallDelay > 0 {
			select {
			case <-time.After(e.cfg.CallDelay):
			case <-ctx.Done():
				return token, found
			}
		}
		issued++

		body := SubstituteBody(ex.RequestType, ex.RequestBody, corrA, corrB)
		respBody, err := e.issue(ctx, ex.Method, ex.Scheme+"://"+ex.Host+ex.Path, ex.RequestType, body, originIP)
		if err != nil {
			log.Printf("replay: recording %s call %s %s failed: %v", rec.ID, ex.Method, ex.Path, err)
			continue
		}
		if t, ok := ExtractToken(respBody); ok {
			token = t
			found = true
		}
	}
	return token, found
}

// issue performs one bounded upstream call and returns the response body.
func (e *Engine) issue(ctx context.Context, method, url, contentType string, body []byte, originIP string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if originIP != "" {
		req.Header.Set("X-Forwarded-For", originIP)
		req.Header.Set("X-Real-IP", originIP)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	return io.ReadAll(resp.Body)
}

// mediaURL builds the upstream URL for a media protocol step.
func (e *Engine) mediaURL(path string) string {
	return proxy.SchemeForHost(e.cfg.MediaHost) + "://" + e.cfg.MediaHost + path
}
