package service

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-appsec/relay/relayd/config"
	"github.com/go-appsec/relay/relayd/service/proxy"
	"github.com/go-appsec/relay/relayd/service/replay"
	"github.com/go-appsec/relay/relayd/service/store"
)

// newTestService wires a full server over httptest with test-friendly
// proxy and replay settings.
func newTestService(t *testing.T, allowedDomain, mediaHost string) (*Server, *httptest.Server) {
	t.Helper()

	s := NewServer(ServerFlags{})
	s.cfg = &config.Config{
		AllowedDomain:   allowedDomain,
		PublicBaseURL:   "https://relay.example.net",
		CanonicalOrigin: "https://verify.vendor.example",
		UserAgent:       "test-agent",
	}

	s.proxy = proxy.NewEngine(proxy.Config{
		AllowedDomain:   s.cfg.AllowedDomain,
		PublicBaseURL:   s.cfg.PublicBaseURL,
		CanonicalOrigin: s.cfg.CanonicalOrigin,
		UserAgent:       s.cfg.UserAgent,
		Timeout:         2 * time.Second,
	}, s.captures, s.ips)
	s.replayer = replay.NewEngine(replay.Config{
		CallTimeout: 2 * time.Second,
		CallDelay:   -1,
		MediaHost:   mediaHost,
	}, s.captures, s.recordings, s.bindings)
	s.relay = NewRelay(s.tasks, s.results, s.ips, s.bindings, s.recordings, s.replayer)
	s.sweeper = store.NewSweeper(store.DefaultSweepInterval)
	s.startedAt = time.Now()

	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func doRequest(t *testing.T, method, url string, body any) (int, APIResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var env APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decodeData(t *testing.T, env APIResponse, out any) {
	t.Helper()
	require.True(t, env.OK)
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func TestTaskResultLifecycle(t *testing.T) {
	_, ts := newTestService(t, "vendor.example", "")

	t.Run("submit_requires_correlation_fields", func(t *testing.T) {
		status, env := doRequest(t, http.MethodPost, ts.URL+"/task/555", map[string]string{"user_id": "A1"})
		assert.Equal(t, http.StatusBadRequest, status)
		require.NotNil(t, env.Error)
		assert.Equal(t, ErrCodeValidation, env.Error.Code)
	})

	t.Run("submit_and_poll", func(t *testing.T) {
		status, env := doRequest(t, http.MethodPost, ts.URL+"/task/555", map[string]string{
			"user_id": "A1", "transaction_id": "B1", "cookies": "s=1",
		})
		require.Equal(t, http.StatusOK, status)
		var ack SubmitTaskResponse
		decodeData(t, env, &ack)
		assert.Equal(t, "555", ack.Key)
		assert.False(t, ack.Instant)

		status, env = doRequest(t, http.MethodGet, ts.URL+"/task/555", nil)
		require.Equal(t, http.StatusOK, status)
		var poll PollTaskResponse
		decodeData(t, env, &poll)
		require.NotNil(t, poll.Task)
		assert.Equal(t, "A1", poll.Task.CorrelationA)
		assert.Equal(t, "B1", poll.Task.CorrelationB)
	})

	t.Run("poll_unknown_key_is_null", func(t *testing.T) {
		status, env := doRequest(t, http.MethodGet, ts.URL+"/task/no-such-key", nil)
		require.Equal(t, http.StatusOK, status)
		var poll PollTaskResponse
		decodeData(t, env, &poll)
		assert.Nil(t, poll.Task)
	})

	t.Run("result_requires_token", func(t *testing.T) {
		status, env := doRequest(t, http.MethodPost, ts.URL+"/result/555", map[string]string{"status": "completed"})
		assert.Equal(t, http.StatusBadRequest, status)
		require.NotNil(t, env.Error)
		assert.Equal(t, ErrCodeValidation, env.Error.Code)
	})

	t.Run("post_result_retires_task", func(t *testing.T) {
		status, _ := doRequest(t, http.MethodPost, ts.URL+"/result/555", map[string]string{"token": "tok-1"})
		require.Equal(t, http.StatusOK, status)

		status, env := doRequest(t, http.MethodGet, ts.URL+"/result/555", nil)
		require.Equal(t, http.StatusOK, status)
		var poll PollResultResponse
		decodeData(t, env, &poll)
		require.NotNil(t, poll.Result)
		assert.Equal(t, "tok-1", poll.Result.Token)

		status, env = doRequest(t, http.MethodGet, ts.URL+"/task/555", nil)
		require.Equal(t, http.StatusOK, status)
		var taskPoll PollTaskResponse
		decodeData(t, env, &taskPoll)
		assert.Nil(t, taskPoll.Task)
	})

	t.Run("clear_is_idempotent", func(t *testing.T) {
		status, _ := doRequest(t, http.MethodDelete, ts.URL+"/clear/555", nil)
		assert.Equal(t, http.StatusOK, status)
		status, _ = doRequest(t, http.MethodDelete, ts.URL+"/clear/555", nil)
		assert.Equal(t, http.StatusOK, status)

		status, env := doRequest(t, http.MethodGet, ts.URL+"/result/555", nil)
		require.Equal(t, http.StatusOK, status)
		var poll PollResultResponse
		decodeData(t, env, &poll)
		assert.Nil(t, poll.Result)
	})
}

func TestProxyRoute(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	}))
	defer upstream.Close()
	u, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	_, ts := newTestService(t, "127.0.0.1", "")

	t.Run("passthrough", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/proxy/key1/" + u.Host + "/echo/me")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusTeapot, resp.StatusCode)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "/echo/me")
	})

	t.Run("forbidden_domain", func(t *testing.T) {
		status, env := doRequest(t, http.MethodGet, ts.URL+"/proxy/key1/evil.example/steal", nil)
		assert.Equal(t, http.StatusForbidden, status)
		require.NotNil(t, env.Error)
		assert.Equal(t, ErrCodeForbiddenDomain, env.Error.Code)
	})

	t.Run("invalid_target", func(t *testing.T) {
		status, env := doRequest(t, http.MethodGet, ts.URL+"/proxy/key1/", nil)
		assert.Equal(t, http.StatusBadRequest, status)
		require.NotNil(t, env.Error)
		assert.Equal(t, ErrCodeInvalidTarget, env.Error.Code)
	})

	t.Run("oversized_body_rejected", func(t *testing.T) {
		big := bytes.NewReader(make([]byte, maxMediaBodyBytes+1))
		resp, err := http.Post(ts.URL+"/proxy/key1/"+u.Host+"/echo", "application/octet-stream", big)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		var env APIResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		require.NotNil(t, env.Error)
		assert.Equal(t, ErrCodeInvalidRequest, env.Error.Code)
	})
}

func TestCaptureReplayEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost && r.URL.Path == "/verify" {
			body, _ := io.ReadAll(r.Body)
			if bytes.Contains(body, []byte(`"user_id":"A2"`)) {
				_, _ = w.Write([]byte(`{"token":"tok-e2e"}`))
				return
			}
			_, _ = w.Write([]byte(`{"token":"tok-recorded"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer upstream.Close()
	u, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	s, ts := newTestService(t, "127.0.0.1", "")

	// Start a capture session.
	status, env := doRequest(t, http.MethodPost, ts.URL+"/capture/start", nil)
	require.Equal(t, http.StatusOK, status)
	var started CaptureStartResponse
	decodeData(t, env, &started)
	require.NotEmpty(t, started.SessionID)

	// Record traffic: one informational GET and the verification POST.
	resp, err := http.Get(ts.URL + "/proxy/" + started.SessionID + "/" + u.Host + "/status")
	require.NoError(t, err)
	_ = resp.Body.Close()

	resp, err = http.Post(ts.URL+"/proxy/"+started.SessionID+"/"+u.Host+"/verify",
		"application/json", bytes.NewReader([]byte(`{"user_id":"A1","transaction_id":"B1"}`)))
	require.NoError(t, err)
	_ = resp.Body.Close()

	status, env = doRequest(t, http.MethodGet, ts.URL+"/capture/"+started.SessionID, nil)
	require.Equal(t, http.StatusOK, status)
	var captureStatus CaptureStatusResponse
	decodeData(t, env, &captureStatus)
	assert.Equal(t, 2, captureStatus.ExchangeCount)

	// Finalize into a recording bound to key 555.
	status, env = doRequest(t, http.MethodPost, ts.URL+"/recording/save", map[string]string{
		"session_id": started.SessionID,
		"label":      "verification flow",
		"bind_key":   "555",
	})
	require.Equal(t, http.StatusOK, status)
	var saved RecordingSummary
	decodeData(t, env, &saved)
	assert.Equal(t, "exchanges", saved.Kind)
	assert.Equal(t, 2, saved.ExchangeCount)

	// The session is consumed by finalization.
	status, _ = doRequest(t, http.MethodGet, ts.URL+"/capture/"+started.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// A new submission for the bound key replays instantly.
	status, env = doRequest(t, http.MethodPost, ts.URL+"/task/555", map[string]string{
		"user_id": "A2", "transaction_id": "B2",
	})
	require.Equal(t, http.StatusOK, status)
	var ack SubmitTaskResponse
	decodeData(t, env, &ack)
	assert.True(t, ack.Instant)

	s.relay.Wait()

	status, env = doRequest(t, http.MethodGet, ts.URL+"/result/555", nil)
	require.Equal(t, http.StatusOK, status)
	var poll PollResultResponse
	decodeData(t, env, &poll)
	require.NotNil(t, poll.Result)
	assert.Equal(t, "tok-e2e", poll.Result.Token)
	assert.True(t, poll.Result.Instant)
	assert.Equal(t, store.ResultCompleted, poll.Result.Status)
}

func TestRecordingSaveEmptySession(t *testing.T) {
	_, ts := newTestService(t, "vendor.example", "")

	status, env := doRequest(t, http.MethodPost, ts.URL+"/recording/save", map[string]string{
		"session_id": "never-started",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrCodeEmptyCapture, env.Error.Code)
}

func TestRecordingManagement(t *testing.T) {
	s, ts := newTestService(t, "vendor.example", "")

	s.recordings.Put(store.Recording{
		ID:        "rec-1",
		Label:     "flow",
		Status:    store.RecordingReady,
		Exchanges: []store.CapturedExchange{{Method: http.MethodPost, Scheme: "https", Host: "vendor.example", Path: "/v"}},
		CreatedAt: time.Now(),
	})

	t.Run("bind_unknown_recording", func(t *testing.T) {
		status, env := doRequest(t, http.MethodPost, ts.URL+"/recording/missing/bind", map[string]string{"key": "555"})
		assert.Equal(t, http.StatusNotFound, status)
		require.NotNil(t, env.Error)
		assert.Equal(t, ErrCodeNotFound, env.Error.Code)
	})

	t.Run("bind_and_list", func(t *testing.T) {
		status, _ := doRequest(t, http.MethodPost, ts.URL+"/recording/rec-1/bind", map[string]string{"key": "555"})
		require.Equal(t, http.StatusOK, status)

		status, env := doRequest(t, http.MethodGet, ts.URL+"/recordings", nil)
		require.Equal(t, http.StatusOK, status)
		var list ListRecordingsResponse
		decodeData(t, env, &list)
		require.Len(t, list.Recordings, 1)
		assert.Equal(t, "rec-1", list.Recordings[0].ID)
		assert.Equal(t, map[string]string{"555": "rec-1"}, list.Bindings)
	})

	t.Run("unbind_idempotent", func(t *testing.T) {
		status, _ := doRequest(t, http.MethodPost, ts.URL+"/recording/rec-1/unbind", map[string]string{"key": "555"})
		assert.Equal(t, http.StatusOK, status)
		status, _ = doRequest(t, http.MethodPost, ts.URL+"/recording/rec-1/unbind", map[string]string{"key": "555"})
		assert.Equal(t, http.StatusOK, status)
	})

	t.Run("delete_cascades_bindings", func(t *testing.T) {
		s.bindings.Bind("555", "rec-1")
		s.bindings.Bind("777", "rec-1")

		status, _ := doRequest(t, http.MethodDelete, ts.URL+"/recording/rec-1", nil)
		require.Equal(t, http.StatusOK, status)

		_, ok := s.recordings.Get("rec-1")
		assert.False(t, ok)
		assert.Empty(t, s.bindings.All())
	})

	t.Run("replay_unknown_recording", func(t *testing.T) {
		status, env := doRequest(t, http.MethodPost, ts.URL+"/recording/missing/replay", map[string]string{
			"user_id": "A1", "transaction_id": "B1",
		})
		assert.Equal(t, http.StatusNotFound, status)
		require.NotNil(t, env.Error)
		assert.Equal(t, ErrCodeNotFound, env.Error.Code)
	})
}

func TestRecordingUploadAndExport(t *testing.T) {
	s, ts := newTestService(t, "vendor.example", "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("label", "selfie"))
	require.NoError(t, mw.WriteField("bind_key", "555"))
	part, err := mw.CreateFormFile("media", "selfie.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte{0xff, 0xd8, 0xff, 0xe0})
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/recording/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	var saved RecordingSummary
	decodeData(t, env, &saved)
	assert.Equal(t, "media", saved.Kind)
	assert.NotEmpty(t, saved.ID)

	boundID, ok := s.bindings.RecordingFor("555")
	require.True(t, ok)
	assert.Equal(t, saved.ID, boundID)

	// Round-trip the export bundle.
	exportResp, err := http.Get(ts.URL + "/recording/" + saved.ID + "/export")
	require.NoError(t, err)
	defer func() { _ = exportResp.Body.Close() }()
	require.Equal(t, http.StatusOK, exportResp.StatusCode)
	assert.Equal(t, "application/msgpack", exportResp.Header.Get("Content-Type"))

	bundle, err := io.ReadAll(exportResp.Body)
	require.NoError(t, err)
	rec, err := store.DecodeBundle(bundle)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, rec.ID)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xe0}, rec.Media)
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestService(t, "vendor.example", "")

	status, env := doRequest(t, http.MethodGet, ts.URL+"/health", nil)
	require.Equal(t, http.StatusOK, status)

	var health HealthResponse
	decodeData(t, env, &health)
	assert.NotEmpty(t, health.Version)
	for _, key := range []string{"tasks", "results", "captures", "recordings", "bindings"} {
		assert.Contains(t, health.Metrics, key)
	}
}
