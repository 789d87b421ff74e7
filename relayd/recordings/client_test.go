package recordings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-appsec/relay/relayd/service"
)

func TestClientList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/recordings", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true,"data":{"recordings":[{"id":"rec-1","label":"flow","kind":"exchanges","exchange_count":3,"status":"ready","use_count":0,"created_at":"2026-08-28T10:00:00Z"}],"bindings":{"555":"rec-1"}}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	resp, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Recordings, 1)
	assert.Equal(t, "rec-1", resp.Recordings[0].ID)
	assert.Equal(t, 3, resp.Recordings[0].ExchangeCount)
	assert.Equal(t, map[string]string{"555": "rec-1"}, resp.Bindings)
}

func TestClientBindPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/recording/rec-1/bind", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "555", body["key"])
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	require.NoError(t, client.Bind(context.Background(), "rec-1", "555"))
}

func TestClientAPIErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false,"error":{"code":"NOT_FOUND","message":"recording not found"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	err := client.Delete(context.Background(), "missing")
	require.Error(t, err)

	var apiErr *service.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
}

func TestClientUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	err := client.Delete(context.Background(), "rec-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}
