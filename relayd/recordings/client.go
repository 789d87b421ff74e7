package recordings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-appsec/relay/relayd/service"
)

// Client is a thin REST client for the recordings surface of a running
// relayd service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client against the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// List fetches all recordings and the current key bindings.
func (c *Client) List(ctx context.Context) (service.ListRecordingsResponse, error) {
	var resp service.ListRecordingsResponse
	err := c.call(ctx, http.MethodGet, "/recordings", nil, &resp)
	return resp, err
}

// Bind associates a client key with a recording.
func (c *Client) Bind(ctx context.Context, recordingID, key string) error {
	return c.call(ctx, http.MethodPost, "/recording/"+recordingID+"/bind", map[string]string{"key": key}, nil)
}

// Unbind removes a key's binding to a recording.
func (c *Client) Unbind(ctx context.Context, recordingID, key string) error {
	return c.call(ctx, http.MethodPost, "/recording/"+recordingID+"/unbind", map[string]string{"key": key}, nil)
}

// Delete removes a recording and every binding referencing it.
func (c *Client) Delete(ctx context.Context, recordingID string) error {
	return c.call(ctx, http.MethodDelete, "/recording/"+recordingID, nil, nil)
}

// call performs one API request and unwraps the response envelope.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relayd unreachable at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env service.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("invalid response from relayd: %w", err)
	}
	if !env.OK {
		if env.Error != nil {
			return env.Error
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}
