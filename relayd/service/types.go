package service

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/go-appsec/relay/relayd/service/store"
)

// APIResponse is the standard envelope for all API responses.
type APIResponse struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// APIError represents a structured error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func (e *APIError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Code, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInvalidTarget       = "INVALID_TARGET"
	ErrCodeForbiddenDomain     = "FORBIDDEN_DOMAIN"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeUpstreamTimeout     = "UPSTREAM_TIMEOUT"
	ErrCodeEmptyCapture        = "EMPTY_CAPTURE"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

func NewAPIError(code, message, hint string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Hint:    hint,
	}
}

// validate is the shared request validator; DTO struct tags drive it.
var validate = validator.New(validator.WithRequiredStructEnabled())

// SubmitTaskRequest is the request for POST /task/{key}.
type SubmitTaskRequest struct {
	CorrelationA string `json:"user_id" validate:"required"`
	CorrelationB string `json:"transaction_id" validate:"required"`
	Cookies      string `json:"cookies,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	SourceURL    string `json:"source_url,omitempty"`
}

// SubmitTaskResponse acknowledges a submission. Instant reports that a
// bound recording exists and a replay was started in the background.
type SubmitTaskResponse struct {
	Key     string `json:"key"`
	Instant bool   `json:"instant"`
}

// PollTaskResponse is the response for GET /task/{key}.
type PollTaskResponse struct {
	Task *store.WorkItem `json:"task"`
}

// PostResultRequest is the request for POST /result/{key}. OriginIP is
// optional; when absent the result inherits the key's stored association.
type PostResultRequest struct {
	Token    string `json:"token" validate:"required"`
	Status   string `json:"status,omitempty" validate:"omitempty,oneof=completed error"`
	OriginIP string `json:"origin_ip,omitempty"`
}

// PollResultResponse is the response for GET /result/{key}.
type PollResultResponse struct {
	Result *store.ResultItem `json:"result"`
}

// ClearResponse is the response for DELETE /clear/{key}.
type ClearResponse struct {
	Key string `json:"key"`
}

// CaptureStartResponse is the response for POST /capture/start.
type CaptureStartResponse struct {
	SessionID string `json:"session_id"`
}

// CaptureStatusResponse is the response for GET /capture/{id}.
type CaptureStatusResponse struct {
	SessionID     string `json:"session_id"`
	ExchangeCount int    `json:"exchange_count"`
}

// SaveRecordingRequest is the request for POST /recording/save.
type SaveRecordingRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Label     string `json:"label,omitempty"`
	BindKey   string `json:"bind_key,omitempty"`
}

// RecordingSummary is the list/detail view of a stored recording. Media
// bytes never leave the service through this type.
type RecordingSummary struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	Kind          string `json:"kind"` // "exchanges" or "media"
	ExchangeCount int    `json:"exchange_count,omitempty"`
	MediaType     string `json:"media_type,omitempty"`
	Status        string `json:"status"`
	UseCount      int    `json:"use_count"`
	CreatedAt     string `json:"created_at"`
	LastUsedAt    string `json:"last_used_at,omitempty"`
}

// ListRecordingsResponse is the response for GET /recordings.
type ListRecordingsResponse struct {
	Recordings []RecordingSummary `json:"recordings"`
	Bindings   map[string]string  `json:"bindings,omitempty"`
}

// BindRecordingRequest is the request for POST /recording/{id}/bind.
type BindRecordingRequest struct {
	Key string `json:"key" validate:"required"`
}

// UnbindRecordingRequest is the request for POST /recording/{id}/unbind.
type UnbindRecordingRequest struct {
	Key string `json:"key" validate:"required"`
}

// ReplayRecordingRequest is the request for POST /recording/{id}/replay.
type ReplayRecordingRequest struct {
	CorrelationA string `json:"user_id" validate:"required"`
	CorrelationB string `json:"transaction_id" validate:"required"`
	OriginIP     string `json:"origin_ip,omitempty"`
}

// ReplayRecordingResponse is the response for POST /recording/{id}/replay.
type ReplayRecordingResponse struct {
	Token string `json:"token,omitempty"`
	Found bool   `json:"found"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Version   string            `json:"version"`
	StartedAt string            `json:"started_at"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// HealthMetricProvider is a function that returns a metric value for a
// given key. Providers are registered with the server and called during
// health checks.
type HealthMetricProvider func() string

// summarizeRecording flattens a Recording for API output.
func summarizeRecording(r store.Recording) RecordingSummary {
	s := RecordingSummary{
		ID:        r.ID,
		Label:     r.Label,
		Kind:      "exchanges",
		Status:    string(r.Status),
		UseCount:  r.UseCount,
		CreatedAt: r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if r.IsMedia() {
		s.Kind = "media"
		s.MediaType = r.MediaType
	} else {
		s.ExchangeCount = len(r.Exchanges)
	}
	if !r.LastUsedAt.IsZero() {
		s.LastUsedAt = r.LastUsedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	return s
}
