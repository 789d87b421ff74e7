package store

import "time"

// CapturedExchange is one proxied request/response pair recorded under a
// capture session. Bodies are opaque byte blobs.
type CapturedExchange struct {
	Method       string    `json:"method" msgpack:"m"`
	Scheme       string    `json:"scheme" msgpack:"s"`
	Host         string    `json:"host" msgpack:"h"`
	Path         string    `json:"path" msgpack:"p"` // path including query
	RequestType  string    `json:"request_type,omitempty" msgpack:"rqt,omitempty"`
	RequestBody  []byte    `json:"request_body,omitempty" msgpack:"rqb,omitempty"`
	Status       int       `json:"status" msgpack:"st"`
	ResponseType string    `json:"response_type,omitempty" msgpack:"rst,omitempty"`
	ResponseBody []byte    `json:"response_body,omitempty" msgpack:"rsb,omitempty"`
	At           time.Time `json:"at" msgpack:"at"`
}

// CaptureStore holds live capture sessions: an append-only, ordered
// exchange log per session id. Sessions are created explicitly via Start
// so the proxy can distinguish capture session ids from real client keys.
type CaptureStore struct {
	sessions *Expiring[[]CapturedExchange]
}

// NewCaptureStore creates an empty CaptureStore.
func NewCaptureStore() *CaptureStore {
	return &CaptureStore{sessions: NewExpiring[[]CapturedExchange]()}
}

// Start registers a fresh, empty session under id. Overwrites any
// existing session with the same id.
func (s *CaptureStore) Start(id string) {
	s.sessions.Put(id, nil)
}

// Has reports whether a session exists for id.
func (s *CaptureStore) Has(id string) bool {
	_, ok := s.sessions.Get(id)
	return ok
}

// Append adds an exchange to the session's log, preserving issuance
// order. No-op if the session was never started (or already swept).
func (s *CaptureStore) Append(id string, ex CapturedExchange) {
	if !s.Has(id) {
		return
	}
	s.sessions.Update(id, func(exchanges []CapturedExchange, _ bool) []CapturedExchange {
		return append(exchanges, ex)
	})
}

// Exchanges returns the recorded sequence for id.
func (s *CaptureStore) Exchanges(id string) ([]CapturedExchange, bool) {
	return s.sessions.Get(id)
}

// Delete removes the session for id.
func (s *CaptureStore) Delete(id string) {
	s.sessions.Delete(id)
}

// Len returns the number of live sessions.
func (s *CaptureStore) Len() int {
	return s.sessions.Len()
}

// Sweep removes sessions older than maxAge.
func (s *CaptureStore) Sweep(maxAge time.Duration) int {
	return s.sessions.Sweep(maxAge)
}
