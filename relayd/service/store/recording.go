package store

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// RecordingStatus tracks whether a recording has produced a token yet.
type RecordingStatus string

const (
	RecordingReady RecordingStatus = "ready"
	RecordingUsed  RecordingStatus = "used"
)

// Recording is a finalized, replayable capture: either an ordered
// exchange sequence or a single opaque media blob, never both.
type Recording struct {
	ID         string             `json:"id" msgpack:"id"`
	Label      string             `json:"label" msgpack:"l"`
	Exchanges  []CapturedExchange `json:"exchanges,omitempty" msgpack:"ex,omitempty"`
	Media      []byte             `json:"-" msgpack:"md,omitempty"`
	MediaType  string             `json:"media_type,omitempty" msgpack:"mt,omitempty"`
	Status     RecordingStatus    `json:"status" msgpack:"st"`
	UseCount   int                `json:"use_count" msgpack:"uc"`
	CreatedAt  time.Time          `json:"created_at" msgpack:"ca"`
	LastUsedAt time.Time          `json:"last_used_at,omitzero" msgpack:"lu"`
}

// IsMedia reports whether this recording holds a media blob instead of
// an exchange sequence.
func (r Recording) IsMedia() bool {
	return len(r.Media) > 0
}

// EncodeBundle serializes a recording into a portable msgpack bundle.
func EncodeBundle(r Recording) ([]byte, error) {
	return msgpack.Marshal(&r)
}

// DecodeBundle parses a msgpack bundle back into a Recording.
func DecodeBundle(data []byte) (Recording, error) {
	var r Recording
	err := msgpack.Unmarshal(data, &r)
	return r, err
}

// RecordingStore holds saved recordings keyed by recording id.
type RecordingStore struct {
	recordings *Expiring[Recording]
}

// NewRecordingStore creates an empty RecordingStore.
func NewRecordingStore() *RecordingStore {
	return &RecordingStore{recordings: NewExpiring[Recording]()}
}

// Put stores (or replaces) a recording.
func (s *RecordingStore) Put(r Recording) {
	s.recordings.Put(r.ID, r)
}

// Get returns the recording for id.
func (s *RecordingStore) Get(id string) (Recording, bool) {
	return s.recordings.Get(id)
}

// Delete removes the recording for id.
func (s *RecordingStore) Delete(id string) {
	s.recordings.Delete(id)
}

// MarkUsed increments the use counter and stamps the last-used time.
// When a token was obtained the status moves to used. No-op for unknown
// ids (the recording may have been deleted mid-replay).
func (s *RecordingStore) MarkUsed(id string, gotToken bool) {
	if _, ok := s.recordings.Get(id); !ok {
		return
	}
	s.recordings.Update(id, func(r Recording, exists bool) Recording {
		if !exists {
			return r
		}
		r.UseCount++
		r.LastUsedAt = time.Now()
		if gotToken {
			r.Status = RecordingUsed
		}
		return r
	})
}

// All returns a snapshot of every stored recording.
func (s *RecordingStore) All() []Recording {
	keys := s.recordings.Keys()
	result := make([]Recording, 0, len(keys))
	for _, id := range keys {
		if r, ok := s.recordings.Get(id); ok {
			result = append(result, r)
		}
	}
	return result
}

// Len returns the number of stored recordings.
func (s *RecordingStore) Len() int {
	return s.recordings.Len()
}

// Sweep removes recordings older than maxAge, cascading through the
// eviction hook registered via OnEvict.
func (s *RecordingStore) Sweep(maxAge time.Duration) int {
	return s.recordings.Sweep(maxAge)
}

// OnEvict registers the cascade hook for swept recordings.
func (s *RecordingStore) OnEvict(fn func(id string, r Recording)) {
	s.recordings.OnEvict(fn)
}

// BindingStore maps client keys to recording ids. Many keys may point at
// one recording; each key maps to at most one recording.
type BindingStore struct {
	bindings *Expiring[string]
}

// NewBindingStore creates an empty BindingStore.
func NewBindingStore() *BindingStore {
	return &BindingStore{bindings: NewExpiring[string]()}
}

// Bind associates key with recordingID, replacing any prior binding.
func (s *BindingStore) Bind(key, recordingID string) {
	s.bindings.Put(key, recordingID)
}

// Unbind removes the binding for key. Idempotent.
func (s *BindingStore) Unbind(key string) {
	s.bindings.Delete(key)
}

// RecordingFor returns the recording id bound to key.
func (s *BindingStore) RecordingFor(key string) (string, bool) {
	return s.bindings.Get(key)
}

// RemoveByRecording deletes every binding that references recordingID.
// This is the referential-integrity cascade invoked when a recording is
// deleted or swept.
func (s *BindingStore) RemoveByRecording(recordingID string) {
	for _, key := range s.bindings.Keys() {
		if id, ok := s.bindings.Get(key); ok && id == recordingID {
			s.bindings.Delete(key)
		}
	}
}

// All returns a snapshot of key -> recording id bindings.
func (s *BindingStore) All() map[string]string {
	result := make(map[string]string)
	for _, key := range s.bindings.Keys() {
		if id, ok := s.bindings.Get(key); ok {
			result[key] = id
		}
	}
	return result
}

// Len returns the number of live bindings.
func (s *BindingStore) Len() int {
	return s.bindings.Len()
}

// Sweep removes bindings older than maxAge.
func (s *BindingStore) Sweep(maxAge time.Duration) int {
	return s.bindings.Sweep(maxAge)
}
