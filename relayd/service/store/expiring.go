package store

import (
	"sync"
	"time"

	"github.com/go-analyze/bulk"
)

// entry wraps a stored value with its creation (or refresh) timestamp.
type entry[V any] struct {
	value     V
	createdAt time.Time
}

// Expiring is an in-memory key-value store where every entry carries a
// creation timestamp and becomes eligible for removal once older than a
// store-specific max age. Eviction happens through Sweep, driven by the
// Sweeper on a fixed interval. Thread-safe.
type Expiring[V any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[V]
	onEvict func(key string, value V)

	// now is replaceable in tests to control entry ages.
	now func() time.Time
}

// NewExpiring creates a new empty Expiring store.
func NewExpiring[V any]() *Expiring[V] {
	return &Expiring[V]{
		entries: make(map[string]*entry[V]),
		now:     time.Now,
	}
}

// OnEvict registers a hook invoked for every entry removed by Sweep.
// Used for cross-store cascade (e.g. recording removal drops its key
// bindings). The hook runs outside the store lock.
func (s *Expiring[V]) OnEvict(fn func(key string, value V)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Put stores the value under key, overwriting any existing entry and
// refreshing its timestamp.
func (s *Expiring[V]) Put(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry[V]{value: value, createdAt: s.now()}
}

// Get returns the current value for key.
func (s *Expiring[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Update applies fn to the value under key while holding the store lock.
// If the key is absent, fn receives the zero value and exists=false; the
// returned value is stored either way. Existing entries keep their
// original timestamp so in-place mutation does not extend lifetime.
func (s *Expiring[V]) Update(key string, fn func(value V, exists bool) V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		e.value = fn(e.value, true)
		return
	}
	var zero V
	s.entries[key] = &entry[V]{value: fn(zero, false), createdAt: s.now()}
}

// Delete removes the entry for key. No-op if absent.
func (s *Expiring[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len returns the number of live entries.
func (s *Expiring[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns a snapshot of all keys.
func (s *Expiring[V]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bulk.MapKeysSlice(s.entries)
}

// CreatedAt returns the creation timestamp for key.
func (s *Expiring[V]) CreatedAt(key string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.createdAt, true
}

// Clear removes all entries without invoking eviction hooks.
func (s *Expiring[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry[V])
}

// Sweep removes every entry older than maxAge and returns the number
// removed. Iteration works over a key snapshot so the lock is never held
// across the whole pass; the eviction hook runs after each removal with
// no lock held.
func (s *Expiring[V]) Sweep(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)

	type evicted struct {
		key   string
		value V
	}
	var removed []evicted

	for _, key := range s.Keys() {
		s.mu.Lock()
		e, ok := s.entries[key]
		if ok && e.createdAt.Before(cutoff) {
			delete(s.entries, key)
			removed = append(removed, evicted{key: key, value: e.value})
		}
		s.mu.Unlock()
	}

	if s.onEvict != nil {
		for _, ev := range removed {
			s.onEvict(ev.key, ev.value)
		}
	}
	return len(removed)
}
