package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiring(t *testing.T) {
	t.Parallel()

	t.Run("put_get", func(t *testing.T) {
		s := NewExpiring[string]()
		s.Put("k", "v1")

		v, ok := s.Get("k")
		require.True(t, ok)
		assert.Equal(t, "v1", v)
	})

	t.Run("put_overwrites", func(t *testing.T) {
		s := NewExpiring[string]()
		s.Put("k", "v1")
		s.Put("k", "v2")

		v, ok := s.Get("k")
		require.True(t, ok)
		assert.Equal(t, "v2", v)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("get_absent", func(t *testing.T) {
		s := NewExpiring[string]()

		v, ok := s.Get("missing")
		assert.False(t, ok)
		assert.Empty(t, v)
	})

	t.Run("delete_idempotent", func(t *testing.T) {
		s := NewExpiring[string]()
		s.Put("k", "v")
		s.Delete("k")
		s.Delete("k")

		_, ok := s.Get("k")
		assert.False(t, ok)
	})

	t.Run("update_keeps_timestamp", func(t *testing.T) {
		s := NewExpiring[int]()
		s.Put("k", 1)
		created, ok := s.CreatedAt("k")
		require.True(t, ok)

		s.Update("k", func(v int, exists bool) int {
			require.True(t, exists)
			return v + 1
		})

		v, ok := s.Get("k")
		require.True(t, ok)
		assert.Equal(t, 2, v)

		after, ok := s.CreatedAt("k")
		require.True(t, ok)
		assert.Equal(t, created, after)
	})

	t.Run("update_creates_absent", func(t *testing.T) {
		s := NewExpiring[int]()
		s.Update("k", func(v int, exists bool) int {
			assert.False(t, exists)
			return 42
		})

		v, ok := s.Get("k")
		require.True(t, ok)
		assert.Equal(t, 42, v)
	})
}

func TestExpiringSweep(t *testing.T) {
	t.Parallel()

	t.Run("old_entries_removed_young_survive", func(t *testing.T) {
		s := NewExpiring[string]()
		now := time.Now()

		s.now = func() time.Time { return now.Add(-time.Hour) }
		s.Put("old", "v")
		s.now = func() time.Time { return now }
		s.Put("young", "v")

		removed := s.Sweep(30 * time.Minute)
		assert.Equal(t, 1, removed)

		_, ok := s.Get("old")
		assert.False(t, ok)
		_, ok = s.Get("young")
		assert.True(t, ok)
	})

	t.Run("repeated_sweeps_keep_young_entries", func(t *testing.T) {
		s := NewExpiring[string]()
		s.Put("k", "v")

		for range 5 {
			assert.Zero(t, s.Sweep(30*time.Minute))
		}
		_, ok := s.Get("k")
		assert.True(t, ok)
	})

	t.Run("evict_hook_invoked", func(t *testing.T) {
		s := NewExpiring[string]()
		var evictedKeys []string
		s.OnEvict(func(key string, _ string) {
			evictedKeys = append(evictedKeys, key)
		})

		now := time.Now()
		s.now = func() time.Time { return now.Add(-time.Hour) }
		s.Put("a", "v")
		s.Put("b", "v")
		s.now = func() time.Time { return now }

		removed := s.Sweep(30 * time.Minute)
		assert.Equal(t, 2, removed)
		assert.ElementsMatch(t, []string{"a", "b"}, evictedKeys)
	})
}

func TestSweeper(t *testing.T) {
	t.Parallel()

	t.Run("sweep_all_covers_registered_stores", func(t *testing.T) {
		a := NewExpiring[string]()
		b := NewExpiring[string]()
		now := time.Now()
		for _, s := range []*Expiring[string]{a, b} {
			s.now = func() time.Time { return now.Add(-time.Hour) }
			s.Put("stale", "v")
			s.now = func() time.Time { return now }
		}

		sw := NewSweeper(time.Minute)
		sw.Register("a", 30*time.Minute, a)
		sw.Register("b", 30*time.Minute, b)
		sw.SweepAll()

		assert.Zero(t, a.Len())
		assert.Zero(t, b.Len())
	})

	t.Run("start_stop", func(t *testing.T) {
		sw := NewSweeper(10 * time.Millisecond)
		sw.Register("empty", time.Minute, NewExpiring[string]())
		sw.Start()
		time.Sleep(25 * time.Millisecond)
		sw.Stop() // must not hang or panic
	})
}
