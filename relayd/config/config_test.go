package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultAllowedDomain, cfg.AllowedDomain)
	assert.NotEmpty(t, cfg.UserAgent)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.Port = 9123
	cfg.AllowedDomain = "idv.example"
	require.NoError(t, cfg.Save(path))

	// The temp file from the atomic write must not linger.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9123, loaded.Port)
	assert.Equal(t, "idv.example", loaded.AllowedDomain)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 0}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultAllowedDomain, cfg.AllowedDomain)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RELAY_PORT", "9999")
	t.Setenv("RELAY_ALLOWED_DOMAIN", "env.example")
	t.Setenv("RELAY_MEDIA_HOST", "media.env.example")

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, DefaultConfig().Save(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "env.example", cfg.AllowedDomain)
	assert.Equal(t, "media.env.example", cfg.MediaHost)
}

func TestLoadOrCreatePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg, err := LoadOrCreatePath(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)

	// Second call loads the created file.
	_, err = os.Stat(path)
	require.NoError(t, err)
	again, err := LoadOrCreatePath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Port, again.Port)
}
