package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat.Std())
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay.Std())
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minedeck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"listen: \":9999\"\ndata_dir: /tmp/minedeck\nheartbeat: 2s\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, "/tmp/minedeck", cfg.DataDir)
	assert.Equal(t, 2*time.Second, cfg.Heartbeat.Std())
	// Unset keys keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay.Std())
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minedeck.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":9999\"\n"), 0o644))
	t.Setenv("MINEDECK_LISTEN", ":7777")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Listen)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Listen = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Heartbeat = 0
	assert.Error(t, cfg.Validate())
}
