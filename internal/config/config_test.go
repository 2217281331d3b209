package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "https://localhost:8000", cfg.ServerURL)
	assert.Equal(t, "info", cfg.Log.Level)
	require.Contains(t, cfg.Channels, "exercise_session")
	assert.Equal(t, "/v2/exercise-session/ws", cfg.Channels["exercise_session"].Endpoint)
	assert.NotEmpty(t, cfg.Storage.Path, "default storage path must be filled in")
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_url: https://sync.example.com
account_id: acct-42
log:
  level: debug
channels:
  exercise_session:
    endpoint: /v3/ws
    requires_auth: true
    auto_reconnect: true
    max_reconnect_attempts: 2
    reconnect_delay_seconds: 0.5
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://sync.example.com", cfg.ServerURL)
	assert.Equal(t, "acct-42", cfg.AccountID)
	assert.Equal(t, "debug", cfg.Log.Level)
	ch := cfg.Channels["exercise_session"]
	assert.Equal(t, "/v3/ws", ch.Endpoint)
	assert.Equal(t, 2, ch.MaxReconnectAttempts)
	assert.Equal(t, 0.5, ch.ReconnectDelaySeconds)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_url: [unclosed"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.ServerURL = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	ch := cfg.Channels["exercise_session"]
	ch.Endpoint = ""
	cfg.Channels["exercise_session"] = ch
	assert.Error(t, cfg.Validate())

	cfg = Default()
	ch = cfg.Channels["exercise_session"]
	ch.MaxReconnectAttempts = -1
	cfg.Channels["exercise_session"] = ch
	assert.Error(t, cfg.Validate())
}

func TestChannelConfigToRealtime(t *testing.T) {
	ch := ChannelConfig{
		Endpoint:                 "/ws",
		RequiresAuth:             true,
		AutoReconnect:            true,
		MaxReconnectAttempts:     3,
		ReconnectDelaySeconds:    1.5,
		HeartbeatIntervalSeconds: 30,
		ConnectTimeoutSeconds:    10,
		Headers:                  map[string]string{"X-Client": "repsync"},
	}
	rc := ch.ToRealtime("exercise_session")

	assert.Equal(t, "exercise_session", rc.ID)
	assert.Equal(t, "/ws", rc.Endpoint)
	assert.True(t, rc.RequiresAuth)
	assert.Equal(t, 1500*time.Millisecond, rc.ReconnectDelay)
	assert.Equal(t, 30*time.Second, rc.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, rc.ConnectTimeout)
	assert.Equal(t, "repsync", rc.ExtraHeaders["X-Client"])
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Default()
	cfg.AccountID = "acct-9"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "acct-9", loaded.AccountID)
	assert.Equal(t, cfg.ServerURL, loaded.ServerURL)
	assert.Equal(t, cfg.Channels["exercise_session"].Endpoint,
		loaded.Channels["exercise_session"].Endpoint)
}
