package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swipedeck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	t.Setenv("TEST_DB_DIR", "/var/lib/swipe")
	path := writeConfig(t, `
store:
  capacity: 50
  idle_window: 30s
prefetch:
  batch_size: 8
remote:
  db_path: ${TEST_DB_DIR}/remote.db
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Store.Capacity)
	assert.Equal(t, 30*time.Second, cfg.Store.IdleWindow)
	assert.Equal(t, int64(4<<20), cfg.Store.MaxBytes, "unset keys keep defaults")
	assert.Equal(t, 8, cfg.Prefetch.BatchSize)
	assert.Equal(t, "/var/lib/swipe/remote.db", cfg.Remote.DBPath)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("SWIPE_STORE_CAPACITY", "7")
	t.Setenv("SWIPE_SESSION_DECISION_TIMEOUT", "250ms")
	t.Setenv("SWIPE_TELEMETRY_NATS_URL", "nats://127.0.0.1:4222")
	path := writeConfig(t, "store:\n  capacity: 50\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Store.Capacity)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.DecisionTimeout)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Telemetry.NATSURL)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"negative capacity": "store:\n  capacity: -1\n",
		"debounce too low":  "telemetry:\n  min_interval: 10ms\n",
		"bad level":         "log:\n  level: loud\n",
		"batch too large":   "prefetch:\n  batch_size: 10000\n",
		"missing db":        "remote:\n  db_path: \"\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestSessionOptions(t *testing.T) {
	cfg := Default()
	cfg.Prefetch.LowWaterMark = 0
	opt := cfg.SessionOptions()

	assert.Equal(t, cfg.Store.Capacity, opt.Store.Capacity)
	assert.Equal(t, -1, opt.Prefetch.LowWaterMark, "explicit zero survives the prefetch default")
	assert.Equal(t, cfg.Session.DecisionTimeout, opt.DecisionTimeout)
	assert.Equal(t, cfg.Telemetry.MinInterval, opt.EventInterval)
}
