package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "skyvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(PathEnvVar, "")
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "blacklist", cfg.Filtering.Mode)
	assert.Equal(t, int64(-1), cfg.Filtering.MinViews)
	assert.True(t, cfg.Playback.Enabled)
	assert.Equal(t, time.Hour, cfg.Feed.PollInterval)
	assert.Equal(t, 2, cfg.Server.RefreshPerMinute)
	assert.Empty(t, cfg.Server.CORSOrigins)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, `
data_dir: /var/lib/skyvault
downloads:
  root: /media/yt
  separate_folders: true
feed:
  poll_interval: 30m
filtering:
  mode: whitelist
`)
	t.Setenv("SKYVAULT_ADDR", "0.0.0.0:9000")
	t.Setenv("SKYVAULT_SEARCH_HISTORY__DISABLED", "true")
	t.Setenv("SKYVAULT_FEED__POLL_INTERVAL", "45m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/skyvault", cfg.DataDir)
	assert.Equal(t, "/media/yt", cfg.Downloads.Root)
	assert.True(t, cfg.Downloads.SeparateFolders)
	assert.Equal(t, "whitelist", cfg.Filtering.Mode)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.True(t, cfg.SearchHistory.Disabled)
	assert.Equal(t, 45*time.Minute, cfg.Feed.PollInterval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeFile(t, "filtering:\n  mode: greylist\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Mode")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"SKYVAULT_LOG_LEVEL":               "logging.level",
		"SKYVAULT_DOWNLOADS__ROOT":         "downloads.root",
		"SKYVAULT_SERVER__SHUTDOWN_TIMEOUT": "server.shutdown_timeout",
		"SKYVAULT_CONFIG":                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}
